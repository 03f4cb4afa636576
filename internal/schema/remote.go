package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// RemoteItem is one element of a OneNote listing response.
//
// Only the fields notemirror reads are declared. Notebooks, section groups,
// sections and pages share this shape; fields a kind does not carry are left
// empty by the decoder.
type RemoteItem struct {
	ID                   string `json:"id"`
	Self                 string `json:"self,omitempty"`
	LastModifiedDateTime string `json:"lastModifiedDateTime"`

	DisplayName *string `json:"displayName,omitempty"`
	Title       *string `json:"title,omitempty"`

	Links *Links `json:"links,omitempty"`

	ParentNotebook     *ParentRef `json:"parentNotebook,omitempty"`
	ParentSection      *ParentRef `json:"parentSection,omitempty"`
	ParentSectionGroup *ParentRef `json:"parentSectionGroup,omitempty"`

	SectionGroupsURL string `json:"sectionGroupsUrl,omitempty"`
	SectionsURL      string `json:"sectionsUrl,omitempty"`
	PagesURL         string `json:"pagesUrl,omitempty"`
}

// ParentRef is the embedded reference to a parent container.
type ParentRef struct {
	ID          string  `json:"id"`
	DisplayName *string `json:"displayName,omitempty"`
	Self        string  `json:"self,omitempty"`
}

// Links holds the client and web navigation links of an item.
type Links struct {
	OneNoteClientURL *Link `json:"oneNoteClientUrl,omitempty"`
	OneNoteWebURL    *Link `json:"oneNoteWebUrl,omitempty"`
}

// Link is a navigation link. The service sends {"href": "..."}, older
// payloads and cached fixtures carry the bare string; both decode.
type Link struct {
	Href string `json:"href"`
}

// UnmarshalJSON accepts both the object and the bare string form.
func (l *Link) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &l.Href)
	}
	var obj struct {
		Href string `json:"href"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	l.Href = obj.Href
	return nil
}

// Listing is one page of a listing response.
type Listing struct {
	Value    []RemoteItem `json:"value"`
	NextLink string       `json:"@odata.nextLink,omitempty"`
}

// ref identifies the item in error messages.
func (r *RemoteItem) ref() string {
	if r.Self != "" {
		return r.Self
	}
	return r.ID
}

// ExtractTitle returns displayName, falling back to title.
func (r *RemoteItem) ExtractTitle() (string, error) {
	if r.DisplayName != nil {
		return *r.DisplayName, nil
	}
	if r.Title != nil {
		return *r.Title, nil
	}
	return "", fmt.Errorf("%w: cannot retrieve title of %s", ErrMalformedItem, r.ref())
}

// ExtractParentID returns the nearest parent container id: section, then
// section group, then notebook.
func (r *RemoteItem) ExtractParentID() (string, error) {
	if r.ParentSection != nil && r.ParentSection.ID != "" {
		return r.ParentSection.ID, nil
	}
	if r.ParentSectionGroup != nil && r.ParentSectionGroup.ID != "" {
		return r.ParentSectionGroup.ID, nil
	}
	if r.ParentNotebook != nil && r.ParentNotebook.ID != "" {
		return r.ParentNotebook.ID, nil
	}
	return "", fmt.Errorf("%w: cannot retrieve parent of %s", ErrMalformedItem, r.ref())
}

// ExtractLink returns the client navigation URL, or "" when absent.
func (r *RemoteItem) ExtractLink() string {
	if r.Links == nil || r.Links.OneNoteClientURL == nil {
		return ""
	}
	return r.Links.OneNoteClientURL.Href
}

// ParentNotebookName returns the display name of the parent notebook, if any.
func (r *RemoteItem) ParentNotebookName() string {
	if r.ParentNotebook == nil || r.ParentNotebook.DisplayName == nil {
		return ""
	}
	return *r.ParentNotebook.DisplayName
}

// LastModified parses lastModifiedDateTime. The service emits RFC 3339 with
// and without fractional seconds.
func (r *RemoteItem) LastModified() (time.Time, error) {
	t, err := ParseTimestamp(r.LastModifiedDateTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", ErrMalformedItem, r.ref(), err)
	}
	return t, nil
}

// ParseTimestamp parses a remote timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t, nil
}

// ToNode maps a remote item of the given kind to a snapshot node.
func (r *RemoteItem) ToNode(kind Kind) (*Node, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if r.ID == "" {
		return nil, fmt.Errorf("%w: item without id", ErrMalformedItem)
	}

	title, err := r.ExtractTitle()
	if err != nil {
		return nil, err
	}
	modified, err := r.LastModified()
	if err != nil {
		return nil, err
	}

	node := &Node{
		ID:           r.ID,
		Kind:         kind,
		Title:        title,
		LastModified: modified,
	}

	if kind != KindNotebook {
		parentID, err := r.ExtractParentID()
		if err != nil {
			return nil, err
		}
		node.ParentID = parentID
	}

	if kind.HasNativeURL() {
		node.NavigationURL = r.ExtractLink()
	}

	return node, nil
}
