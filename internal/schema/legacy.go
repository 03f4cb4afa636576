package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// LegacyItem is the launcher item format older installations stored their
// snapshot in: one flat JSON array of display items.
type LegacyItem struct {
	Title         string `json:"title"`
	Autocomplete  string `json:"autocomplete"`
	UID           string `json:"uid"`
	Subtitle      string `json:"subtitle"`
	Arg           string `json:"arg"`
	Valid         any    `json:"valid"`
	Icon          string `json:"icon"`
	IconType      string `json:"icontype"`
	OneNoteType   string `json:"onenoteType"`
	OneNoteParent string `json:"oneNoteParent"`
	LastModified  string `json:"lastModified,omitempty"`
}

// ImportResult contains statistics about a legacy import.
type ImportResult struct {
	NodesConverted int
	Skipped        int
	Errors         []string
}

// ReadLegacyFile reads a legacy snapshot file.
func ReadLegacyFile(path string) ([]LegacyItem, error) {
	// #nosec G304 - controlled path from CLI
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open legacy file: %w", err)
	}

	var items []LegacyItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse legacy file %s: %w", path, err)
	}
	return items, nil
}

// ParseLegacyKind maps the stored type tag to a Kind. Both the bare value
// ("sectionGroup") and the enum form ("OneNoteType.SECTION_GROUP") occur.
func ParseLegacyKind(s string) (Kind, error) {
	tag := strings.TrimPrefix(s, "OneNoteType.")
	switch strings.ToLower(strings.ReplaceAll(tag, "_", "")) {
	case "notebook":
		return KindNotebook, nil
	case "sectiongroup":
		return KindSectionGroup, nil
	case "section":
		return KindSection, nil
	case "page":
		return KindPage, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// ToNode converts a legacy item. Derived fields are dropped; they are
// recomputed by the next sync.
func (li *LegacyItem) ToNode() (*Node, error) {
	kind, err := ParseLegacyKind(li.OneNoteType)
	if err != nil {
		return nil, err
	}

	node := &Node{
		ID:    li.UID,
		Kind:  kind,
		Title: li.Title,
	}
	if kind != KindNotebook {
		node.ParentID = li.OneNoteParent
	}
	if kind.HasNativeURL() {
		node.NavigationURL = li.Arg
	}
	if li.LastModified != "" {
		if t, err := ParseTimestamp(li.LastModified); err == nil {
			node.LastModified = t
		}
	}

	if err := node.Validate(); err != nil {
		return nil, err
	}
	return node, nil
}

// ConvertLegacy converts all items, collecting per-item errors instead of
// stopping at the first one.
func ConvertLegacy(items []LegacyItem) ([]*Node, *ImportResult) {
	result := &ImportResult{}
	nodes := make([]*Node, 0, len(items))
	seen := make(map[string]bool, len(items))

	for i := range items {
		node, err := items[i].ToNode()
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors,
				fmt.Sprintf("item %d (%s): %v", i, items[i].UID, err))
			continue
		}
		if seen[node.ID] {
			result.Skipped++
			continue
		}
		seen[node.ID] = true
		nodes = append(nodes, node)
		result.NodesConverted++
	}

	return nodes, result
}
