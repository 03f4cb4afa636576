// Package graphtest provides an in-memory fake of the Graph OneNote API for
// tests.
//
// The fake serves the four listing endpoints the sync engine uses plus page
// content, paginates with @odata.nextLink, and lets a test inject status
// codes per path to simulate throttling and server errors.
package graphtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/notemirror/notemirror/internal/schema"
)

// APIPrefix is the path prefix the fake serves under.
const APIPrefix = "/v1.0"

// Token is the bearer token the fake accepts when RequireToken is set.
const Token = "test-token"

// Pass is a Fail status that lets the request through unchanged.
const Pass = 0

type entry struct {
	kind schema.Kind
	item schema.RemoteItem
}

// Server is a fake Graph API.
type Server struct {
	*httptest.Server

	// PageSize is the number of items per listing page. Zero disables
	// pagination.
	PageSize int

	// RequireToken makes the fake reject requests without Token with 401.
	RequireToken bool

	mu      sync.Mutex
	order   []string
	entries map[string]*entry
	content map[string]string
	faults  map[string][]int
	hits    map[string]int
}

// New starts a fake server. It is closed when the test ends.
func New(t interface{ Cleanup(func()) }) *Server {
	s := &Server{
		entries: make(map[string]*entry),
		content: make(map[string]string),
		faults:  make(map[string][]int),
		hits:    make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// BaseURL returns the API root to configure a graph.Client with.
func (s *Server) BaseURL() string {
	return s.URL + APIPrefix
}

// AddNotebook adds a notebook.
func (s *Server) AddNotebook(id, title string, modified time.Time) {
	s.put(id, schema.KindNotebook, schema.RemoteItem{
		ID:                   id,
		DisplayName:          &title,
		LastModifiedDateTime: modified.UTC().Format(time.RFC3339Nano),
		Links: &schema.Links{
			OneNoteClientURL: &schema.Link{Href: "onenote:https://example.invalid/" + id},
		},
	})
}

// AddSectionGroup adds a section group under a notebook or, when groupID is
// set, under another section group.
func (s *Server) AddSectionGroup(id, title, notebookID, groupID string, modified time.Time) {
	item := schema.RemoteItem{
		ID:                   id,
		DisplayName:          &title,
		LastModifiedDateTime: modified.UTC().Format(time.RFC3339Nano),
		ParentNotebook:       s.parentRef(notebookID),
	}
	if groupID != "" {
		item.ParentSectionGroup = s.parentRef(groupID)
	}
	s.put(id, schema.KindSectionGroup, item)
}

// AddSection adds a section under a notebook or, when groupID is set, under
// a section group.
func (s *Server) AddSection(id, title, notebookID, groupID string, modified time.Time) {
	item := schema.RemoteItem{
		ID:                   id,
		DisplayName:          &title,
		LastModifiedDateTime: modified.UTC().Format(time.RFC3339Nano),
		ParentNotebook:       s.parentRef(notebookID),
		PagesURL:             s.BaseURL() + "/me/onenote/sections/" + id + "/pages",
		Links: &schema.Links{
			OneNoteClientURL: &schema.Link{Href: "onenote:https://example.invalid/" + id + "&section-id=" + id},
		},
	}
	if groupID != "" {
		item.ParentSectionGroup = s.parentRef(groupID)
	}
	s.put(id, schema.KindSection, item)
}

// AddPage adds a page to a section. href is the page's client link.
func (s *Server) AddPage(id, title, sectionID, href string, modified time.Time) {
	item := schema.RemoteItem{
		ID:                   id,
		Title:                &title,
		LastModifiedDateTime: modified.UTC().Format(time.RFC3339Nano),
		ParentSection:        s.parentRef(sectionID),
	}
	if href != "" {
		item.Links = &schema.Links{OneNoteClientURL: &schema.Link{Href: href}}
	}
	s.put(id, schema.KindPage, item)
}

// Rename changes an item's title and modification time.
func (s *Server) Rename(id, title string, modified time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return
	}
	if e.kind == schema.KindPage {
		e.item.Title = &title
	} else {
		e.item.DisplayName = &title
	}
	e.item.LastModifiedDateTime = modified.UTC().Format(time.RFC3339Nano)
}

// Touch sets an item's modification time.
func (s *Server) Touch(id string, modified time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.item.LastModifiedDateTime = modified.UTC().Format(time.RFC3339Nano)
	}
}

// Remove deletes an item. Children are not touched.
func (s *Server) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Mutate applies fn to the stored item, for shapes the helpers do not cover.
func (s *Server) Mutate(id string, fn func(*schema.RemoteItem)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		fn(&e.item)
	}
}

// SetContent sets the HTML returned for a page's content.
func (s *Server) SetContent(pageID, html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content[pageID] = html
}

// Fail makes the next len(statuses) requests to path answer with the given
// status codes, in order. path is relative to BaseURL, e.g.
// "/me/onenote/sections".
func (s *Server) Fail(path string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[APIPrefix+path] = append(s.faults[APIPrefix+path], statuses...)
}

// Hits returns how many requests reached path, including failed ones.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[APIPrefix+path]
}

func (s *Server) put(id string, kind schema.Kind, item schema.RemoteItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		s.order = append(s.order, id)
	}
	s.entries[id] = &entry{kind: kind, item: item}
}

func (s *Server) parentRef(id string) *schema.ParentRef {
	if id == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := &schema.ParentRef{ID: id}
	if e, ok := s.entries[id]; ok {
		ref.DisplayName = e.item.DisplayName
	}
	return ref
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	s.mu.Lock()
	s.hits[path]++
	var fault int
	if q := s.faults[path]; len(q) > 0 {
		fault = q[0]
		s.faults[path] = q[1:]
	}
	s.mu.Unlock()

	if s.RequireToken && r.Header.Get("Authorization") != "Bearer "+Token {
		writeError(w, http.StatusUnauthorized)
		return
	}
	if fault != 0 {
		writeError(w, fault)
		return
	}

	rel := strings.TrimPrefix(path, APIPrefix+"/me/onenote")
	switch {
	case rel == "/notebooks":
		s.serveListing(w, r, s.itemsOfKind(schema.KindNotebook, ""))
	case rel == "/sectionGroups":
		s.serveListing(w, r, s.itemsOfKind(schema.KindSectionGroup, ""))
	case rel == "/sections":
		s.serveListing(w, r, s.itemsOfKind(schema.KindSection, ""))
	case strings.HasPrefix(rel, "/sections/") && strings.HasSuffix(rel, "/pages"):
		sectionID := strings.TrimSuffix(strings.TrimPrefix(rel, "/sections/"), "/pages")
		s.serveListing(w, r, s.itemsOfKind(schema.KindPage, sectionID))
	case strings.HasPrefix(rel, "/pages/") && strings.HasSuffix(rel, "/content"):
		pageID := strings.TrimSuffix(strings.TrimPrefix(rel, "/pages/"), "/content")
		s.mu.Lock()
		html, ok := s.content[pageID]
		s.mu.Unlock()
		if !ok {
			writeError(w, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(html))
	default:
		writeError(w, http.StatusNotFound)
	}
}

func (s *Server) itemsOfKind(kind schema.Kind, sectionID string) []schema.RemoteItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []schema.RemoteItem
	for _, id := range s.order {
		e := s.entries[id]
		if e.kind != kind {
			continue
		}
		if sectionID != "" && (e.item.ParentSection == nil || e.item.ParentSection.ID != sectionID) {
			continue
		}
		out = append(out, e.item)
	}
	return out
}

func (s *Server) serveListing(w http.ResponseWriter, r *http.Request, items []schema.RemoteItem) {
	skip, _ := strconv.Atoi(r.URL.Query().Get("$skip"))
	if skip > len(items) {
		skip = len(items)
	}

	listing := schema.Listing{Value: items[skip:]}
	if s.PageSize > 0 && len(items)-skip > s.PageSize {
		listing.Value = items[skip : skip+s.PageSize]
		listing.NextLink = fmt.Sprintf("%s%s?$skip=%d", s.URL, r.URL.Path, skip+s.PageSize)
	}
	if listing.Value == nil {
		listing.Value = []schema.RemoteItem{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(listing)
}

func writeError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":{"code":"%d","message":%q}}`, status, http.StatusText(status))
}
