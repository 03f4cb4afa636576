package sync

import (
	"regexp"
	"strings"

	"github.com/notemirror/notemirror/internal/schema"
	"github.com/notemirror/notemirror/internal/snapshot"
)

// DeriveOptions configures the derived display fields.
type DeriveOptions struct {
	// RootLabel is the subtitle of notebooks.
	RootLabel string

	// Separator joins breadcrumb titles.
	Separator string
}

// DefaultDeriveOptions returns the labels used by the Alfred workflow.
func DefaultDeriveOptions() DeriveOptions {
	return DeriveOptions{
		RootLabel: "OneNote Notebook",
		Separator: " > ",
	}
}

// pageIDParam matches the page selector of a page link, leaving the section
// selector in place.
var pageIDParam = regexp.MustCompile(`page-id=[^&]*&`)

// Derive recomputes the fallback navigation URL, subtitle and search string
// of every node from the final tree. Values from a previous run are
// discarded.
func Derive(store *snapshot.Store, opts DeriveOptions) {
	nodes := store.Nodes()

	for _, n := range nodes {
		if !n.Kind.HasNativeURL() {
			n.NavigationURL = ""
		}
		n.Subtitle = ""
		n.SearchString = ""
	}

	for _, n := range nodes {
		if n.NavigationURL == "" {
			n.NavigationURL = fallbackURL(store, n.ID, map[string]bool{})
		}
	}

	for _, n := range nodes {
		if n.IsRoot() {
			n.Subtitle = opts.RootLabel
			n.SearchString = n.Title
			continue
		}
		n.Subtitle = strings.ReplaceAll(breadcrumb(store, n, opts.Separator), "--", "")
		n.SearchString = n.Subtitle + opts.Separator + n.Title
	}
}

// fallbackURL returns the link of the first page below id, searching
// children in title order, with its page selector removed.
func fallbackURL(store *snapshot.Store, id string, visited map[string]bool) string {
	if visited[id] {
		return ""
	}
	visited[id] = true

	for _, childID := range store.Children(id) {
		child, _ := store.Get(childID)
		if child.Kind == schema.KindPage {
			if child.NavigationURL != "" {
				return pageIDParam.ReplaceAllString(child.NavigationURL, "")
			}
			continue
		}
		if url := fallbackURL(store, childID, visited); url != "" {
			return url
		}
	}
	return ""
}

// breadcrumb joins the titles of n's ancestors, root first.
func breadcrumb(store *snapshot.Store, n *schema.Node, sep string) string {
	var titles []string
	seen := map[string]bool{n.ID: true}

	for p, ok := store.Parent(n); ok && !seen[p.ID]; p, ok = store.Parent(p) {
		seen[p.ID] = true
		titles = append(titles, p.Title)
	}

	for i, j := 0, len(titles)-1; i < j; i, j = i+1, j-1 {
		titles[i], titles[j] = titles[j], titles[i]
	}
	return strings.Join(titles, sep)
}

// Verify checks that every node's parent is in the snapshot.
func Verify(store *snapshot.Store) error {
	if dangling := danglingParents(store); len(dangling) > 0 {
		return &StructuralError{Dangling: dangling}
	}
	return nil
}

func danglingParents(store *snapshot.Store) map[string]string {
	dangling := make(map[string]string)
	for _, n := range store.Nodes() {
		if n.ParentID == "" {
			continue
		}
		if _, ok := store.Get(n.ParentID); !ok {
			dangling[n.ID] = n.ParentID
		}
	}
	return dangling
}
