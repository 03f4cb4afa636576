// Package export renders the snapshot for launchers.
//
// Two formats are supported: the Alfred script-filter document
// ({"items": [...]}) and the flat legacy item array older installations
// kept as onenoteElements.json, which `notemirror import` reads back.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/notemirror/notemirror/internal/schema"
)

// Format selects the output document.
type Format string

const (
	FormatAlfred Format = "alfred"
	FormatLegacy Format = "legacy"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatAlfred, FormatLegacy:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown export format %q (want %q or %q)", s, FormatAlfred, FormatLegacy)
}

// Options configures an export.
type Options struct {
	Format Format

	// IconDir prefixes the per-kind icon file names.
	IconDir string
}

// DefaultOptions returns Alfred output with icons under icons/.
func DefaultOptions() Options {
	return Options{Format: FormatAlfred, IconDir: "icons"}
}

var iconFiles = map[schema.Kind]string{
	schema.KindNotebook:     "notebook.png",
	schema.KindSectionGroup: "section-group.png",
	schema.KindSection:      "section.png",
	schema.KindPage:         "page.png",
}

// IconPath returns the icon file for a kind.
func IconPath(dir string, kind schema.Kind) string {
	name, ok := iconFiles[kind]
	if !ok {
		name = "page.png"
	}
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}

// Icon is an Alfred item icon.
type Icon struct {
	Type string `json:"type,omitempty"`
	Path string `json:"path"`
}

// Item is one Alfred script-filter result.
type Item struct {
	UID          string `json:"uid"`
	Title        string `json:"title"`
	Subtitle     string `json:"subtitle"`
	Arg          string `json:"arg"`
	Autocomplete string `json:"autocomplete"`
	Match        string `json:"match,omitempty"`
	Valid        bool   `json:"valid"`
	Icon         Icon   `json:"icon"`
}

// ScriptFilter is the Alfred script-filter document.
type ScriptFilter struct {
	Items []Item `json:"items"`
}

// Alfred converts nodes to script-filter items. Nodes without a navigation
// URL are listed but not actionable.
func Alfred(nodes []*schema.Node, iconDir string) *ScriptFilter {
	doc := &ScriptFilter{Items: make([]Item, 0, len(nodes))}
	for _, n := range nodes {
		doc.Items = append(doc.Items, Item{
			UID:          n.ID,
			Title:        n.Title,
			Subtitle:     n.Subtitle,
			Arg:          n.NavigationURL,
			Autocomplete: n.Title,
			Match:        n.SearchString,
			Valid:        n.NavigationURL != "",
			Icon:         Icon{Path: IconPath(iconDir, n.Kind)},
		})
	}
	return doc
}

// Legacy converts nodes to the flat legacy item array.
func Legacy(nodes []*schema.Node, iconDir string) []schema.LegacyItem {
	items := make([]schema.LegacyItem, 0, len(nodes))
	for _, n := range nodes {
		var parent string
		if !n.IsRoot() {
			parent = n.ParentID
		}
		item := schema.LegacyItem{
			Title:         n.Title,
			Autocomplete:  n.Title,
			UID:           n.ID,
			Subtitle:      n.Subtitle,
			Arg:           n.NavigationURL,
			Valid:         n.NavigationURL != "",
			Icon:          IconPath(iconDir, n.Kind),
			OneNoteType:   string(n.Kind),
			OneNoteParent: parent,
		}
		if !n.LastModified.IsZero() {
			item.LastModified = n.LastModified.UTC().Format(time.RFC3339Nano)
		}
		items = append(items, item)
	}
	return items
}

// Write encodes nodes in the requested format.
func Write(w io.Writer, nodes []*schema.Node, opts Options) error {
	var doc any
	switch opts.Format {
	case FormatAlfred, "":
		doc = Alfred(nodes, opts.IconDir)
	case FormatLegacy:
		doc = Legacy(nodes, opts.IconDir)
	default:
		return fmt.Errorf("unknown export format %q", opts.Format)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return nil
}
