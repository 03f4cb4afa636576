package sync

import (
	"strings"

	"github.com/notemirror/notemirror/internal/schema"
)

const (
	// DefaultTitleMarker marks archived notebooks, sections and pages by name.
	DefaultTitleMarker = "(Archiv)"

	// DefaultPathMarker marks items stored below the archive folder.
	DefaultPathMarker = "/One%20Note/Archiv/"
)

// ArchiveRules decide which remote items are excluded from sync. An empty
// marker disables its rule.
type ArchiveRules struct {
	TitleMarker string
	PathMarker  string
}

// DefaultArchiveRules returns the default markers.
func DefaultArchiveRules() ArchiveRules {
	return ArchiveRules{
		TitleMarker: DefaultTitleMarker,
		PathMarker:  DefaultPathMarker,
	}
}

// IsArchived reports whether item carries an archival marker in its title,
// its parent notebook's name or its navigation URL.
func (r ArchiveRules) IsArchived(item *schema.RemoteItem) bool {
	if r.TitleMarker != "" {
		if title, err := item.ExtractTitle(); err == nil && strings.Contains(title, r.TitleMarker) {
			return true
		}
		if strings.Contains(item.ParentNotebookName(), r.TitleMarker) {
			return true
		}
	}
	if r.PathMarker != "" && strings.Contains(item.ExtractLink(), r.PathMarker) {
		return true
	}
	return false
}
