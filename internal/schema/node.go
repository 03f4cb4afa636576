// Package schema provides the data structures notemirror stores and the
// remote OneNote listing items they are mapped from.
package schema

import (
	"fmt"
	"time"
)

// Kind identifies the level of a node in the notebook hierarchy.
type Kind string

const (
	KindNotebook     Kind = "notebook"
	KindSectionGroup Kind = "sectionGroup"
	KindSection      Kind = "section"
	KindPage         Kind = "page"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindNotebook, KindSectionGroup, KindSection, KindPage:
		return true
	}
	return false
}

// HasNativeURL reports whether nodes of this kind carry a navigation URL
// from the remote listing. Section groups and sections only get a derived one.
func (k Kind) HasNativeURL() bool {
	return k == KindNotebook || k == KindPage
}

// Node is one entry of the local snapshot.
//
// ID, Kind and ParentID are identity fields; a node is only ever replaced
// wholesale, never edited in place. Subtitle and SearchString are derived
// after every sync and must not be treated as source data.
type Node struct {
	// ===== Identity =====
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	ParentID string `json:"parentId,omitempty"` // empty for notebooks

	// ===== Remote content =====
	Title         string    `json:"title"`
	NavigationURL string    `json:"navigationUrl,omitempty"`
	LastModified  time.Time `json:"lastModified"`

	// ===== Derived =====
	Subtitle     string `json:"subtitle,omitempty"`
	SearchString string `json:"searchString,omitempty"`
}

// Validate checks the identity invariants of a node.
func (n *Node) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !n.Kind.Valid() {
		return fmt.Errorf("unknown kind %q", n.Kind)
	}
	if n.Kind == KindNotebook && n.ParentID != "" {
		return fmt.Errorf("notebook %s must not have a parent", n.ID)
	}
	if n.Kind != KindNotebook && n.ParentID == "" {
		return fmt.Errorf("%s %s requires a parent", n.Kind, n.ID)
	}
	if n.Title == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

// IsRoot reports whether the node sits at the top of the hierarchy.
func (n *Node) IsRoot() bool {
	return n.ParentID == ""
}

// Clone returns a copy of the node.
func (n *Node) Clone() *Node {
	c := *n
	return &c
}
