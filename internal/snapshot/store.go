// Package snapshot holds the in-memory mirror of the remote hierarchy for the
// duration of one sync run.
//
// A Store is the id → node map plus a parent → children index derived from
// it. The index is rebuilt lazily after any mutation and is never persisted;
// the node map is the source of truth.
//
// A Store is not safe for concurrent use. The sync engine serializes access.
package snapshot

import (
	"sort"

	"github.com/notemirror/notemirror/internal/schema"
)

// RootKey is the index key under which parentless nodes are listed.
const RootKey = "\x00root"

// Store is the snapshot of one sync run.
type Store struct {
	nodes map[string]*schema.Node

	children map[string]map[string]struct{}
	dirty    bool
}

// New creates a store from previously persisted nodes. Later duplicates of
// an id replace earlier ones.
func New(nodes []*schema.Node) *Store {
	s := &Store{
		nodes: make(map[string]*schema.Node, len(nodes)),
		dirty: true,
	}
	for _, n := range nodes {
		s.nodes[n.ID] = n
	}
	return s
}

// Len returns the number of nodes.
func (s *Store) Len() int {
	return len(s.nodes)
}

// Get returns the node with the given id.
func (s *Store) Get(id string) (*schema.Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// Put inserts n, replacing any node with the same id.
func (s *Store) Put(n *schema.Node) {
	if old, ok := s.nodes[n.ID]; ok && old.ParentID == n.ParentID {
		s.nodes[n.ID] = n
		return
	}
	s.nodes[n.ID] = n
	s.dirty = true
}

// Remove deletes the node with the given id. Children are not touched; the
// caller cascades.
func (s *Store) Remove(id string) (*schema.Node, bool) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, false
	}
	delete(s.nodes, id)
	s.dirty = true
	return n, true
}

// Nodes returns all nodes ordered by id.
func (s *Store) Nodes() []*schema.Node {
	out := make([]*schema.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Children returns the ids of the direct children of parentID, ordered by
// title and then id. Use RootKey for parentless nodes.
func (s *Store) Children(parentID string) []string {
	s.rebuild()

	set := s.children[parentID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := s.nodes[out[i]], s.nodes[out[j]]
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.ID < b.ID
	})
	return out
}

// HasChildren reports whether any node lists parentID as its parent.
func (s *Store) HasChildren(parentID string) bool {
	s.rebuild()
	return len(s.children[parentID]) > 0
}

// ChildrenOfKind returns the set of direct children of parentID with the
// given kind.
func (s *Store) ChildrenOfKind(parentID string, kind schema.Kind) map[string]struct{} {
	s.rebuild()

	out := make(map[string]struct{})
	for id := range s.children[parentID] {
		if s.nodes[id].Kind == kind {
			out[id] = struct{}{}
		}
	}
	return out
}

// IDsOfKind returns the set of ids of every node with the given kind.
func (s *Store) IDsOfKind(kind schema.Kind) map[string]struct{} {
	out := make(map[string]struct{})
	for id, n := range s.nodes {
		if n.Kind == kind {
			out[id] = struct{}{}
		}
	}
	return out
}

// Parent returns the parent node of n, if it is present.
func (s *Store) Parent(n *schema.Node) (*schema.Node, bool) {
	if n.ParentID == "" {
		return nil, false
	}
	return s.Get(n.ParentID)
}

// rebuild recomputes the children index if the store changed shape.
func (s *Store) rebuild() {
	if !s.dirty && s.children != nil {
		return
	}

	s.children = make(map[string]map[string]struct{}, len(s.nodes))
	for id, n := range s.nodes {
		key := n.ParentID
		if key == "" {
			key = RootKey
		}
		set, ok := s.children[key]
		if !ok {
			set = make(map[string]struct{})
			s.children[key] = set
		}
		set[id] = struct{}{}
	}
	s.dirty = false
}
