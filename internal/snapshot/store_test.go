package snapshot

import (
	"reflect"
	"testing"

	"github.com/notemirror/notemirror/internal/schema"
)

// fixtureTree builds:
//
//	nb-1 Work
//	├── sg-1 Projects
//	│   └── sec-2 Alpha
//	│       └── pg-3 Kickoff
//	└── sec-1 Inbox
//	    ├── pg-2 Beta
//	    └── pg-1 Alpha
func fixtureTree() []*schema.Node {
	return []*schema.Node{
		{ID: "nb-1", Kind: schema.KindNotebook, Title: "Work"},
		{ID: "sg-1", Kind: schema.KindSectionGroup, ParentID: "nb-1", Title: "Projects"},
		{ID: "sec-1", Kind: schema.KindSection, ParentID: "nb-1", Title: "Inbox"},
		{ID: "sec-2", Kind: schema.KindSection, ParentID: "sg-1", Title: "Alpha"},
		{ID: "pg-1", Kind: schema.KindPage, ParentID: "sec-1", Title: "Alpha"},
		{ID: "pg-2", Kind: schema.KindPage, ParentID: "sec-1", Title: "Beta"},
		{ID: "pg-3", Kind: schema.KindPage, ParentID: "sec-2", Title: "Kickoff"},
	}
}

func TestStore_Children(t *testing.T) {
	s := New(fixtureTree())

	if got := s.Children(RootKey); !reflect.DeepEqual(got, []string{"nb-1"}) {
		t.Errorf("Children(root) = %v", got)
	}
	if got := s.Children("sec-1"); !reflect.DeepEqual(got, []string{"pg-1", "pg-2"}) {
		t.Errorf("Children(sec-1) = %v, want title order", got)
	}
	if got := s.Children("nb-1"); !reflect.DeepEqual(got, []string{"sec-1", "sg-1"}) {
		t.Errorf("Children(nb-1) = %v, want [sec-1 sg-1] (Inbox < Projects)", got)
	}
	if s.HasChildren("pg-1") {
		t.Error("page should have no children")
	}
}

func TestStore_IndexFollowsMutations(t *testing.T) {
	s := New(fixtureTree())
	_ = s.Children("sec-1") // build the index

	s.Put(&schema.Node{ID: "pg-4", Kind: schema.KindPage, ParentID: "sec-1", Title: "Gamma"})
	if got := s.Children("sec-1"); len(got) != 3 {
		t.Errorf("after Put, Children(sec-1) = %v", got)
	}

	// Move pg-1 to sec-2.
	s.Put(&schema.Node{ID: "pg-1", Kind: schema.KindPage, ParentID: "sec-2", Title: "Alpha"})
	if got := s.Children("sec-1"); !reflect.DeepEqual(got, []string{"pg-2", "pg-4"}) {
		t.Errorf("after move, Children(sec-1) = %v", got)
	}
	if got := s.Children("sec-2"); !reflect.DeepEqual(got, []string{"pg-1", "pg-3"}) {
		t.Errorf("after move, Children(sec-2) = %v", got)
	}

	if _, ok := s.Remove("pg-2"); !ok {
		t.Fatal("Remove(pg-2) reported missing")
	}
	if got := s.Children("sec-1"); !reflect.DeepEqual(got, []string{"pg-4"}) {
		t.Errorf("after Remove, Children(sec-1) = %v", got)
	}
	if _, ok := s.Remove("pg-2"); ok {
		t.Error("second Remove(pg-2) should report missing")
	}
}

func TestStore_KindQueries(t *testing.T) {
	s := New(fixtureTree())

	if got := len(s.IDsOfKind(schema.KindPage)); got != 3 {
		t.Errorf("IDsOfKind(page) = %d, want 3", got)
	}
	sections := s.ChildrenOfKind("nb-1", schema.KindSection)
	if _, ok := sections["sec-1"]; !ok || len(sections) != 1 {
		t.Errorf("ChildrenOfKind(nb-1, section) = %v", sections)
	}
}

func TestStore_NodesSorted(t *testing.T) {
	s := New(fixtureTree())
	nodes := s.Nodes()
	for i := 1; i < len(nodes); i++ {
		if nodes[i-1].ID > nodes[i].ID {
			t.Fatalf("Nodes() not sorted at %d: %s > %s", i, nodes[i-1].ID, nodes[i].ID)
		}
	}
}
