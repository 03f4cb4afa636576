package sync

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notemirror/notemirror/internal/schema"
	"github.com/notemirror/notemirror/internal/snapshot"
)

var (
	tBefore = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tSync   = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	tAfter  = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
)

func remote(id, title string, modified time.Time) schema.RemoteItem {
	return schema.RemoteItem{
		ID:                   id,
		DisplayName:          &title,
		LastModifiedDateTime: modified.Format(time.RFC3339Nano),
	}
}

func remotePage(id, title, sectionID string, modified time.Time) schema.RemoteItem {
	item := schema.RemoteItem{
		ID:                   id,
		Title:                &title,
		LastModifiedDateTime: modified.Format(time.RFC3339Nano),
		ParentSection:        &schema.ParentRef{ID: sectionID},
	}
	return item
}

func ids(items []schema.RemoteItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestArchiveRules_IsArchived(t *testing.T) {
	rules := DefaultArchiveRules()
	archivedNotebook := "Old (Archiv)"

	tests := []struct {
		name     string
		item     schema.RemoteItem
		expected bool
	}{
		{
			name:     "plain",
			item:     remote("a", "Work", tAfter),
			expected: false,
		},
		{
			name:     "marker in title",
			item:     remote("a", "2019 (Archiv)", tAfter),
			expected: true,
		},
		{
			name: "marker in parent notebook",
			item: schema.RemoteItem{
				ID:             "a",
				DisplayName:    strPtr("Inbox"),
				ParentNotebook: &schema.ParentRef{ID: "nb", DisplayName: &archivedNotebook},
			},
			expected: true,
		},
		{
			name: "marker in link",
			item: schema.RemoteItem{
				ID:    "a",
				Title: strPtr("Minutes"),
				Links: &schema.Links{OneNoteClientURL: &schema.Link{Href: "onenote:https://d.docs.live.net/x/One%20Note/Archiv/Old.one"}},
			},
			expected: true,
		},
		{
			name:     "no title at all",
			item:     schema.RemoteItem{ID: "a"},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, rules.IsArchived(&tt.item))
		})
	}

	disabled := ArchiveRules{}
	item := remote("a", "2019 (Archiv)", tAfter)
	assert.False(t, disabled.IsArchived(&item), "empty markers disable the rules")
}

func strPtr(s string) *string { return &s }

func TestClassify_BoundaryTimestamp(t *testing.T) {
	store := snapshot.New([]*schema.Node{
		{ID: "equal", Kind: schema.KindNotebook, Title: "Equal"},
		{ID: "earlier", Kind: schema.KindNotebook, Title: "Earlier"},
		{ID: "later", Kind: schema.KindNotebook, Title: "Later"},
	})
	items := []schema.RemoteItem{
		remote("equal", "Equal", tSync),
		remote("earlier", "Earlier", tSync.Add(-time.Nanosecond)),
		remote("later", "Later", tSync.Add(time.Second)),
	}

	c := Classify(Scope{Kind: schema.KindNotebook}, items, tSync, store, DefaultArchiveRules(), nil)

	assert.Equal(t, []string{"equal", "later"}, ids(c.Upserts))
	assert.Equal(t, 1, c.Unchanged)
	assert.Empty(t, c.Deleted)
}

func TestClassify_ArchivedNeverUpserted(t *testing.T) {
	store := snapshot.New([]*schema.Node{
		{ID: "old", Kind: schema.KindNotebook, Title: "Old"},
	})

	for _, modified := range []time.Time{tBefore, tSync, tAfter, time.Time{}} {
		items := []schema.RemoteItem{remote("old", "Old (Archiv)", modified)}
		c := Classify(Scope{Kind: schema.KindNotebook}, items, tSync, store, DefaultArchiveRules(), nil)

		assert.Empty(t, c.Upserts, "modified %v", modified)
		assert.Empty(t, c.Deleted, "archived items count as present")
		assert.Equal(t, 1, c.Archived)
	}
}

func TestClassify_UnchangedNotebookScenario(t *testing.T) {
	store := snapshot.New([]*schema.Node{
		{ID: "A", Kind: schema.KindNotebook, Title: "A"},
	})
	items := []schema.RemoteItem{remote("A", "A", tBefore)}

	c := Classify(Scope{Kind: schema.KindNotebook}, items, tSync, store, DefaultArchiveRules(), nil)

	assert.Empty(t, c.Upserts)
	assert.Empty(t, c.Deleted)
	assert.Equal(t, 1, store.Len())
}

func TestClassify_UnknownItemIsAdded(t *testing.T) {
	store := snapshot.New([]*schema.Node{
		{ID: "nb", Kind: schema.KindNotebook, Title: "Work"},
		{ID: "s1", Kind: schema.KindSection, ParentID: "nb", Title: "One"},
		{ID: "s2", Kind: schema.KindSection, ParentID: "nb", Title: "Two"},
		{ID: "p1", Kind: schema.KindPage, ParentID: "s1", Title: "P1"},
	})
	rules := DefaultArchiveRules()

	c := Classify(Scope{Kind: schema.KindPage, ParentID: "s2"},
		[]schema.RemoteItem{remotePage("p1", "P1", "s2", tBefore)}, tSync, store, rules, nil)
	assert.Equal(t, []string{"p1"}, ids(c.Upserts), "a page moved to another section is upserted")

	c = Classify(Scope{Kind: schema.KindPage, ParentID: "s2"},
		[]schema.RemoteItem{remotePage("p9", "P9", "s2", tBefore)}, tSync, store, rules, nil)
	assert.Equal(t, []string{"p9"}, ids(c.Upserts), "a page missing from the snapshot is upserted")

	c = Classify(Scope{Kind: schema.KindPage, ParentID: "s1"},
		[]schema.RemoteItem{remotePage("p1", "P1", "s1", tBefore)}, tSync, store, rules, nil)
	assert.Empty(t, c.Upserts)
	assert.Equal(t, 1, c.Unchanged)
}

func TestClassify_ArchivedParentExcludesSubtree(t *testing.T) {
	store := snapshot.New(nil)
	rules := DefaultArchiveRules()
	group := func(id, title, parent string) schema.RemoteItem {
		item := remote(id, title, tAfter)
		item.ParentSectionGroup = &schema.ParentRef{ID: parent}
		return item
	}

	groups := Classify(Scope{Kind: schema.KindSectionGroup}, []schema.RemoteItem{
		group("inner", "Inner", "old"),
		group("old", "Old (Archiv)", "nb"),
		group("deep", "Deep", "inner"),
		group("live", "Live", "nb"),
	}, tSync, store, rules, nil)

	assert.Equal(t, []string{"deep", "inner", "old"}, groups.ArchivedIDs)
	assert.Equal(t, []string{"live"}, ids(groups.Upserts))

	archived := make(map[string]struct{})
	for _, id := range groups.ArchivedIDs {
		archived[id] = struct{}{}
	}
	sections := Classify(Scope{Kind: schema.KindSection}, []schema.RemoteItem{
		group("s-deep", "Notes", "deep"),
		group("s-live", "Notes", "live"),
	}, tSync, store, rules, archived)

	assert.Equal(t, []string{"s-deep"}, sections.ArchivedIDs)
	assert.Equal(t, []string{"s-live"}, ids(sections.Upserts))
}

func TestClassify_ScopedToParent(t *testing.T) {
	store := snapshot.New([]*schema.Node{
		{ID: "nb", Kind: schema.KindNotebook, Title: "Work"},
		{ID: "s1", Kind: schema.KindSection, ParentID: "nb", Title: "One"},
		{ID: "s2", Kind: schema.KindSection, ParentID: "nb", Title: "Two"},
		{ID: "p1", Kind: schema.KindPage, ParentID: "s1", Title: "P1"},
		{ID: "p2", Kind: schema.KindPage, ParentID: "s1", Title: "P2"},
		{ID: "p3", Kind: schema.KindPage, ParentID: "s2", Title: "P3"},
	})

	c := Classify(Scope{Kind: schema.KindPage, ParentID: "s1"},
		[]schema.RemoteItem{remotePage("p1", "P1", "s1", tBefore)}, tSync, store, DefaultArchiveRules(), nil)
	assert.Equal(t, []string{"p2"}, c.Deleted, "pages of other sections are out of scope")

	c = Classify(Scope{Kind: schema.KindSection}, []schema.RemoteItem{remote("s2", "Two", tBefore)},
		tSync, store, DefaultArchiveRules(), nil)
	assert.Equal(t, []string{"s1"}, c.Deleted, "global scope covers every node of the kind")
}

func TestClassify_PaginationUnion(t *testing.T) {
	prior := []*schema.Node{{ID: "s", Kind: schema.KindSection, ParentID: "nb", Title: "S"}}
	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		prior = append(prior, &schema.Node{ID: id, Kind: schema.KindPage, ParentID: "s", Title: id})
	}
	store := snapshot.New(prior)
	scope := Scope{Kind: schema.KindPage, ParentID: "s"}

	page1 := []schema.RemoteItem{remotePage("p1", "p1", "s", tBefore), remotePage("p2", "p2", "s", tBefore)}
	page2 := []schema.RemoteItem{remotePage("p4", "p4", "s", tBefore)}

	merged := append(append([]schema.RemoteItem{}, page1...), page2...)
	fromUnion := Classify(scope, merged, tSync, store, DefaultArchiveRules(), nil)
	fromSingle := Classify(scope, []schema.RemoteItem{
		remotePage("p4", "p4", "s", tBefore),
		remotePage("p2", "p2", "s", tBefore),
		remotePage("p1", "p1", "s", tBefore),
	}, tSync, store, DefaultArchiveRules(), nil)

	assert.Equal(t, []string{"p3"}, fromUnion.Deleted)
	assert.Equal(t, fromSingle.Deleted, fromUnion.Deleted)

	firstPageOnly := Classify(scope, page1, tSync, store, DefaultArchiveRules(), nil)
	assert.Equal(t, []string{"p3", "p4"}, firstPageOnly.Deleted, "a single page over-reports deletions")
}

func TestReconciler_ApplyIdempotent(t *testing.T) {
	store := snapshot.New([]*schema.Node{
		{ID: "nb", Kind: schema.KindNotebook, Title: "Work"},
		{ID: "s", Kind: schema.KindSection, ParentID: "nb", Title: "S"},
		{ID: "gone", Kind: schema.KindPage, ParentID: "s", Title: "Gone"},
	})
	r := newReconciler(store, DefaultArchiveRules(), tSync, discardLogger())
	scope := Scope{Kind: schema.KindPage, ParentID: "s"}
	listing := []schema.RemoteItem{
		remotePage("new", "New", "s", tAfter),
		remotePage("old", "Old", "s", tBefore),
	}

	first := r.apply(scope, listing)
	require.Empty(t, first.failures)
	assert.Equal(t, []string{"gone"}, first.class.Deleted)
	assert.Equal(t, []string{"new", "old"}, ids(first.class.Upserts), "unknown items are added whatever their age")
	snap1 := store.Nodes()

	second := r.apply(scope, listing)
	assert.Empty(t, second.class.Deleted)
	assert.Equal(t, []string{"new"}, ids(second.class.Upserts))
	assert.Equal(t, snap1, store.Nodes())

	// With the low-water mark advanced past the run, nothing is upserted.
	r.lastSync = tAfter.Add(time.Second)
	third := r.apply(scope, listing)
	assert.Empty(t, third.class.Upserts)
	assert.Empty(t, third.class.Deleted)
}

func TestReconciler_MalformedItemSkipped(t *testing.T) {
	store := snapshot.New([]*schema.Node{{ID: "nb", Kind: schema.KindNotebook, Title: "Work"}})
	r := newReconciler(store, DefaultArchiveRules(), tSync, discardLogger())

	noParent := remote("s-bad", "Orphan", tAfter)
	out := r.apply(Scope{Kind: schema.KindSection}, []schema.RemoteItem{noParent})

	require.Len(t, out.failures, 1)
	assert.Equal(t, "s-bad", out.failures[0].ItemID)
	assert.True(t, schema.IsMalformed(out.failures[0]))
	_, ok := store.Get("s-bad")
	assert.False(t, ok)
	assert.True(t, r.report.Partial())
}
