package sync

import (
	"fmt"
	"sort"
	"time"

	"github.com/notemirror/notemirror/internal/schema"
	"github.com/notemirror/notemirror/internal/snapshot"
)

// Scope is what one listing enumerates: every node of Kind, or only the
// children of ParentID when it is set.
type Scope struct {
	Kind     schema.Kind `json:"kind"`
	ParentID string      `json:"parentId,omitempty"`
}

func (s Scope) String() string {
	if s.ParentID == "" {
		return string(s.Kind) + "s"
	}
	return fmt.Sprintf("%ss of %s", s.Kind, s.ParentID)
}

// Classification is the outcome of comparing one listing with the snapshot.
type Classification struct {
	// Upserts are the items to map and replace in the snapshot, in listing
	// order.
	Upserts []schema.RemoteItem

	// Deleted are the snapshot ids of the scope absent from the listing,
	// sorted.
	Deleted []string

	// Archived counts items skipped by the archive rules.
	Archived int

	// ArchivedIDs are the ids of the archived items, sorted. Their children
	// in later listings are archived too.
	ArchivedIDs []string

	// Unchanged counts items skipped because they predate the last sync.
	Unchanged int
}

// Classify compares a complete listing for scope with the snapshot.
//
// An item is archived when the archive rules match it or its parent is in
// archived, or is another archived item of the same listing. Any other item
// is upserted unless it is already in the snapshot under the same parent and
// its lastModified is strictly before lastSync. Items with an unreadable
// timestamp or parent are upserted so that mapping reports them. Every
// listed id, archived or not, counts as present for deletion detection.
func Classify(scope Scope, items []schema.RemoteItem, lastSync time.Time, store *snapshot.Store, rules ArchiveRules, archived map[string]struct{}) Classification {
	var c Classification

	skipped := archivedItems(scope, items, rules, archived)

	present := make(map[string]struct{}, len(items))
	for i := range items {
		item := &items[i]
		present[item.ID] = struct{}{}

		if _, ok := skipped[item.ID]; ok {
			c.Archived++
			continue
		}
		if unchanged(scope, item, lastSync, store) {
			c.Unchanged++
			continue
		}
		c.Upserts = append(c.Upserts, *item)
	}
	c.ArchivedIDs = sortedKeys(skipped)

	var prior map[string]struct{}
	if scope.ParentID == "" {
		prior = store.IDsOfKind(scope.Kind)
	} else {
		prior = store.ChildrenOfKind(scope.ParentID, scope.Kind)
	}
	for id := range prior {
		if _, ok := present[id]; !ok {
			c.Deleted = append(c.Deleted, id)
		}
	}
	sort.Strings(c.Deleted)

	return c
}

// archivedItems returns the ids of items that are marked archived or sit
// below an archived parent. Section groups nest, so the listing is scanned
// until no more items are added.
func archivedItems(scope Scope, items []schema.RemoteItem, rules ArchiveRules, archived map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for changed := true; changed; {
		changed = false
		for i := range items {
			item := &items[i]
			if _, ok := out[item.ID]; ok {
				continue
			}
			if rules.IsArchived(item) || below(scope, item, archived) || below(scope, item, out) {
				out[item.ID] = struct{}{}
				changed = true
			}
		}
	}
	return out
}

func below(scope Scope, item *schema.RemoteItem, parents map[string]struct{}) bool {
	if len(parents) == 0 || scope.Kind == schema.KindNotebook {
		return false
	}
	parentID, err := item.ExtractParentID()
	if err != nil {
		return false
	}
	_, ok := parents[parentID]
	return ok
}

// unchanged reports whether item can be skipped: it predates lastSync and
// the snapshot already holds it under the same parent. A page moved between
// sections keeps its timestamp, so an unknown or moved item is never
// skipped.
func unchanged(scope Scope, item *schema.RemoteItem, lastSync time.Time, store *snapshot.Store) bool {
	modified, err := item.LastModified()
	if err != nil || !modified.Before(lastSync) {
		return false
	}
	node, ok := store.Get(item.ID)
	if !ok {
		return false
	}
	if scope.Kind == schema.KindNotebook {
		return true
	}
	parentID, err := item.ExtractParentID()
	return err == nil && parentID == node.ParentID
}
