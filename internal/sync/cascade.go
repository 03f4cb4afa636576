package sync

import (
	"errors"
	"log"
	"sort"
	gosync "sync"
	"time"

	"github.com/notemirror/notemirror/internal/schema"
	"github.com/notemirror/notemirror/internal/snapshot"
)

// reconciler owns the snapshot of one run. Every read used for
// classification and every mutation happens under mu, one listing at a
// time.
type reconciler struct {
	mu       gosync.Mutex
	store    *snapshot.Store
	rules    ArchiveRules
	lastSync time.Time
	logger   *log.Logger

	// archived holds the ids of archived items seen so far in the run.
	archived map[string]struct{}

	pagesModified map[string]struct{}
	pagesRemoved  map[string]struct{}
	report        Report
}

func newReconciler(store *snapshot.Store, rules ArchiveRules, lastSync time.Time, logger *log.Logger) *reconciler {
	return &reconciler{
		store:         store,
		rules:         rules,
		lastSync:      lastSync,
		logger:        logger,
		archived:      make(map[string]struct{}),
		pagesModified: make(map[string]struct{}),
		pagesRemoved:  make(map[string]struct{}),
	}
}

// applied is what one listing changed.
type applied struct {
	class    Classification
	upserted []*schema.Node
	// sections maps upserted section ids to their remote item, for the
	// follow-up page listings.
	sections map[string]*schema.RemoteItem
	failures []Failure
}

// apply classifies a complete listing, cascades its deletions and upserts
// its modified items. Items that cannot be mapped are reported and skipped.
// Listings of parents must be applied before those of their children for
// archived parents to exclude their subtrees.
func (r *reconciler) apply(scope Scope, items []schema.RemoteItem) *applied {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := &applied{
		class:    Classify(scope, items, r.lastSync, r.store, r.rules, r.archived),
		sections: make(map[string]*schema.RemoteItem),
	}
	for _, id := range out.class.ArchivedIDs {
		r.archived[id] = struct{}{}
	}

	removed := r.deleteRecursively(out.class.Deleted)

	for i := range out.class.Upserts {
		item := &out.class.Upserts[i]
		node, err := item.ToNode(scope.Kind)
		if err != nil {
			out.failures = append(out.failures, newFailure(scope, item.ID, err))
			continue
		}

		r.store.Put(node)
		out.upserted = append(out.upserted, node)

		switch node.Kind {
		case schema.KindPage:
			r.pagesModified[node.ID] = struct{}{}
			delete(r.pagesRemoved, node.ID)
		case schema.KindSection:
			out.sections[node.ID] = item
		}
	}

	r.report.Listings++
	r.report.Upserted += len(out.upserted)
	r.report.Deleted += removed
	r.report.Archived += out.class.Archived
	r.report.Failures = append(r.report.Failures, out.failures...)

	return out
}

// fail records a listing that could not be fetched.
func (r *reconciler) fail(scope Scope, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Failures = append(r.report.Failures, newFailure(scope, "", err))
}

// deleteRecursively removes every id and all of its descendants from the
// snapshot, children first. Removed pages move from the modified to the
// removed set. Unknown ids are skipped. It returns the number of nodes
// removed. The caller holds mu.
func (r *reconciler) deleteRecursively(ids []string) int {
	removed := 0
	for _, id := range ids {
		if _, ok := r.store.Get(id); !ok {
			continue
		}
		removed += r.deleteRecursively(r.store.Children(id))

		node, ok := r.store.Remove(id)
		if !ok {
			continue
		}
		removed++
		if node.Kind == schema.KindPage {
			r.pagesRemoved[id] = struct{}{}
			delete(r.pagesModified, id)
		}
	}
	return removed
}

// pruneDangling removes nodes whose parent is missing, with their subtrees.
// It is used after a partial run, where a failed listing can leave a new
// child without its new parent. The caller holds mu.
func (r *reconciler) pruneDangling() []string {
	var pruned []string
	for {
		dangling := danglingParents(r.store)
		if len(dangling) == 0 {
			break
		}
		ids := sortedKeys(dangling)
		for _, id := range ids {
			r.logger.Printf("WARNING: dropping %s, parent %s was not synced", id, dangling[id])
		}
		r.deleteRecursively(ids)
		pruned = append(pruned, ids...)
	}
	sort.Strings(pruned)
	return pruned
}

// Failure is one listing or item that could not be reconciled.
type Failure struct {
	Scope   Scope  `json:"scope"`
	ItemID  string `json:"itemId,omitempty"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func newFailure(scope Scope, itemID string, err error) Failure {
	return Failure{Scope: scope, ItemID: itemID, Message: err.Error(), Err: err}
}

// Fatal reports whether the failure prevents a consistent snapshot.
func (f Failure) Fatal() bool {
	return f.Scope.Kind == schema.KindNotebook
}

func (f Failure) Error() string {
	if f.ItemID != "" {
		return f.Scope.String() + ": item " + f.ItemID + ": " + f.Message
	}
	return f.Scope.String() + ": " + f.Message
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Report summarizes a run.
type Report struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Listings  int           `json:"listings"`
	Upserted  int           `json:"upserted"`
	Deleted   int           `json:"deleted"`
	Archived  int           `json:"archived"`
	Failures  []Failure     `json:"failures,omitempty"`
	Pruned    []string      `json:"pruned,omitempty"`
}

// Partial reports whether some listing or item failed.
func (r *Report) Partial() bool {
	return len(r.Failures) > 0
}

// Err joins the recorded failures, or returns nil.
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
