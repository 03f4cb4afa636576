package sync

import (
	"context"
	"time"

	"github.com/notemirror/notemirror/internal/schema"
)

// Syncer mirrors the remote OneNote hierarchy into a local snapshot.
type Syncer interface {
	// Reconcile runs one sync against the given prior snapshot.
	//
	// nodes is not modified; the returned Result carries the updated
	// snapshot. lastSync is the low-water mark below which remote items are
	// assumed unchanged.
	//
	// Returns an error if the run cannot produce a consistent snapshot: the
	// notebook listing failed, a notebook item is malformed, or the final
	// tree has dangling parents. Other failures are recorded in
	// Result.Report.
	//
	// Example:
	//   result, err := syncer.Reconcile(ctx, nodes, lastSync)
	Reconcile(ctx context.Context, nodes []*schema.Node, lastSync time.Time) (*Result, error)

	// Run loads the snapshot and last-sync timestamp from p, reconciles and
	// commits the outcome back to p.
	//
	// A failed run commits nothing. A partial run saves the snapshot but not
	// the timestamp.
	//
	// Example:
	//   result, err := syncer.Run(ctx, db, sync.RunOptions{})
	Run(ctx context.Context, p Persistence, opts RunOptions) (*Result, error)
}

// Source lists remote items. graph.Client implements it.
type Source interface {
	// List returns the complete listing at url, following pagination.
	List(ctx context.Context, url string) ([]schema.RemoteItem, error)

	NotebooksURL() string
	SectionGroupsURL() string
	SectionsURL() string
	PagesURL(sectionID string) string
}

// Persistence stores the snapshot and the last-sync timestamp between runs.
type Persistence interface {
	LoadSnapshot(ctx context.Context) ([]*schema.Node, error)
	SaveSnapshot(ctx context.Context, nodes []*schema.Node) error

	// LoadLastSync returns ok == false when no timestamp was stored yet.
	LoadLastSync(ctx context.Context) (t time.Time, ok bool, err error)
	SaveLastSync(ctx context.Context, t time.Time) error
}

// Committer is implemented by stores that can save the snapshot and the
// timestamp atomically. Run prefers it over separate saves.
type Committer interface {
	Commit(ctx context.Context, nodes []*schema.Node, lastSync time.Time) error
}

// RunOptions adjusts a single Run.
type RunOptions struct {
	// Full ignores the stored timestamp and re-syncs every item.
	Full bool

	// Since overrides the stored timestamp when non-zero.
	Since time.Time

	// DryRun reconciles without committing.
	DryRun bool
}

// EventType identifies a sync progress event.
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventListing       EventType = "listing"
	EventListingFailed EventType = "listing_failed"
	EventRunFinished   EventType = "run_finished"
	EventRunFailed     EventType = "run_failed"
)

// Event reports progress of a run to an observer.
type Event struct {
	Type     EventType `json:"type"`
	Scope    Scope     `json:"scope,omitempty"`
	Items    int       `json:"items,omitempty"`
	Upserted int       `json:"upserted,omitempty"`
	Deleted  int       `json:"deleted,omitempty"`
	Error    string    `json:"error,omitempty"`
	Report   *Report   `json:"report,omitempty"`
	At       time.Time `json:"at"`
}

// Observer receives events. It is called from listing goroutines and must
// not block.
type Observer func(Event)
