package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/notemirror/notemirror/internal/schema"
	"github.com/notemirror/notemirror/internal/snapshot"
)

// DefaultLastSync is the low-water mark of a first run.
var DefaultLastSync = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Config configures a Syncer.
type Config struct {
	Archive ArchiveRules
	Derive  DeriveOptions

	// Observer receives progress events. May be nil.
	Observer Observer

	// Now returns the run start time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Archive: DefaultArchiveRules(),
		Derive:  DefaultDeriveOptions(),
		Now:     time.Now,
	}
}

// Result is the outcome of one run.
type Result struct {
	// Nodes is the updated snapshot, ordered by id.
	Nodes []*schema.Node

	// LastSync is the start time of the run, the next low-water mark.
	LastSync time.Time

	// PagesModified and PagesRemoved are sorted page ids for the content
	// fetcher.
	PagesModified []string
	PagesRemoved  []string

	Report Report

	// Committed is set by Run when the snapshot was saved, and
	// LastSyncSaved when the timestamp was advanced too.
	Committed     bool
	LastSyncSaved bool
}

// syncer implements the Syncer interface.
type syncer struct {
	source Source
	cfg    *Config
	logger *log.Logger
}

// New creates a Syncer with DefaultConfig.
//
// If logger is nil, a default logger writing to stderr is used.
//
// Example:
//
//	client := graph.New(auth.Static(token))
//	syncer := sync.New(client, nil)
func New(source Source, logger *log.Logger) Syncer {
	return NewWithConfig(source, DefaultConfig(), logger)
}

// NewWithConfig creates a Syncer with the given configuration.
func NewWithConfig(source Source, cfg *Config, logger *log.Logger) Syncer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &syncer{
		source: source,
		cfg:    cfg,
		logger: logger,
	}
}

// Run implements Syncer.Run.
func (s *syncer) Run(ctx context.Context, p Persistence, opts RunOptions) (*Result, error) {
	nodes, err := p.LoadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	lastSync, ok, err := p.LoadLastSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load last sync time: %w", err)
	}
	switch {
	case opts.Full:
		lastSync = time.Time{}
	case !opts.Since.IsZero():
		lastSync = opts.Since
	case !ok:
		lastSync = DefaultLastSync
	}

	result, err := s.Reconcile(ctx, nodes, lastSync)
	if err != nil {
		return nil, err
	}
	if opts.DryRun {
		return result, nil
	}

	if result.Report.Partial() {
		s.logger.Printf("Sync was partial (%d failures), keeping last sync time %s",
			len(result.Report.Failures), lastSync.Format(time.RFC3339))
		if err := p.SaveSnapshot(ctx, result.Nodes); err != nil {
			return nil, fmt.Errorf("failed to save snapshot: %w", err)
		}
		result.Committed = true
		return result, nil
	}

	if c, ok := p.(Committer); ok {
		if err := c.Commit(ctx, result.Nodes, result.LastSync); err != nil {
			return nil, fmt.Errorf("failed to commit sync: %w", err)
		}
	} else {
		if err := p.SaveSnapshot(ctx, result.Nodes); err != nil {
			return nil, fmt.Errorf("failed to save snapshot: %w", err)
		}
		if err := p.SaveLastSync(ctx, result.LastSync); err != nil {
			return nil, fmt.Errorf("failed to save last sync time: %w", err)
		}
	}
	result.Committed = true
	result.LastSyncSaved = true
	return result, nil
}

// Reconcile implements Syncer.Reconcile.
func (s *syncer) Reconcile(ctx context.Context, nodes []*schema.Node, lastSync time.Time) (*Result, error) {
	start := s.cfg.Now()
	s.emit(Event{Type: EventRunStarted})
	s.logger.Printf("Starting sync of changes since %s", lastSync.Format(time.RFC3339))

	result, err := s.reconcile(ctx, nodes, lastSync, start)
	if err != nil {
		s.emit(Event{Type: EventRunFailed, Error: err.Error()})
		return nil, err
	}

	s.logger.Printf("Sync complete: %d listings, %d upserted, %d deleted, %d failures in %v",
		result.Report.Listings, result.Report.Upserted, result.Report.Deleted,
		len(result.Report.Failures), result.Report.Duration.Round(time.Millisecond))
	report := result.Report
	s.emit(Event{Type: EventRunFinished, Report: &report})

	return result, nil
}

func (s *syncer) reconcile(ctx context.Context, nodes []*schema.Node, lastSync, start time.Time) (*Result, error) {
	prior := make([]*schema.Node, len(nodes))
	for i, n := range nodes {
		prior[i] = n.Clone()
	}
	r := newReconciler(snapshot.New(prior), s.cfg.Archive, lastSync, s.logger)
	r.report.StartedAt = start

	// Every other listing resolves parents against notebooks, so a failure
	// here aborts the run.
	notebooks := Scope{Kind: schema.KindNotebook}
	items, err := s.list(ctx, notebooks, s.source.NotebooksURL())
	if err != nil {
		return nil, fmt.Errorf("failed to list notebooks: %w", err)
	}
	if out := s.apply(r, notebooks, items); len(out.failures) > 0 {
		return nil, fmt.Errorf("failed to map notebook: %w", out.failures[0])
	}

	g, gctx := errgroup.WithContext(ctx)

	// Both listings are fetched together, but sections are applied after
	// section groups so that sections below an archived group are skipped.
	groupsApplied := make(chan struct{})

	g.Go(func() error {
		defer close(groupsApplied)
		scope := Scope{Kind: schema.KindSectionGroup}
		items, err := s.list(gctx, scope, s.source.SectionGroupsURL())
		if err != nil {
			return s.failListing(gctx, r, scope, err)
		}
		s.apply(r, scope, items)
		return nil
	})

	g.Go(func() error {
		scope := Scope{Kind: schema.KindSection}
		items, err := s.list(gctx, scope, s.source.SectionsURL())
		if err != nil {
			return s.failListing(gctx, r, scope, err)
		}
		select {
		case <-groupsApplied:
		case <-gctx.Done():
			return gctx.Err()
		}
		out := s.apply(r, scope, items)

		for _, id := range sortedKeys(out.sections) {
			sectionID := id
			pagesURL := out.sections[id].PagesURL
			if pagesURL == "" {
				pagesURL = s.source.PagesURL(sectionID)
			}
			g.Go(func() error {
				scope := Scope{Kind: schema.KindPage, ParentID: sectionID}
				items, err := s.list(gctx, scope, pagesURL)
				if err != nil {
					return s.failListing(gctx, r, scope, err)
				}
				s.apply(r, scope, items)
				return nil
			})
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.report.Partial() {
		r.report.Pruned = r.pruneDangling()
	}
	if err := Verify(r.store); err != nil {
		return nil, err
	}
	Derive(r.store, s.cfg.Derive)

	r.report.Duration = s.cfg.Now().Sub(start)

	return &Result{
		Nodes:         r.store.Nodes(),
		LastSync:      start,
		PagesModified: sortedKeys(r.pagesModified),
		PagesRemoved:  sortedKeys(r.pagesRemoved),
		Report:        r.report,
	}, nil
}

// list fetches one complete listing. A listing that failed part-way is never
// returned.
func (s *syncer) list(ctx context.Context, scope Scope, url string) ([]schema.RemoteItem, error) {
	items, err := s.source.List(ctx, url)
	if err != nil {
		if len(items) > 0 {
			err = fmt.Errorf("%w: %v", ErrIncompleteListing, err)
		}
		return nil, err
	}
	return items, nil
}

func (s *syncer) apply(r *reconciler, scope Scope, items []schema.RemoteItem) *applied {
	out := r.apply(scope, items)
	for _, f := range out.failures {
		s.logger.Printf("WARNING: %v", f)
	}
	s.emit(Event{
		Type:     EventListing,
		Scope:    scope,
		Items:    len(items),
		Upserted: len(out.upserted),
		Deleted:  len(out.class.Deleted),
	})
	return out
}

// failListing records a failed listing. Cancellation of the run is returned
// so the group stops; any other error only affects this subtree.
func (s *syncer) failListing(ctx context.Context, r *reconciler, scope Scope, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return err
	}
	s.logger.Printf("WARNING: failed to list %s: %v", scope, err)
	r.fail(scope, err)
	s.emit(Event{Type: EventListingFailed, Scope: scope, Error: err.Error()})
	return nil
}

func (s *syncer) emit(ev Event) {
	if s.cfg.Observer == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.cfg.Now()
	}
	s.cfg.Observer(ev)
}
