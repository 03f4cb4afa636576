package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/notemirror/notemirror/internal/config"
	"github.com/notemirror/notemirror/internal/content"
	"github.com/notemirror/notemirror/internal/db"
	"github.com/notemirror/notemirror/internal/graph"
	"github.com/notemirror/notemirror/internal/schema"
	nmsync "github.com/notemirror/notemirror/internal/sync"
	"github.com/notemirror/notemirror/internal/ui"
)

// syncEnv bundles everything one or more sync runs need.
type syncEnv struct {
	store   store
	db      *db.DB // nil for the file backend
	client  *graph.Client
	syncer  nmsync.Syncer
	fetcher *content.Fetcher // nil when content download is off
}

func newSyncEnv(observer nmsync.Observer, withContent bool) (*syncEnv, error) {
	st, database, err := openStore()
	if err != nil {
		return nil, err
	}
	client := newGraphClient(tokenProvider())

	env := &syncEnv{
		store:  st,
		db:     database,
		client: client,
		syncer: newSyncer(client, observer),
	}
	if withContent {
		env.fetcher = content.New(client, content.Config{
			Dir:         cfg.Content.Dir,
			Compress:    cfg.Content.Compress,
			Concurrency: cfg.Graph.Concurrency,
		}, logs.New("[content] "))
	}
	return env, nil
}

func (e *syncEnv) Close() error {
	return e.store.Close()
}

// run performs one sync, records it in the run history and brings the page
// content up to date. Content failures are logged, not returned.
func (e *syncEnv) run(ctx context.Context, opts nmsync.RunOptions) (*nmsync.Result, error) {
	start := time.Now()
	result, err := e.syncer.Run(ctx, e.store, opts)
	if !opts.DryRun {
		e.record(start, result, err)
	}
	if err != nil {
		return nil, err
	}

	debug := logs.Debug("[sync] ")
	debug.Printf("Pages modified: %v", result.PagesModified)
	debug.Printf("Pages removed: %v", result.PagesRemoved)

	if e.fetcher != nil && result.Committed {
		fetched, err := e.fetcher.Apply(ctx, result.PagesModified, result.PagesRemoved)
		if err != nil {
			return result, fmt.Errorf("failed to update page content: %w", err)
		}
		if ferr := fetched.Err(); ferr != nil {
			logs.New("[content] ").Printf("WARNING: %d pages could not be fetched: %v", len(fetched.Failures), ferr)
		}
	}
	return result, nil
}

func (e *syncEnv) record(start time.Time, result *nmsync.Result, runErr error) {
	if e.db == nil {
		return
	}
	r := &db.Run{StartedAt: start, Duration: time.Since(start)}
	if result != nil {
		r.Upserted = result.Report.Upserted
		r.Deleted = result.Report.Deleted
		r.PagesModified = len(result.PagesModified)
		r.PagesRemoved = len(result.PagesRemoved)
		r.Failures = len(result.Report.Failures)
		if err := result.Report.Err(); err != nil {
			r.Error = err.Error()
		}
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	// The run's own context may be cancelled already.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.db.RecordRun(ctx, r); err != nil {
		logs.New("[sync] ").Printf("WARNING: failed to record run: %v", err)
	}
}

// parseSince accepts an RFC 3339 timestamp or a phrase such as
// "yesterday" or "3 days ago".
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty time")
	}
	if t, err := schema.ParseTimestamp(s); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	return r.Time, nil
}

func printResult(result *nmsync.Result, elapsed time.Duration, dryRun bool) {
	rep := result.Report
	switch {
	case dryRun:
		fmt.Printf("%s Dry run finished in %v, nothing was saved\n", ui.RenderAccent("○"), elapsed.Round(time.Millisecond))
	case rep.Partial():
		fmt.Printf("%s Sync partially failed in %v\n", ui.RenderWarn("⚠"), elapsed.Round(time.Millisecond))
	default:
		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), elapsed.Round(time.Millisecond))
	}
	fmt.Printf("   Nodes: %d\n", len(result.Nodes))
	fmt.Printf("   Upserted: %d, deleted: %d, archived: %d\n", rep.Upserted, rep.Deleted, rep.Archived)
	fmt.Printf("   Pages modified: %d, removed: %d\n", len(result.PagesModified), len(result.PagesRemoved))
	if len(rep.Pruned) > 0 {
		fmt.Printf("   Pruned orphans: %d\n", len(rep.Pruned))
	}
	for _, f := range rep.Failures {
		fmt.Printf("   %s %s\n", ui.RenderFail("✗"), f.Error())
	}
	if rep.Partial() && !dryRun {
		fmt.Printf("   %s\n", ui.RenderMuted("The last sync time was kept; the next run retries the failed listings."))
	}
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Fetch changes from OneNote into the local store",
	Long: `Run one incremental sync.

Notebooks, section groups and sections are listed in full; pages only for
sections that changed since the last sync. Items modified before the last
sync are skipped, items missing from a listing are deleted together with
their descendants.

When a listing fails the snapshot is still saved but the last sync time is
kept, so the next run looks at the same window again.

Examples:
  notemirror sync                     # incremental
  notemirror sync --full              # re-read everything
  notemirror sync --since "3 days ago"
  notemirror sync --dry-run`,
	Run: func(cmd *cobra.Command, args []string) {
		full, _ := cmd.Flags().GetBool("full")
		sinceFlag, _ := cmd.Flags().GetString("since")
		noContent, _ := cmd.Flags().GetBool("no-content")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		opts := nmsync.RunOptions{Full: full, DryRun: dryRun}
		if sinceFlag != "" {
			if full {
				fatal("--full and --since are mutually exclusive")
			}
			since, err := parseSince(sinceFlag, time.Now())
			if err != nil {
				fatal("%v", err)
			}
			opts.Since = since
		}

		env, err := newSyncEnv(nil, cfg.Content.Enabled && !noContent && !dryRun)
		if err != nil {
			fatal("%v", err)
		}
		defer env.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Syncing into %s...\n", ui.RenderAccent("🔄"), storeLocation())
		start := time.Now()
		result, err := env.run(ctx, opts)
		if err != nil && result == nil {
			env.Close()
			fatal("sync failed: %v", err)
		}
		printResult(result, time.Since(start), dryRun)
		if err != nil {
			env.Close()
			fatal("%v", err)
		}
	},
}

var triggerCmd = &cobra.Command{
	Use:     "trigger",
	GroupID: "sync",
	Short:   "Ask a running daemon to sync now",
	Long: `Touch the daemon's trigger file (daemon.trigger_file). A running
'notemirror daemon' notices the change and starts a run.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := touch(cfg.Daemon.TriggerFile); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Touched %s\n", ui.RenderPass("✓"), cfg.Daemon.TriggerFile)
	},
}

// touch creates path or bumps its modification time.
func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	// #nosec G304 - controlled path from config
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to touch trigger file: %w", err)
	}
	if _, err := fmt.Fprintln(f, time.Now().Format(time.RFC3339)); err != nil {
		f.Close()
		return fmt.Errorf("failed to touch trigger file: %w", err)
	}
	return f.Close()
}

func storeLocation() string {
	if cfg.Store.Backend == config.BackendFile {
		return cfg.Store.Dir
	}
	return cfg.Store.Path
}

func init() {
	syncCmd.Flags().Bool("full", false, "ignore the last sync time and re-read every item")
	syncCmd.Flags().String("since", "", "sync changes since this time (RFC 3339 or e.g. \"yesterday\")")
	syncCmd.Flags().Bool("no-content", false, "skip downloading page content")
	syncCmd.Flags().Bool("dry-run", false, "reconcile without saving anything")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(triggerCmd)
}
