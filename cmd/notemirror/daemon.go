package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/notemirror/notemirror/internal/daemon"
	"github.com/notemirror/notemirror/internal/dashboard"
	"github.com/notemirror/notemirror/internal/schema"
	nmsync "github.com/notemirror/notemirror/internal/sync"
	"github.com/notemirror/notemirror/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Sync periodically and on demand",
	Long: `Run in the foreground and keep the mirror current.

A run starts:
  - at startup (daemon.run_on_start)
  - every daemon.interval
  - when daemon.trigger_file is touched ('notemirror trigger')
  - from the dashboard's "Sync now" button (--dashboard)

Runs never overlap; requests arriving during a run are merged into one
follow-up run.

Examples:
  notemirror daemon
  notemirror daemon --interval 5m --dashboard`,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		if cmd.Flags().Changed("interval") {
			cfg.Daemon.Interval, _ = cmd.Flags().GetDuration("interval")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		var (
			server  *dashboard.Server
			handler *dashboard.Handler
			observe nmsync.Observer
		)
		if withDashboard {
			server = dashboard.NewServer(&dashboard.Config{
				Addr:   cfg.Dashboard.Addr,
				Logger: logs.New("[dashboard] "),
			})
			handler = dashboard.NewHandler(server, logs.New("[dashboard] "))
			observe = handler.OnSyncEvent
		}

		env, err := newSyncEnv(observe, cfg.Content.Enabled)
		if err != nil {
			fatal("%v", err)
		}
		defer env.Close()

		var d *daemon.Daemon
		run := func(ctx context.Context, reason daemon.Reason) error {
			result, err := env.run(ctx, nmsync.RunOptions{})
			if handler != nil && result != nil {
				publishCounts(ctx, handler, env, result.Nodes)
			}
			if err != nil {
				return err
			}
			return result.Report.Err()
		}

		d, err = daemon.NewWithConfig(run, &daemon.Config{
			Interval:     cfg.Daemon.Interval,
			RunOnStart:   cfg.Daemon.RunOnStart,
			TriggerFiles: []string{cfg.Daemon.TriggerFile},
			Logger:       logs.New("[daemon] "),
		})
		if err != nil {
			fatal("%v", err)
		}

		if handler != nil {
			env.client.Backoff().Subscribe(handler.OnBackoff)
			handler.SetTrigger(func() { d.Trigger(daemon.ReasonManual) })
			if nodes, err := env.store.LoadSnapshot(ctx); err == nil {
				publishCounts(ctx, handler, env, nodes)
			}
			if err := server.Start(); err != nil {
				fatal("failed to start dashboard: %v", err)
			}
			defer server.Stop()
			go watchDaemonStatus(ctx, d, handler)

			fmt.Printf("Dashboard: http://%s\n", server.GetAddr())
		}

		fmt.Printf("%s Daemon started (interval %v, trigger %s)\n",
			ui.RenderPass("✓"), cfg.Daemon.Interval, cfg.Daemon.TriggerFile)
		fmt.Println("Press Ctrl+C to stop...")

		if err := d.Start(ctx); err != nil {
			fatal("%v", err)
		}
		fmt.Println("Daemon stopped")
	},
}

// publishCounts pushes node counts and the stored last-sync time to the
// dashboard.
func publishCounts(ctx context.Context, h *dashboard.Handler, env *syncEnv, nodes []*schema.Node) {
	counts := make(map[schema.Kind]int)
	for _, n := range nodes {
		counts[n.Kind]++
	}
	lastSync, ok, err := env.store.LoadLastSync(ctx)
	if err != nil || !ok {
		lastSync = time.Time{}
	}
	h.UpdateCounts(counts, lastSync)
}

// watchDaemonStatus forwards daemon state changes to the dashboard.
func watchDaemonStatus(ctx context.Context, d *daemon.Daemon, h *dashboard.Handler) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last daemon.Status
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if st := d.Status(); st != last {
				last = st
				h.OnDaemonStatus(st)
			}
		}
	}
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "serve the live dashboard while running")
	daemonCmd.Flags().Duration("interval", 0, "time between scheduled runs (default: daemon.interval)")
	rootCmd.AddCommand(daemonCmd)
}
