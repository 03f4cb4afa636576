package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/notemirror/notemirror/internal/dashboard"
	"github.com/notemirror/notemirror/internal/schema"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "sync",
	Short:   "Serve the dashboard for the local store",
	Long: `Start a WebSocket dashboard showing the contents of the local store.

The store is re-read periodically. "Sync now" touches the trigger file, so a
separately running 'notemirror daemon' performs the run. Use
'notemirror daemon --dashboard' to get live sync events as well.

Endpoints:
  /            dashboard page
  /ws          WebSocket stream (stats messages)
  /api/status  current stats as JSON
  /api/sync    POST to request a run
  /health      health check`,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Dashboard.Addr
		}
		refresh, _ := cmd.Flags().GetDuration("refresh")
		if refresh <= 0 {
			fatal("--refresh must be positive")
		}

		server := dashboard.NewServer(&dashboard.Config{
			Addr:   addr,
			Logger: logs.New("[dashboard] "),
		})
		handler := dashboard.NewHandler(server, logs.New("[dashboard] "))
		handler.SetTrigger(func() {
			if err := touch(cfg.Daemon.TriggerFile); err != nil {
				logs.New("[dashboard] ").Printf("WARNING: %v", err)
			}
		})

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		refreshStats(ctx, handler)
		if err := server.Start(); err != nil {
			fatal("failed to start dashboard: %v", err)
		}

		fmt.Printf("Dashboard server started on http://%s\n", server.GetAddr())
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", server.GetAddr())
		fmt.Println("\nPress Ctrl+C to stop...")

		ticker := time.NewTicker(refresh)
		defer ticker.Stop()
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
				refreshStats(ctx, handler)
			}
		}

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			fatal("during shutdown: %v", err)
		}
		fmt.Println("Dashboard server stopped")
	},
}

// refreshStats reloads counts and the last-sync time from the store.
func refreshStats(ctx context.Context, h *dashboard.Handler) {
	st, database, err := openStore()
	if err != nil {
		logs.New("[dashboard] ").Printf("WARNING: %v", err)
		return
	}
	defer st.Close()

	var counts map[schema.Kind]int
	if database != nil {
		counts, err = database.CountByKindContext(ctx)
	} else {
		var nodes []*schema.Node
		nodes, err = st.LoadSnapshot(ctx)
		counts = make(map[schema.Kind]int)
		for _, n := range nodes {
			counts[n.Kind]++
		}
	}
	if err != nil {
		logs.New("[dashboard] ").Printf("WARNING: %v", err)
		return
	}

	lastSync, ok, err := st.LoadLastSync(ctx)
	if err != nil || !ok {
		lastSync = time.Time{}
	}
	h.UpdateCounts(counts, lastSync)
}

func init() {
	dashboardCmd.Flags().String("addr", "", "listen address (default: dashboard.addr)")
	dashboardCmd.Flags().Duration("refresh", 10*time.Second, "how often the store is re-read")
	rootCmd.AddCommand(dashboardCmd)
}
