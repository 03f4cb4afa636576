package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/notemirror/notemirror/internal/auth"
	"github.com/notemirror/notemirror/internal/config"
	"github.com/notemirror/notemirror/internal/db"
	"github.com/notemirror/notemirror/internal/graph"
	"github.com/notemirror/notemirror/internal/logging"
	"github.com/notemirror/notemirror/internal/schema"
	nmsync "github.com/notemirror/notemirror/internal/sync"
	"github.com/notemirror/notemirror/internal/ui"
)

var (
	configFile string
	verbose    bool

	// Set by PersistentPreRunE for every command.
	cfg  *config.Config
	logs *logging.Output
)

var rootCmd = &cobra.Command{
	Use:   "notemirror",
	Short: "Mirror the OneNote notebook hierarchy locally",
	Long: `notemirror keeps a local copy of every notebook, section group, section
and page title of a OneNote account, fetched incrementally from Microsoft
Graph. The copy feeds launcher search (Alfred script filters) and can keep
the HTML body of every page next to it.

Run 'notemirror config init' and 'notemirror auth login' once, then
'notemirror sync' or 'notemirror daemon'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "data", Title: "Data Commands:"},
		&cobra.Group{ID: "setup", Title: "Setup Commands:"},
	)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: search notemirror.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
}

// setup loads the configuration and opens the log output.
func setup(cmd *cobra.Command) error {
	ui.Init(os.Stdout)

	v := config.New(configFile)
	if cmd.Flags().Changed("verbose") {
		v.Set("log.verbose", verbose)
	}
	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = loaded

	out, err := logging.Setup(logging.Config{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Verbose:    cfg.Log.Verbose,
	}, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	logs = out
	return nil
}

// fatal prints err and exits.
func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// store is the persistence backend selected by store.backend.
type store interface {
	nmsync.Persistence
	Close() error
}

// fileStore adapts schema.FileStore, which holds no open handles.
type fileStore struct {
	*schema.FileStore
}

func (fileStore) Close() error { return nil }

// openStore opens the configured backend. The *db.DB is nil for the file
// backend.
func openStore() (store, *db.DB, error) {
	switch cfg.Store.Backend {
	case config.BackendFile:
		return fileStore{schema.NewFileStore(cfg.Store.Dir)}, nil, nil
	default:
		database, err := db.Open(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return database, database, nil
	}
}

// tokenProvider returns the static token when one is configured, otherwise
// the device-code provider backed by the token cache.
func tokenProvider() auth.TokenProvider {
	if cfg.Auth.Token != "" {
		return auth.Static(cfg.Auth.Token)
	}
	return deviceCode()
}

func deviceCode() *auth.DeviceCode {
	return auth.NewDeviceCode(auth.Config{
		ClientID:  cfg.Auth.ClientID,
		Tenant:    cfg.Auth.Tenant,
		CachePath: cfg.Auth.CachePath,
	}, logs.New("[auth] "))
}

func newGraphClient(tokens auth.TokenProvider) *graph.Client {
	return graph.NewWithConfig(tokens, &graph.Config{
		BaseURL:     cfg.Graph.BaseURL,
		Concurrency: int64(cfg.Graph.Concurrency),
		MaxRetries:  cfg.Graph.MaxRetries,
		Timeout:     cfg.Graph.Timeout,
		UserAgent:   "notemirror",
		Logger:      logs.New("[graph] "),
	})
}

func newSyncer(source nmsync.Source, observer nmsync.Observer) nmsync.Syncer {
	return nmsync.NewWithConfig(source, &nmsync.Config{
		Archive: nmsync.ArchiveRules{
			TitleMarker: cfg.Sync.ArchiveTitleMarker,
			PathMarker:  cfg.Sync.ArchivePathMarker,
		},
		Derive: nmsync.DeriveOptions{
			RootLabel: cfg.Sync.RootLabel,
			Separator: cfg.Sync.Separator,
		},
		Observer: observer,
	}, logs.New("[sync] "))
}
