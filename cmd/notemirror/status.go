package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/notemirror/notemirror/internal/db"
	"github.com/notemirror/notemirror/internal/schema"
	"github.com/notemirror/notemirror/internal/ui"
)

// statusReport is the --json form of `notemirror status`.
type statusReport struct {
	ConfigFile string              `json:"config_file,omitempty"`
	Backend    string              `json:"backend"`
	Location   string              `json:"location"`
	SizeBytes  int64               `json:"size_bytes"`
	Counts     map[schema.Kind]int `json:"counts"`
	LastSync   *time.Time          `json:"last_sync,omitempty"`
	Runs       []*db.Run           `json:"runs,omitempty"`
	Auth       string              `json:"auth"`
	Account    string              `json:"account,omitempty"`
	Expires    *time.Time          `json:"token_expires,omitempty"`
}

func collectStatus(ctx context.Context, runs int) (*statusReport, error) {
	st, database, err := openStore()
	if err != nil {
		return nil, err
	}
	defer st.Close()

	rep := &statusReport{
		ConfigFile: cfg.File,
		Backend:    cfg.Store.Backend,
		Location:   storeLocation(),
		Counts:     make(map[schema.Kind]int),
	}

	if database != nil {
		if info, err := os.Stat(database.Path()); err == nil {
			rep.SizeBytes = info.Size()
		}
		if rep.Counts, err = database.CountByKindContext(ctx); err != nil {
			return nil, err
		}
		if rep.Runs, err = database.RecentRuns(ctx, runs); err != nil {
			return nil, err
		}
	} else {
		if info, err := os.Stat(schema.NewFileStore(cfg.Store.Dir).SnapshotPath); err == nil {
			rep.SizeBytes = info.Size()
		}
		nodes, err := st.LoadSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			rep.Counts[n.Kind]++
		}
	}

	lastSync, ok, err := st.LoadLastSync(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		rep.LastSync = &lastSync
	}

	if cfg.Auth.Token != "" {
		rep.Auth = "static token"
		return rep, nil
	}
	creds, err := deviceCode().Status()
	switch {
	case err != nil:
		rep.Auth = "error: " + err.Error()
	case creds == nil:
		rep.Auth = "logged out"
	default:
		rep.Auth = "logged in"
		rep.Account = creds.Account
		if exp := creds.ExpiresAt(); !exp.IsZero() {
			rep.Expires = &exp
		}
	}
	return rep, nil
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show the local store and sync status",
	Long: `Display the state of the local mirror.

Shows:
  - Store location and size
  - Number of notebooks, section groups, sections and pages
  - Last sync time and recent runs (sqlite backend)
  - Login state`,
	Run: func(cmd *cobra.Command, args []string) {
		jsonOut, _ := cmd.Flags().GetBool("json")
		runs, _ := cmd.Flags().GetInt("runs")

		rep, err := collectStatus(context.Background(), runs)
		if err != nil {
			fatal("%v", err)
		}

		if jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				fatal("%v", err)
			}
			return
		}
		printStatus(rep, time.Now())
	},
}

func printStatus(rep *statusReport, now time.Time) {
	fmt.Printf("\n%s\n\n", ui.RenderHeader("notemirror status"))
	if rep.ConfigFile != "" {
		fmt.Println(ui.KeyValue("Config", rep.ConfigFile))
	} else {
		fmt.Println(ui.KeyValue("Config", ui.RenderMuted("defaults (no config file)")))
	}
	fmt.Println(ui.KeyValue("Store", fmt.Sprintf("%s (%s, %s)", rep.Location, rep.Backend, ui.HumanBytes(rep.SizeBytes))))

	total := 0
	for _, n := range rep.Counts {
		total += n
	}
	fmt.Println(ui.KeyValue("Nodes", total))
	for _, k := range []schema.Kind{schema.KindNotebook, schema.KindSectionGroup, schema.KindSection, schema.KindPage} {
		fmt.Println(ui.KeyValue("  "+string(k), rep.Counts[k]))
	}

	if rep.LastSync != nil {
		fmt.Println(ui.KeyValue("Last sync", fmt.Sprintf("%s (%s)", rep.LastSync.Local().Format(time.RFC3339), ui.Ago(*rep.LastSync, now))))
	} else {
		fmt.Println(ui.KeyValue("Last sync", ui.RenderWarn("never")))
	}

	switch {
	case rep.Account != "":
		fmt.Println(ui.KeyValue("Auth", fmt.Sprintf("%s as %s", rep.Auth, rep.Account)))
	case rep.Auth == "logged out":
		fmt.Println(ui.KeyValue("Auth", ui.RenderWarn(rep.Auth)))
	default:
		fmt.Println(ui.KeyValue("Auth", rep.Auth))
	}

	if len(rep.Runs) > 0 {
		fmt.Printf("\n%s\n\n", ui.RenderHeader("Recent runs"))
		for _, r := range rep.Runs {
			mark := ui.RenderPass("✓")
			if r.Error != "" {
				mark = ui.RenderFail("✗")
			}
			fmt.Printf("%s %s  %6s  +%d -%d  pages +%d -%d\n", mark,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.Duration.Round(time.Millisecond),
				r.Upserted, r.Deleted, r.PagesModified, r.PagesRemoved)
			if r.Error != "" {
				fmt.Printf("   %s\n", ui.RenderMuted(ui.Truncate(r.Error, ui.TerminalWidth(os.Stdout, 100)-3)))
			}
		}
	}
	fmt.Println()
}

func init() {
	statusCmd.Flags().Bool("json", false, "output JSON")
	statusCmd.Flags().Int("runs", 5, "number of recent runs to show")
	rootCmd.AddCommand(statusCmd)
}
