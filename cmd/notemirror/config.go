package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/notemirror/notemirror/internal/config"
	"github.com/notemirror/notemirror/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Create or show the configuration",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// init has to work before any valid config exists.
		if cmd.Name() == "init" {
			ui.Init(os.Stdout)
			return nil
		}
		return setup(cmd)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	Long: `Ask for the essential settings and write notemirror.yaml.

The file goes to --config, or ~/.notemirror/notemirror.yaml by default.
With --yes no questions are asked and the flags and defaults are used.`,
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")
		force, _ := cmd.Flags().GetBool("force")

		s := config.DefaultStarter()
		s.ClientID, _ = cmd.Flags().GetString("client-id")
		if cmd.Flags().Changed("tenant") {
			s.Tenant, _ = cmd.Flags().GetString("tenant")
		}

		path := configFile
		if path == "" {
			path = filepath.Join(config.DefaultHome(), "notemirror.yaml")
		}

		if !yes {
			if !ui.IsTerminal(os.Stdin) {
				fatal("not a terminal; use --yes to write the defaults")
			}
			if err := starterForm(&s).Run(); err != nil {
				fatal("%v", err)
			}
		}

		if err := config.WriteStarter(path, s, force); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		if s.ClientID == "" {
			fmt.Printf("%s auth.client_id is empty; set it before 'notemirror auth login'\n", ui.RenderWarn("⚠"))
		}
	},
}

func starterForm(s *config.Starter) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Application (client) ID").
				Description("From the Azure app registration with the Notes.Read permission").
				Value(&s.ClientID),
			huh.NewInput().
				Title("Tenant").
				Description(`"common", "consumers", "organizations" or a tenant id`).
				Value(&s.Tenant),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Store").
				Options(
					huh.NewOption("SQLite database (searchable, run history)", config.BackendSQLite),
					huh.NewOption("JSON files", config.BackendFile),
				).
				Value(&s.Backend),
			huh.NewConfirm().
				Title("Download page content?").
				Value(&s.ContentEnabled),
			huh.NewConfirm().
				Title("Compress page content?").
				Value(&s.Compress),
			huh.NewInput().
				Title("Daemon interval").
				Value(&s.Interval).
				Validate(func(v string) error {
					d, err := time.ParseDuration(v)
					if err != nil {
						return err
					}
					if d < 0 {
						return fmt.Errorf("must not be negative")
					}
					return nil
				}),
		),
	)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		reveal, _ := cmd.Flags().GetBool("reveal")

		data, err := cfg.YAML(!reveal)
		if err != nil {
			fatal("%v", err)
		}
		if cfg.File != "" {
			fmt.Println(ui.RenderMuted("# " + cfg.File))
		} else {
			fmt.Println(ui.RenderMuted("# no config file, defaults and environment only"))
		}
		fmt.Print(string(data))
	},
}

func init() {
	configInitCmd.Flags().Bool("yes", false, "do not ask, use flags and defaults")
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configInitCmd.Flags().String("client-id", "", "application (client) id")
	configInitCmd.Flags().String("tenant", "common", "tenant")
	configShowCmd.Flags().Bool("reveal", false, "show the static token")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
