package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/notemirror/notemirror/internal/schema"
	"github.com/notemirror/notemirror/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <onenoteElements.json>",
	GroupID: "data",
	Short:   "Seed the store from a legacy snapshot file",
	Long: `Import the flat item array older installations kept as
onenoteElements.json. Items that cannot be converted are skipped and
reported.

With --last-sync the legacy lastSyncDate.txt is imported too, so the first
sync stays incremental. Without it the next sync re-reads everything.

The store must be empty unless --force is given.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		lastSyncFile, _ := cmd.Flags().GetString("last-sync")
		force, _ := cmd.Flags().GetBool("force")
		ctx := context.Background()

		items, err := schema.ReadLegacyFile(args[0])
		if err != nil {
			fatal("%v", err)
		}
		nodes, result := schema.ConvertLegacy(items)

		st, _, err := openStore()
		if err != nil {
			fatal("%v", err)
		}
		defer st.Close()

		if !force {
			existing, err := st.LoadSnapshot(ctx)
			if err != nil {
				st.Close()
				fatal("%v", err)
			}
			if len(existing) > 0 {
				st.Close()
				fatal("store already holds %d nodes (use --force to replace them)", len(existing))
			}
		}

		if err := st.SaveSnapshot(ctx, nodes); err != nil {
			st.Close()
			fatal("%v", err)
		}

		fmt.Printf("%s Imported %d nodes from %s\n", ui.RenderPass("✓"), result.NodesConverted, args[0])
		if result.Skipped > 0 {
			fmt.Printf("%s Skipped %d items\n", ui.RenderWarn("⚠"), result.Skipped)
			for _, e := range result.Errors {
				fmt.Fprintf(os.Stderr, "   %s\n", e)
			}
		}

		if lastSyncFile == "" {
			return
		}
		legacy := &schema.FileStore{LastSyncPath: lastSyncFile}
		t, ok, err := legacy.LoadLastSync(ctx)
		if err != nil {
			st.Close()
			fatal("%v", err)
		}
		if !ok {
			fmt.Printf("%s %s holds no timestamp\n", ui.RenderWarn("⚠"), lastSyncFile)
			return
		}
		if err := st.SaveLastSync(ctx, t); err != nil {
			st.Close()
			fatal("%v", err)
		}
		fmt.Printf("%s Last sync set to %s\n", ui.RenderPass("✓"), t.Format("2006-01-02 15:04:05 -0700"))
	},
}

func init() {
	importCmd.Flags().String("last-sync", "", "legacy lastSyncDate.txt to import")
	importCmd.Flags().Bool("force", false, "replace a non-empty store")
	rootCmd.AddCommand(importCmd)
}
