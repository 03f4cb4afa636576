package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/notemirror/notemirror/internal/export"
	"github.com/notemirror/notemirror/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "data",
	Short:   "Write the mirror as an Alfred or legacy JSON document",
	Long: `Export the whole snapshot.

Formats:
  alfred   {"items": [...]} script-filter document (default)
  legacy   flat item array as written by older installations

Examples:
  notemirror export -o ~/Library/Caches/onenote.json
  notemirror export --format legacy > onenoteElements.json`,
	Run: func(cmd *cobra.Command, args []string) {
		formatFlag, _ := cmd.Flags().GetString("format")
		icons, _ := cmd.Flags().GetString("icons")
		output, _ := cmd.Flags().GetString("output")

		format, err := export.ParseFormat(formatFlag)
		if err != nil {
			fatal("%v", err)
		}

		st, _, err := openStore()
		if err != nil {
			fatal("%v", err)
		}
		nodes, err := st.LoadSnapshot(context.Background())
		st.Close()
		if err != nil {
			fatal("%v", err)
		}

		opts := export.Options{Format: format, IconDir: icons}
		if output == "" || output == "-" {
			if err := export.Write(os.Stdout, nodes, opts); err != nil {
				fatal("%v", err)
			}
			return
		}
		if err := writeExport(output, func(w io.Writer) error { return export.Write(w, nodes, opts) }); err != nil {
			fatal("%v", err)
		}
		fmt.Fprintf(os.Stderr, "%s Exported %d nodes to %s\n", ui.RenderPass("✓"), len(nodes), output)
	},
}

// writeExport writes through a temp file and a rename so readers never see
// a half-written document.
func writeExport(path string, fn func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".export-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := fn(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename export: %w", err)
	}
	return nil
}

func init() {
	exportCmd.Flags().String("format", string(export.FormatAlfred), "output format (alfred, legacy)")
	exportCmd.Flags().String("icons", export.DefaultOptions().IconDir, "icon directory")
	exportCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	rootCmd.AddCommand(exportCmd)
}
