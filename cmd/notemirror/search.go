package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/notemirror/notemirror/internal/db"
	"github.com/notemirror/notemirror/internal/export"
	"github.com/notemirror/notemirror/internal/schema"
	"github.com/notemirror/notemirror/internal/ui"
)

var kindRank = map[schema.Kind]int{
	schema.KindNotebook:     0,
	schema.KindSectionGroup: 1,
	schema.KindSection:      2,
	schema.KindPage:         3,
}

// matchNodes is the file-backend counterpart of db.Search: every term must
// occur in the search string, case-insensitively.
func matchNodes(nodes []*schema.Node, query string, opts db.SearchOptions) []*schema.Node {
	terms := strings.Fields(strings.ToLower(query))
	var out []*schema.Node
	for _, n := range nodes {
		if opts.Kind != "" && n.Kind != opts.Kind {
			continue
		}
		hay := n.SearchString
		if hay == "" {
			hay = n.Title
		}
		hay = strings.ToLower(hay)
		ok := true
		for _, t := range terms {
			if !strings.Contains(hay, t) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if kindRank[a.Kind] != kindRank[b.Kind] {
			return kindRank[a.Kind] < kindRank[b.Kind]
		}
		ta, tb := strings.ToLower(a.Title), strings.ToLower(b.Title)
		if ta != tb {
			return ta < tb
		}
		return a.ID < b.ID
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func search(ctx context.Context, query string, opts db.SearchOptions) ([]*schema.Node, error) {
	st, database, err := openStore()
	if err != nil {
		return nil, err
	}
	defer st.Close()

	if database != nil {
		return database.SearchContext(ctx, query, opts)
	}
	nodes, err := st.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return matchNodes(nodes, query, opts), nil
}

var searchCmd = &cobra.Command{
	Use:     "search [query...]",
	GroupID: "data",
	Short:   "Search the local mirror",
	Long: `Search titles and breadcrumbs of the local mirror. Every word of the
query has to match. Notebooks come first, then section groups, sections and
pages.

With --alfred the matches are printed as an Alfred script-filter document,
so a workflow can call:

  notemirror search --alfred {query}`,
	Run: func(cmd *cobra.Command, args []string) {
		kindFlag, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")
		alfred, _ := cmd.Flags().GetBool("alfred")
		icons, _ := cmd.Flags().GetString("icons")

		opts := db.SearchOptions{Limit: limit}
		if kindFlag != "" {
			kind := schema.Kind(kindFlag)
			if !kind.Valid() {
				fatal("unknown kind %q", kindFlag)
			}
			opts.Kind = kind
		}

		nodes, err := search(context.Background(), strings.Join(args, " "), opts)
		if err != nil {
			fatal("%v", err)
		}

		if alfred {
			if err := export.Write(os.Stdout, nodes, export.Options{Format: export.FormatAlfred, IconDir: icons}); err != nil {
				fatal("%v", err)
			}
			return
		}

		if len(nodes) == 0 {
			fmt.Println(ui.RenderMuted("No matches"))
			return
		}
		width := ui.TerminalWidth(os.Stdout, 100)
		for _, n := range nodes {
			fmt.Printf("%s %s\n", ui.RenderAccent(string(n.Kind)), ui.Truncate(n.Title, width-len(n.Kind)-1))
			if n.Subtitle != "" {
				fmt.Printf("  %s\n", ui.RenderMuted(ui.Truncate(n.Subtitle, width-2)))
			}
		}
	},
}

func init() {
	searchCmd.Flags().String("kind", "", "only this kind (notebook, sectionGroup, section, page)")
	searchCmd.Flags().Int("limit", 50, "maximum number of results (0 for all)")
	searchCmd.Flags().Bool("alfred", false, "output an Alfred script filter")
	searchCmd.Flags().String("icons", export.DefaultOptions().IconDir, "icon directory for --alfred")
	rootCmd.AddCommand(searchCmd)
}
