// Package sync reconciles the local snapshot of the OneNote hierarchy with
// the remote listings of Microsoft Graph.
//
// Overview
//
// One sync run loads the previously persisted snapshot and last-sync
// timestamp, fetches the remote listings, decides what changed and hands the
// updated snapshot back for persistence:
//
//	prior snapshot + last sync
//	     ↓
//	notebooks listing            (run-fatal on failure)
//	     ↓
//	section groups listing  ║  sections listing
//	                        ║       ↓
//	                        ║  pages listing per modified section
//	     ↓
//	Classify → deleteRecursively → upsert      (one listing at a time)
//	     ↓
//	Derive (fallback URLs, subtitles, search strings)
//	     ↓
//	Verify → commit
//
// Classification
//
// Every listing covers a Scope: a kind of node, optionally restricted to one
// parent. Items whose lastModified is not before the last sync are upserted,
// archived items are ignored, and snapshot nodes of the scope that are absent
// from the listing are deleted together with every descendant. Listings are
// always complete: the transport follows pagination to the end before the
// classifier sees any item.
//
// Usage
//
//	client := graph.New(tokens)
//	syncer := sync.New(client, nil)
//
//	store := schema.NewFileStore(dataDir)
//	result, err := syncer.Run(ctx, store, sync.RunOptions{})
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("%d pages modified, %d removed\n",
//	    len(result.PagesModified), len(result.PagesRemoved))
//
// Error Handling
//
// A failed notebook listing, a malformed notebook or a dangling parent after
// the run aborts it and nothing is committed. Any other failure is recorded
// in the Report and leaves that subtree untouched; such a partial run saves
// the snapshot but keeps the previous last-sync timestamp so the next run
// looks at the same window again.
package sync
