package schema

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := NewFileStore(t.TempDir())

	nodes, err := fs.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot on empty dir failed: %v", err)
	}
	if len(nodes) != 0 {
		t.Fatalf("expected empty snapshot, got %d nodes", len(nodes))
	}
	if _, ok, err := fs.LoadLastSync(ctx); err != nil || ok {
		t.Fatalf("LoadLastSync on empty dir = ok %v, err %v", ok, err)
	}

	modified := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	in := []*Node{
		{ID: "sec-1", Kind: KindSection, ParentID: "nb-1", Title: "Inbox", LastModified: modified},
		{ID: "nb-1", Kind: KindNotebook, Title: "Work", NavigationURL: "onenote:nb", LastModified: modified},
	}
	syncedAt := time.Date(2024, 5, 2, 9, 30, 0, 500, time.UTC)

	if err := fs.Commit(ctx, in, syncedAt); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	out, err := fs.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(out))
	}
	if out[0].ID != "nb-1" || out[1].ID != "sec-1" {
		t.Errorf("snapshot not ordered by id: %s, %s", out[0].ID, out[1].ID)
	}

	got, ok, err := fs.LoadLastSync(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadLastSync = ok %v, err %v", ok, err)
	}
	if !got.Equal(syncedAt) {
		t.Errorf("LoadLastSync = %v, want %v", got, syncedAt)
	}

	if _, err := os.Stat(fs.SnapshotPath + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind")
	}
}

func TestFileStore_LegacyTimestamp(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStore(dir)

	if err := os.WriteFile(fs.LastSyncPath, []byte("2023-11-05T14:03:07.123456+0100"), 0600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	got, ok, err := fs.LoadLastSync(context.Background())
	if err != nil || !ok {
		t.Fatalf("LoadLastSync = ok %v, err %v", ok, err)
	}
	want := time.Date(2023, 11, 5, 13, 3, 7, 123456000, time.UTC)
	if !got.Equal(want) {
		t.Errorf("LoadLastSync = %v, want %v", got, want)
	}
}

func TestFileStore_RejectsInvalidNode(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStore(dir)

	if err := os.WriteFile(filepath.Join(dir, DefaultSnapshotFile), []byte(`[{"id":"p","kind":"page","title":"x"}]`), 0600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	if _, err := fs.LoadSnapshot(context.Background()); err == nil {
		t.Error("expected error for page without parent")
	}
}

func TestConvertLegacy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.json")
	fixture := `[
		{"title":"Work","autocomplete":"Work","uid":"nb-1","subtitle":"Work","arg":"onenote:nb","valid":true,"icon":"icons/notebook.png","icontype":"file","onenoteType":"notebook","oneNoteParent":null},
		{"title":"Inbox","autocomplete":"Inbox","uid":"sec-1","subtitle":"Work","arg":null,"valid":true,"icon":"icons/section.png","icontype":"file","onenoteType":"OneNoteType.SECTION","oneNoteParent":"nb-1"},
		{"title":"Todo","autocomplete":"Todo","uid":"pg-1","subtitle":"Inbox","arg":"onenote:pg","valid":true,"icon":"icons/page.png","icontype":"file","onenoteType":"page","oneNoteParent":"sec-1","lastModified":"2024-01-02T03:04:05Z"},
		{"title":"Broken","uid":"x-1","onenoteType":"folder"},
		{"title":"Todo","uid":"pg-1","onenoteType":"page","oneNoteParent":"sec-1"}
	]`
	if err := os.WriteFile(path, []byte(fixture), 0600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	items, err := ReadLegacyFile(path)
	if err != nil {
		t.Fatalf("ReadLegacyFile failed: %v", err)
	}

	nodes, result := ConvertLegacy(items)
	if result.NodesConverted != 3 {
		t.Errorf("NodesConverted = %d, want 3", result.NodesConverted)
	}
	if result.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", result.Skipped)
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected 1 error, got %v", result.Errors)
	}

	byID := make(map[string]*Node)
	for _, n := range nodes {
		byID[n.ID] = n
	}
	if byID["sec-1"].Kind != KindSection || byID["sec-1"].ParentID != "nb-1" {
		t.Errorf("section converted wrong: %+v", byID["sec-1"])
	}
	if byID["pg-1"].NavigationURL != "onenote:pg" {
		t.Errorf("page URL = %q", byID["pg-1"].NavigationURL)
	}
	if byID["pg-1"].LastModified.IsZero() {
		t.Error("page lastModified not parsed")
	}
}
