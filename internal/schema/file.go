package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultSnapshotFile is the snapshot file name used by FileStore.
	DefaultSnapshotFile = "onenoteElements.json"

	// DefaultLastSyncFile is the last-sync file name used by FileStore.
	DefaultLastSyncFile = "lastSyncDate.txt"

	// legacyTimestampLayout is the layout older last-sync files were written in.
	legacyTimestampLayout = "2006-01-02T15:04:05.000000-0700"
)

// FileStore persists the snapshot as a JSON array and the last-sync
// timestamp as a single line of text, next to each other in one directory.
type FileStore struct {
	SnapshotPath string
	LastSyncPath string
}

// NewFileStore returns a FileStore rooted at dir using the default file names.
func NewFileStore(dir string) *FileStore {
	return &FileStore{
		SnapshotPath: filepath.Join(dir, DefaultSnapshotFile),
		LastSyncPath: filepath.Join(dir, DefaultLastSyncFile),
	}
}

// LoadSnapshot reads all nodes. A missing file is an empty snapshot.
func (fs *FileStore) LoadSnapshot(ctx context.Context) ([]*Node, error) {
	data, err := os.ReadFile(fs.SnapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Node{}, nil
		}
		return nil, fmt.Errorf("failed to read snapshot file %s: %w", fs.SnapshotPath, err)
	}

	var nodes []*Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot file %s: %w", fs.SnapshotPath, err)
	}

	for _, n := range nodes {
		if err := n.Validate(); err != nil {
			return nil, fmt.Errorf("invalid node in %s: %w", fs.SnapshotPath, err)
		}
	}

	return nodes, nil
}

// SaveSnapshot replaces the snapshot file with nodes, ordered by id.
func (fs *FileStore) SaveSnapshot(ctx context.Context, nodes []*Node) error {
	sorted := make([]*Node, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return writeFileAtomic(fs.SnapshotPath, data)
}

// LoadLastSync returns the stored last-sync time. ok is false when none has
// been stored yet.
func (fs *FileStore) LoadLastSync(ctx context.Context) (t time.Time, ok bool, err error) {
	data, err := os.ReadFile(fs.LastSyncPath)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read last sync file %s: %w", fs.LastSyncPath, err)
	}

	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return time.Time{}, false, nil
	}

	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, true, nil
	}
	t, err = time.Parse(legacyTimestampLayout, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid last sync timestamp %q in %s", raw, fs.LastSyncPath)
	}
	return t, true, nil
}

// SaveLastSync stores t.
func (fs *FileStore) SaveLastSync(ctx context.Context, t time.Time) error {
	return writeFileAtomic(fs.LastSyncPath, []byte(t.Format(time.RFC3339Nano)))
}

// Commit writes the snapshot first and the timestamp second. If the second
// write fails the next run re-examines the same window, which is harmless.
func (fs *FileStore) Commit(ctx context.Context, nodes []*Node, lastSync time.Time) error {
	if err := fs.SaveSnapshot(ctx, nodes); err != nil {
		return err
	}
	return fs.SaveLastSync(ctx, lastSync)
}

// writeFileAtomic writes data through a temp file and a rename.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
