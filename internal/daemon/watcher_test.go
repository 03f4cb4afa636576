package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func startWatcher(t *testing.T, paths ...string) *FileWatcher {
	t.Helper()
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	if err := fw.Start(paths...); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = fw.Stop() })
	return fw
}

func waitForEvent(t *testing.T, fw *FileWatcher) FileEvent {
	t.Helper()
	select {
	case ev := <-fw.Events():
		return ev
	case err := <-fw.Errors():
		t.Fatalf("watcher error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return FileEvent{}
}

func TestEventOp_String(t *testing.T) {
	tests := []struct {
		op   EventOp
		want string
	}{
		{OpCreate, "create"},
		{OpModify, "modify"},
		{OpDelete, "delete"},
		{EventOp(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("EventOp(%d).String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func TestFileWatcher_CreateInMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sync.trigger")
	fw := startWatcher(t, path)

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("Start() did not create the directory: %v", err)
	}

	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	ev := waitForEvent(t, fw)
	if ev.Op != OpCreate {
		t.Errorf("Op = %v, want create", ev.Op)
	}
	abs, _ := filepath.Abs(path)
	if ev.Path != abs {
		t.Errorf("Path = %q, want %q", ev.Path, abs)
	}
}

func TestFileWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "sync.trigger")
	fw := startWatcher(t, watched)

	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(watched, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	ev := waitForEvent(t, fw)
	if filepath.Base(ev.Path) != "sync.trigger" {
		t.Errorf("got event for %s", ev.Path)
	}
}

func TestFileWatcher_StartTwice(t *testing.T) {
	fw := startWatcher(t, filepath.Join(t.TempDir(), "a"))
	if err := fw.Start(filepath.Join(t.TempDir(), "b")); err == nil {
		t.Error("second Start() should fail")
	}
}

func TestFileWatcher_StartRequiresPaths(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatal(err)
	}
	defer fw.Stop()
	if err := fw.Start(); err == nil {
		t.Error("Start() without paths should fail")
	}
}

func TestFileWatcher_StopClosesChannels(t *testing.T) {
	fw := startWatcher(t, filepath.Join(t.TempDir(), "a"))
	if err := fw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}
	if _, ok := <-fw.Events(); ok {
		t.Error("events channel still open")
	}
	// Idempotent
	if err := fw.Stop(); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}
}

func TestFileWatcher_ConvertEvent(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "sync.trigger")
	fw := &FileWatcher{files: map[string]struct{}{watched: {}}}

	tests := []struct {
		name   string
		event  fsnotify.Event
		wantOp EventOp
		wantOK bool
	}{
		{"create", fsnotify.Event{Name: watched, Op: fsnotify.Create}, OpCreate, true},
		{"write", fsnotify.Event{Name: watched, Op: fsnotify.Write}, OpModify, true},
		{"touch", fsnotify.Event{Name: watched, Op: fsnotify.Chmod}, OpModify, true},
		{"remove", fsnotify.Event{Name: watched, Op: fsnotify.Remove}, OpDelete, true},
		{"rename", fsnotify.Event{Name: watched, Op: fsnotify.Rename}, OpDelete, true},
		{"other file", fsnotify.Event{Name: filepath.Join(dir, "x"), Op: fsnotify.Write}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := fw.convertEvent(tt.event)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && ev.Op != tt.wantOp {
				t.Errorf("Op = %v, want %v", ev.Op, tt.wantOp)
			}
		})
	}
}
