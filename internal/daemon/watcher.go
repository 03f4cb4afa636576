package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is a change to one of the watched files.
type FileEvent struct {
	// Path is the absolute path of the file that changed.
	Path string
	Op   EventOp
}

// FileWatcher watches individual files for changes.
//
// fsnotify cannot watch a file that does not exist yet, and editors often
// replace files instead of writing them. FileWatcher therefore watches the
// parent directories and filters events down to the requested paths.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	files   map[string]struct{} // absolute paths
}

// NewFileWatcher creates an idle watcher. Nothing is delivered before Start.
func NewFileWatcher() (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		events:  make(chan FileEvent, 16),
		errors:  make(chan error, 4),
		done:    make(chan struct{}),
		files:   make(map[string]struct{}),
	}, nil
}

// Start begins watching the given files. Their parent directories are
// created when missing.
func (fw *FileWatcher) Start(paths ...string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}
	if len(paths) == 0 {
		return fmt.Errorf("no files to watch")
	}

	dirs := make(map[string]struct{})
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		fw.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}

	for dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		if err := fw.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// Stop ends the watch and closes both channels. It is safe to call more
// than once.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	running := fw.running
	fw.running = false
	fw.mu.Unlock()
	if !running {
		return nil
	}

	close(fw.done)
	err := fw.watcher.Close()
	fw.wg.Wait()
	close(fw.events)
	close(fw.errors)

	if err != nil {
		return fmt.Errorf("failed to close fsnotify watcher: %w", err)
	}
	return nil
}

// Events delivers changes to the watched files until Stop.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors delivers fsnotify errors until Stop.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning reports whether Start succeeded and Stop has not been called.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return
		case raw, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			ev, match := fw.convertEvent(raw)
			if match && !send(fw.done, fw.events, ev) {
				return
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok || !send(fw.done, fw.errors, err) {
				return
			}
		}
	}
}

// send delivers v on ch unless done is closed first.
func send[T any](done <-chan struct{}, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-done:
		return false
	}
}

// convertEvent maps an fsnotify event on a watched file to a FileEvent.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return FileEvent{}, false
	}
	if _, ok := fw.files[abs]; !ok {
		return FileEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	case event.Has(fsnotify.Write), event.Has(fsnotify.Chmod):
		// touch on an existing file only changes its timestamps, which
		// inotify reports as an attribute change.
		op = OpModify
	default:
		return FileEvent{}, false
	}

	return FileEvent{Path: abs, Op: op}, true
}
