// Package content mirrors the HTML body of OneNote pages to disk.
//
// After a sync the engine reports which pages were modified and which were
// removed. Apply downloads the first set and deletes the files of the
// second. Each page is stored as <dir>/<page-id>.html, or as
// <dir>/<page-id>.html.zst when compression is enabled. Pages that could
// not be downloaded are listed in <dir>/.pending and retried by the next
// Apply, since the sync that reported them will not report them again.
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	"github.com/notemirror/notemirror/internal/graph"
)

const (
	htmlExt     = ".html"
	zstdExt     = ".html.zst"
	pendingFile = ".pending"
)

var errInvalidID = errors.New("invalid page id")

// Source fetches the HTML body of a page.
type Source interface {
	PageContent(ctx context.Context, pageID string) ([]byte, error)
}

// Config configures a Fetcher.
type Config struct {
	// Dir receives one file per page.
	Dir string

	// Compress stores pages zstd-compressed.
	Compress bool

	// Concurrency caps parallel downloads. The graph client applies its own
	// limit on top.
	Concurrency int
}

// DefaultConfig returns a Config writing plain HTML into dir.
func DefaultConfig(dir string) Config {
	return Config{Dir: dir, Concurrency: 4}
}

// Result summarizes an Apply call.
type Result struct {
	Written  int
	Removed  int
	Failures map[string]error // page id -> error

	// Pending is the number of pages left for the next Apply.
	Pending int
}

// Err joins all failures, or returns nil.
func (r *Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for id, err := range r.Failures {
		errs = append(errs, fmt.Errorf("page %s: %w", id, err))
	}
	return errors.Join(errs...)
}

// Fetcher downloads page content.
type Fetcher struct {
	source Source
	cfg    Config
	logger *log.Logger
}

// New creates a Fetcher. If logger is nil, a default logger writing to
// stderr is used.
func New(source Source, cfg Config, logger *log.Logger) *Fetcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[content] ", log.LstdFlags)
	}
	return &Fetcher{source: source, cfg: cfg, logger: logger}
}

// Dir returns the content directory.
func (f *Fetcher) Dir() string {
	return f.cfg.Dir
}

// Apply downloads every modified page and deletes the files of removed
// pages. Pages left over from an earlier call are downloaded too, unless
// they were removed since. A page that fails to download is recorded in
// the result and does not stop the others; only cancellation aborts the
// call. Failures other than a missing page or an invalid id are kept for
// the next call.
func (f *Fetcher) Apply(ctx context.Context, modified, removed []string) (*Result, error) {
	if err := os.MkdirAll(f.cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}

	pending, err := f.loadPending()
	if err != nil {
		f.logger.Printf("WARNING: %v", err)
	}

	res := &Result{Failures: make(map[string]error)}

	gone := make(map[string]bool, len(removed))
	for _, id := range removed {
		gone[id] = true
		n, err := f.Remove(id)
		if err != nil {
			res.Failures[id] = err
			continue
		}
		res.Removed += n
	}
	todo := mergeIDs(gone, modified, pending)

	var mu sync.Mutex
	done := make(map[string]bool, len(todo))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for _, id := range todo {
		g.Go(func() error {
			err := f.Fetch(gctx, id)
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				f.logger.Printf("WARNING: failed to fetch page %s: %v", id, err)
				res.Failures[id] = err
				done[id] = graph.IsNotFound(err) || errors.Is(err, errInvalidID)
				return nil
			}
			done[id] = true
			res.Written++
			return nil
		})
	}
	werr := g.Wait()

	var retry []string
	for _, id := range todo {
		if !done[id] {
			retry = append(retry, id)
		}
	}
	res.Pending = len(retry)
	if err := f.savePending(retry); err != nil {
		f.logger.Printf("WARNING: %v", err)
	}
	if werr != nil {
		return res, werr
	}

	f.logger.Printf("Content: %d written, %d removed, %d failed, %d pending",
		res.Written, res.Removed, len(res.Failures), res.Pending)
	return res, nil
}

// mergeIDs returns the ids of all lists in order, without duplicates and
// without the ids in skip.
func mergeIDs(skip map[string]bool, lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, ids := range lists {
		for _, id := range ids {
			if skip[id] || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (f *Fetcher) loadPending() ([]string, error) {
	data, err := os.ReadFile(filepath.Join(f.cfg.Dir, pendingFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending pages: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("failed to parse pending pages: %w", err)
	}
	return ids, nil
}

func (f *Fetcher) savePending(ids []string) error {
	path := filepath.Join(f.cfg.Dir, pendingFile)
	if len(ids) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to clear pending pages: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode pending pages: %w", err)
	}
	return writeFileAtomic(path, data)
}

// Fetch downloads one page and stores it, replacing any previous copy in
// either format.
func (f *Fetcher) Fetch(ctx context.Context, pageID string) error {
	if err := validID(pageID); err != nil {
		return err
	}
	body, err := f.source.PageContent(ctx, pageID)
	if err != nil {
		return err
	}

	data := body
	ext, stale := htmlExt, zstdExt
	if f.cfg.Compress {
		data, err = compress(body)
		if err != nil {
			return err
		}
		ext, stale = zstdExt, htmlExt
	}

	if err := writeFileAtomic(filepath.Join(f.cfg.Dir, pageID+ext), data); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(f.cfg.Dir, pageID+stale)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale copy: %w", err)
	}
	return nil
}

// Remove deletes the stored copies of a page and returns how many files
// were removed. A page without content is not an error.
func (f *Fetcher) Remove(pageID string) (int, error) {
	if err := validID(pageID); err != nil {
		return 0, err
	}
	removed := 0
	for _, ext := range []string{htmlExt, zstdExt} {
		err := os.Remove(filepath.Join(f.cfg.Dir, pageID+ext))
		switch {
		case err == nil:
			removed++
		case !os.IsNotExist(err):
			return removed, fmt.Errorf("failed to remove content: %w", err)
		}
	}
	return removed, nil
}

// Read returns the stored HTML of a page, decompressing when needed.
func (f *Fetcher) Read(pageID string) ([]byte, error) {
	if err := validID(pageID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(f.cfg.Dir, pageID+zstdExt))
	if err == nil {
		return decompress(data)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	data, err = os.ReadFile(filepath.Join(f.cfg.Dir, pageID+htmlExt))
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	return data, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to compress content: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress content: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress content: %w", err)
	}
	return out, nil
}

// validID rejects ids that would escape the content directory.
func validID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w %q", errInvalidID, id)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace content: %w", err)
	}
	return nil
}
