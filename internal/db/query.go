package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/notemirror/notemirror/internal/schema"
)

// SearchOptions narrows a search.
type SearchOptions struct {
	Kind  schema.Kind // empty matches every kind
	Limit int         // 0 means no limit
}

// Search returns nodes whose search string contains every whitespace
// separated term of query, case-insensitively. Notebooks come first, then
// section groups, sections and pages, each ordered by title.
func (db *DB) Search(query string, opts SearchOptions) ([]*schema.Node, error) {
	return db.SearchContext(context.Background(), query, opts)
}

// SearchContext searches with context support.
func (db *DB) SearchContext(ctx context.Context, query string, opts SearchOptions) ([]*schema.Node, error) {
	var (
		where []string
		args  []any
	)
	for _, term := range strings.Fields(query) {
		where = append(where, `COALESCE(search_string, title) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(term)+"%")
	}
	if opts.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(opts.Kind))
	}

	q := `SELECT id, kind, parent_id, title, navigation_url, last_modified, subtitle, search_string FROM nodes`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += ` ORDER BY CASE kind
		WHEN 'notebook' THEN 0
		WHEN 'sectionGroup' THEN 1
		WHEN 'section' THEN 2
		ELSE 3 END, title COLLATE NOCASE, id`
	if opts.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// GetNode returns a single node, or nil when it does not exist.
func (db *DB) GetNode(id string) (*schema.Node, error) {
	return db.GetNodeContext(context.Background(), id)
}

// GetNodeContext returns a single node with context support.
func (db *DB) GetNodeContext(ctx context.Context, id string) (*schema.Node, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, kind, parent_id, title, navigation_url, last_modified, subtitle, search_string
		FROM nodes WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	defer rows.Close()

	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return nodes[0], nil
}

// CountByKind returns the number of stored nodes per kind.
func (db *DB) CountByKind() (map[schema.Kind]int, error) {
	return db.CountByKindContext(context.Background())
}

// CountByKindContext counts nodes per kind with context support.
func (db *DB) CountByKindContext(ctx context.Context) (map[schema.Kind]int, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT kind, COUNT(*) FROM nodes GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count nodes: %w", err)
	}
	defer rows.Close()

	counts := make(map[schema.Kind]int)
	for rows.Next() {
		var (
			kind  string
			count int
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[schema.Kind(kind)] = count
	}
	return counts, rows.Err()
}

// Run is one recorded sync run.
type Run struct {
	ID            int64
	StartedAt     time.Time
	Duration      time.Duration
	Upserted      int
	Deleted       int
	PagesModified int
	PagesRemoved  int
	Failures      int
	Error         string // empty for a successful run
}

// RecordRun appends a run to the history.
func (db *DB) RecordRun(ctx context.Context, run *Run) error {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO sync_runs (started_at, duration_ms, upserted, deleted, pages_modified, pages_removed, failures, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.Duration.Milliseconds(),
		run.Upserted,
		run.Deleted,
		run.PagesModified,
		run.PagesRemoved,
		run.Failures,
		nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		run.ID = id
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, started_at, duration_ms, upserted, deleted, pages_modified, pages_removed, failures, error
		FROM sync_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var (
			r          Run
			started    string
			durationMS int64
			errText    sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &durationMS, &r.Upserted, &r.Deleted,
			&r.PagesModified, &r.PagesRemoved, &r.Failures, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt, err = time.Parse(time.RFC3339Nano, started)
		if err != nil {
			return nil, fmt.Errorf("invalid started_at for run %d: %w", r.ID, err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.Error = errText.String
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// LastRun returns the newest recorded run, or nil when none exists.
func (db *DB) LastRun(ctx context.Context) (*Run, error) {
	runs, err := db.RecentRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}

// IsEmpty reports whether no node has been stored yet.
func (db *DB) IsEmpty(ctx context.Context) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx, `SELECT 1 FROM nodes LIMIT 1`).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check nodes: %w", err)
	}
	return false, nil
}
