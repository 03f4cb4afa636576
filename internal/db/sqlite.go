// Package db stores the notemirror snapshot in an embedded SQLite database.
//
// The database is the default persistence of the sync engine and the query
// side of the CLI: search, status and export read from it instead of the
// remote API.
//
// Architecture:
//   - Database file: ~/.notemirror/notemirror.db
//   - WAL mode: readers (search, dashboard) run while a sync commits
//   - Schema: nodes, sync_state, sync_runs tables
//   - Commit replaces the whole snapshot and the last-sync timestamp in one
//     transaction, so a failed commit leaves the previous state in place
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/notemirror/notemirror/internal/schema"
)

const lastSyncKey = "last_sync"

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path and initializes
// the schema.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	database, err := db.Open("~/.notemirror/notemirror.db")
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates the schema if it doesn't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		parent_id TEXT,
		title TEXT NOT NULL,
		navigation_url TEXT,
		last_modified TEXT NOT NULL,
		subtitle TEXT,
		search_string TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id);
	CREATE INDEX IF NOT EXISTS idx_nodes_kind ON nodes(kind);

	CREATE TABLE IF NOT EXISTS sync_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		upserted INTEGER NOT NULL,
		deleted INTEGER NOT NULL,
		pages_modified INTEGER NOT NULL,
		pages_removed INTEGER NOT NULL,
		failures INTEGER NOT NULL,
		error TEXT
	);
	`
	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// LoadSnapshot returns every node, ordered by id.
func (db *DB) LoadSnapshot(ctx context.Context) ([]*schema.Node, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, kind, parent_id, title, navigation_url, last_modified, subtitle, search_string
		FROM nodes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if err := n.Validate(); err != nil {
			return nil, fmt.Errorf("invalid node %s in database: %w", n.ID, err)
		}
	}
	return nodes, nil
}

// SaveSnapshot replaces every node in one transaction.
func (db *DB) SaveSnapshot(ctx context.Context, nodes []*schema.Node) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return replaceNodes(ctx, tx, nodes)
	})
}

// LoadLastSync returns the stored last-sync timestamp.
func (db *DB) LoadLastSync(ctx context.Context) (time.Time, bool, error) {
	var value string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, lastSyncKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read last sync time: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid last sync time %q: %w", value, err)
	}
	return t, true, nil
}

// SaveLastSync stores the last-sync timestamp.
func (db *DB) SaveLastSync(ctx context.Context, t time.Time) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return setLastSync(ctx, tx, t)
	})
}

// Commit replaces the snapshot and the last-sync timestamp atomically.
func (db *DB) Commit(ctx context.Context, nodes []*schema.Node, lastSync time.Time) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := replaceNodes(ctx, tx, nodes); err != nil {
			return err
		}
		return setLastSync(ctx, tx, lastSync)
	})
}

// ResetLastSync forgets the last-sync timestamp so the next run re-syncs
// everything.
func (db *DB) ResetLastSync(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sync_state WHERE key = ?`, lastSyncKey); err != nil {
		return fmt.Errorf("failed to reset last sync time: %w", err)
	}
	return nil
}

func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func replaceNodes(ctx context.Context, tx *sql.Tx, nodes []*schema.Node) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes`); err != nil {
		return fmt.Errorf("failed to clear nodes: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (id, kind, parent_id, title, navigation_url, last_modified, subtitle, search_string)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, n := range nodes {
		if err := n.Validate(); err != nil {
			return fmt.Errorf("refusing to store node %s: %w", n.ID, err)
		}
		_, err := stmt.ExecContext(ctx,
			n.ID,
			string(n.Kind),
			nullString(n.ParentID),
			n.Title,
			nullString(n.NavigationURL),
			n.LastModified.UTC().Format(time.RFC3339Nano),
			nullString(n.Subtitle),
			nullString(n.SearchString),
		)
		if err != nil {
			return fmt.Errorf("failed to insert node %s: %w", n.ID, err)
		}
	}
	return nil
}

func setLastSync(ctx context.Context, tx *sql.Tx, t time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		lastSyncKey, t.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to store last sync time: %w", err)
	}
	return nil
}

func scanNodes(rows *sql.Rows) ([]*schema.Node, error) {
	var nodes []*schema.Node
	for rows.Next() {
		var (
			n                             schema.Node
			kind, modified                string
			parent, url, subtitle, search sql.NullString
		)
		if err := rows.Scan(&n.ID, &kind, &parent, &n.Title, &url, &modified, &subtitle, &search); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, modified)
		if err != nil {
			return nil, fmt.Errorf("invalid last_modified for %s: %w", n.ID, err)
		}
		n.Kind = schema.Kind(kind)
		n.ParentID = parent.String
		n.NavigationURL = url.String
		n.LastModified = t
		n.Subtitle = subtitle.String
		n.SearchString = search.String
		nodes = append(nodes, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate nodes: %w", err)
	}
	return nodes, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// escapeLike escapes LIKE wildcards for use with ESCAPE '\'.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
