package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notemirror/notemirror/internal/db"
	"github.com/notemirror/notemirror/internal/schema"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("2024-03-01T08:30:00+01:00", now)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 3, 1, 7, 30, 0, 0, time.UTC)))

	got, err = parseSince("3 days ago", now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(-72*time.Hour), got, time.Hour)

	got, err = parseSince("yesterday", now)
	require.NoError(t, err)
	assert.True(t, got.Before(now))
	assert.True(t, got.After(now.Add(-48*time.Hour)))

	_, err = parseSince("", now)
	assert.Error(t, err)
	_, err = parseSince("qwerty", now)
	assert.Error(t, err)
}

func TestMatchNodes(t *testing.T) {
	nodes := []*schema.Node{
		{ID: "p1", Kind: schema.KindPage, ParentID: "s1", Title: "Standup", SearchString: "Work > Meetings > Standup"},
		{ID: "s1", Kind: schema.KindSection, ParentID: "nb", Title: "Meetings", SearchString: "Work > Meetings"},
		{ID: "nb", Kind: schema.KindNotebook, Title: "Work", SearchString: "Work"},
		{ID: "p2", Kind: schema.KindPage, ParentID: "s1", Title: "retro", SearchString: "Work > Meetings > retro"},
	}
	ids := func(ns []*schema.Node) []string {
		out := make([]string, len(ns))
		for i, n := range ns {
			out[i] = n.ID
		}
		return out
	}

	tests := []struct {
		name  string
		query string
		opts  db.SearchOptions
		want  []string
	}{
		{"all", "", db.SearchOptions{}, []string{"nb", "s1", "p2", "p1"}},
		{"case-insensitive", "MEETINGS", db.SearchOptions{}, []string{"s1", "p2", "p1"}},
		{"all terms", "work stand", db.SearchOptions{}, []string{"p1"}},
		{"kind", "work", db.SearchOptions{Kind: schema.KindPage}, []string{"p2", "p1"}},
		{"limit", "", db.SearchOptions{Limit: 2}, []string{"nb", "s1"}},
		{"none", "holiday", db.SearchOptions{}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(matchNodes(nodes, tt.query, tt.opts)))
		})
	}
}

func TestWriteExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "items.json")

	require.NoError(t, writeExport(path, func(w io.Writer) error {
		_, err := io.WriteString(w, `{"items":[]}`)
		return err
	}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"items":[]}`, string(data))

	// A failed write leaves the previous document in place.
	err = writeExport(path, func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return errors.New("boom")
	})
	require.Error(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"items":[]}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestTouch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sync.trigger")
	require.NoError(t, touch(path))
	first, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, touch(path))
	second, err := os.Stat(path)
	require.NoError(t, err)
	assert.False(t, second.ModTime().Before(first.ModTime()))
}
