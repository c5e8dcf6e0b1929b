package dialog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuber-it/heinzel-ki/model"
)

func TestLoggerWritesEntries(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger("anthropic", dir, true)
	defer l.Close()

	ctx := context.Background()
	rc := model.RequestContext{SessionID: "s1", HeinzelID: "h1", TaskID: "t1"}
	l.Request(ctx, "/chat", map[string]any{"model": "claude-sonnet-4"}, rc)
	l.Response(ctx, "/chat", 200, map[string]any{"content": "hi"}, rc)
	l.Error(ctx, "/chat", "boom", rc)

	entries, err := Read(dir, "anthropic", Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Newest first.
	assert.Equal(t, TypeError, entries[0].Type)
	assert.Equal(t, TypeResponse, entries[1].Type)
	assert.Equal(t, TypeRequest, entries[2].Type)
	for _, e := range entries {
		assert.Equal(t, "anthropic", e.Provider)
		assert.Equal(t, "s1", e.SessionID)
		assert.Equal(t, "h1", e.HeinzelID)
		assert.Equal(t, "t1", e.TaskID)
		assert.NotEmpty(t, e.Timestamp)
	}
}

func TestLoggerDisabledWritesNothing(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger("openai", dir, false)
	defer l.Close()

	l.Request(context.Background(), "/chat", nil, model.RequestContext{})
	_, err := os.Stat(l.Path())
	assert.True(t, os.IsNotExist(err))

	// Toggling on at run time starts writing.
	l.SetEnabled(true)
	l.Request(context.Background(), "/chat", nil, model.RequestContext{})
	_, err = os.Stat(l.Path())
	assert.NoError(t, err)
}

func TestReadFilters(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger("google", dir, true)
	defer l.Close()

	ctx := context.Background()
	l.Request(ctx, "/chat", nil, model.RequestContext{SessionID: "s1"})
	l.Response(ctx, "/chat", 200, nil, model.RequestContext{SessionID: "s1"})
	l.Request(ctx, "/chat", nil, model.RequestContext{SessionID: "s2", HeinzelID: "h7"})

	entries, err := Read(dir, "google", Filter{SessionID: "s1"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = Read(dir, "google", Filter{SessionID: "s1", Type: TypeRequest})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, TypeRequest, entries[0].Type)

	entries, err = Read(dir, "google", Filter{HeinzelID: "h7"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "s2", entries[0].SessionID)

	entries, err = Read(dir, "google", Filter{SessionID: "absent"})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadTimeWindow(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger("google", dir, true)
	defer l.Close()
	l.Request(context.Background(), "/chat", nil, model.RequestContext{})

	now := time.Now().UTC()
	entries, err := Read(dir, "google", Filter{Since: now.Add(-time.Minute).Format(time.RFC3339)})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, err = Read(dir, "google", Filter{Until: now.Add(-time.Minute).Format(time.RFC3339)})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadLimitAndMalformedLines(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger("google", dir, true)
	for i := 0; i < 5; i++ {
		l.Request(context.Background(), "/chat", nil, model.RequestContext{})
	}
	require.NoError(t, l.Close())

	// Garbage lines are skipped, not fatal.
	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := Read(dir, "google", Filter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	entries, err = Read(dir, "google", Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestReadIncludesRotatedBackups(t *testing.T) {
	dir := t.TempDir()

	// Simulate a lumberjack backup next to the current file.
	backup := filepath.Join(dir, "google-2026-01-02T15-04-05.000.jsonl")
	old := `{"timestamp":"2026-01-02T15:00:00Z","provider":"google","type":"request","data":null}` + "\n"
	require.NoError(t, os.WriteFile(backup, []byte(old), 0o644))

	l := NewLogger("google", dir, true)
	defer l.Close()
	l.Response(context.Background(), "/chat", 200, nil, model.RequestContext{})

	entries, err := Read(dir, "google", Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Current file first, backups after.
	assert.Equal(t, TypeResponse, entries[0].Type)
	assert.Equal(t, TypeRequest, entries[1].Type)
}
