package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/gpttg/internal/db"
)

// seedJournal writes one bot run and returns the journal path and root id.
//
//	process.started      id=1
//	├── update.received  id=2
//	├── reply.sent       id=3
//	├── permission.denied id=4
//	└── process.stopped  id=5
func seedJournal(t *testing.T) (string, int64) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	database, err := db.OpenDB(path)
	require.NoError(t, err)
	require.NoError(t, db.InitSchema(database))
	defer database.Close()

	root, err := db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{"pid": 100, "commander": "dummy"})
	require.NoError(t, err)
	mustLog(t, database, &root, db.EventUpdateReceived, map[string]any{"chat_id": 7, "kind": "prompt"})
	mustLog(t, database, &root, db.EventReplySent, map[string]any{"chat_id": 7, "total_tokens": 12})
	mustLog(t, database, &root, db.EventPermissionDenied, map[string]any{"chat_id": 9, "action": "prompt"})
	mustLog(t, database, &root, db.EventProcessStopped, map[string]any{"uptime_seconds": 3})
	return path, root
}

func mustLog(t *testing.T, database *sql.DB, parent *int64, eventType string, payload map[string]any) {
	t.Helper()
	_, err := db.LogEvent(database, parent, eventType, payload)
	require.NoError(t, err)
}

func TestRunEvents_Tree(t *testing.T) {
	path, _ := seedJournal(t)
	var out bytes.Buffer
	require.NoError(t, runEvents(&out, eventsOptions{dbPath: path}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "process.started")
	assert.Contains(t, lines[0], "commander=dummy")
	assert.True(t, strings.HasPrefix(lines[1], "├── "), lines[1])
	assert.Contains(t, lines[2], "total_tokens=12")
	assert.True(t, strings.HasPrefix(lines[4], "└── "), lines[4])
	assert.Contains(t, lines[4], "process.stopped")
}

func TestRunEvents_NoPayload(t *testing.T) {
	path, _ := seedJournal(t)
	var out bytes.Buffer
	require.NoError(t, runEvents(&out, eventsOptions{dbPath: path, noPayload: true}))
	assert.NotContains(t, out.String(), "chat_id=")
}

func TestRunEvents_DepthLimit(t *testing.T) {
	path, _ := seedJournal(t)
	var out bytes.Buffer
	require.NoError(t, runEvents(&out, eventsOptions{dbPath: path, maxDepth: 1}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "└── [...]", lines[1])
}

func TestRunEvents_JSON(t *testing.T) {
	path, root := seedJournal(t)
	var out bytes.Buffer
	require.NoError(t, runEvents(&out, eventsOptions{dbPath: path, jsonOut: true}))

	var got jsonEvent
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, root, got.ID)
	assert.Equal(t, db.EventProcessStarted, got.EventType)
	require.Len(t, got.Children, 4)
	assert.Equal(t, db.EventUpdateReceived, got.Children[0].EventType)
}

func TestRunEvents_Summary(t *testing.T) {
	path, _ := seedJournal(t)
	var out bytes.Buffer
	require.NoError(t, runEvents(&out, eventsOptions{dbPath: path, summary: true}))
	assert.Contains(t, out.String(), "permission.denied")
	assert.Contains(t, out.String(), "process.started")
}

func TestRunEvents_UnknownID(t *testing.T) {
	path, _ := seedJournal(t)
	err := runEvents(&bytes.Buffer{}, eventsOptions{dbPath: path, eventID: 999})
	assert.Error(t, err)
}

func TestRunEvents_EmptyJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	database, err := db.OpenDB(path)
	require.NoError(t, err)
	require.NoError(t, db.InitSchema(database))
	database.Close()

	err = runEvents(&bytes.Buffer{}, eventsOptions{dbPath: path})
	assert.ErrorIs(t, err, db.ErrNoRoot)
}

func TestRunEvents_MissingFile(t *testing.T) {
	err := runEvents(&bytes.Buffer{}, eventsOptions{dbPath: filepath.Join(t.TempDir(), "nope.db")})
	assert.Error(t, err)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "42", formatValue(float64(42)))
	assert.Equal(t, "1.5", formatValue(1.5))
	assert.Equal(t, "true", formatValue(true))
	assert.Equal(t, "short", formatValue("short"))

	long := strings.Repeat("x", 100)
	got := formatValue(long)
	assert.True(t, strings.HasSuffix(got, `..."`), got)
	assert.Less(t, len(got), len(long))
}
