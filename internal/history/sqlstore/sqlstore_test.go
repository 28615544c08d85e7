package sqlstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/h3xium/nx/internal/history"
)

func memSink(t *testing.T) *Sink {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	s, err := New(context.Background(), db, Dialect{
		Placeholder: Question,
		IDColumn:    "INTEGER PRIMARY KEY AUTOINCREMENT",
		TimeType:    "TIMESTAMP",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEvents_RoundTrip(t *testing.T) {
	s := memSink(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Send(ctx, history.Event{RunID: "r1", Scenario: "express", Stage: history.StageSpawn, PID: 7, OccurredAt: at, Detail: "node main.js"}))
	require.NoError(t, s.Send(ctx, history.Event{RunID: "r1", Scenario: "express", Stage: history.StageFailed, PID: 7, OccurredAt: at.Add(time.Second), Error: "ready: timed out"}))
	require.NoError(t, s.Send(ctx, history.Event{RunID: "r2", Scenario: "nest", Stage: history.StageSpawn}))

	evs, err := s.Events(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, history.StageSpawn, evs[0].Stage)
	assert.Equal(t, "node main.js", evs[0].Detail)
	assert.Empty(t, evs[0].Error)
	assert.Equal(t, 7, evs[0].PID)
	assert.True(t, evs[0].OccurredAt.Equal(at), "occurred_at = %v", evs[0].OccurredAt)
	assert.Equal(t, "ready: timed out", evs[1].Error)

	stages, err := s.Stages(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, []history.Stage{history.StageSpawn}, stages)

	none, err := s.Events(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRuns_NewestFirst(t *testing.T) {
	s := memSink(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Send(ctx, history.Event{RunID: id, Scenario: "express", Stage: history.StageSpawn}))
		require.NoError(t, s.Send(ctx, history.Event{RunID: id, Scenario: "express", Stage: history.StageTerminate}))
	}
	require.NoError(t, s.Send(ctx, history.Event{RunID: "z", Scenario: "nest", Stage: history.StageSpawn}))

	runs, err := s.Runs(ctx, "express")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, runs)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "?", Question(3))
	assert.Equal(t, "$3", Dollar(3))
}
