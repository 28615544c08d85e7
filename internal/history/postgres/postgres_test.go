package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/h3xium/nx/internal/history"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("needs docker; skipped in -short")
	}
	ctx := context.Background()
	c, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("history"),
		tcpostgres.WithUsername("readyprobe"),
		tcpostgres.WithPassword("readyprobe"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgresSink_RunLifecycle(t *testing.T) {
	dsn := startPostgres(t)
	sink, err := New(dsn)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Microsecond)
	stages := []history.Stage{history.StageSpawn, history.StageReady, history.StageProbe, history.StageVerified, history.StageTerminate}
	for i, st := range stages {
		require.NoError(t, sink.Send(ctx, history.Event{
			RunID: "pg-run", Scenario: "nest", Stage: st, PID: 12345,
			OccurredAt: at.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	got, err := sink.Stages(ctx, "pg-run")
	require.NoError(t, err)
	assert.Equal(t, stages, got)

	evs, err := sink.Events(ctx, "pg-run")
	require.NoError(t, err)
	require.Len(t, evs, len(stages))
	assert.True(t, evs[0].OccurredAt.Equal(at))

	runs, err := sink.Runs(ctx, "nest")
	require.NoError(t, err)
	assert.Equal(t, []string{"pg-run"}, runs)

	// Reopening keeps existing rows.
	again, err := New(dsn)
	require.NoError(t, err)
	defer func() { _ = again.Close() }()
	got, err = again.Stages(ctx, "pg-run")
	require.NoError(t, err)
	assert.Len(t, got, len(stages))
}

func TestNew_EmptyDSN(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
