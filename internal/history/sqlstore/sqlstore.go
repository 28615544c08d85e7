// Package sqlstore stores history events through database/sql. The sqlite and
// postgres sinks share it and differ only in their Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/h3xium/nx/internal/history"
)

// Table is the name of the history table in every SQL dialect.
const Table = "scenario_history"

// Dialect captures what differs between SQL engines.
type Dialect struct {
	// Placeholder renders the n-th bind parameter, counting from 1.
	Placeholder func(n int) string
	// IDColumn is the DDL of the insertion-ordered key column.
	IDColumn string
	// TimeType is the column type of occurred_at.
	TimeType string
}

// Question renders ? placeholders.
func Question(int) string { return "?" }

// Dollar renders $1, $2, ... placeholders.
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// Sink writes events to Table. It is safe for concurrent use.
type Sink struct {
	db         *sql.DB
	insert     string
	byRun      string
	byScenario string
}

// New ensures the schema exists on db and returns a sink that owns db.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Sink, error) {
	ph := make([]string, 7)
	for i := range ph {
		ph[i] = d.Placeholder(i + 1)
	}
	s := &Sink{db: db}
	s.insert = fmt.Sprintf(`INSERT INTO %s(occurred_at, run_id, scenario, stage, pid, detail, error) VALUES(%s)`,
		Table, strings.Join(ph, ", "))
	s.byRun = fmt.Sprintf(`SELECT occurred_at, run_id, scenario, stage, pid, detail, error FROM %s WHERE run_id = %s ORDER BY id`,
		Table, d.Placeholder(1))
	s.byScenario = fmt.Sprintf(`SELECT run_id, MIN(id) AS first FROM %s WHERE scenario = %s GROUP BY run_id ORDER BY first DESC`,
		Table, d.Placeholder(1))

	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s(
			id %s,
			occurred_at %s NOT NULL,
			run_id TEXT NOT NULL,
			scenario TEXT NOT NULL,
			stage TEXT NOT NULL,
			pid INTEGER NOT NULL,
			detail TEXT,
			error TEXT
		)`, Table, d.IDColumn, d.TimeType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_run ON %[1]s(run_id)`, Table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_scenario ON %[1]s(scenario)`, Table),
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return nil, fmt.Errorf("history schema: %w", err)
		}
	}
	return s, nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	at := e.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.insert,
		at.UTC(), e.RunID, e.Scenario, string(e.Stage), e.PID, nullable(e.Detail), nullable(e.Error))
	return err
}

// Events returns the events of one run in the order they were sent.
func (s *Sink) Events(ctx context.Context, runID string) ([]history.Event, error) {
	rows, err := s.db.QueryContext(ctx, s.byRun, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []history.Event
	for rows.Next() {
		var (
			e             history.Event
			stage         string
			detail, cause sql.NullString
		)
		if err := rows.Scan(&e.OccurredAt, &e.RunID, &e.Scenario, &stage, &e.PID, &detail, &cause); err != nil {
			return nil, err
		}
		e.Stage = history.Stage(stage)
		e.Detail = detail.String
		e.Error = cause.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stages returns the stages of one run in the order they were sent.
func (s *Sink) Stages(ctx context.Context, runID string) ([]history.Stage, error) {
	evs, err := s.Events(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make([]history.Stage, len(evs))
	for i, e := range evs {
		out[i] = e.Stage
	}
	return out, nil
}

// Runs lists the run ids recorded for a scenario, newest first.
func (s *Sink) Runs(ctx context.Context, scenario string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.byScenario, scenario)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var (
			id    string
			first int64
		)
		if err := rows.Scan(&id, &first); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
