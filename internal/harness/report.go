package harness

import (
	"time"

	"github.com/h3xium/nx/internal/metrics"
	"github.com/h3xium/nx/internal/probe"
)

const reportOutputLimit = 64 << 10

// SessionReport describes one listening session.
type SessionReport struct {
	Index      int           `json:"index"`
	ReadyAfter time.Duration `json:"ready_after"`
	Offset     int           `json:"offset"`
	Probe      *probe.Result `json:"probe,omitempty"`
}

// Report summarizes a run.
type Report struct {
	RunID       string          `json:"run_id"`
	Scenario    string          `json:"scenario"`
	PID         int             `json:"pid"`
	State       State           `json:"state"`
	Termination string          `json:"termination,omitempty"`
	ExitCode    int             `json:"exit_code"`
	Sessions    []SessionReport `json:"sessions,omitempty"`
	Stdout      string          `json:"stdout,omitempty"`
	Stderr      string          `json:"stderr,omitempty"`
	Peak        *metrics.Usage  `json:"peak,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	Error       string          `json:"error,omitempty"`
}

// Duration is the wall time between start and finish.
func (r Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Report returns a snapshot of the session.
func (s *Session) Report() Report {
	st := s.proc.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	r := Report{
		RunID:       s.id,
		Scenario:    s.sc.Name,
		PID:         st.PID,
		State:       s.state,
		Termination: st.State,
		ExitCode:    st.ExitCode,
		Sessions:    append([]SessionReport(nil), s.sessions...),
		Stdout:      trimOutput(s.proc.Stdout().String(), reportOutputLimit),
		Stderr:      trimOutput(s.proc.Stderr().String(), reportOutputLimit),
		StartedAt:   s.started,
		FinishedAt:  s.finished,
	}
	if s.sampler != nil {
		peak := s.peak
		r.Peak = &peak
	}
	if s.err != nil {
		r.Error = s.err.Error()
	}
	return r
}
