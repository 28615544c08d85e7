package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/h3xium/nx/internal/history"
	"github.com/h3xium/nx/internal/logger"
	"github.com/h3xium/nx/internal/metrics"
	"github.com/h3xium/nx/internal/portlock"
	"github.com/h3xium/nx/internal/probe"
	"github.com/h3xium/nx/internal/process"
	"github.com/h3xium/nx/internal/stream"
)

// Session owns one spawned process from Start until Close.
type Session struct {
	h      *Harness
	sc     Scenario
	id     string
	log    *slog.Logger
	proc   *process.Process
	cursor *stream.Cursor
	tail   *logger.Ring
	lock   *portlock.Lock

	sampler *metrics.Sampler
	peak    metrics.Usage

	mu        sync.Mutex
	state     State
	err       error
	started   time.Time
	finished  time.Time
	lastReady time.Time
	sessions  []SessionReport

	closeOnce sync.Once
	closeErr  error
}

// ID returns the run id.
func (s *Session) ID() string { return s.id }

// Scenario returns the validated scenario.
func (s *Session) Scenario() Scenario { return s.sc }

// Process returns the managed process.
func (s *Session) Process() *process.Process { return s.proc }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the cause recorded by Fail.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, to) {
		if s.state.Terminal() {
			return ErrSessionClosed
		}
		return fmt.Errorf("invalid transition %s -> %s", s.state, to)
	}
	s.state = to
	return nil
}

// AwaitReady waits for the next occurrence of the marker on stdout, bounded
// by the scenario's ReadyTimeout. Each call consumes output up to the end of
// the match, so successive calls follow successive listening sessions.
func (s *Session) AwaitReady(ctx context.Context) (stream.Event, error) {
	switch st := s.State(); st {
	case StateSpawned, StateVerified, StateReady:
	default:
		return stream.Event{}, ErrSessionClosed
	}
	tctx, cancel := context.WithTimeout(ctx, s.sc.ReadyTimeout)
	defer cancel()

	ev, err := s.cursor.Await(tctx, s.sc.Marker)
	if err != nil {
		rt := &ReadinessTimeout{
			Marker:  s.sc.Marker,
			Timeout: s.sc.ReadyTimeout,
			Exited:  errors.Is(err, stream.ErrClosed),
			Tail:    s.tail.Lines(),
			Err:     err,
		}
		s.log.Warn("readiness failed", "marker", s.sc.Marker, "exited", rt.Exited, "error", err)
		return stream.Event{}, rt
	}

	now := time.Now()
	s.mu.Lock()
	wait := now.Sub(s.lastReady)
	s.lastReady = now
	s.sessions = append(s.sessions, SessionReport{Index: len(s.sessions) + 1, ReadyAfter: wait, Offset: ev.Offset})
	s.mu.Unlock()
	if err := s.transition(StateReady); err != nil {
		return ev, err
	}
	metrics.ObserveReadiness(s.sc.Name, wait.Seconds())
	s.h.record(ctx, s, history.StageReady, s.sc.Marker, nil)
	s.log.Info("ready", "marker", s.sc.Marker, "after", wait)
	return ev, nil
}

// Probe requests the scenario's ProbeURL and checks the payload message.
// It is only allowed right after a readiness match.
func (s *Session) Probe(ctx context.Context) (probe.Result, error) {
	if st := s.State(); st != StateReady {
		if st.Terminal() {
			return probe.Result{}, ErrSessionClosed
		}
		return probe.Result{}, ErrNotReady
	}
	p := s.h.opts.Prober
	if p == nil {
		p = probe.New(s.sc.ProbeTimeout)
	}
	res, err := p.ProbeRetry(ctx, s.sc.ProbeURL, s.sc.ProbeRetry)
	s.setProbe(res)
	if err != nil {
		metrics.IncProbe(s.sc.Name, "error")
		s.h.record(ctx, s, history.StageProbe, s.sc.ProbeURL, err)
		return res, err
	}
	if want := s.sc.ExpectMessage; want != "" && res.Message() != want {
		metrics.IncProbe(s.sc.Name, "mismatch")
		err := fmt.Errorf("%w: got %q, want %q", ErrUnexpectedMessage, res.Message(), want)
		s.h.record(ctx, s, history.StageProbe, s.sc.ProbeURL, err)
		return res, err
	}
	metrics.IncProbe(s.sc.Name, "ok")
	if err := s.transition(StateVerified); err != nil {
		return res, err
	}
	s.h.record(ctx, s, history.StageVerified, res.Message(), nil)
	s.log.Info("verified", "url", s.sc.ProbeURL, "status", res.StatusCode, "message", res.Message())
	return res, nil
}

func (s *Session) setProbe(res probe.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.sessions); n > 0 {
		r := res
		s.sessions[n-1].Probe = &r
	}
}

// CheckOutput verifies that every ExpectOutput substring appeared on stdout or stderr.
func (s *Session) CheckOutput() error {
	var missing []string
	for _, want := range s.sc.ExpectOutput {
		if !s.proc.Stdout().Contains(want) && !s.proc.Stderr().Contains(want) {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %q", ErrOutputMissing, missing)
	}
	return nil
}

// Fail moves the session to StateFailed with cause. It has no effect once
// the session is terminal. The process is not touched; Close still tears it down.
func (s *Session) Fail(cause error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.err = cause
	s.mu.Unlock()

	stage := Stage(cause)
	if stage == "" {
		stage = "unknown"
	}
	metrics.IncFailure(s.sc.Name, stage)
	s.h.record(context.Background(), s, history.StageFailed, stage, cause)
	s.log.Error("scenario failed", "stage", stage, "error", cause)
}

// Terminate stops the process tree with the scenario's signal. A failed
// session stays failed; otherwise the state becomes StateTerminated. Only
// the first call signals the process.
func (s *Session) Terminate(ctx context.Context) error {
	sig, _ := process.ParseSignal(s.sc.Signal)
	wasRunning := s.proc.State() == process.StateRunning
	exitedBefore := isDone(s.proc.Done())

	err := s.proc.Terminate(ctx, sig)

	s.mu.Lock()
	if !s.state.Terminal() {
		if err != nil {
			s.state = StateFailed
			s.err = err
		} else {
			s.state = StateTerminated
		}
	}
	s.mu.Unlock()

	if !wasRunning {
		return err
	}
	mode := "graceful"
	switch {
	case err != nil:
		mode = "error"
	case exitedBefore:
		mode = "exited"
	case s.proc.State() == process.StateKilled:
		mode = "killed"
	}
	metrics.IncTermination(s.sc.Name, mode)
	s.h.record(ctx, s, history.StageTerminate, mode, err)
	s.log.Info("terminated", "pid", s.proc.PID(), "mode", mode, "error", err)
	return err
}

// Close terminates the process, stops sampling, waits for the port to be
// released and drops the port lock. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		grace := s.sc.Process.StopGrace
		if grace <= 0 {
			grace = process.DefaultStopGrace
		}
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace+cleanupSlack)
		defer cancel()

		var errs []error
		if err := s.Terminate(cctx); err != nil {
			errs = append(errs, &StageError{Stage: "terminate", Err: err})
		}
		s.cursor.Close()
		if s.sampler != nil {
			s.peak = s.sampler.Stop()
		}
		if s.sc.Port > 0 {
			wctx, wcancel := context.WithTimeout(cctx, portReleaseWait)
			if err := portlock.WaitFree(wctx, s.sc.Port); err != nil {
				s.log.Warn("port not released", "port", s.sc.Port, "error", err)
			}
			wcancel()
		}
		if err := s.lock.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release port lock: %w", err))
		}
		s.mu.Lock()
		s.finished = time.Now()
		s.mu.Unlock()
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Output returns everything the process wrote to stdout so far.
func (s *Session) Output() string { return s.proc.Stdout().String() }

// drive runs the readiness and probe stages for every listening session.
func (s *Session) drive(ctx context.Context) error {
	for i := 0; i < s.sc.Sessions; i++ {
		if i > 0 && s.sc.Restart != nil {
			if err := s.sc.Restart(ctx, s); err != nil {
				return &StageError{Stage: "restart", Err: err}
			}
		}
		if _, err := s.AwaitReady(ctx); err != nil {
			return &StageError{Stage: "ready", Err: err}
		}
		if s.sc.ProbeURL == "" {
			continue
		}
		if _, err := s.Probe(ctx); err != nil {
			return &StageError{Stage: "probe", Err: err}
		}
	}
	if err := s.CheckOutput(); err != nil {
		return &StageError{Stage: "output", Err: err}
	}
	return nil
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func trimOutput(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return "..." + strings.TrimLeft(s[len(s)-max:], "\n")
}
