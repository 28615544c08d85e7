// Package harness runs readiness scenarios: spawn a process, wait for a
// marker on its stdout, probe it over HTTP and tear the process tree down,
// surfacing a typed error from whichever stage failed. Cleanup always runs.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/h3xium/nx/internal/history"
	"github.com/h3xium/nx/internal/logger"
	"github.com/h3xium/nx/internal/metrics"
	"github.com/h3xium/nx/internal/portlock"
	"github.com/h3xium/nx/internal/probe"
	"github.com/h3xium/nx/internal/process"
)

const (
	defaultTailLines = 20
	portReleaseWait  = 3 * time.Second
	// cleanupSlack bounds teardown beyond the stop grace and SIGKILL wait.
	cleanupSlack = 5 * time.Second
)

// Options configures a Harness. The zero value is usable.
type Options struct {
	Logger *slog.Logger
	// Prober overrides the per-scenario prober built from ProbeTimeout.
	Prober *probe.Prober
	// Sink receives a history event per stage. Send errors are logged only.
	Sink history.Sink
	// LockDir enables cross-process port locking when non-empty.
	LockDir string
	// LockTimeout bounds waiting for a port lock; zero waits for ctx.
	LockTimeout time.Duration
	// SampleInterval enables resource sampling of the process tree.
	SampleInterval time.Duration
	TailLines      int
}

// Harness starts sessions. It is safe for concurrent use.
type Harness struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options) *Harness {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.TailLines <= 0 {
		opts.TailLines = defaultTailLines
	}
	return &Harness{opts: opts, log: opts.Logger}
}

// Start validates sc, takes the port lock and spawns the process. The
// returned session is in StateSpawned; the caller must Close it.
func (h *Harness) Start(ctx context.Context, sc Scenario) (*Session, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		h:       h,
		sc:      sc,
		id:      uuid.NewString(),
		tail:    logger.NewRing(h.opts.TailLines),
		log:     h.log.With("scenario", sc.Name),
		started: time.Now(),
	}
	s.log = s.log.With("run_id", s.id)

	if h.opts.LockDir != "" && sc.Port > 0 {
		lctx := ctx
		if h.opts.LockTimeout > 0 {
			var cancel context.CancelFunc
			lctx, cancel = context.WithTimeout(ctx, h.opts.LockTimeout)
			defer cancel()
		}
		l, err := portlock.Acquire(lctx, h.opts.LockDir, sc.Port)
		if err != nil {
			return nil, &StageError{Stage: "lock", Err: err}
		}
		s.lock = l
		s.log.Debug("port locked", "port", sc.Port)
	}

	spec := sc.Process
	spec.Stdout = teeWriter(spec.Stdout, s.tail)
	spec.Stderr = teeWriter(spec.Stderr, s.tail)

	p, err := process.Spawn(ctx, spec)
	if err != nil {
		metrics.IncSpawnFailure(sc.Name)
		metrics.IncFailure(sc.Name, "spawn")
		s.state = StateFailed
		s.err = err
		h.record(ctx, s, history.StageSpawn, "", err)
		_ = s.lock.Release()
		s.log.Error("spawn failed", "command", spec.Command, "error", err)
		return nil, err
	}
	s.proc = p
	s.cursor = p.Stdout().Subscribe()
	s.lastReady = s.started
	metrics.IncSpawn(sc.Name)
	h.record(ctx, s, history.StageSpawn, strings.TrimSpace(spec.Command+" "+strings.Join(spec.Args, " ")), nil)
	s.log.Info("spawned", "pid", p.PID(), "command", spec.Command)

	if h.opts.SampleInterval > 0 {
		s.sampler = metrics.NewSampler(sc.Name, h.opts.SampleInterval, func() []int {
			tctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return p.Tree(tctx)
		})
		s.sampler.Start(context.WithoutCancel(ctx))
	}
	return s, nil
}

// Run executes the whole scenario. The process is terminated before Run
// returns whatever happened; when both a stage and the teardown fail the
// errors are joined.
func (h *Harness) Run(ctx context.Context, sc Scenario) (Report, error) {
	s, err := h.Start(ctx, sc)
	if err != nil {
		r := Report{Scenario: sc.Name, State: StateFailed, Error: err.Error()}
		if sc.Name == "" {
			r.Scenario = sc.Process.DisplayName()
		}
		return r, err
	}
	stageErr := s.drive(ctx)
	if stageErr != nil {
		s.Fail(stageErr)
	}
	closeErr := s.Close(ctx)
	err = errors.Join(stageErr, closeErr)
	r := s.Report()
	if err != nil {
		r.Error = err.Error()
	}
	return r, err
}

// RunAll runs scenarios sequentially and returns every report. With stopOnFail
// the first failure ends the run.
func (h *Harness) RunAll(ctx context.Context, scs []Scenario, stopOnFail bool) ([]Report, error) {
	var (
		reports []Report
		errs    []error
	)
	for _, sc := range scs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		r, err := h.Run(ctx, sc)
		reports = append(reports, r)
		if err != nil {
			errs = append(errs, fmt.Errorf("scenario %s: %w", r.Scenario, err))
			if stopOnFail {
				break
			}
		}
	}
	return reports, errors.Join(errs...)
}

func (h *Harness) record(ctx context.Context, s *Session, stage history.Stage, detail string, err error) {
	if h.opts.Sink == nil {
		return
	}
	e := history.Event{
		RunID:      s.id,
		Scenario:   s.sc.Name,
		Stage:      stage,
		OccurredAt: time.Now(),
		Detail:     detail,
	}
	if s.proc != nil {
		e.PID = s.proc.PID()
	}
	if err != nil {
		e.Error = err.Error()
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if serr := h.opts.Sink.Send(sctx, e); serr != nil {
		s.log.Warn("history send failed", "stage", stage, "error", serr)
	}
}

func teeWriter(a, b io.Writer) io.Writer {
	if a == nil {
		return b
	}
	return io.MultiWriter(a, b)
}
