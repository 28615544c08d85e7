// Package readyprobe is the public API of the readiness harness: launch a
// process, wait for its readiness marker, verify it over HTTP and tear the
// process tree down.
package readyprobe

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/h3xium/nx/internal/config"
	"github.com/h3xium/nx/internal/harness"
	"github.com/h3xium/nx/internal/history"
	"github.com/h3xium/nx/internal/history/factory"
	"github.com/h3xium/nx/internal/metrics"
	"github.com/h3xium/nx/internal/probe"
	"github.com/h3xium/nx/internal/process"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = process.Spec

type Scenario = harness.Scenario

type Session = harness.Session

type Options = harness.Options

type Report = harness.Report

type SessionReport = harness.SessionReport

type State = harness.State

type Suite = config.Suite

type ProbeResult = probe.Result

type HistorySink = history.Sink

type HistoryEvent = history.Event

// Error types, matched with errors.As.
type (
	SpawnError       = harness.SpawnError
	ReadinessTimeout = harness.ReadinessTimeout
	ProbeError       = harness.ProbeError
	TerminationError = harness.TerminationError
	StageError       = harness.StageError
)

const (
	StateSpawned    = harness.StateSpawned
	StateReady      = harness.StateReady
	StateVerified   = harness.StateVerified
	StateTerminated = harness.StateTerminated
	StateFailed     = harness.StateFailed
)

var (
	ErrNotReady          = harness.ErrNotReady
	ErrSessionClosed     = harness.ErrSessionClosed
	ErrUnexpectedMessage = harness.ErrUnexpectedMessage
	ErrOutputMissing     = harness.ErrOutputMissing
)

// Harness is a thin facade over internal/harness.Harness.
type Harness struct{ inner *harness.Harness }

func New(opts Options) *Harness { return &Harness{inner: harness.New(opts)} }

func (h *Harness) Start(ctx context.Context, sc Scenario) (*Session, error) {
	return h.inner.Start(ctx, sc)
}
func (h *Harness) Run(ctx context.Context, sc Scenario) (Report, error) { return h.inner.Run(ctx, sc) }
func (h *Harness) RunAll(ctx context.Context, scs []Scenario, stopOnFail bool) ([]Report, error) {
	return h.inner.RunAll(ctx, scs, stopOnFail)
}

// Run executes sc with default options.
func Run(ctx context.Context, sc Scenario) (Report, error) { return New(Options{}).Run(ctx, sc) }

// Stage names the step a run error came from: ready, probe, output, restart
// or terminate. Spawn failures carry no stage; match them with SpawnError.
func Stage(err error) string { return harness.Stage(err) }

func LoadSuite(path string) (*Suite, error) { return config.Load(path) }

// Probe requests url once and decodes its JSON payload.
func Probe(ctx context.Context, url string, timeout time.Duration) (ProbeResult, error) {
	return probe.New(timeout).Probe(ctx, url)
}

// TerminatePID terminates a process tree this program did not spawn.
func TerminatePID(ctx context.Context, pid int, signal string, grace time.Duration) error {
	sig, err := process.ParseSignal(signal)
	if err != nil {
		return err
	}
	return process.TerminatePID(ctx, pid, sig, grace)
}

// NewHistorySink opens a sink for a sqlite path, postgres:// or clickhouse:// DSN.
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
