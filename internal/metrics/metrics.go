package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "readyprobe"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	spawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spawns_total",
			Help:      "Number of successfully spawned scenario processes.",
		}, []string{"scenario"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spawn_failures_total",
			Help:      "Number of processes that could not be launched.",
		}, []string{"scenario"},
	)
	readinessWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "readiness_wait_seconds",
			Help:      "Time from spawn (or previous session) until the readiness marker matched.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"scenario"},
	)
	probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Number of probes by result (ok, error, mismatch).",
		}, []string{"scenario", "result"},
	)
	terminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminations_total",
			Help:      "Number of terminations by mode (graceful, killed, exited, error).",
		}, []string{"scenario", "mode"},
	)
	failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Number of failed scenario runs by the stage that failed.",
		}, []string{"scenario", "stage"},
	)
	running = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_processes",
			Help:      "Scenario processes currently alive.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{spawns, spawnFailures, readinessWait, probes, terminations, failures, running}
	cs = append(cs, resourceCollectors()...)
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// Already registered with this registry: keep the existing collector.
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by the harness to record metrics.
// They no-op if Register hasn't been called.

func IncSpawn(scenario string) {
	if regOK.Load() {
		spawns.WithLabelValues(scenario).Inc()
		running.Inc()
	}
}

func IncSpawnFailure(scenario string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(scenario).Inc()
	}
}

func ObserveReadiness(scenario string, seconds float64) {
	if regOK.Load() {
		readinessWait.WithLabelValues(scenario).Observe(seconds)
	}
}

func IncProbe(scenario, result string) {
	if regOK.Load() {
		probes.WithLabelValues(scenario, result).Inc()
	}
}

// IncTermination counts a termination and lowers the running gauge.
func IncTermination(scenario, mode string) {
	if regOK.Load() {
		terminations.WithLabelValues(scenario, mode).Inc()
		running.Dec()
	}
}

func IncFailure(scenario, stage string) {
	if regOK.Load() {
		failures.WithLabelValues(scenario, stage).Inc()
	}
}
