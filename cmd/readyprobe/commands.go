package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/h3xium/nx/internal/config"
	"github.com/h3xium/nx/internal/harness"
	"github.com/h3xium/nx/internal/history"
	"github.com/h3xium/nx/internal/history/factory"
	"github.com/h3xium/nx/internal/logger"
	"github.com/h3xium/nx/internal/metrics"
	"github.com/h3xium/nx/internal/probe"
	"github.com/h3xium/nx/internal/process"
)

// command holds what the subcommands share: output writers, global flags and
// the resources opened from them.
type command struct {
	out    io.Writer
	errOut io.Writer
	global *GlobalFlags

	log     *slog.Logger
	sink    history.Multi
	metrics *http.Server
}

func newCommand(out, errOut io.Writer) *command {
	return &command{out: out, errOut: errOut, global: &GlobalFlags{}}
}

func (c *command) setup(_ *cobra.Command) error {
	c.log = logger.New(logger.Config{Level: c.global.LogLevel, Format: c.global.LogFormat}, c.errOut)
	return nil
}

// open starts the metrics endpoint and history sinks named by the global flags.
func (c *command) open() error {
	if c.global.MetricsAddr != "" && c.metrics == nil {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		ln, err := net.Listen("tcp", c.global.MetricsAddr)
		if err != nil {
			return fmt.Errorf("metrics listen: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		c.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := c.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.log.Error("metrics server", "err", err)
			}
		}()
		c.log.Info("serving metrics", "addr", ln.Addr().String())
	}
	if len(c.global.HistoryDSN) > 0 && c.sink == nil {
		sink, err := factory.NewMulti(c.global.HistoryDSN...)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		c.sink = sink
	}
	return nil
}

func (c *command) teardown() error {
	var errs []error
	if c.sink != nil {
		errs = append(errs, c.sink.Close())
		c.sink = nil
	}
	if c.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		errs = append(errs, c.metrics.Shutdown(ctx))
		cancel()
		c.metrics = nil
	}
	return errors.Join(errs...)
}

func (c *command) logger() *slog.Logger {
	if c.log == nil {
		c.log = logger.New(logger.Config{Level: c.global.LogLevel, Format: c.global.LogFormat}, c.errOut)
	}
	return c.log
}

func (c *command) harness() (*harness.Harness, error) {
	if err := c.open(); err != nil {
		return nil, err
	}
	opts := harness.Options{
		Logger:         c.logger(),
		LockDir:        c.global.LockDir,
		SampleInterval: c.global.SampleInterval,
	}
	if len(c.sink) > 0 {
		opts.Sink = c.sink
	}
	return harness.New(opts), nil
}

// Run executes one scenario described by flags.
func (c *command) Run(ctx context.Context, f RunFlags) error {
	h, err := c.harness()
	if err != nil {
		return err
	}
	r, err := h.Run(ctx, f.scenario())
	c.printReports(f.JSON, []harness.Report{r})
	return err
}

func (f RunFlags) scenario() harness.Scenario {
	return harness.Scenario{
		Name: f.Name,
		Process: process.Spec{
			Name:      f.Name,
			Command:   f.Cmd,
			Args:      f.Args,
			WorkDir:   f.WorkDir,
			Env:       f.Env,
			StopGrace: f.StopGrace,
		},
		Marker:        f.Marker,
		ReadyTimeout:  f.ReadyTimeout,
		ProbeURL:      f.ProbeURL,
		ProbeTimeout:  f.ProbeTimeout,
		ProbeRetry:    f.ProbeRetry,
		ExpectMessage: f.Expect,
		Signal:        f.Signal,
		Sessions:      f.Sessions,
		RestartSignal: f.RestartSignal,
		ExpectOutput:  f.ExpectOutput,
		Port:          f.Port,
	}
}

// Suite runs the scenarios of a suite file. changed reports which flags were
// given explicitly; suite settings fill in the rest.
func (c *command) Suite(ctx context.Context, f SuiteFlags, changed func(string) bool) error {
	s, err := config.Load(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("load suite: %w", err)
	}
	c.applySettings(s.Settings, changed)
	if !changed("stop-on-fail") {
		f.StopOnFail = f.StopOnFail || s.Settings.StopOnFail
	}
	scs, err := s.Select(f.Only...)
	if err != nil {
		return err
	}
	h, err := c.harness()
	if err != nil {
		return err
	}
	c.logger().Info("running suite", "config", f.ConfigPath, "scenarios", len(scs))
	reports, err := h.RunAll(ctx, scs, f.StopOnFail)
	c.printReports(f.JSON, reports)
	return err
}

func (c *command) applySettings(st config.Settings, changed func(string) bool) {
	g := c.global
	relog := false
	if !changed("log-level") && st.LogLevel != "" {
		g.LogLevel, relog = st.LogLevel, true
	}
	if !changed("log-format") && st.LogFormat != "" {
		g.LogFormat, relog = st.LogFormat, true
	}
	if !changed("metrics-addr") && st.MetricsAddr != "" {
		g.MetricsAddr = st.MetricsAddr
	}
	if !changed("history-dsn") && len(st.HistoryDSN) > 0 {
		g.HistoryDSN = st.HistoryDSN
	}
	if !changed("lock-dir") && st.LockDir != "" {
		g.LockDir = st.LockDir
	}
	if !changed("sample-interval") && st.SampleInterval > 0 {
		g.SampleInterval = st.SampleInterval
	}
	if relog {
		c.log = logger.New(logger.Config{Level: g.LogLevel, Format: g.LogFormat}, c.errOut)
	}
}

// Probe requests a URL once, or with retries, and prints the message.
func (c *command) Probe(ctx context.Context, f ProbeFlags) error {
	p := probe.New(f.Timeout)
	var (
		res probe.Result
		err error
	)
	if f.Retry > 0 {
		res, err = p.ProbeRetry(ctx, f.URL, f.Retry)
	} else {
		res, err = p.Probe(ctx, f.URL)
	}
	if err != nil {
		return err
	}
	if f.Expect != "" && res.Message() != f.Expect {
		return fmt.Errorf("%w: got %q, want %q", harness.ErrUnexpectedMessage, res.Message(), f.Expect)
	}
	if f.JSON {
		printJSON(c.out, res)
		return nil
	}
	_, _ = fmt.Fprintf(c.out, "%d %s (%s, %d attempts)\n", res.StatusCode, res.Message(), res.Duration.Round(time.Millisecond), res.Attempts)
	return nil
}

// Kill terminates the process tree rooted at a pid.
func (c *command) Kill(ctx context.Context, f KillFlags) error {
	sig, err := process.ParseSignal(f.Signal)
	if err != nil {
		return err
	}
	c.logger().Info("terminating process tree", "pid", f.PID, "signal", sig.String())
	if err := process.TerminatePID(ctx, f.PID, sig, f.Grace); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "terminated %d\n", f.PID)
	return nil
}
