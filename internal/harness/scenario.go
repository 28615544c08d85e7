package harness

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/h3xium/nx/internal/probe"
	"github.com/h3xium/nx/internal/process"
)

const (
	DefaultReadyTimeout = 30 * time.Second
	DefaultProbeTimeout = 5 * time.Second
)

// Scenario is one spawn, ready, verify, terminate cycle.
type Scenario struct {
	Name    string       `json:"name" mapstructure:"name"`
	Process process.Spec `json:"process" mapstructure:"process"`

	// Marker is the substring of stdout that signals readiness.
	Marker       string        `json:"marker" mapstructure:"marker"`
	ReadyTimeout time.Duration `json:"ready_timeout" mapstructure:"ready_timeout"`

	// ProbeURL is requested after every readiness match. Empty skips probing.
	ProbeURL      string        `json:"probe_url" mapstructure:"probe_url"`
	ProbeTimeout  time.Duration `json:"probe_timeout" mapstructure:"probe_timeout"`
	ProbeRetry    time.Duration `json:"probe_retry" mapstructure:"probe_retry"`
	ExpectMessage string        `json:"expect_message" mapstructure:"expect_message"`

	// Signal is the termination signal name; empty means SIGTERM.
	Signal string `json:"signal" mapstructure:"signal"`

	// Sessions is how many listening sessions to observe, default 1. Between
	// sessions Restart is invoked, or RestartSignal is sent to the process.
	Sessions      int                                         `json:"sessions" mapstructure:"sessions"`
	RestartSignal string                                      `json:"restart_signal" mapstructure:"restart_signal"`
	Restart       func(ctx context.Context, s *Session) error `json:"-" mapstructure:"-"`

	// ExpectOutput substrings must all appear in stdout or stderr before termination.
	ExpectOutput []string `json:"expect_output" mapstructure:"expect_output"`

	// Port is locked for the whole run when the harness has a lock directory.
	// Zero derives it from ProbeURL.
	Port int `json:"port" mapstructure:"port"`
}

// Validate checks the scenario and fills defaults.
func (sc *Scenario) Validate() error {
	if err := sc.Process.Validate(); err != nil {
		return fmt.Errorf("scenario %q: process: %w", sc.Name, err)
	}
	if sc.Marker == "" {
		return fmt.Errorf("scenario %q: marker is required", sc.Name)
	}
	if sc.Name == "" {
		sc.Name = sc.Process.DisplayName()
	}
	if sc.Process.Name == "" {
		sc.Process.Name = sc.Name
	}
	if sc.ReadyTimeout <= 0 {
		sc.ReadyTimeout = DefaultReadyTimeout
	}
	if sc.ProbeTimeout <= 0 {
		sc.ProbeTimeout = DefaultProbeTimeout
	}
	if sc.Sessions <= 0 {
		sc.Sessions = 1
	}
	if sc.ExpectMessage != "" && sc.ProbeURL == "" {
		return fmt.Errorf("scenario %q: expect_message requires probe_url", sc.Name)
	}
	if _, err := process.ParseSignal(sc.Signal); err != nil {
		return fmt.Errorf("scenario %q: %w", sc.Name, err)
	}
	if sc.Sessions > 1 && sc.Restart == nil && sc.RestartSignal != "" {
		sig, err := process.ParseSignal(sc.RestartSignal)
		if err != nil {
			return fmt.Errorf("scenario %q: restart_signal: %w", sc.Name, err)
		}
		sc.Restart = SignalRestart(sig)
	}
	if sc.Port == 0 && sc.ProbeURL != "" {
		if p, ok := probe.ExplicitPort(sc.ProbeURL); ok {
			sc.Port = p
		}
	}
	if sc.Port < 0 || sc.Port > 65535 {
		return fmt.Errorf("scenario %q: port %d out of range", sc.Name, sc.Port)
	}
	return nil
}

// SignalRestart returns a restart hook that sends sig to the session's process.
func SignalRestart(sig syscall.Signal) func(context.Context, *Session) error {
	return func(_ context.Context, s *Session) error {
		return s.Process().Signal(sig)
	}
}
