package harness

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/h3xium/nx/internal/probe"
	"github.com/h3xium/nx/internal/process"
)

// Re-exported so callers only need this package for errors.As.
type (
	SpawnError       = process.SpawnError
	TerminationError = process.TerminationError
	ProbeError       = probe.Error
)

var (
	// ErrNotReady is returned by Probe before a readiness marker matched.
	ErrNotReady = errors.New("session is not ready")
	// ErrSessionClosed is returned by operations on a terminated or failed session.
	ErrSessionClosed = errors.New("session is closed")
	// ErrUnexpectedMessage is returned when the probe payload message differs from the expected one.
	ErrUnexpectedMessage = errors.New("unexpected probe message")
	// ErrOutputMissing is returned when expected output never appeared.
	ErrOutputMissing = errors.New("expected output missing")
)

// ReadinessTimeout reports that the readiness marker was not observed.
type ReadinessTimeout struct {
	Marker  string
	Timeout time.Duration
	// Exited is true when the output stream ended before the marker appeared.
	Exited bool
	// Tail holds the last lines of output for diagnostics.
	Tail []string
	Err  error
}

func (e *ReadinessTimeout) Error() string {
	var b strings.Builder
	if e.Exited {
		fmt.Fprintf(&b, "process output ended before marker %q", e.Marker)
	} else {
		fmt.Fprintf(&b, "marker %q not observed within %s", e.Marker, e.Timeout)
	}
	if len(e.Tail) > 0 {
		b.WriteString("; last output:\n  ")
		b.WriteString(strings.Join(e.Tail, "\n  "))
	}
	return b.String()
}

func (e *ReadinessTimeout) Unwrap() error { return e.Err }

// StageError attaches the failing stage to an error.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// Stage returns the stage name recorded in err, or "" when there is none.
func Stage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
