package process

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrStillRunning is wrapped by TerminationError when members of the process
// tree survive SIGKILL.
var ErrStillRunning = errors.New("process tree still running after kill")

// SpawnError reports that a process could not be started.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// TerminationError reports that a process tree could not be signalled or did not exit.
type TerminationError struct {
	PID    int
	Signal syscall.Signal
	Err    error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("terminate pid %d with %v: %v", e.PID, e.Signal, e.Err)
}

func (e *TerminationError) Unwrap() error { return e.Err }
