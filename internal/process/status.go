package process

import "time"

// TermState is the termination state of a managed process.
type TermState int32

const (
	StateRunning TermState = iota
	StateTerminated
	StateKilled
)

func (s TermState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	case StateKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of a process.
type Status struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	Exited    bool      `json:"exited"`
	ExitCode  int       `json:"exit_code"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitErr   string    `json:"exit_error,omitempty"`
}
