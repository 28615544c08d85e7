package harness

import "fmt"

// State is the lifecycle stage of a session.
type State int32

const (
	StateSpawned State = iota
	StateReady
	StateVerified
	StateTerminated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateReady:
		return "ready"
	case StateVerified:
		return "verified"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == StateTerminated || s == StateFailed }

// transitions lists the allowed moves. verified -> ready (or ready -> ready
// when nothing is probed) is the next listening session of a restarted
// server. Any non-terminal state may fail.
var transitions = map[State][]State{
	StateSpawned:  {StateReady, StateTerminated, StateFailed},
	StateReady:    {StateReady, StateVerified, StateTerminated, StateFailed},
	StateVerified: {StateReady, StateTerminated, StateFailed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
