package history

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Stage names the point in a scenario run an event was recorded at.
type Stage string

const (
	StageSpawn     Stage = "spawn"
	StageReady     Stage = "ready"
	StageProbe     Stage = "probe"
	StageVerified  Stage = "verified"
	StageTerminate Stage = "terminate"
	StageFailed    Stage = "failed"
)

// Event is one stage transition of a scenario run, exported to external systems.
type Event struct {
	RunID      string    `json:"run_id"`
	Scenario   string    `json:"scenario"`
	Stage      Stage     `json:"stage"`
	PID        int       `json:"pid"`
	OccurredAt time.Time `json:"occurred_at"`
	Detail     string    `json:"detail,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that implements io.Closer.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Memory keeps events in memory. The zero value is ready to use.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Stages returns the recorded stages in order, optionally filtered by run id.
func (m *Memory) Stages(runID string) []Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Stage
	for _, e := range m.events {
		if runID == "" || e.RunID == runID {
			out = append(out, e.Stage)
		}
	}
	return out
}
