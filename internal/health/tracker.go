// Package health tracks per-process liveness state for the supervisor and the
// status endpoint.
package health

import (
	"fmt"
	"sync"
	"time"
)

type Level int

const (
	LevelOK Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelOK:
		return "ok"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(l))
	}
}

type Status struct {
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Restarts  int       `json:"restarts,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker maintains a thread-safe collection of component health statuses.
type Tracker struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

func NewTracker() *Tracker {
	return &Tracker{statuses: make(map[string]Status)}
}

func (t *Tracker) Set(name string, status Status) {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	t.mu.Lock()
	t.statuses[name] = status
	t.mu.Unlock()
}

func (t *Tracker) Setf(name string, level Level, format string, args ...any) {
	t.Set(name, Status{Level: level, Message: fmt.Sprintf(format, args...)})
}

// BumpRestarts increments the consecutive-restart counter for a process and
// returns the new count. The counter drives log escalation when restarts keep
// failing.
func (t *Tracker) BumpRestarts(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.statuses[name]
	s.Restarts++
	s.UpdatedAt = time.Now().UTC()
	t.statuses[name] = s
	return s.Restarts
}

// ClearRestarts resets the consecutive-restart counter after a process stays up.
func (t *Tracker) ClearRestarts(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.statuses[name]
	s.Restarts = 0
	t.statuses[name] = s
}

func (t *Tracker) Status(name string) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.statuses[name]
	return s, ok
}

func (t *Tracker) Snapshot() map[string]Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Status, len(t.statuses))
	for k, v := range t.statuses {
		out[k] = v
	}
	return out
}

func (t *Tracker) Overall() Level {
	t.mu.RLock()
	defer t.mu.RUnlock()
	worst := LevelOK
	for _, st := range t.statuses {
		if st.Level > worst {
			worst = st.Level
		}
	}
	return worst
}
