// Package events carries supervision events between the engine's control
// loops. The marker watcher and liveness loop publish; the engine goroutine is
// the only subscriber that mutates state, which keeps a liveness-triggered
// process restart from racing a marker-triggered teardown.
package events

import (
	"sync"
	"time"
)

// Topic enumerates bus channels shared across the engine's loops.
type Topic string

const (
	TopicRestartRequested Topic = "restart_requested"
	TopicProcessDied      Topic = "process_died"
	TopicRulesApplied     Topic = "rules_applied"
)

// Event represents a message broadcast on the event bus.
type Event struct {
	Topic   Topic
	Payload any
}

// RestartRequested reports detection of the external restart marker.
type RestartRequested struct {
	MarkerPath string
	DetectedAt time.Time
}

// ProcessDied reports that a supervised process failed its liveness check.
type ProcessDied struct {
	Role string
	Name string
	Pid  int
}

// RulesApplied announces that a new forwarding rule set took effect.
type RulesApplied struct {
	Joins    int
	Forwards int
}

// Bus is a simple pub/sub dispatcher for intra-process events.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]chan Event
	closed bool
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan Event)}
}

// Subscribe registers a buffered channel for a topic.
func (b *Bus) Subscribe(topic Topic, buffer int) <-chan Event {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// Publish broadcasts an event to all subscribers.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[evt.Topic] {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is saturated; listeners should size buffers appropriately.
		}
	}
}

// Close shuts down the bus and all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.subs = nil
}
