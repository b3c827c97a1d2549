// Package memory keeps job lifecycle events in process. It stands in
// for Pub/Sub during development and lets tests inspect what the
// workers announced.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher records every published event for later inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []Event
}

// Event captures one job lifecycle announcement.
type Event struct {
	Topic   string
	Payload any
}

// New returns an empty in-process Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a local pseudo message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Event{Topic: topic, Payload: payload})
	return fmt.Sprintf("local-%d", len(p.events)), nil
}

// Events returns a copy of the recorded announcements.
func (p *Publisher) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
