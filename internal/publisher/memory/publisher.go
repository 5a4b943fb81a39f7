// Package memory contains an in-process publisher used in development
// mode and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Event captures one publish call.
type Event struct {
	Topic   string
	Payload any
}

// Publisher records published events for later inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []Event
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a pseudo message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Event{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.events)), nil
}

// Events returns the recorded publishes in order.
func (p *Publisher) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// EventsFor returns the recorded publishes for one topic.
func (p *Publisher) EventsFor(topic string) []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Event
	for _, e := range p.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}
