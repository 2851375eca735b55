// Package mock provides recording [event.Publisher] and [event.RawPublisher]
// implementations for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vadstream/internal/event"
)

// Publisher records every published event.
type Publisher struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every Publish call. The event is still
	// recorded.
	Err error

	// Events records every event passed to Publish in order.
	Events []event.Event
}

// Publish records e and returns Err.
func (p *Publisher) Publish(_ context.Context, e event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, e)
	return p.Err
}

// Kinds returns the kinds of all recorded events in order.
func (p *Publisher) Kinds() []event.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Kind, len(p.Events))
	for i, e := range p.Events {
		out[i] = e.Kind
	}
	return out
}

// Snapshot returns a copy of the recorded events.
func (p *Publisher) Snapshot() []event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Event, len(p.Events))
	copy(out, p.Events)
	return out
}

// Message is one raw publish.
type Message struct {
	Topic   string
	Payload []byte
}

// RawPublisher records every raw publish.
type RawPublisher struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every Publish call. The message is
	// still recorded.
	Err error

	Messages []Message
}

// Publish records the message and returns Err.
func (p *RawPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Messages = append(p.Messages, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	return p.Err
}

// Snapshot returns a copy of the recorded messages.
func (p *RawPublisher) Snapshot() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.Messages))
	copy(out, p.Messages)
	return out
}

var (
	_ event.Publisher    = (*Publisher)(nil)
	_ event.RawPublisher = (*RawPublisher)(nil)
)
