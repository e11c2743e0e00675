// Package events carries signature notifications from the signing flow to
// interested parties: SSE clients in-process and the AMQP worker out of
// process.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"folhaponto/internal/log"
)

type Type string

const (
	FichaSigned             Type = "ficha.signed"
	ManagerSignatureUpdated Type = "manager_signature.updated"
)

// SignatureEvent is emitted after a signature has been stored.
type SignatureEvent struct {
	Type       Type      `json:"type"`
	FichaID    string    `json:"fichaId,omitempty"`
	EmployeeID string    `json:"employeeId,omitempty"`
	Month      int       `json:"month,omitempty"`
	Year       int       `json:"year,omitempty"`
	At         time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev SignatureEvent) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev SignatureEvent) error

func (f PublisherFunc) Publish(ctx context.Context, ev SignatureEvent) error { return f(ctx, ev) }

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev SignatureEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(context.Context, SignatureEvent) error { return nil })

// Broker fans events out to in-process subscribers. Subscribers that do not
// keep up lose events instead of blocking the publisher.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[chan SignatureEvent]struct{}
	buffer int
}

func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 8
	}
	return &Broker{subs: map[string]map[chan SignatureEvent]struct{}{}, buffer: buffer}
}

// Subscribe registers interest in the events of fichaID, or in every event
// when fichaID is empty. The returned cancel func must be called to release
// the subscription; it closes the channel.
func (b *Broker) Subscribe(fichaID string) (<-chan SignatureEvent, func()) {
	ch := make(chan SignatureEvent, b.buffer)
	b.mu.Lock()
	if b.subs[fichaID] == nil {
		b.subs[fichaID] = map[chan SignatureEvent]struct{}{}
	}
	b.subs[fichaID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[fichaID], ch)
			if len(b.subs[fichaID]) == 0 {
				delete(b.subs, fichaID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broker) Publish(ctx context.Context, ev SignatureEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := 0
	deliver := func(set map[chan SignatureEvent]struct{}) {
		for ch := range set {
			select {
			case ch <- ev:
			default:
				dropped++
			}
		}
	}
	if ev.FichaID != "" {
		deliver(b.subs[ev.FichaID])
	}
	deliver(b.subs[""])
	if dropped > 0 {
		slog.WarnContext(ctx, "Dropped signature event for slow subscribers",
			log.FieldComponent, log.ComponentEvents, log.FieldEventType, ev.Type, log.FieldFichaID, ev.FichaID, "dropped", dropped)
	}
	return nil
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, set := range b.subs {
		n += len(set)
	}
	return n
}
