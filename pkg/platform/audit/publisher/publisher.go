// Package publisher fans audit events out to a primary store and optional
// secondary sinks (e.g. Kafka). Emit is non-blocking in async mode; the
// buffer drains on Close.
package publisher

import (
	"context"
	"sync"
	"time"

	id "vouch/pkg/domain"
	audit "vouch/pkg/platform/audit"
)

// Store is the primary, queryable audit destination.
type Store interface {
	Append(ctx context.Context, event audit.Event) error
	ListByUser(ctx context.Context, userID id.UserID) ([]audit.Event, error)
}

// Sink receives a copy of every event. Sink failures are best-effort and
// never surface to the emitter.
type Sink interface {
	Publish(ctx context.Context, event audit.Event) error
}

type Publisher struct {
	store Store
	sinks []Sink

	ch     chan audit.Event
	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

type Option func(*Publisher)

// WithAsyncBuffer enables asynchronous emission with the given buffer size.
// When the buffer is full, events are dropped rather than blocking the
// request path.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.ch = make(chan audit.Event, size)
	}
}

// WithSink adds a secondary sink.
func WithSink(sink Sink) Option {
	return func(p *Publisher) {
		if sink != nil {
			p.sinks = append(p.sinks, sink)
		}
	}
}

func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.ch != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit records an audit event. In async mode a full buffer drops the event;
// audit must never block or fail a domain operation.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if p.ch == nil {
		return p.deliver(ctx, event)
	}
	select {
	case <-p.closed:
		return nil
	default:
	}
	select {
	case p.ch <- event:
	default:
		// Buffer full: drop.
	}
	return nil
}

// List returns the events recorded for a user from the primary store.
func (p *Publisher) List(ctx context.Context, userID id.UserID) ([]audit.Event, error) {
	return p.store.ListByUser(ctx, userID)
}

// Close stops async processing and drains buffered events. The channel is
// never closed so a racing Emit can at worst drop, not panic.
func (p *Publisher) Close() {
	p.once.Do(func() {
		close(p.closed)
		if p.ch != nil {
			p.wg.Wait()
		}
	})
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for {
		select {
		case event := <-p.ch:
			_ = p.deliver(context.Background(), event)
		case <-p.closed:
			for {
				select {
				case event := <-p.ch:
					_ = p.deliver(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, event audit.Event) error {
	err := p.store.Append(ctx, event)
	for _, sink := range p.sinks {
		_ = sink.Publish(ctx, event)
	}
	return err
}
