// Package eventbus is an in-process publish/subscribe bus for dispatch and
// worker lifecycle events.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"switchboard/internal/domain"
)

const defaultQueueSize = 256

type delivery struct {
	ctx   context.Context
	event domain.Event
}

// subscriber owns a queue drained by one goroutine, so each handler sees
// events in publish order.
type subscriber struct {
	id      uint64
	typ     domain.EventType // empty matches every event
	handler domain.EventHandler
	queue   chan delivery
}

func (s *subscriber) matches(t domain.EventType) bool {
	return s.typ == "" || s.typ == t
}

// Bus is an in-process, goroutine-safe event bus. Publish never blocks: an
// event is dropped for a subscriber whose queue is full.
type Bus struct {
	mu        sync.RWMutex
	subs      []*subscriber
	nextID    atomic.Uint64
	queueSize int
	logger    *slog.Logger
	wg        sync.WaitGroup
	closed    bool
	dropped   atomic.Uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize sets the per-subscriber queue length.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// New creates an event bus.
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{queueSize: defaultQueueSize, logger: logger}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Publish enqueues event for every matching subscriber. Handlers receive a
// context that keeps ctx's values but not its cancellation.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	d := delivery{ctx: context.WithoutCancel(ctx), event: event}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		if !s.matches(event.Type) {
			continue
		}
		select {
		case s.queue <- d:
		default:
			b.dropped.Add(1)
			b.logger.Warn("eventbus: dropped event for slow subscriber",
				"event", string(event.Type), "subscriber", s.id)
		}
	}
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add("", handler)
}

func (b *Bus) add(typ domain.EventType, handler domain.EventHandler) func() {
	s := &subscriber{
		id:      b.nextID.Add(1),
		typ:     typ,
		handler: handler,
		queue:   make(chan delivery, b.queueSize),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.subs = append(b.subs, s)
	b.wg.Add(1)
	b.mu.Unlock()

	go b.run(s)

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(s) })
	}
}

func (b *Bus) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.subs {
		if cur == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(s.queue)
			return
		}
	}
}

func (b *Bus) run(s *subscriber) {
	defer b.wg.Done()
	for d := range s.queue {
		b.deliver(s, d)
	}
}

func (b *Bus) deliver(s *subscriber, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Type),
				"panic", r,
			)
		}
	}()
	s.handler(d.ctx, d.event)
}

// Dropped returns how many deliveries were dropped because a subscriber's
// queue was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close prevents new publishes, delivers what is already queued and waits
// for the handlers to finish. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.queue)
	}
	b.subs = nil
	b.mu.Unlock()

	b.wg.Wait()
}

var _ domain.EventBus = (*Bus)(nil)
