package event

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

var ErrDispatcherClosed = errors.New("event dispatcher closed")

// Publisher is the fire-and-forget side of the dispatcher consumed by the
// routing and member services.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Handler reacts to a single event. Errors are logged, never returned to
// the publisher.
type Handler func(ctx context.Context, e Event) error

type queuedEvent struct {
	ctx   context.Context
	event Event
}

// Dispatcher delivers events to the subscribed handlers in subscription
// order. In synchronous mode Publish runs the handlers before returning;
// in asynchronous mode events go through a bounded queue drained by a
// single worker, so per-process ordering is preserved.
type Dispatcher struct {
	log      *slog.Logger
	mu       sync.RWMutex
	handlers []namedHandler
	queue    chan queuedEvent
	queueMu  sync.RWMutex
	done     chan struct{}
	closed   atomic.Bool
}

type namedHandler struct {
	name string
	fn   Handler
}

type Option func(*Dispatcher)

// WithQueue switches the dispatcher to asynchronous delivery.
func WithQueue(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queue = make(chan queuedEvent, size)
		}
	}
}

func NewDispatcher(logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:  logger,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Subscribe(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, namedHandler{name: name, fn: h})
}

func (d *Dispatcher) Publish(ctx context.Context, e Event) {
	if d.closed.Load() {
		d.log.Warn("dropping event, dispatcher closed", "event", e.Name())
		return
	}

	if d.queue == nil {
		d.dispatch(ctx, e)
		return
	}

	if !d.enqueue(queuedEvent{ctx: context.WithoutCancel(ctx), event: e}) {
		d.log.Warn("event queue unavailable, dispatching inline", "event", e.Name())
		d.dispatch(ctx, e)
	}
}

func (d *Dispatcher) enqueue(qe queuedEvent) bool {
	d.queueMu.RLock()
	defer d.queueMu.RUnlock()
	if d.closed.Load() {
		return false
	}

	select {
	case d.queue <- qe:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, e Event) {
	d.mu.RLock()
	handlers := d.handlers
	d.mu.RUnlock()

	for _, h := range handlers {
		d.invoke(ctx, h, e)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, h namedHandler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("event handler panic", "handler", h.name, "event", e.Name(), "panic", r)
		}
	}()

	if err := h.fn(ctx, e); err != nil {
		d.log.Error("event handler failed", "handler", h.name, "event", e.Name(), "error", err)
	}
}

// Run starts the worker for an asynchronous dispatcher. It is a no-op in
// synchronous mode.
func (d *Dispatcher) Run() {
	if d.queue == nil {
		return
	}

	go func() {
		defer close(d.done)
		for qe := range d.queue {
			d.dispatch(qe.ctx, qe.event)
		}
	}()
}

// Shutdown stops accepting events and waits for queued ones to drain.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.queueMu.Lock()
	if !d.closed.CompareAndSwap(false, true) {
		d.queueMu.Unlock()
		return ErrDispatcherClosed
	}
	if d.queue == nil {
		d.queueMu.Unlock()
		return nil
	}
	close(d.queue)
	d.queueMu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
