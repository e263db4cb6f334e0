// CLAUDE:SUMMARY Asynchronous fan-out router: bounded queue, drop on overflow, one delivery goroutine, drain on Close.
package sink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hazyhaar/feedsweep/sweep/event"
)

// DefaultBuffer is the queue length of a Router created with buffer <= 0.
const DefaultBuffer = 256

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("sink: router closed")

// Router fans out events to all configured sinks from its own goroutine.
// Send never blocks the caller: when the queue is full the event is
// dropped and counted. One sink error does not block the others.
type Router struct {
	sinks  []Sink
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan event.Event
	done   chan struct{}

	dropped atomic.Int64
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, buffer int, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	r := &Router{
		sinks:  sinks,
		logger: logger,
		queue:  make(chan event.Event, buffer),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Router) loop() {
	defer close(r.done)
	for ev := range r.queue {
		for _, s := range r.sinks {
			if err := s.Send(context.Background(), ev); err != nil {
				r.logger.Warn("sink: send event failed", "kind", ev.Kind, "seq", ev.Seq, "error", err)
			}
		}
	}
}

// Send enqueues ev for delivery.
func (r *Router) Send(_ context.Context, ev event.Event) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	select {
	case r.queue <- ev:
	default:
		n := r.dropped.Add(1)
		r.logger.Debug("sink: queue full, event dropped", "kind", ev.Kind, "seq", ev.Seq, "dropped", n)
	}
	return nil
}

// Dropped returns the number of events discarded on overflow.
func (r *Router) Dropped() int64 { return r.dropped.Load() }

// Close stops accepting events, delivers the queued ones and closes every
// sink. The first close error is returned.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done

	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
