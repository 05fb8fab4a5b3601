// Package subscribe implements the C4 subscription engine: per-listener
// delivery of new events matching a filter, fed by watching the event
// store independently of the publish path (C3 never calls into this
// package — see internal/notify's package doc).
//
// This intentionally diverges from the teacher's EventLog.Subscribe,
// which uses a non-blocking send with a drop-on-full default case so a
// slow reader can never stall the log. Listeners here use blocking
// backpressure instead: a full listener buffer blocks that listener's
// own delivery goroutine until it drains, while every other listener
// keeps receiving normally. A slow or stalled consumer falls behind
// rather than silently losing events.
package subscribe

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arloq/notifyd/internal/event"
	"github.com/arloq/notifyd/internal/store"
)

// DefaultBufferSize is the per-listener outbound queue depth used when a
// caller doesn't specify one.
const DefaultBufferSize = 64

// DefaultPollInterval is how often a backend with no instant wakeup
// channel (i.e. anything but Memory) is polled for new events.
const DefaultPollInterval = 100 * time.Millisecond

// notifier is implemented by backends that can wake a waiting listener
// immediately rather than making it wait out a poll interval. Memory
// implements it; SQLite does not, so SQLite-backed listeners fall back
// to polling.
type notifier interface {
	Notify() <-chan struct{}
}

// Engine owns the set of active listeners and, one goroutine per
// listener, pulls newly matching events from the store and delivers them.
type Engine struct {
	store        store.EventStore
	notifier     notifier
	pollInterval time.Duration
	log          zerolog.Logger

	mu        sync.Mutex
	listeners map[uint64]*Listener
	nextID    uint64
}

// NewEngine wires an Engine around the given store. If the store also
// implements the notifier interface (Memory does), listeners wake
// immediately on every append instead of waiting for the next poll tick.
func NewEngine(backend store.EventStore, log zerolog.Logger) *Engine {
	e := &Engine{
		store:        backend,
		pollInterval: DefaultPollInterval,
		log:          log.With().Str("component", "subscribe").Logger(),
		listeners:    make(map[uint64]*Listener),
	}
	if n, ok := backend.(notifier); ok {
		e.notifier = n
	}
	return e
}

// Register starts a new listener matching filter, replaying nothing
// older than fromVersionExclusive, and returns a handle whose Events()
// channel receives every subsequent match in version order. Close the
// returned Listener (or cancel ctx) to stop delivery.
func (e *Engine) Register(ctx context.Context, filter event.Filter, fromVersionExclusive int64, bufferSize int) *Listener {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	l := newListener(id, filter, bufferSize)
	e.listeners[id] = l
	e.mu.Unlock()

	go e.deliver(ctx, l, fromVersionExclusive)
	return l
}

// ActiveListeners returns the current listener count, for metrics.
func (e *Engine) ActiveListeners() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// deliver is the per-listener goroutine: it repeatedly fetches events
// since cursor matching l.Filter and blocks sending each one to
// l.outbound, advancing cursor only after the send succeeds. Because the
// blocking send is local to this goroutine, a full buffer never affects
// any other listener.
func (e *Engine) deliver(ctx context.Context, l *Listener, cursor int64) {
	defer func() {
		e.mu.Lock()
		delete(e.listeners, l.ID)
		e.mu.Unlock()
		close(l.outbound)
	}()

	for {
		wake := e.wakeSignal()

		batch, err := e.store.List(ctx, store.ListFilter{Filter: withCursor(l.Filter, cursor)})
		if err != nil {
			e.log.Error().Err(err).Uint64("listener_id", l.ID).Msg("listen query failed")
			select {
			case <-l.done:
				return
			case <-ctx.Done():
				return
			case <-time.After(e.pollInterval):
				continue
			}
		}

		for _, ev := range batch {
			select {
			case l.outbound <- ev:
				cursor = ev.Version
			case <-l.done:
				return
			case <-ctx.Done():
				return
			}
		}

		if len(batch) > 0 {
			// More may already be waiting; re-check before sleeping.
			continue
		}

		select {
		case <-l.done:
			return
		case <-ctx.Done():
			return
		case <-wake:
		case <-time.After(e.pollInterval):
		}
	}
}

// wakeSignal returns the backend's instant-notify channel when available,
// or a channel that never fires (so the poll timeout governs instead).
func (e *Engine) wakeSignal() <-chan struct{} {
	if e.notifier != nil {
		return e.notifier.Notify()
	}
	return nil
}

// withCursor returns a copy of f with VersionLowExclusive set to cursor,
// leaving the caller's original filter untouched.
func withCursor(f event.Filter, cursor int64) event.Filter {
	f.VersionLowExclusive = cursor
	return f
}
