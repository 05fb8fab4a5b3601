package subscribe

import (
	"sync"

	"github.com/arloq/notifyd/internal/event"
)

// Listener is a single active subscription. Events matching Filter are
// delivered on Events(), strictly in version order, by a dedicated
// goroutine owned by the Engine. Close stops that goroutine; it is safe
// to call more than once and safe to call from any goroutine.
type Listener struct {
	ID     uint64
	Filter event.Filter

	outbound chan event.Event
	done     chan struct{}
	once     sync.Once
}

func newListener(id uint64, filter event.Filter, bufferSize int) *Listener {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Listener{
		ID:       id,
		Filter:   filter,
		outbound: make(chan event.Event, bufferSize),
		done:     make(chan struct{}),
	}
}

// Events returns the channel this listener's matching events arrive on.
// The channel is closed once the listener is closed and its delivery
// goroutine has exited.
func (l *Listener) Events() <-chan event.Event {
	return l.outbound
}

// Close stops delivery to this listener. Events already queued on
// Events() remain readable until drained; the channel is then closed by
// the delivery goroutine.
func (l *Listener) Close() {
	l.once.Do(func() { close(l.done) })
}
