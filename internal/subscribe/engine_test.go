package subscribe

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloq/notifyd/internal/event"
	"github.com/arloq/notifyd/internal/store"
)

func waitEvent(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivered event")
		return event.Event{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan event.Event) {
	t.Helper()
	select {
	case e, ok := <-ch:
		if ok {
			t.Fatalf("unexpected delivery: %+v", e)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngineDeliversMatchingEventsInOrder(t *testing.T) {
	m := store.NewMemory()
	e := NewEngine(m, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := e.Register(ctx, event.Filter{KeyAny: true}, 0, DefaultBufferSize)

	_, err := m.Append(context.Background(), event.Event{Key: "a", Value: "1"})
	require.NoError(t, err)
	_, err = m.Append(context.Background(), event.Event{Key: "a", Value: "2"})
	require.NoError(t, err)

	first := waitEvent(t, l.Events())
	second := waitEvent(t, l.Events())
	assert.Equal(t, "1", first.Value)
	assert.Equal(t, "2", second.Value)
}

func TestEngineSkipsNonMatchingEvents(t *testing.T) {
	m := store.NewMemory()
	e := NewEngine(m, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ns := "target"
	l := e.Register(ctx, event.Filter{KeyAny: true, Namespace: &ns}, 0, DefaultBufferSize)

	_, err := m.Append(context.Background(), event.Event{Key: "a", Namespace: "other"})
	require.NoError(t, err)
	_, err = m.Append(context.Background(), event.Event{Key: "a", Namespace: "target", Value: "hit"})
	require.NoError(t, err)

	got := waitEvent(t, l.Events())
	assert.Equal(t, "hit", got.Value)
}

// A slow listener that never drains its buffer must block only its own
// delivery goroutine, leaving a second, well-behaved listener unaffected.
func TestEngineSlowListenerDoesNotStallOthers(t *testing.T) {
	m := store.NewMemory()
	e := NewEngine(m, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slow := e.Register(ctx, event.Filter{KeyAny: true}, 0, 1)
	fast := e.Register(ctx, event.Filter{KeyAny: true}, 0, DefaultBufferSize)

	for i := 0; i < 5; i++ {
		_, err := m.Append(context.Background(), event.Event{Key: "a", Value: "v"})
		require.NoError(t, err)
	}

	for i := 0; i < 5; i++ {
		waitEvent(t, fast.Events())
	}

	// slow's buffer holds exactly one undelivered event; the rest are
	// stuck behind it in the goroutine's blocking send, not lost.
	waitEvent(t, slow.Events())
}

func TestEngineCloseStopsDelivery(t *testing.T) {
	m := store.NewMemory()
	e := NewEngine(m, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := e.Register(ctx, event.Filter{KeyAny: true}, 0, DefaultBufferSize)
	l.Close()

	// Give the delivery goroutine a moment to observe done and exit.
	time.Sleep(50 * time.Millisecond)

	_, err := m.Append(context.Background(), event.Event{Key: "a"})
	require.NoError(t, err)

	assertNoEvent(t, l.Events())

	require.Eventually(t, func() bool {
		return e.ActiveListeners() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestEngineReplayFromVersionCursor(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	first, err := m.Append(ctx, event.Event{Key: "a", Value: "1"})
	require.NoError(t, err)
	_, err = m.Append(ctx, event.Event{Key: "a", Value: "2"})
	require.NoError(t, err)

	e := NewEngine(m, zerolog.Nop())
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()
	l := e.Register(lctx, event.Filter{KeyAny: true}, first.Version, DefaultBufferSize)

	got := waitEvent(t, l.Events())
	assert.Equal(t, "2", got.Value)
}
