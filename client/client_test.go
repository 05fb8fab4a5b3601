package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloq/notifyd/client"
	"github.com/arloq/notifyd/internal/event"
	"github.com/arloq/notifyd/internal/ha"
	"github.com/arloq/notifyd/internal/notify"
	"github.com/arloq/notifyd/internal/rpcserver"
	"github.com/arloq/notifyd/internal/store"
	"github.com/arloq/notifyd/internal/subscribe"
)

func startServer(t *testing.T, backend store.Backend, elector *ha.Elector) string {
	t.Helper()
	svc := notify.NewService(backend, true, zerolog.Nop())
	engine := subscribe.NewEngine(backend, zerolog.Nop())
	srv, err := rpcserver.New("127.0.0.1:0", svc, engine, elector, 0, nil, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		<-done
	})
	return srv.Addr().String()
}

func TestClientRegisterSendListRoundTrip(t *testing.T) {
	addr := startServer(t, store.NewMemory(), nil)
	c := client.New(addr, client.WithNamespace("a"), client.WithSender("s"))
	ctx := context.Background()

	reg, err := c.Register(ctx)
	require.NoError(t, err)
	assert.NotZero(t, reg.ClientID)

	sent, err := c.SendEvent(ctx, event.Event{Key: "key", Value: "v"})
	require.NoError(t, err)
	assert.Equal(t, "a", sent.Namespace)
	assert.Equal(t, "s", sent.Sender)

	got, err := c.ListEvents(ctx, client.QueryOptions{Keys: []string{event.Wildcard}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "key", got[0].Key)
}

func TestClientGetClientAndListAllEventsByTime(t *testing.T) {
	addr := startServer(t, store.NewMemory(), nil)
	c := client.New(addr, client.WithNamespace("a"), client.WithSender("s"))
	ctx := context.Background()

	reg, err := c.Register(ctx)
	require.NoError(t, err)

	got, err := c.GetClient(ctx, reg.ClientID)
	require.NoError(t, err)
	assert.Equal(t, reg.ClientID, got.ClientID)

	other := client.New(addr, client.WithNamespace("b"), client.WithSender("s"))
	_, err = c.SendEvent(ctx, event.Event{Key: "key", Value: "v"})
	require.NoError(t, err)
	_, err = other.SendEvent(ctx, event.Event{Key: "key", Value: "v"})
	require.NoError(t, err)

	events, err := c.ListAllEventsByTime(ctx, 0, 0, client.QueryOptions{Keys: []string{event.Wildcard}})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestClientIdempotentSendDeduplicates(t *testing.T) {
	addr := startServer(t, store.NewMemory(), nil)
	c := client.New(addr, client.WithNamespace("a"), client.WithSender("s"), client.WithSequenceManager(client.NewSequenceManager(0)))
	ctx := context.Background()

	reg, err := c.Register(ctx)
	require.NoError(t, err)

	first, err := c.SendEvent(ctx, event.Event{Key: "key", Value: "v1"})
	require.NoError(t, err)

	// A second handle bound to the same client id, its sequence manager
	// seeded at 0, reissues sequence number 1: a client-side retry of the
	// same logical send after a lost response.
	retry := client.New(addr, client.WithNamespace("a"), client.WithSender("s"), client.WithClientID(reg.ClientID), client.WithSequenceManager(client.NewSequenceManager(0)))
	replayed, err := retry.SendEvent(ctx, event.Event{Key: "key", Value: "v1"})
	require.NoError(t, err)
	assert.Equal(t, first, replayed)

	total, _, err := c.CountEvents(ctx, client.QueryOptions{Keys: []string{event.Wildcard}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, int64(1), first.Version)
}

func TestClientListenEventReceivesNewEvents(t *testing.T) {
	backend := store.NewMemory()
	addr := startServer(t, backend, nil)
	c := client.New(addr, client.WithNamespace("a"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := c.StartListenEvent(ctx, client.QueryOptions{Keys: []string{event.Wildcard}}, 0)
	require.NoError(t, err)
	defer sub.Stop()

	sender := client.New(addr, client.WithNamespace("a"))
	_, err = sender.SendEvent(ctx, event.Event{Key: "key", Value: "v"})
	require.NoError(t, err)

	select {
	case ev := <-sub.C():
		assert.Equal(t, "key", ev.Key)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for streamed event")
	}
}

// Two peers share the same backend and membership store; peer1 holds
// leadership. A client targeting peer2 first must redirect its mutating
// call to peer1 via HA failover rather than failing outright.
func TestClientHAFailoverToLeader(t *testing.T) {
	backend := store.NewMemory()
	membership := ha.NewMemory()
	ctx := context.Background()

	elector1 := ha.NewElector(membership, "peer1", time.Minute)
	elector2 := ha.NewElector(membership, "peer2", time.Minute)

	addr1 := startServer(t, backend, elector1)
	addr2 := startServer(t, backend, elector2)

	require.NoError(t, membership.Heartbeat(ctx, addr1, "peer1", time.Now()))
	ok, err := membership.TryBecomeLeader(ctx, "peer1", time.Now(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	c := client.New(addr2, client.WithNamespace("a"), client.WithHA([]string{addr1, addr2}, time.Hour, 5*time.Second))

	sent, err := c.SendEvent(ctx, event.Event{Key: "key", Value: "v"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), sent.Version)
}
