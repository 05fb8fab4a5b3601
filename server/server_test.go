package server

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloq/notifyd/client"
	"github.com/arloq/notifyd/internal/config"
	"github.com/arloq/notifyd/internal/event"
)

func TestServerRunServesMemoryBackedRequests(t *testing.T) {
	cfg := config.Defaults()
	cfg.ListenAddr = "127.0.0.1:0"

	s, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// New has already bound the listener, so Addr is set before Run starts
	// accepting; a connection made early waits in the listen backlog.
	require.Eventually(t, func() bool { return s.Addr() != "" }, time.Second, 5*time.Millisecond)

	c := client.New(s.Addr(), client.WithNamespace("a"))
	sent, err := c.SendEvent(context.Background(), event.Event{Key: "key", Value: "v"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), sent.Version)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServerRejectsUnknownStoreDriver(t *testing.T) {
	cfg := config.Defaults()
	cfg.StoreDriver = "postgres"
	_, err := New(cfg, zerolog.Nop())
	assert.Error(t, err)
}

// A non-zero client.id plus initial.sequence.number recovers a producer's
// sequence bookkeeping on startup, before it ever calls RegisterClient.
func TestServerSeedsSequenceForConfiguredClientID(t *testing.T) {
	cfg := config.Defaults()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.ClientID = 7
	cfg.InitialSequenceNumber = 41
	cfg.EnableIdempotence = true

	s, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	seq, _, err := s.backend.LastSequenceNumber(context.Background(), cfg.ClientID)
	require.NoError(t, err)
	assert.Equal(t, cfg.InitialSequenceNumber, seq)
}
