package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloq/notifyd/internal/event"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	// A unique in-memory database per test, not a shared cache — SQLite's
	// ":memory:" DSN with SetMaxOpenConns(1) gives each test its own DB.
	s, err := OpenSQLite("file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteAppendAssignsGapFreeVersions(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		e, err := s.Append(ctx, event.Event{Key: "key", Value: "v"})
		require.NoError(t, err)
		assert.Equal(t, last+1, e.Version)
		last = e.Version
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	e, err := s.Append(ctx, event.Event{Key: "key", Value: "v1", EventType: "t", Namespace: "ns", Sender: "snd", Context: "ctx"})
	require.NoError(t, err)

	events, err := s.List(ctx, ListFilter{Filter: event.Filter{Keys: []string{"key"}}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, e, events[0])
}

func TestSQLiteCleanUp(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	_, err := s.Append(ctx, event.Event{Key: "key", Value: "v"})
	require.NoError(t, err)
	_, err = s.RegisterClient(ctx, "a", "s", nil)
	require.NoError(t, err)

	require.NoError(t, s.CleanUp(ctx))

	events, err := s.List(ctx, ListFilter{Filter: event.Filter{KeyAny: true}})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSQLiteClientRecovery(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	c1, err := s.RegisterClient(ctx, "a", "s", nil)
	require.NoError(t, err)
	require.NoError(t, s.DeleteClient(ctx, c1.ClientID))

	exists, err := s.IsClientExists(ctx, c1.ClientID)
	require.NoError(t, err)
	assert.False(t, exists)

	// Reusing the id on registration resurrects the record.
	c2, err := s.RegisterClient(ctx, "a", "s", &c1.ClientID)
	require.NoError(t, err)
	assert.Equal(t, c1.ClientID, c2.ClientID)

	exists, err = s.IsClientExists(ctx, c1.ClientID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSQLiteListByTime(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	e1, err := s.Append(ctx, event.Event{Key: "key", Value: "v1"})
	require.NoError(t, err)
	e2, err := s.Append(ctx, event.Event{Key: "key", Value: "v2"})
	require.NoError(t, err)

	events, err := s.ListByTime(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, e1.Version, events[0].Version)
	assert.Equal(t, e2.Version, events[1].Version)

	events, err = s.ListByTime(ctx, e2.CreateTime+1_000_000, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSQLiteGetClientAndSeedSequence(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	_, err := s.GetClient(ctx, 123)
	assert.ErrorIs(t, err, ErrClientNotFound)

	c, err := s.RegisterClient(ctx, "a", "s", nil)
	require.NoError(t, err)
	got, err := s.GetClient(ctx, c.ClientID)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	require.NoError(t, s.SeedSequence(ctx, c.ClientID, 50))
	seq, ver, err := s.LastSequenceNumber(ctx, c.ClientID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), seq)
	assert.Zero(t, ver)
}
