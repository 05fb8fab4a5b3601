package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloq/notifyd/internal/event"
)

func TestMemoryAppendAssignsGapFreeVersions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		e, err := m.Append(ctx, event.Event{Key: "key", Value: "v"})
		require.NoError(t, err)
		assert.Equal(t, last+1, e.Version)
		last = e.Version
	}
}

func TestMemoryAppendRejectsEmptyKey(t *testing.T) {
	m := NewMemory()
	_, err := m.Append(context.Background(), event.Event{Value: "v"})
	assert.ErrorIs(t, err, event.ErrEmptyKey)
}

func TestMemoryListFilters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	e1, err := m.Append(ctx, event.Event{Key: "key", Value: "v1", Namespace: "a", Sender: "s"})
	require.NoError(t, err)
	_, err = m.Append(ctx, event.Event{Key: "key", Value: "v2", Namespace: "b", EventType: "a"})
	require.NoError(t, err)
	_, err = m.Append(ctx, event.Event{Key: "key", Value: "v3", Namespace: "b"})
	require.NoError(t, err)
	_, err = m.Append(ctx, event.Event{Key: "key2", Value: "v3", Namespace: "b"})
	require.NoError(t, err)

	ns := "*"
	events, err := m.List(ctx, ListFilter{
		Filter: event.Filter{
			Keys:                []string{"key", "key2"},
			Namespace:           &ns,
			VersionLowExclusive: e1.Version - 1,
		},
	})
	require.NoError(t, err)
	// e1 plus 3 more matches VersionLowExclusive e1.Version-1 => includes e1
	assert.Len(t, events, 4)

	events, err = m.List(ctx, ListFilter{Filter: event.Filter{Keys: []string{"key"}, Namespace: strPtr("b")}})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestMemoryLatestVersion(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, err := m.Append(ctx, event.Event{Key: "key", Value: "v1"})
	require.NoError(t, err)
	e2, err := m.Append(ctx, event.Event{Key: "key", Value: "v2"})
	require.NoError(t, err)

	v, err := m.LatestVersion(ctx, "key", nil)
	require.NoError(t, err)
	assert.Equal(t, e2.Version, v)
}

func TestMemoryClientLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	c1, err := m.RegisterClient(ctx, "a", "s", nil)
	require.NoError(t, err)
	c2, err := m.RegisterClient(ctx, "a", "s", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c2.ClientID-c1.ClientID)

	exists, err := m.IsClientExists(ctx, c1.ClientID)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, m.DeleteClient(ctx, c1.ClientID))
	exists, err = m.IsClientExists(ctx, c1.ClientID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemorySequenceBookkeeping(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	c, err := m.RegisterClient(ctx, "a", "s", nil)
	require.NoError(t, err)

	seq, ver, err := m.LastSequenceNumber(ctx, c.ClientID)
	require.NoError(t, err)
	assert.Zero(t, seq)
	assert.Zero(t, ver)

	require.NoError(t, m.AdvanceSequence(ctx, c.ClientID, 1, 42))
	seq, ver, err = m.LastSequenceNumber(ctx, c.ClientID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
	assert.Equal(t, int64(42), ver)
}

func TestMemoryListByTime(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	e1, err := m.Append(ctx, event.Event{Key: "key", Value: "v1"})
	require.NoError(t, err)
	e2, err := m.Append(ctx, event.Event{Key: "key", Value: "v2"})
	require.NoError(t, err)

	// 0 upper bound means unbounded: both events created at or after
	// epoch 0 come back.
	events, err := m.ListByTime(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, e1.Version, events[0].Version)
	assert.Equal(t, e2.Version, events[1].Version)

	// A start time strictly after every event's create time excludes
	// all of them.
	events, err = m.ListByTime(ctx, e2.CreateTime+1_000_000, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryGetClientAndSeedSequence(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.GetClient(ctx, 123)
	assert.ErrorIs(t, err, ErrClientNotFound)

	c, err := m.RegisterClient(ctx, "a", "s", nil)
	require.NoError(t, err)
	got, err := m.GetClient(ctx, c.ClientID)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	require.NoError(t, m.SeedSequence(ctx, c.ClientID, 50))
	seq, ver, err := m.LastSequenceNumber(ctx, c.ClientID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), seq)
	assert.Zero(t, ver)
}

func strPtr(s string) *string { return &s }
