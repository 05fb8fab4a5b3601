package notify

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloq/notifyd/internal/event"
	"github.com/arloq/notifyd/internal/store"
)

func newTestService(idempotent bool) *Service {
	return NewService(store.NewMemory(), idempotent, zerolog.Nop())
}

// Mirrors the namespace-scoped listing walkthrough: a caller's current
// default namespace, not the namespace in effect when events were sent,
// governs an unqualified list_events call.
func TestServiceListEventsUsesCallerNamespaceByDefault(t *testing.T) {
	s := newTestService(false)
	ctx := context.Background()

	first, err := s.SendEvent(ctx, SendRequest{Event: event.Event{Key: "key", Namespace: "a", Sender: "s"}})
	require.NoError(t, err)
	_, err = s.SendEvent(ctx, SendRequest{Event: event.Event{Key: "key", Namespace: "b", Sender: "s", EventType: "a"}})
	require.NoError(t, err)
	_, err = s.SendEvent(ctx, SendRequest{Event: event.Event{Key: "key", Namespace: "b", Sender: "s"}})
	require.NoError(t, err)
	_, err = s.SendEvent(ctx, SendRequest{Event: event.Event{Key: "key2", Namespace: "b", Sender: "s"}})
	require.NoError(t, err)

	got, err := s.ListEvents(ctx, "b", QueryArgs{
		Keys:                []string{"key", "key2"},
		VersionLowExclusive: first.Version - 1,
	})
	require.NoError(t, err)
	// Only the three "b"-namespace events come back; the "a"-namespace
	// send for the same key is excluded by the caller's default.
	require.Len(t, got, 3)
	assert.Equal(t, "s", got[0].Sender)
}

func TestServiceListEventsWildcardNamespaceSpansAll(t *testing.T) {
	s := newTestService(false)
	ctx := context.Background()

	_, err := s.SendEvent(ctx, SendRequest{Event: event.Event{Key: "key_1", Namespace: "a", Sender: "s"}})
	require.NoError(t, err)
	_, err = s.SendEvent(ctx, SendRequest{Event: event.Event{Key: "key_2", Namespace: "a", Sender: "s"}})
	require.NoError(t, err)
	_, err = s.SendEvent(ctx, SendRequest{Event: event.Event{Key: "key_1", Namespace: "b", Sender: "p", EventType: "event_type"}})
	require.NoError(t, err)

	any := event.Wildcard
	got, err := s.ListEvents(ctx, "a", QueryArgs{Keys: []string{event.Wildcard}, EventType: &any, Namespace: &any})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	exactSender := "s"
	got, err = s.ListEvents(ctx, "a", QueryArgs{Keys: []string{"key_1"}, Namespace: &any, Sender: &exactSender})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Namespace)
}

func TestServiceListEventsRejectsEmptyNamespace(t *testing.T) {
	s := newTestService(false)
	empty := ""
	_, err := s.ListEvents(context.Background(), "a", QueryArgs{Namespace: &empty})
	assert.ErrorIs(t, err, ErrAmbiguousNamespace)
}

// Idempotent sends: a replayed (clientID, sequenceNumber) pair returns the
// original event rather than appending a duplicate.
func TestServiceSendEventIdempotentReplay(t *testing.T) {
	s := newTestService(true)
	ctx := context.Background()

	client, err := s.RegisterClient(ctx, "a", "s", nil)
	require.NoError(t, err)

	seq := int64(1)
	first, err := s.SendEvent(ctx, SendRequest{
		ClientID:       &client.ClientID,
		SequenceNumber: &seq,
		Event:          event.Event{Key: "key", Value: "v1", Namespace: "a", Sender: "s"},
	})
	require.NoError(t, err)

	replay, err := s.SendEvent(ctx, SendRequest{
		ClientID:       &client.ClientID,
		SequenceNumber: &seq,
		Event:          event.Event{Key: "key", Value: "v1-retry", Namespace: "a", Sender: "s"},
	})
	require.NoError(t, err)
	assert.Equal(t, first, replay)

	total, _, err := s.CountEvents(ctx, "a", QueryArgs{Keys: []string{event.Wildcard}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

// A stale (lower than already-accepted) sequence number is rejected
// rather than silently replayed or appended.
func TestServiceSendEventRejectsStaleSequence(t *testing.T) {
	s := newTestService(true)
	ctx := context.Background()

	client, err := s.RegisterClient(ctx, "a", "s", nil)
	require.NoError(t, err)

	first := int64(5)
	_, err = s.SendEvent(ctx, SendRequest{
		ClientID:       &client.ClientID,
		SequenceNumber: &first,
		Event:          event.Event{Key: "key", Namespace: "a", Sender: "s"},
	})
	require.NoError(t, err)

	stale := int64(3)
	_, err = s.SendEvent(ctx, SendRequest{
		ClientID:       &client.ClientID,
		SequenceNumber: &stale,
		Event:          event.Event{Key: "key", Namespace: "a", Sender: "s"},
	})
	assert.Error(t, err)
}

func TestServiceSendEventUnknownClientRejected(t *testing.T) {
	s := newTestService(true)
	ctx := context.Background()
	seq := int64(1)
	ghost := int64(999)
	_, err := s.SendEvent(ctx, SendRequest{
		ClientID:       &ghost,
		SequenceNumber: &seq,
		Event:          event.Event{Key: "key", Namespace: "a", Sender: "s"},
	})
	assert.ErrorIs(t, err, ErrUnknownClient)
}

func TestServiceGetLatestVersion(t *testing.T) {
	s := newTestService(false)
	ctx := context.Background()
	_, err := s.SendEvent(ctx, SendRequest{Event: event.Event{Key: "key", Namespace: "a"}})
	require.NoError(t, err)
	second, err := s.SendEvent(ctx, SendRequest{Event: event.Event{Key: "key", Namespace: "a"}})
	require.NoError(t, err)

	v, err := s.GetLatestVersion(ctx, "key", nil)
	require.NoError(t, err)
	assert.Equal(t, second.Version, v)
}

// ListAllEventsByTime scans by create time across every namespace, then
// still applies the caller's key/sender/event_type filter the same way
// ListAllEvents does.
func TestServiceListAllEventsByTime(t *testing.T) {
	s := newTestService(false)
	ctx := context.Background()

	_, err := s.SendEvent(ctx, SendRequest{Event: event.Event{Key: "key", Namespace: "a", Sender: "s"}})
	require.NoError(t, err)
	_, err = s.SendEvent(ctx, SendRequest{Event: event.Event{Key: "key", Namespace: "b", Sender: "other"}})
	require.NoError(t, err)

	got, err := s.ListAllEventsByTime(ctx, 0, 0, QueryArgs{Keys: []string{event.Wildcard}})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	exactSender := "s"
	got, err = s.ListAllEventsByTime(ctx, 0, 0, QueryArgs{Keys: []string{event.Wildcard}, Sender: &exactSender})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Namespace)
}

func TestServiceGetClient(t *testing.T) {
	s := newTestService(false)
	ctx := context.Background()

	client, err := s.RegisterClient(ctx, "a", "s", nil)
	require.NoError(t, err)

	got, err := s.GetClient(ctx, client.ClientID)
	require.NoError(t, err)
	assert.Equal(t, client, got)

	_, err = s.GetClient(ctx, client.ClientID+1)
	assert.ErrorIs(t, err, store.ErrClientNotFound)
}
