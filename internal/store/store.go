// Package store implements the C1 Event Store and C2 Client Registry
// contracts behind a single interface pair, with two interchangeable
// backends: an in-memory implementation for tests and single-process
// deployments, and a durable SQLite-backed implementation for production.
//
// Both backends serialize Append with respect to each other (single
// logical writer) and satisfy identical ordering and filter semantics —
// see internal/event.Filter for the matching rules shared with the
// subscription engine.
package store

import (
	"context"
	"errors"

	"github.com/arloq/notifyd/internal/event"
)

// ErrClientNotFound is returned by GetClient when the referenced client
// was never registered. A soft-deleted client is still found, with
// IsDeleted set.
var ErrClientNotFound = errors.New("store: client not found")

// ErrNotFound names a lookup that finds nothing. Neither backend returns
// it; a missing idempotent-replay event surfaces from
// notify.Service.SendEvent as a stale-sequence error instead.
var ErrNotFound = errors.New("store: not found")

// CountBreakdown is one row of the per-sender breakdown returned by Count.
type CountBreakdown struct {
	Sender     string `json:"sender"`
	EventCount int64  `json:"event_count"`
}

// ListFilter mirrors internal/event.Filter plus the pagination bound used
// by EventStore.List. It is a distinct type from event.Filter because the
// store additionally needs the exclusive version cursor and an optional
// result limit, neither of which the subscription engine's in-memory
// matcher needs.
type ListFilter struct {
	event.Filter
	Limit int // 0 means unbounded
}

// EventStore is the C1 contract: a durable, monotonically-versioned append
// log with range and filter queries.
type EventStore interface {
	// Append assigns the next version and the current timestamp to e,
	// persists it, and returns the populated event. Append is
	// serializable with respect to other Appends.
	Append(ctx context.Context, e event.Event) (event.Event, error)

	// List returns events matching f in ascending version order.
	List(ctx context.Context, f ListFilter) ([]event.Event, error)

	// ListRange returns an unfiltered ordered scan of
	// [versionLowInclusive, versionHighInclusive]. versionHighInclusive
	// of 0 means "no upper bound".
	ListRange(ctx context.Context, versionLowInclusive, versionHighInclusive int64) ([]event.Event, error)

	// ListByTime returns events with CreateTime in
	// [startTimeMsInclusive, endTimeMsInclusive]. endTimeMsInclusive of
	// 0 means "no upper bound".
	ListByTime(ctx context.Context, startTimeMsInclusive, endTimeMsInclusive int64) ([]event.Event, error)

	// LatestVersion returns the highest version among events with the
	// given key and namespace rule (namespace nil means "any"), or 0 if
	// none exist.
	LatestVersion(ctx context.Context, key string, namespace *string) (int64, error)

	// Count returns the total matching count and a per-sender breakdown.
	Count(ctx context.Context, f ListFilter) (int64, []CountBreakdown, error)

	// CleanUp truncates all events and client records. Test/operator use.
	CleanUp(ctx context.Context) error
}

// ClientRegistry is the C2 contract: client id allocation, liveness, and
// the per-client sequence bookkeeping C3 uses for idempotent sends.
type ClientRegistry interface {
	// RegisterClient allocates the next client id and writes a new
	// record, or — if clientID is non-nil — reactivates that existing
	// id (used when a producer recovers with a previously issued id).
	RegisterClient(ctx context.Context, namespace, sender string, clientID *int64) (event.Client, error)

	IsClientExists(ctx context.Context, clientID int64) (bool, error)

	// DeleteClient soft-deletes a client. Idempotent.
	DeleteClient(ctx context.Context, clientID int64) error

	// GetClient returns the registered client, or ErrClientNotFound.
	GetClient(ctx context.Context, clientID int64) (event.Client, error)

	// LastSequenceNumber returns the highest accepted sequence number
	// for clientID and the version of the event it produced, or
	// (0, 0, nil) if the client has never sent an idempotent event.
	LastSequenceNumber(ctx context.Context, clientID int64) (seq int64, eventVersion int64, err error)

	// AdvanceSequence records that sequenceNumber was accepted for
	// clientID and produced eventVersion. Callers must only call this
	// after confirming sequenceNumber > the previously recorded value.
	AdvanceSequence(ctx context.Context, clientID, sequenceNumber, eventVersion int64) error

	// SeedSequence sets the recorded sequence number for clientID
	// without requiring a prior registration round-trip. Used by
	// config key initial.sequence.number during client recovery.
	SeedSequence(ctx context.Context, clientID, sequenceNumber int64) error
}

// Backend is the union EventStore + ClientRegistry a concrete storage
// engine implements.
type Backend interface {
	EventStore
	ClientRegistry
}
