// Package notify implements the C3 Notification Service: the request-level
// façade that sits between the wire/RPC layer and the C1/C2 store, adding
// producer idempotence, namespace normalization, and filter validation.
// It does not itself fan events out to listeners — that's internal/subscribe,
// which watches the store independently (see its package doc).
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/arloq/notifyd/internal/event"
	"github.com/arloq/notifyd/internal/store"
)

// Service implements send/list/count/get-latest-version against a backend,
// applying the idempotence and normalization rules a raw store doesn't know
// about.
type Service struct {
	backend     store.Backend
	idempotence bool
	log         zerolog.Logger
}

// NewService wires a Service around backend. enableIdempotence mirrors the
// enable.idempotence config key: when false, clientID/sequenceNumber on
// SendEvent are ignored and every send is appended unconditionally.
func NewService(backend store.Backend, enableIdempotence bool, log zerolog.Logger) *Service {
	return &Service{backend: backend, idempotence: enableIdempotence, log: log.With().Str("component", "notify").Logger()}
}

// SendRequest carries the optional idempotence identity alongside the
// event payload. ClientID/SequenceNumber are nil when the caller isn't
// using idempotent sends (or when idempotence is disabled service-wide).
type SendRequest struct {
	ClientID       *int64
	SequenceNumber *int64
	Event          event.Event
}

// SendEvent appends e, deduplicating on (ClientID, SequenceNumber) when
// idempotence is enabled and both are supplied. A sequence number equal
// to the client's last accepted one is treated as a retry: the event
// stored for it is returned unchanged rather than appended again. Only
// that last event is kept for replay, so a sequence number below the last
// accepted one is rejected with an error and nothing is appended; an
// equal number with no recorded event version (after SeedSequence) is
// rejected the same way. A sequence number report with no matching
// client is rejected.
func (s *Service) SendEvent(ctx context.Context, req SendRequest) (event.Event, error) {
	if err := req.Event.Validate(); err != nil {
		return event.Event{}, err
	}

	if !s.idempotence || req.ClientID == nil || req.SequenceNumber == nil {
		return s.backend.Append(ctx, req.Event)
	}

	exists, err := s.backend.IsClientExists(ctx, *req.ClientID)
	if err != nil {
		return event.Event{}, err
	}
	if !exists {
		return event.Event{}, ErrUnknownClient
	}

	lastSeq, lastVersion, err := s.backend.LastSequenceNumber(ctx, *req.ClientID)
	if err != nil {
		return event.Event{}, err
	}

	if *req.SequenceNumber <= lastSeq {
		if *req.SequenceNumber == lastSeq && lastVersion > 0 {
			cached, err := s.backend.ListRange(ctx, lastVersion, lastVersion)
			if err != nil {
				return event.Event{}, err
			}
			if len(cached) == 1 {
				s.log.Debug().Int64("client_id", *req.ClientID).Int64("sequence_number", *req.SequenceNumber).Msg("idempotent replay")
				return cached[0], nil
			}
		}
		return event.Event{}, fmt.Errorf("notify: stale sequence number %d for client %d (last accepted %d)", *req.SequenceNumber, *req.ClientID, lastSeq)
	}

	appended, err := s.backend.Append(ctx, req.Event)
	if err != nil {
		return event.Event{}, err
	}
	if err := s.backend.AdvanceSequence(ctx, *req.ClientID, *req.SequenceNumber, appended.Version); err != nil {
		return event.Event{}, err
	}
	return appended, nil
}

// ListEvents returns events matching q, scoped to callerNamespace when the
// caller didn't specify one explicitly.
func (s *Service) ListEvents(ctx context.Context, callerNamespace string, q QueryArgs) ([]event.Event, error) {
	f, err := normalizeFilter(callerNamespace, q)
	if err != nil {
		return nil, err
	}
	return s.backend.List(ctx, store.ListFilter{Filter: f})
}

// ListAllEvents is ListEvents with the namespace filter forced to "any" —
// the admin/cross-namespace read path.
func (s *Service) ListAllEvents(ctx context.Context, q QueryArgs) ([]event.Event, error) {
	any := event.Wildcard
	q.Namespace = &any
	return s.ListEvents(ctx, "", q)
}

// ListAllEventsByTime is the time-range counterpart to ListAllEvents: it
// scans every event with a create time in
// [startTimeMsInclusive, endTimeMsInclusive] (0 upper bound means "no
// upper bound") across every namespace, then narrows the result with q
// the same way ListEvents does. The backend's time index isn't itself
// filterable by key/namespace/sender, so those rules are applied here
// in-process — acceptable for this operator/backfill-style query, which
// unlike ListEvents isn't on the per-request hot path.
func (s *Service) ListAllEventsByTime(ctx context.Context, startTimeMsInclusive, endTimeMsInclusive int64, q QueryArgs) ([]event.Event, error) {
	any := event.Wildcard
	q.Namespace = &any
	f, err := normalizeFilter("", q)
	if err != nil {
		return nil, err
	}
	events, err := s.backend.ListByTime(ctx, startTimeMsInclusive, endTimeMsInclusive)
	if err != nil {
		return nil, err
	}
	out := make([]event.Event, 0, len(events))
	for _, e := range events {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// CountEvents mirrors ListEvents but returns counts (total and
// per-sender) instead of the events themselves.
func (s *Service) CountEvents(ctx context.Context, callerNamespace string, q QueryArgs) (int64, []store.CountBreakdown, error) {
	f, err := normalizeFilter(callerNamespace, q)
	if err != nil {
		return 0, nil, err
	}
	return s.backend.Count(ctx, store.ListFilter{Filter: f})
}

// GetLatestVersion returns the highest version recorded for key within
// namespace (nil namespace means "any").
func (s *Service) GetLatestVersion(ctx context.Context, key string, namespace *string) (int64, error) {
	return s.backend.LatestVersion(ctx, key, namespace)
}

// RegisterClient and DeleteClient pass through to the registry; they exist
// on Service (rather than requiring callers to reach into the backend
// directly) so the RPC layer has one façade for the whole C2+C3 surface.
func (s *Service) RegisterClient(ctx context.Context, namespace, sender string, clientID *int64) (event.Client, error) {
	return s.backend.RegisterClient(ctx, namespace, sender, clientID)
}

func (s *Service) DeleteClient(ctx context.Context, clientID int64) error {
	return s.backend.DeleteClient(ctx, clientID)
}

func (s *Service) IsClientExists(ctx context.Context, clientID int64) (bool, error) {
	return s.backend.IsClientExists(ctx, clientID)
}

// GetClient returns the registered client record, or store.ErrClientNotFound.
func (s *Service) GetClient(ctx context.Context, clientID int64) (event.Client, error) {
	return s.backend.GetClient(ctx, clientID)
}

// Backend exposes the underlying store so internal/subscribe can watch it
// without Service growing a dependency on the subscription engine.
func (s *Service) Backend() store.Backend {
	return s.backend
}
