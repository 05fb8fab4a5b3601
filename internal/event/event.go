// Package event defines the wire-stable record types persisted by the
// notification service: the immutable Event, the Client registration, and
// the per-client sequence record used for producer-side idempotence.
package event

import "errors"

// ErrEmptyKey is returned when an Event is submitted without a key.
var ErrEmptyKey = errors.New("event: key must not be empty")

// Wildcard is the filter value meaning "any value" for a field; whether an
// absent value also matches differs per field (see Filter).
const Wildcard = "*"

// Event is a single immutable entry in the notification log. Version and
// CreateTime are assigned by the store at persist time; every other field
// is supplied by the producer.
type Event struct {
	Version    int64  `json:"version"`
	CreateTime int64  `json:"create_time"` // epoch milliseconds
	Key        string `json:"key"`
	Value      string `json:"value"`
	EventType  string `json:"event_type,omitempty"`
	Namespace  string `json:"namespace,omitempty"`
	Sender     string `json:"sender,omitempty"`
	Context    string `json:"context,omitempty"`
}

// Validate checks the invariants an Event must satisfy before it is
// handed to the store for persistence. Version and CreateTime are not
// checked here — they don't exist yet on an unpersisted event.
func (e Event) Validate() error {
	if e.Key == "" {
		return ErrEmptyKey
	}
	return nil
}

// Client is a registered producer/consumer identity. ClientID is allocated
// monotonically by the registry; Namespace and Sender are the defaults
// recorded at registration time but may be overridden per-call.
type Client struct {
	ClientID   int64  `json:"client_id"`
	Namespace  string `json:"namespace,omitempty"`
	Sender     string `json:"sender,omitempty"`
	CreateTime int64  `json:"create_time"`
	IsDeleted  bool   `json:"is_deleted"`
}

// SequenceRecord tracks the highest producer sequence number accepted for
// a client, used to deduplicate idempotent sends.
type SequenceRecord struct {
	ClientID           int64 `json:"client_id"`
	LastSequenceNumber int64 `json:"last_sequence_number"`
	// LastEventVersion is the version that was returned for
	// LastSequenceNumber, so a retried send can fetch the identical
	// event by version instead of searching the log for it.
	LastEventVersion int64 `json:"last_event_version"`
}

// Filter describes the normalized query/subscription predicate applied by
// the store and the subscription engine. A nil *string field means "not
// specified"; what Wildcard matches differs per field, as documented on
// each field below. See
// internal/notify/normalize.go for how client-facing arguments become a
// Filter.
type Filter struct {
	// Keys, when non-empty, restricts matches to one of these keys.
	// A nil/empty Keys with KeyAny true means "any key".
	Keys   []string
	KeyAny bool

	// EventType: nil means "don't filter"; Wildcard behaves the same as
	// nil (untyped events match too); anything else is an exact match.
	EventType *string

	// Namespace: nil means "don't filter"; Wildcard means "any namespace";
	// anything else is an exact match.
	Namespace *string

	// Sender: nil means "don't filter"; Wildcard means "any non-empty
	// sender"; anything else is an exact match.
	Sender *string

	// VersionLowExclusive bounds List() results; not used by Match.
	VersionLowExclusive int64
}

// Match reports whether e satisfies f, applying the §4.3 wildcard rules.
// It does not consider VersionLowExclusive — callers that need a cursor
// check that separately (store range queries, listener cursor advance).
func (f Filter) Match(e Event) bool {
	if !f.KeyAny && len(f.Keys) > 0 {
		found := false
		for _, k := range f.Keys {
			if k == e.Key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.EventType != nil && *f.EventType != Wildcard {
		// Unlike Sender/Namespace, EventType's wildcard is defined to
		// behave exactly like "not specified" — it matches untyped
		// events too (see §4.3: "absent means match any event_type;
		// '*' means the same").
		if e.EventType != *f.EventType {
			return false
		}
	}
	if f.Namespace != nil {
		switch *f.Namespace {
		case Wildcard:
			// any namespace, including absent
		default:
			if e.Namespace != *f.Namespace {
				return false
			}
		}
	}
	if f.Sender != nil {
		switch *f.Sender {
		case Wildcard:
			if e.Sender == "" {
				return false
			}
		default:
			if e.Sender != *f.Sender {
				return false
			}
		}
	}
	return true
}
