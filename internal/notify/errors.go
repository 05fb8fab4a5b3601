package notify

import "errors"

var (
	// ErrEmptyKey is the notify-level name for an empty-key rejection.
	// SendEvent itself returns event.ErrEmptyKey from Event.Validate, and
	// nothing in this package returns this value.
	ErrEmptyKey = errors.New("notify: key must not be empty")

	// ErrAmbiguousNamespace is returned when a caller passes an empty
	// (but non-nil) namespace string. The empty string is neither "not
	// specified" (nil) nor the wildcard ("*"), and the spec's open
	// question on namespace semantics is resolved by rejecting rather
	// than silently aliasing it to one of those two meanings.
	ErrAmbiguousNamespace = errors.New("notify: namespace must be nil, \"*\", or a non-empty string")

	// ErrUnknownClient is returned by SendEvent in idempotent mode when
	// clientID does not refer to a registered, non-deleted client.
	ErrUnknownClient = errors.New("notify: unknown client id")

	// ErrClientDeleted names an operation against a soft-deleted client
	// id. Nothing in this package returns it: SendEvent reports a deleted
	// client as ErrUnknownClient.
	ErrClientDeleted = errors.New("notify: client has been deleted")
)
