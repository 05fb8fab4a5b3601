package notify

import "github.com/arloq/notifyd/internal/event"

// QueryArgs is the client-facing shape of a list/count/listen request,
// before it is normalized into an event.Filter. Every field is optional;
// nil/empty means "not specified" exactly as described in §4.3.
type QueryArgs struct {
	Keys                []string
	EventType           *string
	Namespace           *string
	Sender              *string
	VersionLowExclusive int64
}

// NormalizeFilter exposes normalizeFilter for callers outside this
// package that need a raw event.Filter without going through a
// Service method — the C6 listen-stream registration path in
// internal/rpcserver is the only current user.
func NormalizeFilter(callerNamespace string, q QueryArgs) (event.Filter, error) {
	return normalizeFilter(callerNamespace, q)
}

// normalizeFilter turns caller-supplied query arguments into an
// event.Filter, resolving the one piece of context the caller doesn't
// have to repeat on every call: its own current default namespace.
//
// Namespace is the only field with a three-way ambiguity risk (nil vs
// Wildcard vs exact), because it is also the field with a client-side
// default. An explicit empty string is rejected outright rather than
// silently treated as either "absent" or "any" — see ErrAmbiguousNamespace.
func normalizeFilter(callerNamespace string, q QueryArgs) (event.Filter, error) {
	if q.Namespace != nil && *q.Namespace == "" {
		return event.Filter{}, ErrAmbiguousNamespace
	}

	f := event.Filter{VersionLowExclusive: q.VersionLowExclusive}

	switch {
	case len(q.Keys) == 0:
		f.KeyAny = true
	case len(q.Keys) == 1 && q.Keys[0] == event.Wildcard:
		f.KeyAny = true
	default:
		f.Keys = q.Keys
	}

	f.EventType = q.EventType

	if q.Namespace == nil {
		ns := callerNamespace
		f.Namespace = &ns
	} else {
		f.Namespace = q.Namespace
	}

	f.Sender = q.Sender

	return f, nil
}
