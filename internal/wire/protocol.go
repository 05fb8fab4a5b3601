package wire

import (
	"encoding/json"

	"github.com/arloq/notifyd/internal/event"
)

// Kind identifies which request/response payload an Envelope carries.
type Kind string

const (
	KindRegisterClient      Kind = "register_client"
	KindDeleteClient        Kind = "delete_client"
	KindIsClientExists      Kind = "is_client_exists"
	KindSendEvent           Kind = "send_event"
	KindListEvents          Kind = "list_events"
	KindListAllEvents       Kind = "list_all_events"
	KindListAllEventsByTime Kind = "list_all_events_by_time"
	KindCountEvents         Kind = "count_events"
	KindGetLatestVersion    Kind = "get_latest_version"
	KindGetClient           Kind = "get_client"
	KindListenEvents        Kind = "listen_events"
	KindListenAllEvents     Kind = "listen_all_events"
	KindListMembers         Kind = "list_members"

	// KindEventBatch is a server-pushed frame on an open listen stream,
	// distinct from the request/response Kinds above which are always
	// one-frame-in, one-frame-out.
	KindEventBatch Kind = "event_batch"
)

// Envelope is the stable outer shape of every frame: Kind says how to
// interpret Payload, keeping the wire format extensible without
// renegotiating the frame layout itself.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// ErrorResponse is the Payload shape for any request that failed.
// Code distinguishes the §7 error taxonomy (validation, not_leader,
// capacity, internal) for clients that want to branch on it; Message is
// always present for logging/display.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RegisterClientRequest/Response.
type RegisterClientRequest struct {
	Namespace string `json:"namespace"`
	Sender    string `json:"sender"`
	ClientID  *int64 `json:"client_id,omitempty"`
}

type RegisterClientResponse struct {
	Client event.Client `json:"client"`
}

// DeleteClientRequest/Response.
type DeleteClientRequest struct {
	ClientID int64 `json:"client_id"`
}

type DeleteClientResponse struct{}

// IsClientExistsRequest/Response.
type IsClientExistsRequest struct {
	ClientID int64 `json:"client_id"`
}

type IsClientExistsResponse struct {
	Exists bool `json:"exists"`
}

// SendEventRequest/Response.
type SendEventRequest struct {
	ClientID       *int64      `json:"client_id,omitempty"`
	SequenceNumber *int64      `json:"sequence_number,omitempty"`
	Event          event.Event `json:"event"`
}

type SendEventResponse struct {
	Event event.Event `json:"event"`
}

// QueryRequest is shared by ListEvents, ListAllEvents, and CountEvents —
// all three take the same normalized filter shape.
type QueryRequest struct {
	Namespace           string  `json:"namespace"` // caller's current default, for ListEvents
	Keys                []string `json:"keys,omitempty"`
	EventType           *string `json:"event_type,omitempty"`
	FilterNamespace     *string `json:"filter_namespace,omitempty"`
	Sender              *string `json:"sender,omitempty"`
	VersionLowExclusive int64   `json:"version_low_exclusive,omitempty"`
}

type ListEventsResponse struct {
	Events []event.Event `json:"events"`
}

// ListEventsByTimeRequest is the time-range counterpart to QueryRequest,
// scoping a cross-namespace list to a create-time window instead of a
// version cursor — the wire shape for list_all_events(start_time) from
// the original implementation's history API.
type ListEventsByTimeRequest struct {
	Keys                 []string `json:"keys,omitempty"`
	EventType            *string  `json:"event_type,omitempty"`
	FilterNamespace      *string  `json:"filter_namespace,omitempty"`
	Sender               *string  `json:"sender,omitempty"`
	StartTimeMsInclusive int64    `json:"start_time_ms_inclusive"`
	EndTimeMsInclusive   int64    `json:"end_time_ms_inclusive,omitempty"`
}

type CountEventsResponse struct {
	Total     int64               `json:"total"`
	BySender  []CountBreakdownDTO `json:"by_sender,omitempty"`
}

// CountBreakdownDTO mirrors store.CountBreakdown without internal/wire
// importing internal/store, keeping the wire protocol's type set self
// contained.
type CountBreakdownDTO struct {
	Sender     string `json:"sender"`
	EventCount int64  `json:"event_count"`
}

// GetLatestVersionRequest/Response.
type GetLatestVersionRequest struct {
	Key       string  `json:"key"`
	Namespace *string `json:"namespace,omitempty"`
}

type GetLatestVersionResponse struct {
	Version int64 `json:"version"`
}

// GetClientRequest/Response.
type GetClientRequest struct {
	ClientID int64 `json:"client_id"`
}

type GetClientResponse struct {
	Client event.Client `json:"client"`
}

// ListenRequest opens a long-lived stream: one request frame, then a
// sequence of KindEventBatch frames until the client closes the
// connection or sends nothing further.
type ListenRequest struct {
	Namespace            string   `json:"namespace"`
	Keys                 []string `json:"keys,omitempty"`
	EventType            *string  `json:"event_type,omitempty"`
	FilterNamespace      *string  `json:"filter_namespace,omitempty"`
	Sender               *string  `json:"sender,omitempty"`
	FromVersionExclusive int64    `json:"from_version_exclusive,omitempty"`

	// MaxReceiveMessageLength mirrors the grpc.max_receive_message_length
	// config key on the client side: the server must not deliver an
	// event whose encoded wire size exceeds it. 0 means unbounded.
	MaxReceiveMessageLength int `json:"max_receive_message_length,omitempty"`
}

// EventBatch is a server push of one or more newly matched events,
// delivered in version order.
type EventBatch struct {
	Events []event.Event `json:"events"`
}

// ListMembersResponse mirrors internal/ha.Member without internal/wire
// importing internal/ha, for the same reason as CountBreakdownDTO above.
type ListMembersResponse struct {
	Members []MemberDTO `json:"members"`
}

type MemberDTO struct {
	ServerURI       string `json:"server_uri"`
	ServerUUID      string `json:"server_uuid"`
	LastHeartbeatTS int64  `json:"last_heartbeat_ts"`
	IsLeader        bool   `json:"is_leader"`
}
