package client

import (
	"context"
	"fmt"
	"time"

	"github.com/arloq/notifyd/internal/event"
	"github.com/arloq/notifyd/internal/wire"
)

// DefaultRequestTimeout bounds a single request/response round trip.
const DefaultRequestTimeout = 5 * time.Second

// Client is a notification service producer/consumer handle. Functional
// options configure it at construction time rather than via mutated
// globals, per the design note carried over from the teacher's client
// package.
type Client struct {
	addr              string
	defaultNamespace  string
	sender            string
	clientID          *int64
	seq               *SequenceManager
	maxRecvMsgLen     int
	requestTimeout    time.Duration
	ha                *haTransport
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithNamespace sets the default namespace used by calls that don't
// specify one explicitly.
func WithNamespace(ns string) Option { return func(c *Client) { c.defaultNamespace = ns } }

// WithSender sets the sender recorded on every event this client sends.
func WithSender(sender string) Option { return func(c *Client) { c.sender = sender } }

// WithClientID rebinds the client to a previously registered client id
// instead of allocating a new one on Register.
func WithClientID(id int64) Option { return func(c *Client) { c.clientID = &id } }

// WithSequenceManager enables idempotent sends, seeded from the given
// manager (typically built from config's initial.sequence.number).
func WithSequenceManager(seq *SequenceManager) Option { return func(c *Client) { c.seq = seq } }

// WithMaxReceiveMessageLength sets grpc.max_receive_message_length: the
// server will not push a listen event whose encoded size exceeds this.
func WithMaxReceiveMessageLength(n int) Option { return func(c *Client) { c.maxRecvMsgLen = n } }

// WithRequestTimeout overrides DefaultRequestTimeout for every call.
func WithRequestTimeout(d time.Duration) Option { return func(c *Client) { c.requestTimeout = d } }

// WithHA enables transparent failover across peers: on a not_leader
// response or network error, the client consults ListMembers on any
// reachable peer and retries against the current leader until
// retryTimeout elapses. The cached leader is re-resolved, and every peer
// URI ListMembers reports is added to the peer list, once the cached
// answer is older than listMemberInterval or a call against it fails.
func WithHA(peers []string, listMemberInterval, retryTimeout time.Duration) Option {
	return func(c *Client) {
		c.ha = newHATransport(peers, listMemberInterval, retryTimeout, c.requestTimeout)
	}
}

// New creates a Client whose initial contact point is addr. If WithHA is
// also given, addr is folded into the HA peer list.
func New(addr string, opts ...Option) *Client {
	c := &Client{
		addr:           addr,
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ha != nil {
		c.ha.addPeer(addr)
	}
	return c
}

// leaderAddr returns the address a mutating call should target: the HA
// transport's current leader if HA is enabled, or the statically
// configured addr otherwise.
func (c *Client) leaderAddr(ctx context.Context) (string, error) {
	if c.ha == nil {
		return c.addr, nil
	}
	return c.ha.currentLeader(ctx)
}

// call sends one request and decodes its response, retrying through the
// HA transport's failover loop when enabled and the first attempt fails
// with a not_leader error or a network error.
func (c *Client) call(ctx context.Context, kind wire.Kind, req, out any) error {
	if c.ha == nil {
		addr, err := c.leaderAddr(ctx)
		if err != nil {
			return err
		}
		resp, err := requestOnce(addr, kind, req, c.requestTimeout)
		if err != nil {
			return err
		}
		return decodeResponse(resp, out)
	}
	return c.ha.withFailover(ctx, func(addr string) error {
		resp, err := requestOnce(addr, kind, req, c.requestTimeout)
		if err != nil {
			return err
		}
		return decodeResponse(resp, out)
	})
}

// Register allocates (or, with WithClientID, reactivates) this client's
// identity with the server.
func (c *Client) Register(ctx context.Context) (event.Client, error) {
	var resp wire.RegisterClientResponse
	err := c.call(ctx, wire.KindRegisterClient, wire.RegisterClientRequest{
		Namespace: c.defaultNamespace,
		Sender:    c.sender,
		ClientID:  c.clientID,
	}, &resp)
	if err != nil {
		return event.Client{}, err
	}
	c.clientID = &resp.Client.ClientID
	return resp.Client, nil
}

// DeleteClient soft-deletes this client's registration.
func (c *Client) DeleteClient(ctx context.Context) error {
	if c.clientID == nil {
		return fmt.Errorf("client: not registered")
	}
	return c.call(ctx, wire.KindDeleteClient, wire.DeleteClientRequest{ClientID: *c.clientID}, &wire.DeleteClientResponse{})
}

// SendEvent appends e. If a SequenceManager was configured via
// WithSequenceManager, the send is idempotent: it carries this client's
// id and the next sequence number, and a retried send with the same
// number (e.g. after a timeout whose response was lost) returns the
// originally stored event instead of duplicating it.
func (c *Client) SendEvent(ctx context.Context, e event.Event) (event.Event, error) {
	e.Namespace = orDefault(e.Namespace, c.defaultNamespace)
	e.Sender = orDefault(e.Sender, c.sender)

	req := wire.SendEventRequest{Event: e}
	if c.seq != nil {
		if c.clientID == nil {
			return event.Event{}, fmt.Errorf("client: idempotent send requires Register first")
		}
		seq := c.seq.Next()
		req.ClientID = c.clientID
		req.SequenceNumber = &seq
	}

	var resp wire.SendEventResponse
	if err := c.call(ctx, wire.KindSendEvent, req, &resp); err != nil {
		return event.Event{}, err
	}
	return resp.Event, nil
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// QueryOptions mirrors internal/notify.QueryArgs for the client-facing
// list/count calls.
type QueryOptions struct {
	Keys                []string
	EventType           *string
	Namespace           *string
	Sender              *string
	VersionLowExclusive int64
}

// ListEvents lists events scoped to this client's default namespace
// unless q.Namespace overrides it.
func (c *Client) ListEvents(ctx context.Context, q QueryOptions) ([]event.Event, error) {
	var resp wire.ListEventsResponse
	err := c.call(ctx, wire.KindListEvents, wire.QueryRequest{
		Namespace:           c.defaultNamespace,
		Keys:                q.Keys,
		EventType:           q.EventType,
		FilterNamespace:     q.Namespace,
		Sender:              q.Sender,
		VersionLowExclusive: q.VersionLowExclusive,
	}, &resp)
	return resp.Events, err
}

// ListAllEvents lists events across every namespace.
func (c *Client) ListAllEvents(ctx context.Context, q QueryOptions) ([]event.Event, error) {
	var resp wire.ListEventsResponse
	err := c.call(ctx, wire.KindListAllEvents, wire.QueryRequest{
		Keys:                q.Keys,
		EventType:           q.EventType,
		FilterNamespace:     q.Namespace,
		Sender:              q.Sender,
		VersionLowExclusive: q.VersionLowExclusive,
	}, &resp)
	return resp.Events, err
}

// CountEvents mirrors ListEvents but returns totals instead of events.
func (c *Client) CountEvents(ctx context.Context, q QueryOptions) (int64, []wire.CountBreakdownDTO, error) {
	var resp wire.CountEventsResponse
	err := c.call(ctx, wire.KindCountEvents, wire.QueryRequest{
		Namespace:           c.defaultNamespace,
		Keys:                q.Keys,
		EventType:           q.EventType,
		FilterNamespace:     q.Namespace,
		Sender:              q.Sender,
		VersionLowExclusive: q.VersionLowExclusive,
	}, &resp)
	return resp.Total, resp.BySender, err
}

// GetLatestVersion returns the highest version recorded for key.
func (c *Client) GetLatestVersion(ctx context.Context, key string, namespace *string) (int64, error) {
	var resp wire.GetLatestVersionResponse
	err := c.call(ctx, wire.KindGetLatestVersion, wire.GetLatestVersionRequest{Key: key, Namespace: namespace}, &resp)
	return resp.Version, err
}

// ListAllEventsByTime lists events across every namespace with a create
// time in [startTimeMsInclusive, endTimeMsInclusive] (0 upper bound means
// "no upper bound"), the history-backfill counterpart to ListAllEvents'
// version-cursor pagination.
func (c *Client) ListAllEventsByTime(ctx context.Context, startTimeMsInclusive, endTimeMsInclusive int64, q QueryOptions) ([]event.Event, error) {
	var resp wire.ListEventsResponse
	err := c.call(ctx, wire.KindListAllEventsByTime, wire.ListEventsByTimeRequest{
		Keys:                 q.Keys,
		EventType:            q.EventType,
		FilterNamespace:      q.Namespace,
		Sender:               q.Sender,
		StartTimeMsInclusive: startTimeMsInclusive,
		EndTimeMsInclusive:   endTimeMsInclusive,
	}, &resp)
	return resp.Events, err
}

// GetClient fetches a client's registration record by id.
func (c *Client) GetClient(ctx context.Context, clientID int64) (event.Client, error) {
	var resp wire.GetClientResponse
	err := c.call(ctx, wire.KindGetClient, wire.GetClientRequest{ClientID: clientID}, &resp)
	return resp.Client, err
}
