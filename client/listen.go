package client

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/arloq/notifyd/internal/event"
	"github.com/arloq/notifyd/internal/wire"
)

// Subscription is a long-lived listen stream. Events arrive on C() in
// version order; Stop ends the stream and closes the channel.
type Subscription struct {
	events chan event.Event
	cancel context.CancelFunc
	done   chan struct{}
}

// C returns the channel this subscription's matching events arrive on.
func (s *Subscription) C() <-chan event.Event { return s.events }

// Stop ends the stream. It blocks until the background goroutine has
// exited and the channel is closed.
func (s *Subscription) Stop() {
	s.cancel()
	<-s.done
}

// StartListenEvent opens a stream of events matching q within the
// client's default namespace (or q.Namespace if set), starting strictly
// after fromVersionExclusive.
func (c *Client) StartListenEvent(ctx context.Context, q QueryOptions, fromVersionExclusive int64) (*Subscription, error) {
	return c.startListen(ctx, wire.KindListenEvents, q, fromVersionExclusive)
}

// StartListenEvents is StartListenEvent with the namespace filter forced
// to "any", the cross-namespace listen path.
func (c *Client) StartListenEvents(ctx context.Context, q QueryOptions, fromVersionExclusive int64) (*Subscription, error) {
	any := event.Wildcard
	q.Namespace = &any
	return c.startListen(ctx, wire.KindListenAllEvents, q, fromVersionExclusive)
}

func (c *Client) startListen(ctx context.Context, kind wire.Kind, q QueryOptions, fromVersionExclusive int64) (*Subscription, error) {
	addr, err := c.leaderAddr(ctx)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		events: make(chan event.Event, 64),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go c.runListen(streamCtx, sub, kind, q, fromVersionExclusive, addr)
	return sub, nil
}

// runListen owns one connection's lifetime. On a connection failure it
// re-resolves the leader (when HA is enabled) and reopens the stream
// from the last version it actually delivered, so a failover never
// re-delivers or skips events at the boundary.
func (c *Client) runListen(ctx context.Context, sub *Subscription, kind wire.Kind, q QueryOptions, cursor int64, addr string) {
	defer close(sub.done)
	defer close(sub.events)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		next, err := c.listenOnce(ctx, sub, kind, q, cursor, addr)
		cursor = next
		if err == nil || ctx.Err() != nil {
			return
		}
		if c.ha == nil {
			return
		}
		c.ha.invalidate()
		leader, lerr := c.ha.currentLeader(ctx)
		if lerr != nil {
			return
		}
		addr = leader

		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// listenOnce holds one connection open, forwarding delivered events to
// sub.events and returning the last version successfully forwarded
// along with the error that ended the connection (nil on clean stop).
func (c *Client) listenOnce(ctx context.Context, sub *Subscription, kind wire.Kind, q QueryOptions, cursor int64, addr string) (int64, error) {
	conn, err := net.DialTimeout("tcp", addr, c.requestTimeout)
	if err != nil {
		return cursor, err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	req := wire.ListenRequest{
		Namespace:               c.defaultNamespace,
		Keys:                    q.Keys,
		EventType:               q.EventType,
		FilterNamespace:         q.Namespace,
		Sender:                  q.Sender,
		FromVersionExclusive:    cursor,
		MaxReceiveMessageLength: c.maxRecvMsgLen,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return cursor, err
	}
	envelope, err := json.Marshal(wire.Envelope{Kind: kind, Payload: payload})
	if err != nil {
		return cursor, err
	}
	if err := wire.WriteFrame(conn, envelope); err != nil {
		return cursor, err
	}

	br := wire.NewBufferedReader(conn)
	for {
		frame, err := wire.ReadFrame(br, wire.DefaultMaxFrameSize)
		if err != nil {
			return cursor, err
		}
		var env wire.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			return cursor, err
		}
		if env.Kind != wire.KindEventBatch {
			continue
		}
		var batch wire.EventBatch
		if err := json.Unmarshal(env.Payload, &batch); err != nil {
			return cursor, err
		}
		for _, ev := range batch.Events {
			select {
			case sub.events <- ev:
				cursor = ev.Version
			case <-ctx.Done():
				return cursor, nil
			}
		}
	}
}
