// Package client is the notification service's producer/consumer SDK: a
// thin wrapper around internal/wire's framing that adds producer-side
// idempotence bookkeeping and, optionally, HA failover across peers.
package client

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/arloq/notifyd/internal/wire"
)

// requestOnce dials addr, sends a single request/response frame pair,
// and closes the connection. It's used both for ordinary Client calls
// and for the HA transport's membership probes, which are infrequent
// enough that a fresh connection per call is simpler than pooling one.
func requestOnce(addr string, kind wire.Kind, reqPayload any, timeout time.Duration) (wire.Envelope, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return wire.Envelope{}, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	payload, err := json.Marshal(reqPayload)
	if err != nil {
		return wire.Envelope{}, err
	}
	envelope, err := json.Marshal(wire.Envelope{Kind: kind, Payload: payload})
	if err != nil {
		return wire.Envelope{}, err
	}
	if err := wire.WriteFrame(conn, envelope); err != nil {
		return wire.Envelope{}, fmt.Errorf("client: write %s: %w", kind, err)
	}

	frame, err := wire.ReadFrame(conn, wire.DefaultMaxFrameSize)
	if err != nil {
		return wire.Envelope{}, fmt.Errorf("client: read %s response: %w", kind, err)
	}
	var resp wire.Envelope
	if err := json.Unmarshal(frame, &resp); err != nil {
		return wire.Envelope{}, err
	}
	return resp, nil
}

// decodeResponse unmarshals env.Payload into out, or returns the server's
// ErrorResponse as a Go error if the call failed.
func decodeResponse(env wire.Envelope, out any) error {
	var probe wire.ErrorResponse
	if err := json.Unmarshal(env.Payload, &probe); err == nil && probe.Code != "" && probe.Message != "" {
		return &RemoteError{Code: probe.Code, Message: probe.Message}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Payload, out)
}

// RemoteError wraps a server-reported failure, preserving its §7 error
// code (validation/not_leader/capacity/internal) for callers that branch
// on it, notably the HA transport's not_leader-triggers-failover path.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("client: remote error (%s): %s", e.Code, e.Message)
}

// IsNotLeader reports whether err is a RemoteError carrying the
// not_leader code.
func IsNotLeader(err error) bool {
	re, ok := err.(*RemoteError)
	return ok && re.Code == "not_leader"
}
