package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arloq/notifyd/internal/wire"
)

// haTransport implements the client side of C5 failover: a cached peer
// list, periodic refresh from whichever peer answers, and bounded retry
// on a not_leader response or network error.
//
// test_notification.py's HaClientWithNonHaServerTest establishes that an
// HA-enabled client must still work against a single non-HA server —
// reflected here as the graceful-degrade path: if ListMembers comes back
// empty (the peer doesn't track membership at all), the one configured
// peer is treated as always-leader rather than treated as a failure.
type haTransport struct {
	mu                 sync.Mutex
	peers              []string
	leader             string
	lastRefresh        time.Time
	listMemberInterval time.Duration
	retryTimeout       time.Duration
	dialTimeout        time.Duration
}

func newHATransport(peers []string, listMemberInterval, retryTimeout, dialTimeout time.Duration) *haTransport {
	if listMemberInterval <= 0 {
		listMemberInterval = 30 * time.Second
	}
	if retryTimeout <= 0 {
		retryTimeout = 60 * time.Second
	}
	return &haTransport{
		peers:              append([]string(nil), peers...),
		listMemberInterval: listMemberInterval,
		retryTimeout:       retryTimeout,
		dialTimeout:        dialTimeout,
	}
}

func (h *haTransport) addPeer(addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.peers {
		if p == addr {
			return
		}
	}
	h.peers = append(h.peers, addr)
}

// currentLeader returns the cached leader address, refreshing it first
// if the refresh interval has elapsed or none is known yet.
func (h *haTransport) currentLeader(ctx context.Context) (string, error) {
	h.mu.Lock()
	needsRefresh := h.leader == "" || time.Since(h.lastRefresh) > h.listMemberInterval
	peers := append([]string(nil), h.peers...)
	h.mu.Unlock()

	if !needsRefresh {
		h.mu.Lock()
		leader := h.leader
		h.mu.Unlock()
		return leader, nil
	}
	return h.refresh(ctx, peers)
}

// invalidate forces the next currentLeader call to refresh, used after a
// not_leader response or a failed call against the cached leader.
func (h *haTransport) invalidate() {
	h.mu.Lock()
	h.leader = ""
	h.mu.Unlock()
}

func (h *haTransport) refresh(ctx context.Context, peers []string) (string, error) {
	if len(peers) == 0 {
		return "", fmt.Errorf("client: no HA peers configured")
	}

	var lastErr error
	for _, peer := range peers {
		resp, err := requestOnce(peer, wire.KindListMembers, struct{}{}, h.dialTimeout)
		if err != nil {
			lastErr = err
			continue
		}
		var members wire.ListMembersResponse
		if err := decodeResponse(resp, &members); err != nil {
			lastErr = err
			continue
		}
		for _, m := range members.Members {
			if m.ServerURI != "" {
				h.addPeer(m.ServerURI)
			}
		}
		for _, m := range members.Members {
			if m.IsLeader {
				h.setLeader(m.ServerURI)
				return m.ServerURI, nil
			}
		}
		// Reachable, but reports no leader at all (membership tracking
		// not in use on that peer) — degrade to treating it as leader.
		h.setLeader(peer)
		return peer, nil
	}

	if lastErr != nil {
		return "", fmt.Errorf("client: no reachable HA peer: %w", lastErr)
	}
	return "", fmt.Errorf("client: no reachable HA peer")
}

func (h *haTransport) setLeader(addr string) {
	h.mu.Lock()
	h.leader = addr
	h.lastRefresh = time.Now()
	h.mu.Unlock()
}

// withFailover runs fn against the current leader, retrying against a
// freshly discovered leader on a not_leader response or network error
// until retryTimeout elapses. A validation-class error is never retried.
func (h *haTransport) withFailover(ctx context.Context, fn func(addr string) error) error {
	deadline := time.Now().Add(h.retryTimeout)
	var lastErr error
	for {
		addr, err := h.currentLeader(ctx)
		if err == nil {
			err = fn(addr)
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldFailover(err) {
			return err
		}
		h.invalidate()

		if time.Now().After(deadline) {
			return fmt.Errorf("client: HA retry budget exhausted: %w", lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func shouldFailover(err error) bool {
	if IsNotLeader(err) {
		return true
	}
	if _, ok := err.(*RemoteError); ok {
		return false // a validation/capacity error is not a leadership problem
	}
	return true // anything else is treated as a network-layer failure
}
