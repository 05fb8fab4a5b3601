package ha

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultHeartbeatInterval and DefaultTTL satisfy the spec's "T_ttl must
// exceed T_heartbeat by at least 2x" rule with headroom to spare.
const (
	DefaultHeartbeatInterval = 2 * time.Second
	DefaultTTL               = 10 * time.Second
)

// Heartbeat runs a single scheduled task, one per peer, that writes this
// peer's liveness into the membership store every interval and attempts
// to (re)claim leadership on the same tick — mirroring the teacher's
// ticker-driven cache eviction loop, adapted to heartbeat semantics.
type Heartbeat struct {
	store    MembershipStore
	uri      string
	uuid     string
	interval time.Duration
	ttl      time.Duration
	log      zerolog.Logger
}

// NewHeartbeat builds a Heartbeat for this peer. uri is this server's own
// advertised address; uuid is its stable identity across restarts.
func NewHeartbeat(store MembershipStore, uri, uuid string, interval, ttl time.Duration, log zerolog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Heartbeat{
		store:    store,
		uri:      uri,
		uuid:     uuid,
		interval: interval,
		ttl:      ttl,
		log:      log.With().Str("component", "ha.heartbeat").Str("server_uuid", uuid).Logger(),
	}
}

// Run ticks until ctx is cancelled. It does not return an error on a
// transient store failure — it logs and keeps ticking, since a missed
// heartbeat is exactly the condition the TTL mechanism is designed to
// tolerate.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick(ctx)
		}
	}
}

func (h *Heartbeat) tick(ctx context.Context) {
	now := time.Now()
	if err := h.store.Heartbeat(ctx, h.uri, h.uuid, now); err != nil {
		h.log.Error().Err(err).Msg("heartbeat write failed")
		return
	}
	became, err := h.store.TryBecomeLeader(ctx, h.uuid, now, h.ttl)
	if err != nil {
		h.log.Error().Err(err).Msg("leader assertion failed")
		return
	}
	if became {
		h.log.Debug().Msg("leadership asserted")
	}
}
