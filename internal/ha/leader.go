package ha

import (
	"context"
	"time"
)

// Elector answers "am I the leader right now" by reading the membership
// store directly rather than caching state locally — leadership can
// change between any two calls, and a stale local cache is exactly the
// kind of silently-strengthened guarantee the design notes warn against.
type Elector struct {
	store MembershipStore
	uuid  string
	ttl   time.Duration
}

// NewElector builds an Elector for this peer's own uuid.
func NewElector(store MembershipStore, uuid string, ttl time.Duration) *Elector {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Elector{store: store, uuid: uuid, ttl: ttl}
}

// RequireLeader returns nil if this peer currently holds the leader row,
// or ErrNotLeader otherwise. It's meant to guard every C6 call that must
// be served by the leader.
func (el *Elector) RequireLeader(ctx context.Context) error {
	leader, err := el.store.CurrentLeader(ctx)
	if err != nil {
		if err == ErrNotFound {
			return ErrNotLeader
		}
		return err
	}
	if leader.ServerUUID != el.uuid {
		return ErrNotLeader
	}
	if !leader.IsAlive(time.Now(), el.ttl) {
		return ErrNotLeader
	}
	return nil
}

// CurrentLeaderURI returns the advertised URI of whoever currently holds
// the leader row, for use in a redirect response.
func (el *Elector) CurrentLeaderURI(ctx context.Context) (string, error) {
	leader, err := el.store.CurrentLeader(ctx)
	if err != nil {
		return "", err
	}
	return leader.ServerURI, nil
}

// ListMembers exposes the underlying membership store's full peer list,
// for the C6 list_members call clients use to discover the current
// leader during failover.
func (el *Elector) ListMembers(ctx context.Context) ([]Member, error) {
	return el.store.ListMembers(ctx)
}
