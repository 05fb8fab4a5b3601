package ha

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process MembershipStore, for tests and single-process
// deployments where HA is exercised without a real shared database.
type Memory struct {
	mu      sync.Mutex
	members map[string]Member
}

// NewMemory creates an empty membership store.
func NewMemory() *Memory {
	return &Memory{members: make(map[string]Member)}
}

func (m *Memory) Heartbeat(_ context.Context, uri, uuid string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[uuid]
	if !ok {
		mem = Member{ServerUUID: uuid}
	}
	mem.ServerURI = uri
	mem.LastHeartbeatTS = now.UnixMilli()
	m.members[uuid] = mem
	return nil
}

func (m *Memory) TryBecomeLeader(_ context.Context, uuid string, now time.Time, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, mem := range m.members {
		if id == uuid || !mem.IsLeader {
			continue
		}
		if mem.IsAlive(now, ttl) {
			return false, nil
		}
	}

	mem, ok := m.members[uuid]
	if !ok {
		mem = Member{ServerUUID: uuid, LastHeartbeatTS: now.UnixMilli()}
	}
	for id, other := range m.members {
		if id != uuid {
			other.IsLeader = false
			m.members[id] = other
		}
	}
	mem.IsLeader = true
	m.members[uuid] = mem
	return true, nil
}

func (m *Memory) ListMembers(_ context.Context) ([]Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Member, 0, len(m.members))
	for _, mem := range m.members {
		out = append(out, mem)
	}
	return out, nil
}

func (m *Memory) CurrentLeader(_ context.Context) (Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.members {
		if mem.IsLeader {
			return mem, nil
		}
	}
	return Member{}, ErrNotFound
}
