package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arloq/notifyd/internal/event"
)

// Memory is an in-memory EventStore/ClientRegistry. Events are kept in a
// single slice ordered by version, mirroring the teacher's EventLog: a
// monotonic counter under one mutex, sort.Search for range slicing, and a
// notify channel that is closed and replaced on every append so that
// subscribers parked on it wake exactly once per publish.
type Memory struct {
	mu     sync.RWMutex
	events []event.Event
	seq    int64
	notify chan struct{}

	clients   map[int64]event.Client
	nextID    int64
	sequences map[int64]event.SequenceRecord
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		notify:    make(chan struct{}),
		clients:   make(map[int64]event.Client),
		sequences: make(map[int64]event.SequenceRecord),
	}
}

// Notify returns the current wakeup channel. It is closed the next time
// Append runs; callers (the subscription engine) must re-fetch it after
// each wakeup. This is the same "close and replace" idiom the teacher's
// EventLog uses for Subscribe.
func (m *Memory) Notify() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.notify
}

// MaxVersion returns the current highest assigned version (0 if empty).
// The subscription engine does not call it; each listener follows its own
// version cursor instead of a replay snapshot.
func (m *Memory) MaxVersion() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seq
}

func (m *Memory) Append(_ context.Context, e event.Event) (event.Event, error) {
	if err := e.Validate(); err != nil {
		return event.Event{}, err
	}
	m.mu.Lock()
	m.seq++
	e.Version = m.seq
	e.CreateTime = nowMillis()
	m.events = append(m.events, e)
	ch := m.notify
	m.notify = make(chan struct{})
	m.mu.Unlock()
	close(ch)
	return e, nil
}

func (m *Memory) List(_ context.Context, f ListFilter) ([]event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := sliceSince(m.events, f.VersionLowExclusive)
	result := make([]event.Event, 0, len(out))
	for _, e := range out {
		if f.Match(e) {
			result = append(result, e)
			if f.Limit > 0 && len(result) >= f.Limit {
				break
			}
		}
	}
	return result, nil
}

func (m *Memory) ListRange(_ context.Context, lowInclusive, highInclusive int64) ([]event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := sliceSince(m.events, lowInclusive-1)
	if highInclusive <= 0 {
		return append([]event.Event(nil), out...), nil
	}
	result := make([]event.Event, 0, len(out))
	for _, e := range out {
		if e.Version > highInclusive {
			break
		}
		result = append(result, e)
	}
	return result, nil
}

func (m *Memory) ListByTime(_ context.Context, startInclusive, endInclusive int64) ([]event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]event.Event, 0)
	for _, e := range m.events {
		if e.CreateTime < startInclusive {
			continue
		}
		if endInclusive > 0 && e.CreateTime > endInclusive {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func (m *Memory) LatestVersion(_ context.Context, key string, namespace *string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest int64
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if e.Key != key {
			continue
		}
		if namespace != nil && *namespace != event.Wildcard && e.Namespace != *namespace {
			continue
		}
		if e.Version > latest {
			latest = e.Version
		}
	}
	return latest, nil
}

func (m *Memory) Count(ctx context.Context, f ListFilter) (int64, []CountBreakdown, error) {
	events, err := m.List(ctx, f)
	if err != nil {
		return 0, nil, err
	}
	bySender := make(map[string]int64)
	order := make([]string, 0)
	for _, e := range events {
		if _, ok := bySender[e.Sender]; !ok {
			order = append(order, e.Sender)
		}
		bySender[e.Sender]++
	}
	breakdown := make([]CountBreakdown, 0, len(order))
	for _, s := range order {
		breakdown = append(breakdown, CountBreakdown{Sender: s, EventCount: bySender[s]})
	}
	return int64(len(events)), breakdown, nil
}

func (m *Memory) CleanUp(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
	m.seq = 0
	m.clients = make(map[int64]event.Client)
	m.sequences = make(map[int64]event.SequenceRecord)
	m.nextID = 0
	return nil
}

func (m *Memory) RegisterClient(_ context.Context, namespace, sender string, clientID *int64) (event.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if clientID != nil {
		c, ok := m.clients[*clientID]
		if ok {
			c.IsDeleted = false
			m.clients[*clientID] = c
			return c, nil
		}
		c = event.Client{ClientID: *clientID, Namespace: namespace, Sender: sender, CreateTime: nowMillis()}
		m.clients[*clientID] = c
		if *clientID >= m.nextID {
			m.nextID = *clientID + 1
		}
		return c, nil
	}

	m.nextID++
	c := event.Client{ClientID: m.nextID, Namespace: namespace, Sender: sender, CreateTime: nowMillis()}
	m.clients[c.ClientID] = c
	return c, nil
}

func (m *Memory) IsClientExists(_ context.Context, clientID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[clientID]
	return ok && !c.IsDeleted, nil
}

func (m *Memory) DeleteClient(_ context.Context, clientID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[clientID]
	if !ok {
		return nil
	}
	c.IsDeleted = true
	m.clients[clientID] = c
	return nil
}

func (m *Memory) GetClient(_ context.Context, clientID int64) (event.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[clientID]
	if !ok {
		return event.Client{}, ErrClientNotFound
	}
	return c, nil
}

func (m *Memory) LastSequenceNumber(_ context.Context, clientID int64) (int64, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sequences[clientID]
	if !ok {
		return 0, 0, nil
	}
	return rec.LastSequenceNumber, rec.LastEventVersion, nil
}

func (m *Memory) AdvanceSequence(_ context.Context, clientID, sequenceNumber, eventVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[clientID] = event.SequenceRecord{
		ClientID:           clientID,
		LastSequenceNumber: sequenceNumber,
		LastEventVersion:   eventVersion,
	}
	return nil
}

func (m *Memory) SeedSequence(_ context.Context, clientID, sequenceNumber int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.sequences[clientID]
	rec.ClientID = clientID
	rec.LastSequenceNumber = sequenceNumber
	m.sequences[clientID] = rec
	return nil
}

// sliceSince returns events with Version > v from a slice sorted by
// version, via binary search — identical idiom to the teacher's
// EventLog.sliceSince.
func sliceSince(events []event.Event, v int64) []event.Event {
	i := sort.Search(len(events), func(i int) bool {
		return events[i].Version > v
	})
	if i >= len(events) {
		return nil
	}
	return events[i:]
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
