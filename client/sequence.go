package client

import "sync/atomic"

// SequenceManager hands out strictly increasing producer sequence
// numbers for idempotent sends, seeded from initial.sequence.number on
// recovery so a restarted producer doesn't reuse numbers the server
// already accepted.
type SequenceManager struct {
	cur int64
}

// NewSequenceManager seeds the manager so the first call to Next returns
// seed+1.
func NewSequenceManager(seed int64) *SequenceManager {
	return &SequenceManager{cur: seed}
}

// Next returns the next sequence number to use.
func (s *SequenceManager) Next() int64 {
	return atomic.AddInt64(&s.cur, 1)
}

// Current returns the last sequence number handed out, without
// advancing it.
func (s *SequenceManager) Current() int64 {
	return atomic.LoadInt64(&s.cur)
}
