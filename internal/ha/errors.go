package ha

import "errors"

// ErrNotLeader is returned by C6 request handling when a call that must
// go to the leader (SendEvent, RegisterClient, DeleteClient, and the
// idempotence-bearing paths) arrives at a peer that doesn't currently
// hold the leader row. The caller is expected to redirect using
// ListMembers/CurrentLeader.
var ErrNotLeader = errors.New("ha: this peer is not the current leader")
