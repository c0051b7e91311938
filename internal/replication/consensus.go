package replication

import "context"

// Consensus is the out-of-scope collaborator described by spec.md §6: a
// Raft-backed commit log. internal/replication proposes WAL frame batches
// through it and applies them back on every node as they commit. The
// implementation detail of Raft itself is a named collaborator, not part of
// this module (grounded on github.com/hashicorp/raft, the real dependency
// the pack's go-dqlite fragment wraps as raft.Raft).
type Consensus interface {
	// Propose submits payload for replication, returning the log index it
	// was assigned once durably committed to a quorum, or an error
	// (ErrNotLeader-shaped if this node is not currently the leader).
	Propose(ctx context.Context, payload []byte) (index uint64, err error)
	// IsLeader reports whether this node currently believes itself leader.
	IsLeader() bool
	// LeaderAddress returns the current leader's address, for redirection,
	// or "" if unknown.
	LeaderAddress() string
	// PeerAddresses lists every known cluster member's address, for the
	// gateway's HEARTBEAT response (spec.md §4.6).
	PeerAddresses() []string
	// OnCommit registers a callback invoked, on every node, once for each
	// committed log entry in order — the apply side of propose/apply
	// (spec.md §4.5).
	OnCommit(fn func(index uint64, payload []byte))
}

// Raft error classes a Consensus implementation is expected to signal via
// errors.Is, mirroring go-dqlite's Methods.apply mapping of
// raft.ErrNotLeader/raft.ErrLeadershipLost/raft.ErrRaftShutdown onto the
// gateway error taxonomy (internal/gatewayerr).
var (
	ErrNotLeader      = sentinelError("not the raft leader")
	ErrLeadershipLost = sentinelError("raft leadership lost during apply")
	ErrShutdown       = sentinelError("raft is shutting down")
)

type sentinelError string

func (e sentinelError) Error() string { return string(e) }
