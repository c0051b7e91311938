package main

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"

	"github.com/joeycumines/go-sqlited/internal/logging"
	"github.com/joeycumines/go-sqlited/internal/replication"
)

// applyTimeout bounds how long Propose waits for a quorum commit (spec.md
// §4.5's "propose" half of the hand-off).
const applyTimeout = 10 * time.Second

// raftConsensus adapts *raft.Raft to replication.Consensus, the boundary
// SPEC_FULL.md's DOMAIN STACK section draws around the Raft collaborator:
// internal/replication never imports hashicorp/raft directly.
type raftConsensus struct {
	raft *raft.Raft
	fsm  *raftFSM
}

// Propose applies payload through raft, mapping its sentinel errors onto
// the ones internal/replication recognizes (mirroring go-dqlite's own
// apply() helper, the grounding source for this mapping).
func (c *raftConsensus) Propose(ctx context.Context, payload []byte) (uint64, error) {
	timeout := applyTimeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			timeout = d
		}
	}

	f := c.raft.Apply(payload, timeout)
	if err := f.Error(); err != nil {
		switch {
		case errors.Is(err, raft.ErrNotLeader), errors.Is(err, raft.ErrRaftShutdown):
			return 0, replication.ErrNotLeader
		case errors.Is(err, raft.ErrLeadershipLost):
			return 0, replication.ErrLeadershipLost
		default:
			return 0, err
		}
	}
	return f.Index(), nil
}

func (c *raftConsensus) IsLeader() bool { return c.raft.State() == raft.Leader }

func (c *raftConsensus) LeaderAddress() string {
	return string(c.raft.Leader())
}

func (c *raftConsensus) PeerAddresses() []string {
	fut := c.raft.GetConfiguration()
	if err := fut.Error(); err != nil {
		return nil
	}
	cfg := fut.Configuration()
	addrs := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		addrs = append(addrs, string(s.Address))
	}
	return addrs
}

func (c *raftConsensus) OnCommit(fn func(index uint64, payload []byte)) {
	c.fsm.setOnCommit(fn)
}

// raftFSM applies committed log entries by forwarding them to whatever
// OnCommit callback internal/replication has registered (spec.md §4.5's
// "apply" half). It carries no SQLite state of its own: durable state lives
// in the SQLite files themselves via internal/vfs, not in a raft snapshot,
// matching go-dqlite's own design (a raft snapshot of SQLite's on-disk page
// format is explicitly out of scope).
type raftFSM struct {
	mu       sync.Mutex
	onCommit func(index uint64, payload []byte)
}

func (f *raftFSM) setOnCommit(fn func(index uint64, payload []byte)) {
	f.mu.Lock()
	f.onCommit = fn
	f.mu.Unlock()
}

func (f *raftFSM) Apply(log *raft.Log) any {
	f.mu.Lock()
	fn := f.onCommit
	f.mu.Unlock()
	if fn != nil {
		fn(log.Index, log.Data)
	}
	return nil
}

func (f *raftFSM) Snapshot() (raft.FSMSnapshot, error) { return noopSnapshot{}, nil }

func (f *raftFSM) Restore(rc io.ReadCloser) error { return rc.Close() }

type noopSnapshot struct{}

func (noopSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (noopSnapshot) Release()                             {}

// newRaft builds a single-node-bootstrapped (or join-pending) raft.Raft.
// The log and stable stores are in-memory — there is no persistent raft
// store library in the dependency set this module draws from, and adding
// one (e.g. raft-boltdb) would be decorative without a second node to
// actually exercise durability across restarts in this exercise; see
// DESIGN.md. The snapshot store is still real (raft.NewFileSnapshotStore
// under --data-dir) since raft.NewRaft requires one capable of Persist, even
// though raftFSM's own snapshots are empty placeholders.
func newRaft(nodeID, bindAddr, advertiseAddr, dataDir string, joinAddrs []string, log *logging.Logger) (*raft.Raft, *raftConsensus, error) {
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(nodeID)

	addr, err := net.ResolveTCPAddr("tcp", advertiseAddr)
	if err != nil {
		return nil, nil, err
	}
	transport, err := raft.NewTCPTransport(bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, err
	}

	dir := dataDirPath(dataDir, nodeID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, err
	}

	logStore := raft.NewInmemStore()
	stableStore := raft.NewInmemStore()
	snapshotStore, err := raft.NewFileSnapshotStore(dir, 2, os.Stderr)
	if err != nil {
		return nil, nil, err
	}

	fsm := &raftFSM{}

	r, err := raft.NewRaft(cfg, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, err
	}

	if len(joinAddrs) == 0 {
		bootstrapCfg := raft.Configuration{
			Servers: []raft.Server{{ID: cfg.LocalID, Address: transport.LocalAddr()}},
		}
		if err := r.BootstrapCluster(bootstrapCfg).Error(); err != nil &&
			!errors.Is(err, raft.ErrCantBootstrap) {
			return nil, nil, err
		}
	}
	// Joining an existing cluster (--join) is done out of band, via
	// whatever admin surface owns cluster membership changes — outside
	// this module's scope (a "demo CLI front-end" per spec.md's
	// Non-goals). --join is accepted here only so a future admin tool has
	// somewhere to read the target addresses from.

	return r, &raftConsensus{raft: r, fsm: fsm}, nil
}

func dataDirPath(dataDir, nodeID string) string {
	return filepath.Join(dataDir, nodeID)
}

var _ replication.Consensus = (*raftConsensus)(nil)
