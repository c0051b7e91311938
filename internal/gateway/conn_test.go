package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-sqlited/internal/gatewayerr"
	"github.com/joeycumines/go-sqlited/internal/logging"
	"github.com/joeycumines/go-sqlited/internal/pool"
	"github.com/joeycumines/go-sqlited/internal/replication"
	"github.com/joeycumines/go-sqlited/internal/wire"
)

type fakeConsensus struct {
	leaderAddr string
	peers      []string
}

func (f *fakeConsensus) Propose(context.Context, []byte) (uint64, error) { return 0, nil }
func (f *fakeConsensus) IsLeader() bool                                  { return true }
func (f *fakeConsensus) LeaderAddress() string                          { return f.leaderAddr }
func (f *fakeConsensus) PeerAddresses() []string                        { return f.peers }
func (f *fakeConsensus) OnCommit(func(uint64, []byte))                  {}

// newTestNode builds a Node backed by a real, running pool, so OPEN/PREPARE
// (submitted as UNORD items) actually complete on a worker goroutine.
func newTestNode(t *testing.T) (*Node, chan struct{}) {
	t.Helper()
	log := logging.New(logging.Config{})
	woke := make(chan struct{}, 64)
	p, err := pool.New(1, func() {
		select {
		case woke <- struct{}{}:
		default:
		}
	}, log)
	require.NoError(t, err)
	t.Cleanup(p.Shutdown)

	repl := replication.New(&fakeConsensus{leaderAddr: "node-1", peers: []string{"node-1", "node-2"}}, p, nil, log)

	return &Node{Pool: p, Replication: repl, VFSName: "memory", Log: log}, woke
}

// drain blocks until at least one completion is available, then runs
// DrainCompletions on the calling goroutine (standing in for the loop
// thread, per spec.md §4.3).
func drain(t *testing.T, node *Node, woke chan struct{}) {
	t.Helper()
	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pool completion")
	}
	node.Pool.DrainCompletions()
}

func lastSent(sent *[]wire.Message) *wire.Message {
	if len(*sent) == 0 {
		return nil
	}
	return &(*sent)[len(*sent)-1]
}

func recorder() (func([]byte) error, *[]wire.Message) {
	var sent []wire.Message
	send := func(b []byte) error {
		msg, _, err := wire.Decode(b)
		if err != nil {
			return err
		}
		sent = append(sent, *msg)
		return nil
	}
	return send, &sent
}

func TestHeloIsSynchronousAndReturnsLeaderAddress(t *testing.T) {
	node, _ := newTestNode(t)
	send, sent := recorder()
	c := NewConn(node, send)

	var w wire.Writer
	w.Uint64(42)
	require.NoError(t, c.HandleMessage(&wire.Message{Type: wire.TypeHelo, Body: w.Bytes()}))

	msg := lastSent(sent)
	require.NotNil(t, msg)
	require.Equal(t, wire.TypeWelcome, msg.Type)

	r := wire.NewReader(msg.Body)
	addr, err := r.String()
	require.NoError(t, err)
	require.Equal(t, "node-1", addr)

	// the conversation returned to Idle, so a second request is accepted.
	require.Equal(t, connIdle, c.machine.Current())
}

func TestHeartbeatListsPeersNullTerminated(t *testing.T) {
	node, _ := newTestNode(t)
	send, sent := recorder()
	c := NewConn(node, send)

	var w wire.Writer
	w.Uint64(0)
	require.NoError(t, c.HandleMessage(&wire.Message{Type: wire.TypeHeartbeat, Body: w.Bytes()}))

	msg := lastSent(sent)
	require.Equal(t, wire.TypeServers, msg.Type)

	r := wire.NewReader(msg.Body)
	var got []string
	for {
		s, err := r.String()
		require.NoError(t, err)
		if s == "" {
			break
		}
		got = append(got, s)
	}
	require.Equal(t, []string{"node-1", "node-2"}, got)
}

func TestSecondRequestWhileBusyIsProtocolErrorAndCloses(t *testing.T) {
	node, woke := newTestNode(t)
	send, _ := recorder()
	c := NewConn(node, send)

	var open wire.Writer
	open.String("test.db").Uint64(uint64(0x06)).String("") // READWRITE|CREATE, default vfs
	require.NoError(t, c.HandleMessage(&wire.Message{Type: wire.TypeOpen, Body: open.Bytes()}))
	require.Equal(t, connBusy, c.machine.Current())

	var helo wire.Writer
	helo.Uint64(1)
	err := c.HandleMessage(&wire.Message{Type: wire.TypeHelo, Body: helo.Bytes()})
	require.Error(t, err)
	ge, ok := err.(*gatewayerr.Error)
	require.True(t, ok)
	require.Equal(t, gatewayerr.Protocol, ge.Kind)
	require.Equal(t, connClosed, c.machine.Current())

	// let the already-in-flight OPEN drain so the pool shuts down cleanly.
	drain(t, node, woke)
}

func TestOpenPrepareFinalizeRoundTrip(t *testing.T) {
	node, woke := newTestNode(t)
	send, sent := recorder()
	c := NewConn(node, send)

	var open wire.Writer
	open.String("roundtrip.db").Uint64(uint64(0x06)).String("")
	require.NoError(t, c.HandleMessage(&wire.Message{Type: wire.TypeOpen, Body: open.Bytes()}))
	drain(t, node, woke)

	msg := lastSent(sent)
	require.Equal(t, wire.TypeDB, msg.Type)
	dbID, err := wire.NewReader(msg.Body).Uint64()
	require.NoError(t, err)

	var prep wire.Writer
	prep.Uint64(dbID).String(`CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`)
	require.NoError(t, c.HandleMessage(&wire.Message{Type: wire.TypePrepare, Body: prep.Bytes()}))
	drain(t, node, woke)

	msg = lastSent(sent)
	require.Equal(t, wire.TypeStmt, msg.Type)
	stmtID, err := wire.NewReader(msg.Body).Uint64()
	require.NoError(t, err)

	var fin wire.Writer
	fin.Uint64(dbID).Uint64(stmtID)
	require.NoError(t, c.HandleMessage(&wire.Message{Type: wire.TypeFinalize, Body: fin.Bytes()}))
	msg = lastSent(sent)
	require.Equal(t, wire.TypeEmpty, msg.Type)
	// FINALIZE is synchronous: no drain needed, and the conversation is
	// immediately idle again.
	require.Equal(t, connIdle, c.machine.Current())
}

func TestExecUnknownStatementIsNotFound(t *testing.T) {
	node, woke := newTestNode(t)
	send, sent := recorder()
	c := NewConn(node, send)

	var exec wire.Writer
	exec.Uint64(0).Uint64(999).Uint64(0) // dbID, stmtID, zero params
	require.NoError(t, c.HandleMessage(&wire.Message{Type: wire.TypeExec, Body: exec.Bytes()}))
	// the NotFound check happens synchronously before any pool submission,
	// so the conversation is immediately idle again rather than busy.
	require.Equal(t, connIdle, c.machine.Current())

	msg := lastSent(sent)
	require.Equal(t, wire.TypeDBError, msg.Type)
	_ = woke
}
