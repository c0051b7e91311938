package replication

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-sqlited/internal/vfs"
)

var errApplyBoom = errors.New("apply boom")

// fakeConsensus is an in-process Consensus that commits synchronously and
// in submission order, invoking the registered OnCommit callback before
// Propose returns — exercising the common case where local apply has
// already happened by the time Frames checks its Future.
type fakeConsensus struct {
	mu       sync.Mutex
	leader   bool
	leaderAt string
	index    uint64
	onCommit func(index uint64, payload []byte)
	proposed int

	// failNext, if set, is returned (and not counted as committed) on the
	// next Propose call.
	failNext error
}

func (f *fakeConsensus) Propose(_ context.Context, payload []byte) (uint64, error) {
	f.mu.Lock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		f.mu.Unlock()
		return 0, err
	}
	f.index++
	idx := f.index
	cb := f.onCommit
	f.proposed++
	f.mu.Unlock()

	if cb != nil {
		cb(idx, payload)
	}
	return idx, nil
}

func (f *fakeConsensus) IsLeader() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leader
}

func (f *fakeConsensus) LeaderAddress() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaderAt
}

func (f *fakeConsensus) PeerAddresses() []string { return nil }

func (f *fakeConsensus) OnCommit(fn func(index uint64, payload []byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCommit = fn
}

func commitFrames() vfs.FrameList {
	return vfs.FrameList{PageSize: 8, Frames: []vfs.Frame{{PageNumber: 1, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}, Commit: true}}}
}

// fakeApplier records every Apply call, standing in for internal/vfs.VFS's
// local WAL write in tests that don't need a real SQLite file on disk.
type fakeApplier struct {
	mu      sync.Mutex
	calls   []uint64
	frames  []vfs.FrameList
	failErr error
}

func (a *fakeApplier) Apply(dbID uint64, frames vfs.FrameList) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, dbID)
	a.frames = append(a.frames, frames)
	return a.failErr
}

func TestBeginFramesEndHappyPath(t *testing.T) {
	c := &fakeConsensus{leader: true}
	r := New(c, nil, nil, nil)

	require.NoError(t, r.Begin(1))
	require.NoError(t, r.Frames(1, commitFrames(), 0))
	require.NoError(t, r.End(1))

	// the database's transaction slot is free again
	require.NoError(t, r.Begin(1))
	require.NoError(t, r.End(1))
}

func TestBeginWhileNotLeaderIsNotLeaderError(t *testing.T) {
	c := &fakeConsensus{leader: false, leaderAt: "node-2"}
	r := New(c, nil, nil, nil)

	err := r.Begin(1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "NOT_LEADER")
}

func TestConcurrentWriteTransactionIsBusy(t *testing.T) {
	c := &fakeConsensus{leader: true}
	r := New(c, nil, nil, nil)

	require.NoError(t, r.Begin(1))
	err := r.Begin(1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "BUSY")
}

func TestAbortFreesDatabaseForNextBegin(t *testing.T) {
	c := &fakeConsensus{leader: true}
	r := New(c, nil, nil, nil)

	require.NoError(t, r.Begin(1))
	require.NoError(t, r.Abort(1))
	require.NoError(t, r.Begin(1))
}

func TestProposeNotLeaderMarksZombieAndFreesBeginOnNextLeaderCheck(t *testing.T) {
	c := &fakeConsensus{leader: true}
	r := New(c, nil, nil, nil)

	require.NoError(t, r.Begin(1))

	c.mu.Lock()
	c.leader = false
	c.leaderAt = "node-3"
	c.mu.Unlock()

	err := r.Frames(1, commitFrames(), 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "NOT_LEADER")

	d := r.dbStateFor(1)
	require.True(t, d.txn.IsZombie())

	// once this node is leader again, Begin resolves the zombie and starts
	// a fresh transaction instead of reporting BUSY.
	c.mu.Lock()
	c.leader = true
	c.mu.Unlock()
	require.NoError(t, r.Begin(1))
	require.False(t, d.txn.IsZombie())
}

func TestOnCommitIsIdempotentByIndex(t *testing.T) {
	c := &fakeConsensus{leader: true}
	r := New(c, nil, nil, nil)

	r.onCommit(5, encodeFramesCommand(1, 1, commitFrames()))
	d := r.dbStateFor(1)
	require.EqualValues(t, 5, d.applied)

	// replaying the same (or an older) index is a no-op.
	r.onCommit(5, encodeFramesCommand(1, 1, commitFrames()))
	require.EqualValues(t, 5, d.applied)
	r.onCommit(3, encodeFramesCommand(1, 1, commitFrames()))
	require.EqualValues(t, 5, d.applied)
}

func TestFramesWritesCommittedFramesLocallyViaApplier(t *testing.T) {
	c := &fakeConsensus{leader: true}
	a := &fakeApplier{}
	r := New(c, nil, a, nil)

	require.NoError(t, r.Begin(7))
	require.NoError(t, r.Frames(7, commitFrames(), 0))

	a.mu.Lock()
	defer a.mu.Unlock()
	require.Equal(t, []uint64{7}, a.calls)
	require.Len(t, a.frames, 1)
	require.Equal(t, commitFrames().Frames, a.frames[0].Frames)
}

func TestOnCommitAppliesFramesOnFollowerWithNoWaitingFuture(t *testing.T) {
	c := &fakeConsensus{}
	a := &fakeApplier{}
	r := New(c, nil, a, nil)

	r.onCommit(9, encodeFramesCommand(3, 1, commitFrames()))

	a.mu.Lock()
	defer a.mu.Unlock()
	require.Equal(t, []uint64{3}, a.calls)
}

func TestFramesReturnsErrorWhenLocalApplyFails(t *testing.T) {
	c := &fakeConsensus{leader: true}
	a := &fakeApplier{failErr: errApplyBoom}
	r := New(c, nil, a, nil)

	require.NoError(t, r.Begin(1))
	err := r.Frames(1, commitFrames(), 0)
	require.Error(t, err)
	require.ErrorIs(t, err, errApplyBoom)
}

func TestUndoOnPendingTransactionIsNoop(t *testing.T) {
	c := &fakeConsensus{leader: true}
	r := New(c, nil, nil, nil)

	require.NoError(t, r.Begin(1))
	require.NoError(t, r.Undo(1))
}

func TestFutureResolveIsIdempotent(t *testing.T) {
	f := NewFuture()
	f.Resolve()
	f.Resolve() // must not panic or block
	require.NoError(t, f.Wait())
	require.Equal(t, FutureResolved, f.State())
}

func TestFutureRejectCarriesError(t *testing.T) {
	f := NewFuture()
	sentinel := ErrNotLeader
	f.Reject(sentinel)
	require.Equal(t, sentinel, f.Wait())
	require.Equal(t, FutureRejected, f.State())
}
