// Package replication implements the hand-off of spec.md §4.5: a VFS-level
// commit (internal/vfs.Hooks) is suspended until its WAL frames have been
// proposed to the consensus log and applied, on this node, by the commit
// callback that the log fires for every committed entry.
//
// Grounded directly on go-dqlite's internal/replication.Methods (see
// other_examples/.../go-dqlite-internal-replication-methods.go): the
// Pending/Writing/Zombie transaction bookkeeping, the surrogate-follower
// recovery strategy, and the raft-error-to-errno mapping are all carried
// over, re-expressed without cgo and against the Consensus collaborator
// interface instead of a concrete *raft.Raft field.
package replication

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/joeycumines/go-sqlited/internal/fatal"
	"github.com/joeycumines/go-sqlited/internal/gatewayerr"
	"github.com/joeycumines/go-sqlited/internal/logging"
	"github.com/joeycumines/go-sqlited/internal/pool"
	"github.com/joeycumines/go-sqlited/internal/vfs"
)

// busyRates throttles concurrent propose attempts per database: a second
// writer arriving while one is already in flight against the same database
// gets BUSY immediately rather than queueing indefinitely (spec.md §7's
// BUSY error kind), mirroring SQLite's own busy-handler semantics at the
// point where go-dqlite's Begin hook would otherwise return SQLITE_BUSY.
var busyRates = map[time.Duration]int{time.Second: 1}

// dbState is the per-database replication bookkeeping: the current
// in-progress transaction (if any) and the highest applied log index, used
// to make Apply idempotent when the same entry is delivered more than once
// (SUPPLEMENTED FEATURES item 4).
type dbState struct {
	mu      sync.Mutex
	txn     *Txn
	applied uint64
	future  *Future // the commit currently awaiting local apply, if any
}

// Applier is the local write half of the apply path: writing a committed
// entry's frames into dbID's own WAL file, the way internal/vfs.VFS does
// for every node (leader included — its own commit is also delivered
// through OnCommit, same as any follower's). Kept as a narrow interface
// rather than a direct *vfs.VFS field so tests can substitute a fake.
type Applier interface {
	Apply(dbID uint64, frames vfs.FrameList) error
}

// Replication implements vfs.Hooks, proposing committed WAL frame batches to
// a Consensus collaborator and applying them back via its OnCommit
// callback.
type Replication struct {
	consensus Consensus
	pool      *pool.Pool
	apply     Applier
	log       *logging.Logger
	limiter   *catrate.Limiter
	applyTO   time.Duration

	mu  sync.Mutex
	dbs map[uint64]*dbState
	seq uint64
}

var _ vfs.Hooks = (*Replication)(nil)

// New builds a Replication bound to consensus. p is the thread pool that a
// commit's trailing BAR work item (spec.md §4.5's last sentence) is
// enqueued onto once its future resolves; it may be nil in tests that only
// exercise propose/apply directly. applier is where every committed entry's
// frames are actually written locally (spec.md §4.5's apply half); it may
// also be nil in tests that only check bookkeeping, in which case apply is
// a no-op beyond the idempotency watermark and future resolution.
func New(consensus Consensus, p *pool.Pool, applier Applier, log *logging.Logger) *Replication {
	r := &Replication{
		consensus: consensus,
		pool:      p,
		apply:     applier,
		log:       log,
		limiter:   catrate.NewLimiter(busyRates),
		applyTO:   10 * time.Second,
		dbs:       make(map[uint64]*dbState),
	}
	consensus.OnCommit(r.onCommit)
	return r
}

// SetApplier sets (or replaces) the Applier used by onCommit. It exists
// because internal/vfs.VFS is itself constructed with a Hooks (this
// Replication) as a dependency — wiring both directions through New alone
// would be circular, so callers build Replication first with a nil
// applier, construct the VFS around it, then call SetApplier once the VFS
// exists.
func (r *Replication) SetApplier(applier Applier) {
	r.mu.Lock()
	r.apply = applier
	r.mu.Unlock()
}

func (r *Replication) dbStateFor(dbID uint64) *dbState {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dbs[dbID]
	if !ok {
		d = &dbState{}
		r.dbs[dbID] = d
	}
	return d
}

func (r *Replication) applier() Applier {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apply
}

// IsLeader forwards to the underlying Consensus collaborator, for the
// gateway's HELO/redirection handling.
func (r *Replication) IsLeader() bool { return r.consensus.IsLeader() }

// LeaderAddress forwards to the underlying Consensus collaborator.
func (r *Replication) LeaderAddress() string { return r.consensus.LeaderAddress() }

// PeerAddresses forwards to the underlying Consensus collaborator, for the
// gateway's HEARTBEAT response.
func (r *Replication) PeerAddresses() []string { return r.consensus.PeerAddresses() }

// Begin checks for a conflicting in-progress transaction on dbID, recovering
// a stale zombie the way go-dqlite's Begin hook does, and registers a new
// Pending transaction (go-dqlite-internal-replication-methods.go:60-179).
func (r *Replication) Begin(dbID uint64) error {
	if !r.consensus.IsLeader() {
		return gatewayerr.NotLeaderf(r.consensus.LeaderAddress(), "not leader")
	}

	d := r.dbStateFor(dbID)
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.txn != nil {
		if d.txn.IsZombie() {
			// A dangling zombie from a lost-leadership commit: resolve it
			// before starting fresh, same as beginMaybeHandleInProgressTxn's
			// Undo path.
			d.txn.Done()
			d.txn = nil
		} else {
			return gatewayerr.Busyf("write transaction already in progress on database %d", dbID)
		}
	}

	d.txn = newTxn(r.nextTxnID(), r.log)
	return nil
}

// nextTxnID mints a transaction id. go-dqlite uses raft.AppliedIndex() at
// Begin time (guaranteed to strictly increase while leader); we ask the
// consensus collaborator for the same thing by proposing a zero-length
// marker is unnecessary — instead we key transactions by a counter scoped
// to this Replication instance, since the index assigned by Propose is not
// known until Frames actually proposes something.
func (r *Replication) nextTxnID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq
}

// Abort discards a transaction that never sent any Frames.
func (r *Replication) Abort(dbID uint64) error {
	d := r.dbStateFor(dbID)
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.txn == nil {
		fatalMissingTxn(r.log, "abort")
		return nil
	}
	d.txn.Done()
	d.txn = nil
	return nil
}

// Frames proposes one batch of WAL frames to the consensus log, blocking
// until the propose call itself returns (raft.Apply(...).Error()'s
// synchronous shape) and then, for commit frames, until this node's own
// apply callback has run — so the caller observes a fully durable and
// locally-visible commit before Sync returns (spec.md §4.4 step 3, §4.5).
func (r *Replication) Frames(dbID uint64, frames vfs.FrameList, commitIndexHint uint64) error {
	d := r.dbStateFor(dbID)
	d.mu.Lock()
	txn := d.txn
	d.mu.Unlock()
	if txn == nil {
		fatalMissingTxn(r.log, "frames")
		return nil
	}

	if _, ok := r.limiter.Allow(dbID); !ok {
		return gatewayerr.Busyf("too many concurrent proposals for database %d", dbID)
	}

	if !r.consensus.IsLeader() {
		txn.Zombie()
		return gatewayerr.NotLeaderf(r.consensus.LeaderAddress(), "lost leadership before proposing frames")
	}

	payload := encodeFramesCommand(dbID, txn.ID, frames)

	var fut *Future
	isCommit := frames.Len() > 0 && frames.IsCommit(frames.Len()-1)
	if isCommit {
		fut = NewFuture()
		d.mu.Lock()
		d.future = fut
		d.mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.applyTO)
	defer cancel()
	index, err := r.consensus.Propose(ctx, payload)
	if err != nil {
		return r.frameProposeError(txn, err)
	}

	txn.MarkWriting()

	if fut == nil {
		return nil
	}

	// Wait for this node's own OnCommit callback to have applied the entry
	// (it may already have fired by the time Propose returned, or it may
	// race in concurrently — Future.Wait is safe either way).
	if err := fut.Wait(); err != nil {
		return gatewayerr.IOf(err, "applying committed frames for database %d at index %d", dbID, index)
	}

	if r.pool != nil {
		// spec.md §4.5's last sentence: a successful commit enqueues a BAR
		// work item so the pool's ordered queues observe a synchronization
		// point at the same place the commit lands, without the gateway
		// having to track replication completion itself.
		r.pool.Submit(&pool.WorkItem{
			Class:  pool.Barrier,
			Cookie: dbID,
			Do:     func() {},
			After:  func() {},
		})
	}

	return nil
}

func (r *Replication) frameProposeError(txn *Txn, err error) error {
	switch {
	case errors.Is(err, ErrNotLeader), errors.Is(err, ErrShutdown):
		txn.Zombie()
		return gatewayerr.NotLeaderf(r.consensus.LeaderAddress(), "propose failed: %v", err)
	case errors.Is(err, ErrLeadershipLost):
		// A quorum may still commit the lost entry; mark the transaction a
		// zombie rather than discard it (go-dqlite Frames hook, 394-497).
		txn.Zombie()
		return gatewayerr.NotLeaderf(r.consensus.LeaderAddress(), "leadership lost during propose: %v", err)
	default:
		return gatewayerr.IOf(err, "propose failed")
	}
}

// Undo rolls back a transaction, proposing an Undo command so followers
// revert their own buffered frames, unless no frames were ever sent (in
// which case there is nothing for followers to know about).
func (r *Replication) Undo(dbID uint64) error {
	d := r.dbStateFor(dbID)
	d.mu.Lock()
	txn := d.txn
	d.mu.Unlock()
	if txn == nil {
		fatalMissingTxn(r.log, "undo")
		return nil
	}

	if txn.IsZombie() {
		// Ignore: the next leader's Begin hook or this node's own FSM will
		// resolve the zombie once its fate is known.
		return nil
	}
	if txn.State() == txnPending {
		return nil
	}

	if !r.consensus.IsLeader() {
		txn.Zombie()
		return gatewayerr.NotLeaderf(r.consensus.LeaderAddress(), "not leader")
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.applyTO)
	defer cancel()
	if _, err := r.consensus.Propose(ctx, encodeUndoCommand(dbID, txn.ID)); err != nil {
		txn.Zombie()
		return gatewayerr.IOf(err, "propose undo failed")
	}
	return nil
}

// End finalizes the transaction, successful or not.
func (r *Replication) End(dbID uint64) error {
	d := r.dbStateFor(dbID)
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.txn == nil {
		return nil
	}
	if d.txn.IsZombie() {
		// Outcome still unknown; leave it for the next Begin/apply to
		// resolve (go-dqlite End hook, 683-688).
		return nil
	}
	d.txn.Done()
	d.txn = nil
	return nil
}

// onCommit is Consensus.OnCommit's callback: every committed entry, on
// every node, is applied here (SUPPLEMENTED FEATURES item 4: idempotent by
// index). It decodes the command, writes committed Frames commands into
// dbID's local WAL via apply (spec.md §4.5's "apply(entry)": "writes the
// entry's frames into the local database via the same VFS path, bypassing
// proposal"), and — if a Future is waiting on this commit on the proposing
// node — resolves or rejects it depending on whether the local write
// succeeded.
func (r *Replication) onCommit(index uint64, payload []byte) {
	if len(payload) == 0 {
		return
	}

	switch payload[0] {
	case cmdFrames:
		dbID, _, frames, ok := decodeFramesCommand(payload)
		if !ok {
			fatal.Invariant(r.log, "replication", "malformed frames command in committed entry")
			return
		}
		r.applyCommitted(index, dbID, func() error {
			apply := r.applier()
			if apply == nil {
				return nil
			}
			return apply.Apply(dbID, frames)
		})
	case cmdUndo:
		// Undo is never persisted locally: the frames it would roll back
		// were never written to any node's WAL in the first place (Frames
		// only proposes on commit). It still needs the same idempotency
		// bookkeeping so a future Frames command for the same database
		// isn't misjudged as a replay.
		dbID, ok := decodeCommandDBID(payload)
		if !ok {
			return
		}
		r.applyCommitted(index, dbID, nil)
	default:
		fatal.Invariant(r.log, "replication", "unknown committed command kind")
	}
}

// applyCommitted is the shared idempotent-by-index bookkeeping: run fn
// (unless this index was already applied) and settle whichever Future is
// waiting on this database's commit.
func (r *Replication) applyCommitted(index, dbID uint64, fn func() error) {
	d := r.dbStateFor(dbID)
	d.mu.Lock()
	if index <= d.applied {
		// Already applied (duplicate delivery, or this is a replay after a
		// restart) — idempotent no-op.
		fut := d.future
		d.mu.Unlock()
		if fut != nil {
			fut.Resolve()
		}
		return
	}
	d.applied = index
	fut := d.future
	d.future = nil
	d.mu.Unlock()

	var err error
	if fn != nil {
		err = fn()
	}

	switch {
	case fut != nil && err != nil:
		fut.Reject(err)
	case fut != nil:
		fut.Resolve()
	case err != nil && r.log != nil:
		// No one is waiting locally (this node is a follower for this
		// commit) — there is no caller to return the error to, so log it.
		r.log.Warning().Err(err).Log("apply failed on non-proposing node")
	}
}

// fatalMissingTxn handles a hook firing with no known transaction — go-dqlite
// treats this as an unrecoverable programming error (tracer.Panic("no
// in-progress transaction")), since there is no legal SQLite call sequence
// that reaches Abort/Frames/Undo without a prior successful Begin.
func fatalMissingTxn(log *logging.Logger, hook string) {
	fatal.Invariant(log, "replication", "hook "+hook+" called with no in-progress transaction")
}

const (
	cmdFrames uint8 = 1
	cmdUndo   uint8 = 2
)

// encodeFramesCommand and encodeUndoCommand use a minimal fixed header
// (command kind, dbID, txnID) ahead of the raw frame bytes; the exact wire
// representation of a consensus log entry is this module's own business,
// not a collaborator's, so it is kept separate from internal/wire's
// client-facing protocol.
func encodeFramesCommand(dbID, txnID uint64, frames vfs.FrameList) []byte {
	buf := make([]byte, 0, 25+frames.Len()*8)
	buf = append(buf, cmdFrames)
	buf = binary.LittleEndian.AppendUint64(buf, dbID)
	buf = binary.LittleEndian.AppendUint64(buf, txnID)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(frames.Len()))
	for i := 0; i < frames.Len(); i++ {
		f := frames.Frame(i)
		buf = binary.LittleEndian.AppendUint32(buf, f.PageNumber)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(f.Data)))
		buf = append(buf, f.Data...)
	}
	return buf
}

func encodeUndoCommand(dbID, txnID uint64) []byte {
	buf := make([]byte, 0, 17)
	buf = append(buf, cmdUndo)
	buf = binary.LittleEndian.AppendUint64(buf, dbID)
	buf = binary.LittleEndian.AppendUint64(buf, txnID)
	return buf
}

func decodeCommandDBID(payload []byte) (uint64, bool) {
	if len(payload) < 9 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(payload[1:9]), true
}

// decodeFramesCommand reverses encodeFramesCommand, reconstructing the
// vfs.FrameList a Frames command carried so onCommit can write it into the
// local WAL via Applier.
func decodeFramesCommand(payload []byte) (dbID, txnID uint64, frames vfs.FrameList, ok bool) {
	if len(payload) < 25 || payload[0] != cmdFrames {
		return 0, 0, vfs.FrameList{}, false
	}
	dbID = binary.LittleEndian.Uint64(payload[1:9])
	txnID = binary.LittleEndian.Uint64(payload[9:17])
	n := binary.LittleEndian.Uint64(payload[17:25])

	buf := payload[25:]
	fl := make([]vfs.Frame, 0, n)
	for i := uint64(0); i < n; i++ {
		if len(buf) < 8 {
			return 0, 0, vfs.FrameList{}, false
		}
		pageNumber := binary.LittleEndian.Uint32(buf[0:4])
		dataLen := binary.LittleEndian.Uint32(buf[4:8])
		buf = buf[8:]
		if uint64(len(buf)) < uint64(dataLen) {
			return 0, 0, vfs.FrameList{}, false
		}
		fl = append(fl, vfs.Frame{PageNumber: pageNumber, Data: buf[:dataLen], Commit: i == n-1})
		buf = buf[dataLen:]
	}

	pageSize := 0
	if len(fl) > 0 {
		pageSize = len(fl[0].Data)
	}
	return dbID, txnID, vfs.FrameList{PageSize: pageSize, Frames: fl}, true
}
