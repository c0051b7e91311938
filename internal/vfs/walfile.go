package vfs

import (
	"sync"

	"github.com/psanford/sqlite3vfs"
)

// walFrameHeaderSize is SQLite's fixed 24-byte WAL frame header (page
// number, commit size, salts, checksums) preceding each page image.
const walFrameHeaderSize = 24

// walFile wraps a WAL file handle, buffering the frames of the
// transaction currently being written instead of persisting them
// immediately (spec.md §4.4 step 1: "Frames are buffered in memory, not
// yet persisted to the local file").
type walFile struct {
	sqlite3vfs.File
	dbID  uint64
	hooks Hooks

	mu      sync.Mutex
	began   bool
	pending []Frame
	// preCommitSize is the WAL file size, in bytes, as of the last
	// confirmed commit — the rollback point for step 5.
	preCommitSize int64
}

// WriteAt intercepts frame-sized writes landing past the current commit
// point, buffering them instead of writing through. Writes within the
// already-durable prefix (SQLite re-reading/verifying its own WAL header)
// pass straight through.
func (f *walFile) WriteAt(b []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if off < f.preCommitSize {
		return f.File.WriteAt(b, off)
	}

	if !f.began {
		if err := f.hooks.Begin(f.dbID); err != nil {
			return 0, err
		}
		f.began = true
	}

	frame := Frame{
		PageNumber: framePageNumber(b),
		Data:       append([]byte(nil), frameBody(b)...),
		Commit:     isCommitFrame(b),
	}
	f.pending = append(f.pending, frame)

	return len(b), nil
}

// Sync is SQLite's durability boundary: a WAL append is confirmed
// complete by an fsync of the WAL file. We treat Sync as "the commit
// frame has been written" and run the replication hand-off before
// allowing it to return successfully (spec.md §4.4 steps 2-5).
func (f *walFile) Sync(flags sqlite3vfs.SyncType) error {
	f.mu.Lock()
	pending := f.pending
	f.mu.Unlock()

	if len(pending) == 0 || !pending[len(pending)-1].Commit {
		// Not a commit boundary (e.g. an interim fsync); nothing to hand
		// off yet.
		return f.File.Sync(flags)
	}

	list := FrameList{PageSize: walPageSize(pending), Frames: pending}

	if err := f.hooks.Frames(f.dbID, list, 0); err != nil {
		f.rollback()
		_ = f.hooks.Undo(f.dbID)
		_ = f.hooks.End(f.dbID)
		return err
	}

	if err := f.flush(pending); err != nil {
		return err
	}

	f.mu.Lock()
	f.pending = nil
	f.began = false
	f.preCommitSize += walWrittenSize(pending)
	f.mu.Unlock()

	if err := f.File.Sync(flags); err != nil {
		return err
	}

	return f.hooks.End(f.dbID)
}

// flush writes the approved frames through to the underlying file —
// spec.md §4.4 step 4: "frames are written to the local WAL and the
// transaction is considered durable."
func (f *walFile) flush(frames []Frame) error {
	_, err := writeFrames(f.File, f.preCommitSize, frames)
	return err
}

// writeFrames appends frames to w starting at off, in SQLite's WAL frame
// layout (a fixed header ahead of each page image). It is shared by the
// proposing node's own flush (above) and by VFS.Apply, the follower-side
// write path — both must lay frames out identically so a node that was
// once a follower and later becomes leader reads back a consistent file.
func writeFrames(w sqlite3vfs.File, off int64, frames []Frame) (int64, error) {
	for _, fr := range frames {
		buf := make([]byte, walFrameHeaderSize+len(fr.Data))
		copy(buf[walFrameHeaderSize:], fr.Data)
		if _, err := w.WriteAt(buf, off); err != nil {
			return off, err
		}
		off += int64(len(buf))
	}
	return off, nil
}

// rollback discards the buffered frames without touching the underlying
// file — since they were never written through, "rolling back the WAL
// pointer" is simply dropping the buffer (spec.md §4.4 step 5).
func (f *walFile) rollback() {
	f.mu.Lock()
	f.pending = nil
	f.began = false
	f.mu.Unlock()
}

func framePageNumber(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func frameBody(b []byte) []byte {
	if len(b) <= walFrameHeaderSize {
		return nil
	}
	return b[walFrameHeaderSize:]
}

func isCommitFrame(b []byte) bool {
	// Bytes 4-7 of a WAL frame header hold the "db size after commit" in
	// pages; zero means the frame is not a commit record.
	if len(b) < 8 {
		return false
	}
	return b[4] != 0 || b[5] != 0 || b[6] != 0 || b[7] != 0
}

func walPageSize(frames []Frame) int {
	if len(frames) == 0 {
		return 0
	}
	return len(frames[0].Data)
}

func walWrittenSize(frames []Frame) int64 {
	var n int64
	for _, f := range frames {
		n += int64(walFrameHeaderSize + len(f.Data))
	}
	return n
}
