package vfs

import "testing"

import "github.com/stretchr/testify/require"

func TestFramePageNumber(t *testing.T) {
	b := []byte{0x00, 0x00, 0x00, 0x2a}
	require.EqualValues(t, 42, framePageNumber(b))
}

func TestIsCommitFrame(t *testing.T) {
	nonCommit := make([]byte, 8)
	require.False(t, isCommitFrame(nonCommit))

	commit := make([]byte, 8)
	commit[7] = 0x01
	require.True(t, isCommitFrame(commit))
}

func TestFrameBodyStripsHeader(t *testing.T) {
	b := make([]byte, walFrameHeaderSize+4)
	copy(b[walFrameHeaderSize:], []byte{1, 2, 3, 4})
	require.Equal(t, []byte{1, 2, 3, 4}, frameBody(b))
}

func TestWalWrittenSize(t *testing.T) {
	frames := []Frame{{Data: make([]byte, 100)}, {Data: make([]byte, 100)}}
	require.EqualValues(t, 2*(walFrameHeaderSize+100), walWrittenSize(frames))
}

func TestFrameListAccessors(t *testing.T) {
	list := FrameList{PageSize: 4096, Frames: []Frame{{PageNumber: 1}, {PageNumber: 2, Commit: true}}}
	require.Equal(t, 2, list.Len())
	require.EqualValues(t, 2, list.Frame(1).PageNumber)
	require.True(t, list.IsCommit(1))
	require.False(t, list.IsCommit(0))
}

func TestDBPathFromWAL(t *testing.T) {
	require.Equal(t, "test.db", dbPathFromWAL("test.db-wal"))
	require.Equal(t, "test.db", dbPathFromWAL("test.db"))
}
