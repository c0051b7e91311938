package main

import (
	"os"
	"path/filepath"

	"github.com/psanford/sqlite3vfs"
)

// osVFS is the minimal base VFS internal/vfs.VFS wraps: plain os-package
// file I/O, with none of the WAL interception internal/vfs adds on top.
// SQLite's on-disk page format itself is out of this module's scope, so
// this only needs to satisfy sqlite3vfs.VFS/File faithfully enough for
// modernc.org/sqlite to drive it — it does not interpret page contents.
type osVFS struct{}

func (osVFS) Open(name string, flags sqlite3vfs.OpenFlag) (sqlite3vfs.File, sqlite3vfs.OpenFlag, error) {
	osFlags := os.O_RDWR
	if flags&sqlite3vfs.OpenCreate != 0 {
		osFlags |= os.O_CREATE
	}
	if flags&sqlite3vfs.OpenReadOnly != 0 {
		osFlags = os.O_RDONLY
	}

	f, err := os.OpenFile(name, osFlags, 0o600)
	if err != nil {
		return nil, 0, err
	}
	return &osFile{f: f}, flags, nil
}

func (osVFS) Delete(name string, dirSync bool) error {
	err := os.Remove(name)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (osVFS) Access(name string, flag sqlite3vfs.AccessFlag) (bool, error) {
	_, err := os.Stat(name)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (osVFS) FullPathname(name string) string {
	abs, err := filepath.Abs(name)
	if err != nil {
		return name
	}
	return abs
}

// osFile adapts *os.File to sqlite3vfs.File. File locking is left to the
// OS's own advisory semantics on a single-writer connection (internal/db
// already enforces one *sql.DB connection per Handle), so Lock/Unlock are
// no-ops rather than flock-based — there is never cross-process contention
// to arbitrate in this module's deployment model.
type osFile struct {
	f *os.File
}

func (o *osFile) Close() error                    { return o.f.Close() }
func (o *osFile) ReadAt(p []byte, off int64) (int, error)  { return o.f.ReadAt(p, off) }
func (o *osFile) WriteAt(p []byte, off int64) (int, error) { return o.f.WriteAt(p, off) }
func (o *osFile) Truncate(size int64) error       { return o.f.Truncate(size) }
func (o *osFile) Sync(flag sqlite3vfs.SyncType) error { return o.f.Sync() }

func (o *osFile) FileSize() (int64, error) {
	fi, err := o.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (o *osFile) Lock(elock sqlite3vfs.LockType) error    { return nil }
func (o *osFile) Unlock(elock sqlite3vfs.LockType) error  { return nil }
func (o *osFile) CheckReservedLock() (bool, error)        { return false, nil }
func (o *osFile) SectorSize() int64                       { return 0 }
func (o *osFile) DeviceCharacteristics() sqlite3vfs.DeviceCharacteristic {
	return 0
}
