// Package db wraps the embedded, pure-Go SQLite engine (modernc.org/sqlite)
// that spec.md §6 names as the required "SQLite collaborator". It owns a
// single-writer connection per opened database (WAL mode), matching the
// teacher pack's own sqlite_queue.go connection discipline.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/joeycumines/go-sqlited/internal/gatewayerr"
)

// OpenFlags mirrors the subset of sqlite3_open_v2 flags spec.md §4.6
// exercises.
type OpenFlags uint32

const (
	OpenReadOnly  OpenFlags = 0x01
	OpenReadWrite OpenFlags = 0x02
	OpenCreate    OpenFlags = 0x04
)

// sqliteMisuse is SQLite's SQLITE_MISUSE result code, surfaced verbatim in
// spec.md §8 scenario 2.
const sqliteMisuse = 21

// Handle is an opened database: one single-writer *sql.DB plus the
// identifying fields the db registry entry carries (spec.md §3 "Database
// handle").
type Handle struct {
	Name string
	VFS  string
	conn *sql.DB
}

// Open validates flags the way SQLite's own sqlite3_open_v2 does (exactly
// one of READONLY/READWRITE, CREATE only meaningful alongside READWRITE)
// and, if valid, opens a single-writer WAL-mode connection through
// modernc.org/sqlite against the named VFS.
func Open(name string, flags OpenFlags, vfsName string) (*Handle, error) {
	if err := validateFlags(flags); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?vfs=%s&_pragma=busy_timeout(5000)", name, vfsName)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, gatewayerr.IOf(err, "open %q", name)
	}
	// A single connection serializes all writes against this database,
	// matching SQLite's own single-writer constraint under WAL.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA synchronous = NORMAL`,
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, gatewayerr.IOf(err, "configure %q", name)
		}
	}

	return &Handle{Name: name, VFS: vfsName, conn: conn}, nil
}

func validateFlags(flags OpenFlags) error {
	hasRO := flags&OpenReadOnly != 0
	hasRW := flags&OpenReadWrite != 0
	hasCreate := flags&OpenCreate != 0

	if hasRO == hasRW {
		// neither, or both: SQLite requires exactly one of the two.
		return gatewayerr.DBErrorf(sqliteMisuse, 0, nil, "bad parameter or other API misuse")
	}
	if hasCreate && !hasRW {
		// CREATE is only meaningful when opening for read-write.
		return gatewayerr.DBErrorf(sqliteMisuse, 0, nil, "bad parameter or other API misuse")
	}
	return nil
}

// Conn exposes the underlying *sql.DB for the pool worker that runs SQLite
// steps against it. Only ever called from a worker goroutine, never the
// loop thread (spec.md §5).
func (h *Handle) Conn() *sql.DB { return h.conn }

// Close releases the connection.
func (h *Handle) Close() error {
	if h.conn == nil {
		return nil
	}
	return h.conn.Close()
}
