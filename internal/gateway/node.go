// Package gateway implements the per-connection conversational machine of
// spec.md §4.6: HELO/HEARTBEAT/OPEN/PREPARE/EXEC/QUERY/FINALIZE, dispatched
// either synchronously on the loop thread or via an UNORD/ORDERED pool job,
// enforcing at most one outstanding request per connection.
//
// Grounded on the teacher's eventloop.Loop for the node's single I/O thread
// (RegisterFD, ScheduleMicrotask, Promisify) and on internal/fsm for the
// per-connection request-in-flight invariant.
package gateway

import (
	"github.com/joeycumines/go-eventloop"

	"github.com/joeycumines/go-sqlited/internal/db"
	"github.com/joeycumines/go-sqlited/internal/logging"
	"github.com/joeycumines/go-sqlited/internal/pool"
	"github.com/joeycumines/go-sqlited/internal/registry"
	"github.com/joeycumines/go-sqlited/internal/replication"
)

// VFSRegistrar is the slice of internal/vfs.VFS's API OPEN needs: binding a
// freshly opened database's path to the registry id that Frames/Begin/etc.
// hooks will carry for it (spec.md §4.4 "Register"). Declared locally
// rather than importing internal/vfs so this package's only dependency on
// the VFS stays this one narrow seam.
type VFSRegistrar interface {
	Register(path string, dbID uint64)
}

// Node bundles the per-node collaborators every connection dispatches
// against: the single I/O loop thread, the cooperative thread pool, the
// database/statement registries, the replication hand-off, and the VFS
// registrar OPEN must keep in sync with the database registry. One Node
// backs every Conn on this process.
type Node struct {
	Loop        *eventloop.Loop
	Pool        *pool.Pool
	Replication *replication.Replication
	VFS         VFSRegistrar
	VFSName     string

	Databases  registry.Registry[db.Handle]
	Statements registry.Registry[preparedStmt]

	Log *logging.Logger
}

// NewNode wires a Node from already-constructed collaborators. Accepting
// connections, TLS, and the network listener loop itself are out of this
// module's scope (named collaborators per spec.md's Non-goals); callers
// hand this Node a live *eventloop.Loop and deliver each connection's
// frames to Conn.HandleMessage on that loop's thread (cmd/sqlited reads
// each socket on its own goroutine and hands frames over with
// ScheduleMicrotask).
func NewNode(loop *eventloop.Loop, p *pool.Pool, repl *replication.Replication, vfsReg VFSRegistrar, vfsName string, log *logging.Logger) *Node {
	return &Node{Loop: loop, Pool: p, Replication: repl, VFS: vfsReg, VFSName: vfsName, Log: log}
}
