package gateway

import (
	"github.com/joeycumines/go-sqlited/internal/db"
	"github.com/joeycumines/go-sqlited/internal/fsm"
	"github.com/joeycumines/go-sqlited/internal/gatewayerr"
	"github.com/joeycumines/go-sqlited/internal/pool"
	"github.com/joeycumines/go-sqlited/internal/wire"
)

// Conn is one client's conversational state (spec.md §3 "Gateway state"):
// at most one request in flight, dispatched either synchronously on the
// loop thread or handed to the pool.
type Conn struct {
	node     *Node
	clientID uint64
	machine  *fsm.Machine

	// send frames a response and hands it to whatever owns the socket.
	// Accepting connections and writing to the wire itself are out of this
	// module's scope (spec.md Non-goals: "connection accept loops"); send
	// is the seam a real listener plugs into.
	send func([]byte) error
}

// NewConn starts a new per-client conversation against node, writing
// responses through send.
func NewConn(node *Node, send func([]byte) error) *Conn {
	return &Conn{
		node:    node,
		machine: fsm.NewMachine(connDef(), "gateway.conn", node.Log, nil),
		send:    send,
	}
}

// HandleMessage dispatches one decoded client frame. Must be called from
// the loop thread. A second call while a request is already in flight is a
// protocol error: the caller MUST close the connection afterward (spec.md
// §4.6's at-most-one-in-flight invariant is a client contract, not a design
// law, so it surfaces as a gatewayerr rather than a fatal.Invariant panic).
func (c *Conn) HandleMessage(msg *wire.Message) error {
	switch c.machine.Current() {
	case connClosed:
		return gatewayerr.Protocolf("request received on a closed connection")
	case connBusy:
		c.machine.Move(connClosed)
		return gatewayerr.Protocolf("request received while another is still in flight")
	}
	c.machine.Move(connBusy)

	r := wire.NewReader(msg.Body)

	switch msg.Type {
	case wire.TypeHelo:
		return c.handleHelo(r)
	case wire.TypeHeartbeat:
		return c.handleHeartbeat(r)
	case wire.TypeOpen:
		return c.handleOpen(r)
	case wire.TypePrepare:
		return c.handlePrepare(r)
	case wire.TypeExec:
		return c.handleExec(r)
	case wire.TypeQuery:
		return c.handleQuery(r)
	case wire.TypeFinalize:
		return c.handleFinalize(r)
	default:
		c.machine.Move(connClosed)
		return gatewayerr.Protocolf("unknown request type %d", msg.Type)
	}
}

// Close transitions the conversation to its terminal state. Safe to call
// more than once, or from any state.
func (c *Conn) Close() {
	if c.machine.Current() != connClosed {
		c.machine.Move(connClosed)
	}
}

// reply frames and sends a response, then returns the conversation to Idle
// so the next request may arrive.
func (c *Conn) reply(t wire.Type, body []byte) error {
	err := c.send(wire.Encode(t, body))
	if c.machine.Current() == connBusy {
		c.machine.Move(connIdle)
	}
	return err
}

// replyError converts a *gatewayerr.Error into a DB_ERROR response, per
// spec.md §6/§7's SQLite-result-code passthrough convention. A PROTOCOL
// error also closes the conversation and is returned to the caller, which
// closes the connection.
func (c *Conn) replyError(err error) error {
	var w wire.Writer
	ge, ok := err.(*gatewayerr.Error)
	if !ok {
		ge = gatewayerr.IOf(err, "internal error")
	}
	w.Int64(int64(ge.Code)).Int64(int64(ge.ExtendedCode)).String(ge.Description())
	if sendErr := c.reply(wire.TypeDBError, w.Bytes()); sendErr != nil {
		return sendErr
	}
	if ge.Kind == gatewayerr.Protocol {
		c.Close()
		return ge
	}
	return nil
}

// handleHelo is always synchronous: no filesystem touch (spec.md §4.6).
func (c *Conn) handleHelo(r *wire.Reader) error {
	id, err := r.Uint64()
	if err != nil {
		return c.replyError(gatewayerr.Protocolf("malformed HELO: %v", err))
	}
	c.clientID = id

	var w wire.Writer
	w.String(c.node.Replication.LeaderAddress())
	return c.reply(wire.TypeWelcome, w.Bytes())
}

// handleHeartbeat is always synchronous.
func (c *Conn) handleHeartbeat(r *wire.Reader) error {
	if _, err := r.Uint64(); err != nil { // timestamp, unused beyond framing
		return c.replyError(gatewayerr.Protocolf("malformed HEARTBEAT: %v", err))
	}

	var w wire.Writer
	for _, addr := range c.node.Replication.PeerAddresses() {
		w.String(addr)
	}
	w.String("") // NULL-terminated list (spec.md §4.6)
	return c.reply(wire.TypeServers, w.Bytes())
}

// handleOpen touches the filesystem (sqlite3_open), so it runs as an UNORD
// pool job rather than synchronously on the loop thread (spec.md §4.6).
func (c *Conn) handleOpen(r *wire.Reader) error {
	name, err := r.String()
	if err != nil {
		return c.replyError(gatewayerr.Protocolf("malformed OPEN: %v", err))
	}
	flags, err := r.Uint64()
	if err != nil {
		return c.replyError(gatewayerr.Protocolf("malformed OPEN: %v", err))
	}
	vfsName, err := r.String()
	if err != nil {
		return c.replyError(gatewayerr.Protocolf("malformed OPEN: %v", err))
	}
	if vfsName == "" {
		vfsName = c.node.VFSName
	}

	var (
		handle *db.Handle
		openErr error
	)
	c.node.Pool.Submit(&pool.WorkItem{
		Class: pool.Unordered,
		Do: func() {
			handle, openErr = db.Open(name, db.OpenFlags(flags), vfsName)
		},
		After: func() {
			if openErr != nil {
				_ = c.replyError(openErr)
				return
			}
			id := c.node.Databases.Insert(handle)
			if c.node.VFS != nil {
				c.node.VFS.Register(name, id)
			}
			var w wire.Writer
			w.Uint64(id)
			_ = c.reply(wire.TypeDB, w.Bytes())
		},
	})
	return nil
}

// handlePrepare compiles a statement against an already-open database; like
// OPEN this touches the filesystem and so runs as an UNORD pool job.
func (c *Conn) handlePrepare(r *wire.Reader) error {
	dbID, err := r.Uint64()
	if err != nil {
		return c.replyError(gatewayerr.Protocolf("malformed PREPARE: %v", err))
	}
	sqlText, err := r.String()
	if err != nil {
		return c.replyError(gatewayerr.Protocolf("malformed PREPARE: %v", err))
	}

	handle, ok := c.node.Databases.Get(dbID)
	if !ok {
		return c.replyError(gatewayerr.NotFoundf("failed to handle prepare: no db with id %d", dbID))
	}

	var (
		stmt *preparedStmt
		prepareErr error
	)
	c.node.Pool.Submit(&pool.WorkItem{
		Class: pool.Unordered,
		Do: func() {
			s, err := handle.Conn().Prepare(sqlText)
			if err != nil {
				prepareErr = gatewayerr.DBErrorf(1, 0, err, "prepare failed")
				return
			}
			stmt = &preparedStmt{dbID: dbID, db: handle, stmt: s}
		},
		After: func() {
			if prepareErr != nil {
				_ = c.replyError(prepareErr)
				return
			}
			id := c.node.Statements.Insert(stmt)
			var w wire.Writer
			w.Uint64(id)
			_ = c.reply(wire.TypeStmt, w.Bytes())
		},
	})
	return nil
}

// handleExec submits an ORDERED work item (class = db id) so all EXEC/QUERY
// work against the same database serializes through one worker (spec.md
// §4.6).
func (c *Conn) handleExec(r *wire.Reader) error {
	dbID, stmtID, params, err := c.decodeExecQuery(r)
	if err != nil {
		return c.replyError(err)
	}

	stmt, ok := c.node.Statements.Get(stmtID)
	if !ok || stmt.dbID != dbID {
		return c.replyError(gatewayerr.NotFoundf("failed to handle exec: no stmt with id %d", stmtID))
	}

	var (
		lastInsertID, rowsAffected int64
		execErr                    error
	)
	c.node.Pool.Submit(&pool.WorkItem{
		Class:  pool.Ord1 + pool.Class(dbID),
		Cookie: dbID,
		Do: func() {
			res, err := stmt.stmt.Exec(paramValues(params)...)
			if err != nil {
				execErr = gatewayerr.DBErrorf(1, 0, err, "exec failed")
				return
			}
			lastInsertID, _ = res.LastInsertId()
			rowsAffected, _ = res.RowsAffected()
		},
		After: func() {
			if execErr != nil {
				_ = c.replyError(execErr)
				return
			}
			var w wire.Writer
			w.Int64(lastInsertID).Int64(rowsAffected)
			_ = c.reply(wire.TypeResult, w.Bytes())
		},
	})
	return nil
}

// handleQuery submits an ORDERED work item that runs (or resumes) the
// statement and serializes one chunk of rows into the response buffer
// (spec.md §4.6 "Row streaming"). A chunk cut short by the buffer filling
// carries EOM on its last row header and leaves the statement's cursor
// open, awaiting a continuation QUERY against the same stmt id; an empty
// chunk (the query produced, or has no more, rows) replies EMPTY instead
// of an empty ROWS body.
func (c *Conn) handleQuery(r *wire.Reader) error {
	dbID, stmtID, params, err := c.decodeExecQuery(r)
	if err != nil {
		return c.replyError(err)
	}

	stmt, ok := c.node.Statements.Get(stmtID)
	if !ok || stmt.dbID != dbID {
		return c.replyError(gatewayerr.NotFoundf("failed to handle query: no stmt with id %d", stmtID))
	}

	var (
		body     []byte
		queryErr error
	)
	c.node.Pool.Submit(&pool.WorkItem{
		Class:  pool.Ord1 + pool.Class(dbID),
		Cookie: dbID,
		Do: func() {
			body, _, queryErr = runQuery(stmt, params)
		},
		After: func() {
			if queryErr != nil {
				_ = c.replyError(queryErr)
				return
			}
			if len(body) == 0 {
				_ = c.reply(wire.TypeEmpty, nil)
				return
			}
			_ = c.reply(wire.TypeRows, body)
		},
	})
	return nil
}

// handleFinalize releases a statement. It does not itself touch the
// filesystem (the underlying *sql.Stmt close is cheap and synchronous from
// SQLite's perspective), so it runs directly on the loop thread.
func (c *Conn) handleFinalize(r *wire.Reader) error {
	_, err := r.Uint64() // dbID, only used for symmetry with other requests
	if err != nil {
		return c.replyError(gatewayerr.Protocolf("malformed FINALIZE: %v", err))
	}
	stmtID, err := r.Uint64()
	if err != nil {
		return c.replyError(gatewayerr.Protocolf("malformed FINALIZE: %v", err))
	}

	stmt, ok := c.node.Statements.Get(stmtID)
	if !ok {
		return c.replyError(gatewayerr.NotFoundf("failed to handle finalize: no stmt with id %d", stmtID))
	}
	_ = stmt.stmt.Close()
	c.node.Statements.Delete(stmtID)

	return c.reply(wire.TypeEmpty, nil)
}

func (c *Conn) decodeExecQuery(r *wire.Reader) (dbID, stmtID uint64, params []param, err error) {
	if dbID, err = r.Uint64(); err != nil {
		return 0, 0, nil, gatewayerr.Protocolf("malformed request: %v", err)
	}
	if stmtID, err = r.Uint64(); err != nil {
		return 0, 0, nil, gatewayerr.Protocolf("malformed request: %v", err)
	}
	if params, err = decodeParams(r); err != nil {
		return 0, 0, nil, gatewayerr.Protocolf("malformed request: %v", err)
	}
	return dbID, stmtID, params, nil
}
