package main

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/joeycumines/go-eventloop"
	"github.com/psanford/sqlite3vfs"

	"github.com/joeycumines/go-sqlited/internal/config"
	"github.com/joeycumines/go-sqlited/internal/gateway"
	"github.com/joeycumines/go-sqlited/internal/logging"
	"github.com/joeycumines/go-sqlited/internal/pool"
	"github.com/joeycumines/go-sqlited/internal/replication"
	"github.com/joeycumines/go-sqlited/internal/vfs"
	"github.com/joeycumines/go-sqlited/internal/wire"
)

// nodeOptions collects the flags newRootCmd parses (spec.md's Ambient
// Configuration section, extended with the CLI surface SPEC_FULL.md adds).
type nodeOptions struct {
	listen    string
	advertise string
	join      []string
	dataDir   string
	nodeID    string
}

// node bundles one sqlited process's collaborators, wired the way spec.md
// §4-§6 describes: one pool, one replication hand-off, one gateway per
// connection, all owned from one loop thread.
type node struct {
	opts nodeOptions
	log  *logging.Logger
	pool *pool.Pool
	loop *eventloop.Loop
	raft *raftConsensus
	repl *replication.Replication
	vfs  *vfs.VFS
	gw   *gateway.Node

	nextClientID atomic.Uint64
}

const vfsName = "sqlited"

func newNode(opts nodeOptions) (*node, error) {
	if opts.nodeID == "" {
		opts.nodeID = uuid.NewString()
	}
	if opts.advertise == "" {
		opts.advertise = opts.listen
	}

	log := logging.New(logging.Config{Writer: os.Stderr, Trace: config.Trace()})

	loop, err := eventloop.New()
	if err != nil {
		return nil, err
	}

	// p is captured by the wake closure before pool.New returns, so the
	// closure only ever runs (from a worker or planner goroutine, per
	// pool.New's contract) once p is already assigned — DrainCompletions
	// always runs on the loop thread via ScheduleMicrotask (spec.md §4.3
	// "Completion" + §5 "loop thread owns all Gateway/VFS state").
	var p *pool.Pool
	p, err = pool.New(config.ThreadPoolSize(), func() {
		_ = loop.ScheduleMicrotask(p.DrainCompletions)
	}, log)
	if err != nil {
		return nil, err
	}

	_, consensus, err := newRaft(opts.nodeID, opts.listen, opts.advertise, opts.dataDir, opts.join, log)
	if err != nil {
		return nil, err
	}

	// Replication and the VFS depend on each other (Replication needs the
	// VFS as its Applier; the VFS needs Replication as its Hooks), so the
	// applier side is wired after both exist via SetApplier rather than
	// through New.
	repl := replication.New(consensus, p, nil, log)

	v := vfs.New(vfsName, osVFS{}, repl)
	repl.SetApplier(v)
	if err := sqlite3vfs.RegisterVFS(vfsName, v); err != nil {
		return nil, err
	}

	gwNode := gateway.NewNode(loop, p, repl, v, vfsName, log)

	return &node{
		opts: opts,
		log:  log,
		pool: p,
		loop: loop,
		raft: consensus,
		repl: repl,
		vfs:  v,
		gw:   gwNode,
	}, nil
}

// run starts the loop thread and a TCP listener, blocking until ctx is
// canceled. Accepting connections with a goroutine-per-socket and handing
// decoded frames to the loop thread via ScheduleMicrotask is a deliberately
// simple stand-in for a production accept loop — spec.md names "connection
// accept loops" as an out-of-scope collaborator concern, so this exists
// only to give the rest of the module somewhere to run from.
func (n *node) run(ctx context.Context) error {
	ln, err := net.Listen("tcp", n.opts.listen)
	if err != nil {
		return err
	}
	defer ln.Close()

	loopErr := make(chan error, 1)
	go func() { loopErr <- n.loop.Run(ctx) }()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return <-loopErr
			default:
				return err
			}
		}
		go n.serveConn(conn)
	}
}

func (n *node) serveConn(nc net.Conn) {
	defer nc.Close()

	_ = n.nextClientID.Add(1) // reserved for future per-connection logging correlation

	gwConn := gateway.NewConn(n.gw, func(b []byte) error {
		_, err := nc.Write(b)
		return err
	})

	r := bufio.NewReader(nc)
	for {
		msg, err := readMessage(r)
		if err != nil {
			if err != io.EOF {
				n.log.Warning().Err(err).Log("read message failed")
			}
			gwConn.Close()
			return
		}

		if err := n.loop.ScheduleMicrotask(func() {
			if err := gwConn.HandleMessage(msg); err != nil {
				n.log.Warning().Err(err).Log("handle message failed")
				_ = nc.Close()
			}
		}); err != nil {
			gwConn.Close()
			return
		}
	}
}

// readMessage reads one length-prefixed frame off r using wire's own
// header layout — the socket-framing counterpart to wire.Decode, which
// operates on an already-buffered slice.
func readMessage(r *bufio.Reader) (*wire.Message, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	words := int(header[0]) | int(header[1])<<8 | int(header[2])<<16 | int(header[3])<<24
	body := make([]byte, words*8)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	frame := append(header, body...)
	msg, _, err := wire.Decode(frame)
	return msg, err
}
