package gateway

import "github.com/joeycumines/go-sqlited/internal/fsm"

// Connection states enforcing spec.md §4.6's "at most one outstanding
// request per gateway" invariant: Idle accepts a new request, Busy is
// occupied by one already in flight, Closed is terminal once a protocol
// violation or client disconnect has ended the conversation.
const (
	connIdle fsm.State = iota
	connBusy
	connClosed
)

func connDef() *fsm.Def {
	return fsm.NewDef([]fsm.StateDef{
		connIdle:   {Name: "IDLE", Initial: true, Allowed: []fsm.State{connBusy, connClosed}},
		connBusy:   {Name: "BUSY", Allowed: []fsm.State{connIdle, connClosed}},
		connClosed: {Name: "CLOSED", Final: true},
	})
}
