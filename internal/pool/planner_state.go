package pool

import (
	"github.com/joeycumines/go-sqlited/internal/fsm"
	"github.com/joeycumines/go-sqlited/internal/logging"
)

// State is the planner's state type, re-exported from internal/fsm so
// pool's public API doesn't leak the fsm package.
type State = fsm.State

// Planner states, spec.md §3 "Planner state" / §4.3.
const (
	StateNothing fsm.State = iota
	StateDraining
	StateBarrier
	StateDrainingUnord
	StateExited
)

func plannerDef() *fsm.Def {
	return fsm.NewDef([]fsm.StateDef{
		StateNothing: {
			Name:    "NOTHING",
			Initial: true,
			Allowed: []fsm.State{StateDraining, StateExited},
		},
		StateDraining: {
			Name:    "DRAINING",
			Allowed: []fsm.State{StateBarrier, StateNothing},
		},
		StateBarrier: {
			Name: "BARRIER",
			// BARRIER -> BARRIER models "wait on planner condvar, then ->
			// BARRIER again" (spec.md §4.3) as an explicit self-transition,
			// so every re-entry into the wait is still recorded through
			// Move rather than bypassing the state machine.
			Allowed: []fsm.State{StateDrainingUnord, StateDraining, StateBarrier},
		},
		StateDrainingUnord: {
			Name:    "DRAINING_UNORD",
			Allowed: []fsm.State{StateBarrier},
		},
		StateExited: {
			Name:  "EXITED",
			Final: true,
		},
	})
}

// plannerMachine narrows fsm.Machine to exactly the planner's table,
// keeping internal/fsm out of Pool's public surface.
type plannerMachine struct {
	m *fsm.Machine
}

func newPlannerMachine(log *logging.Logger) *plannerMachine {
	return &plannerMachine{m: fsm.NewMachine(plannerDef(), "planner", log, nil)}
}

func (p *plannerMachine) Current() State { return p.m.Current() }
func (p *plannerMachine) Move(s State)   { p.m.Move(s) }

