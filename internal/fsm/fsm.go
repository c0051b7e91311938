// Package fsm is a small table-driven state-machine framework shared by the
// thread pool's planner (internal/pool) and the replication hand-off's
// per-database transaction tracking (internal/replication). Every state has
// a name and an allowed-transition bitmask; Move asserts the transition is
// legal and runs an invariant predicate before committing it. Any violation
// is fatal — these are design laws, not user errors (spec.md §4.2, §7).
package fsm

import "github.com/joeycumines/go-sqlited/internal/fatal"

import "github.com/joeycumines/go-sqlited/internal/logging"

// State identifies one named state of a Machine. Values are small dense
// integers assigned by Def (index into Def.States), so a Machine supports up
// to 64 states via its uint64 bitmask.
type State uint8

// StateDef describes one state within a Def.
type StateDef struct {
	Name    string
	Initial bool
	Final   bool
	// Allowed lists the states Move may transition to from this state. An
	// empty Allowed on a non-Final state means the state can never leave —
	// almost certainly a definition bug, not a legal design.
	Allowed []State
}

// Def is the immutable transition table, built once and shared by every
// Machine constructed from it.
type Def struct {
	states  []StateDef
	allowed []uint64 // allowed[s] has bit t set iff t is reachable from s
	initial State
}

// NewDef compiles a Def from a list of state definitions. States are
// indexed by their position in the slice. Panics (at startup, not per
// request) if no state is marked Initial, more than one is, or an Allowed
// entry names an out-of-range state.
func NewDef(states []StateDef) *Def {
	if len(states) == 0 || len(states) > 64 {
		panic("fsm: Def must have between 1 and 64 states")
	}

	d := &Def{
		states:  states,
		allowed: make([]uint64, len(states)),
	}

	haveInitial := false
	for i, s := range states {
		if s.Initial {
			if haveInitial {
				panic("fsm: Def has more than one Initial state")
			}
			haveInitial = true
			d.initial = State(i)
		}
		var mask uint64
		for _, next := range s.Allowed {
			if int(next) >= len(states) {
				panic("fsm: Def.Allowed references an undefined state")
			}
			mask |= 1 << uint(next)
		}
		d.allowed[i] = mask
	}
	if !haveInitial {
		panic("fsm: Def has no Initial state")
	}

	return d
}

// Name returns the configured name of s.
func (d *Def) Name(s State) string { return d.states[s].Name }

// Final reports whether s is a terminal state.
func (d *Def) Final(s State) bool { return d.states[s].Final }

// CanMove reports whether from -> to is a legal transition per the table,
// without running the invariant predicate or mutating anything.
func (d *Def) CanMove(from, to State) bool {
	return d.allowed[from]&(1<<uint(to)) != 0
}

// Invariant is evaluated by Move immediately before committing a
// transition. Returning a non-nil error aborts the process via
// internal/fatal — invariants are design laws (spec.md §4.2).
type Invariant func(old, new State) error

// Machine is a live instance of a Def. Not safe for concurrent use by
// itself — callers serialize Move under whatever lock already protects the
// surrounding state (the pool mutex, for the planner; a per-db mutex, for
// replication).
type Machine struct {
	def       *Def
	current   State
	invariant Invariant
	log       *logging.Logger
	component string
}

// NewMachine constructs a Machine starting in def's Initial state. log may
// be nil (invariant violations still panic, just without a structured log
// line first). invariant may be nil, meaning only the transition table is
// enforced.
func NewMachine(def *Def, component string, log *logging.Logger, invariant Invariant) *Machine {
	return &Machine{
		def:       def,
		current:   def.initial,
		invariant: invariant,
		log:       log,
		component: component,
	}
}

// Current returns the machine's current state.
func (m *Machine) Current() State { return m.current }

// Move attempts the transition current -> to. If the transition is not in
// the Def's allowed table, or the configured Invariant rejects it, this
// calls fatal.Invariant (logs, then panics) and does not return normally.
func (m *Machine) Move(to State) {
	from := m.current
	if !m.def.CanMove(from, to) {
		fatal.Invariant(m.log, m.component, "illegal state transition "+m.def.Name(from)+" -> "+m.def.Name(to))
	}
	if m.invariant != nil {
		if err := m.invariant(from, to); err != nil {
			fatal.Invariant(m.log, m.component, "invariant violated on "+m.def.Name(from)+" -> "+m.def.Name(to)+": "+err.Error())
		}
	}
	m.current = to
}
