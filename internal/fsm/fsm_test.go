package fsm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	stateA State = iota
	stateB
	stateC
)

func testDef() *Def {
	return NewDef([]StateDef{
		stateA: {Name: "A", Initial: true, Allowed: []State{stateB}},
		stateB: {Name: "B", Allowed: []State{stateC, stateA}},
		stateC: {Name: "C", Final: true},
	})
}

func TestMachineLegalTransitions(t *testing.T) {
	m := NewMachine(testDef(), "test", nil, nil)
	require.Equal(t, stateA, m.Current())

	m.Move(stateB)
	require.Equal(t, stateB, m.Current())

	m.Move(stateA)
	require.Equal(t, stateA, m.Current())

	m.Move(stateB)
	m.Move(stateC)
	require.Equal(t, stateC, m.Current())
	require.True(t, testDef().Final(stateC))
}

func TestMachineIllegalTransitionPanics(t *testing.T) {
	m := NewMachine(testDef(), "test", nil, nil)
	require.PanicsWithValue(t, "test: illegal state transition A -> C", func() {
		m.Move(stateC)
	})
}

func TestMachineInvariantViolationPanics(t *testing.T) {
	m := NewMachine(testDef(), "test", nil, func(old, new State) error {
		if old == stateA && new == stateB {
			return errors.New("boom")
		}
		return nil
	})
	require.Panics(t, func() {
		m.Move(stateB)
	})
}

func TestNewDefRequiresExactlyOneInitial(t *testing.T) {
	require.Panics(t, func() {
		NewDef([]StateDef{{Name: "A"}})
	})
	require.Panics(t, func() {
		NewDef([]StateDef{{Name: "A", Initial: true}, {Name: "B", Initial: true}})
	})
}
