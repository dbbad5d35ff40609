package statemachine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type light int

const (
	undefined light = iota
	off
	on
	broken
)

type input struct {
	switchOn bool
	log      *[]string
}

func (in input) add(s string) { *in.log = append(*in.log, s) }

func newLight() *Machine[light, input] {
	m := New[light, input](undefined)
	m.Handle(undefined, HandlerFuncs[light, input]{
		State: undefined,
		Entry: func(in input) error { in.add("enter undefined"); return nil },
		Run: func(in input) (light, error) {
			if in.switchOn {
				return on, nil
			}
			return off, nil
		},
	})
	m.Handle(off, HandlerFuncs[light, input]{
		State: off,
		Entry: func(in input) error { in.add("enter off"); return nil },
		Run: func(in input) (light, error) {
			if in.switchOn {
				return on, nil
			}
			return off, nil
		},
	})
	m.Handle(on, HandlerFuncs[light, input]{
		State: on,
		Entry: func(in input) error { in.add("enter on"); return nil },
		Exit:  func(in input) error { in.add("exit on"); return nil },
		Run: func(in input) (light, error) {
			if !in.switchOn {
				return off, nil
			}
			return on, nil
		},
	})
	return m
}

func TestEntryRunsOncePerEntry(t *testing.T) {
	var log []string
	m := newLight()

	steps := []bool{true, true, true, false, false}
	for _, s := range steps {
		require.NoError(t, m.Run(input{switchOn: s, log: &log}))
	}

	assert.Equal(t, []string{"enter undefined", "enter on", "exit on", "enter off"}, log)
	assert.Equal(t, off, m.Current())
}

func TestDeterministicForSameInputs(t *testing.T) {
	run := func() ([]light, []string) {
		var log []string
		m := newLight()
		var states []light
		for _, s := range []bool{false, true, true, false, true} {
			require.NoError(t, m.Run(input{switchOn: s, log: &log}))
			states = append(states, m.Current())
		}
		return states, log
	}

	s1, l1 := run()
	s2, l2 := run()
	assert.Equal(t, s1, s2)
	assert.Equal(t, l1, l2)
}

func TestUnknownStateRoutesToFallback(t *testing.T) {
	var log []string
	m := newLight()

	var transitions [][2]light
	m.OnTransition(func(from, to light) { transitions = append(transitions, [2]light{from, to}) })

	m.ForceNextState(broken)
	require.NoError(t, m.Run(input{log: &log}))
	assert.Equal(t, broken, m.Current())

	require.NoError(t, m.Run(input{log: &log}))
	assert.Equal(t, off, m.Current())
	assert.Equal(t, [][2]light{{undefined, broken}, {broken, undefined}, {undefined, off}}, transitions)
	assert.Equal(t, []string{"enter undefined", "enter undefined"}, log)
}

func TestRunErrorKeepsState(t *testing.T) {
	errBus := errors.New("bus")
	m := New[light, input](undefined)
	m.Handle(undefined, HandlerFuncs[light, input]{
		Run: func(input) (light, error) { return on, errBus },
	})

	var log []string
	err := m.Run(input{log: &log})
	assert.ErrorIs(t, err, errBus)
	assert.Equal(t, undefined, m.Current())
}

func TestMissingFallbackHandler(t *testing.T) {
	m := New[light, input](undefined)
	var log []string
	assert.ErrorIs(t, m.Run(input{log: &log}), ErrNoHandler)
}
