package statemachine

import (
	"errors"
	"fmt"
	"sync"
)

var ErrNoHandler = errors.New("no handler for state")

// Handler implements one state. OnEntry runs once each time the state is
// entered, RunAndGetNextState on every tick while the state is current.
type Handler[S comparable, C any] interface {
	OnEntry(ctx C) error
	RunAndGetNextState(ctx C) (S, error)
}

// Exiter is implemented by handlers that need to run code when their state
// is left.
type Exiter[C any] interface {
	OnExit(ctx C) error
}

// HandlerFuncs adapts plain functions to Handler. Nil funcs are no-ops; a nil
// Run keeps the current state.
type HandlerFuncs[S comparable, C any] struct {
	State S
	Entry func(ctx C) error
	Run   func(ctx C) (S, error)
	Exit  func(ctx C) error
}

func (h HandlerFuncs[S, C]) OnEntry(ctx C) error {
	if h.Entry == nil {
		return nil
	}
	return h.Entry(ctx)
}

func (h HandlerFuncs[S, C]) RunAndGetNextState(ctx C) (S, error) {
	if h.Run == nil {
		return h.State, nil
	}
	return h.Run(ctx)
}

func (h HandlerFuncs[S, C]) OnExit(ctx C) error {
	if h.Exit == nil {
		return nil
	}
	return h.Exit(ctx)
}

// Machine is a table-driven finite state machine. Each state has exactly
// one handler; states without a handler route to the fallback state.
type Machine[S comparable, C any] struct {
	mu        sync.Mutex
	handlers  map[S]Handler[S, C]
	fallback  S
	current   S
	entered   bool
	forced    *S
	listeners []func(from, to S)
}

// New creates a machine starting in fallback.
func New[S comparable, C any](fallback S) *Machine[S, C] {
	return &Machine[S, C]{
		handlers: make(map[S]Handler[S, C]),
		fallback: fallback,
		current:  fallback,
	}
}

// Handle registers the handler of state s, replacing any previous one.
func (m *Machine[S, C]) Handle(s S, h Handler[S, C]) *Machine[S, C] {
	m.mu.Lock()
	m.handlers[s] = h
	m.mu.Unlock()
	return m
}

// Current returns the current state.
func (m *Machine[S, C]) Current() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// ForceNextState overrides the result of the next RunAndGetNextState.
func (m *Machine[S, C]) ForceNextState(s S) {
	m.mu.Lock()
	m.forced = &s
	m.mu.Unlock()
}

// OnTransition registers fn, called after every state change. Listeners
// run while the machine is locked and must not call back into it.
func (m *Machine[S, C]) OnTransition(fn func(from, to S)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Run executes one tick. Handler errors are returned; the state is kept.
func (m *Machine[S, C]) Run(ctx C) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.handlers[m.current]
	if !ok {
		fh, fok := m.handlers[m.fallback]
		if !fok {
			return fmt.Errorf("%w: %v", ErrNoHandler, m.fallback)
		}
		m.transitionLocked(m.fallback)
		h = fh
	}

	if !m.entered {
		m.entered = true
		if err := h.OnEntry(ctx); err != nil {
			return fmt.Errorf("entry %v: %w", m.current, err)
		}
	}

	next, err := h.RunAndGetNextState(ctx)
	if m.forced != nil {
		next, err = *m.forced, nil
		m.forced = nil
	}
	if err != nil {
		return fmt.Errorf("run %v: %w", m.current, err)
	}

	if next != m.current {
		from := m.current
		var exitErr error
		if ex, ok := h.(Exiter[C]); ok {
			exitErr = ex.OnExit(ctx)
		}
		m.transitionLocked(next)
		if exitErr != nil {
			return fmt.Errorf("exit %v: %w", from, exitErr)
		}
	}
	return nil
}

func (m *Machine[S, C]) transitionLocked(next S) {
	from := m.current
	m.current = next
	m.entered = false
	if from == next {
		return
	}
	for _, fn := range m.listeners {
		fn(from, next)
	}
}
