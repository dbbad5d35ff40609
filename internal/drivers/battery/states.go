package battery

import (
	"time"

	"github.com/KevinKickass/OpenEnergyCore/internal/statemachine"
)

// State is the driver state of a battery.
type State int32

const (
	StateUndefined State = iota
	StateGoRunning
	StateRunning
	StateGoStopped
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateUndefined:
		return "UNDEFINED"
	case StateGoRunning:
		return "GO_RUNNING"
	case StateRunning:
		return "RUNNING"
	case StateGoStopped:
		return "GO_STOPPED"
	case StateStopped:
		return "STOPPED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Target is the requested operating mode.
type Target int32

const (
	TargetAuto Target = iota
	TargetStart
	TargetStop
)

func (t Target) String() string {
	switch t {
	case TargetStart:
		return "start"
	case TargetStop:
		return "stop"
	default:
		return "auto"
	}
}

// ParseTarget accepts "auto", "start" and "stop".
func ParseTarget(s string) (Target, bool) {
	switch s {
	case "", "auto":
		return TargetAuto, true
	case "start":
		return TargetStart, true
	case "stop":
		return TargetStop, true
	default:
		return TargetAuto, false
	}
}

// Context is rebuilt every cycle and passed to the state handlers.
type Context struct {
	Battery *Battery
	Now     time.Time
	Target  Target
}

// wantsStart resolves auto to start.
func (c *Context) wantsStart() bool { return c.Target != TargetStop }

type handler = statemachine.HandlerFuncs[State, *Context]

func newMachine() *statemachine.Machine[State, *Context] {
	m := statemachine.New[State, *Context](StateUndefined)

	m.Handle(StateUndefined, handler{
		State: StateUndefined,
		Run: func(c *Context) (State, error) {
			if c.Battery.hasFault() {
				return StateError, nil
			}
			if c.wantsStart() {
				return StateGoRunning, nil
			}
			return StateGoStopped, nil
		},
	})

	m.Handle(StateGoRunning, handler{
		State: StateGoRunning,
		Entry: func(c *Context) error {
			c.Battery.enteredAt = c.Now
			return nil
		},
		Run: func(c *Context) (State, error) {
			b := c.Battery
			switch {
			case b.hasFault():
				return StateError, nil
			case b.isRunning():
				return StateRunning, nil
			case c.Now.Sub(b.enteredAt) > b.props.StartTimeout:
				b.logger.Warn("Battery did not start in time")
				return StateError, nil
			case !c.wantsStart():
				return StateGoStopped, nil
			}
			return StateGoRunning, b.command(b.props.StartCommand)
		},
	})

	m.Handle(StateRunning, handler{
		State: StateRunning,
		Run: func(c *Context) (State, error) {
			b := c.Battery
			switch {
			case b.hasFault():
				return StateError, nil
			case !c.wantsStart():
				return StateGoStopped, nil
			case !b.isRunning():
				return StateUndefined, nil
			}
			return StateRunning, b.forwardSetpoint()
		},
	})

	m.Handle(StateGoStopped, handler{
		State: StateGoStopped,
		Entry: func(c *Context) error {
			c.Battery.enteredAt = c.Now
			return c.Battery.safeOutputs()
		},
		Run: func(c *Context) (State, error) {
			b := c.Battery
			switch {
			case b.hasFault():
				return StateError, nil
			case b.isStopped():
				return StateStopped, nil
			case c.Now.Sub(b.enteredAt) > b.props.StopTimeout:
				b.logger.Warn("Battery did not stop in time")
				return StateError, nil
			}
			return StateGoStopped, b.command(b.props.StopCommand)
		},
	})

	m.Handle(StateStopped, handler{
		State: StateStopped,
		Run: func(c *Context) (State, error) {
			b := c.Battery
			switch {
			case b.hasFault():
				return StateError, nil
			case c.wantsStart():
				return StateGoRunning, nil
			}
			return StateStopped, nil
		},
	})

	m.Handle(StateError, handler{
		State: StateError,
		Entry: func(c *Context) error {
			b := c.Battery
			b.enteredAt = c.Now
			b.logger.Warn("Battery in error state, clearing faults",
				zapFault(b))
			if err := b.safeOutputs(); err != nil {
				return err
			}
			return b.clearFault()
		},
		Run: func(c *Context) (State, error) {
			b := c.Battery
			if c.Now.Sub(b.enteredAt) >= b.props.ErrorCooldown {
				return StateUndefined, nil
			}
			return StateError, nil
		},
	})

	return m
}
