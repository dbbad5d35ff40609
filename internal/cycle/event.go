package cycle

import (
	"context"
	"time"
)

// Event is one ordered phase of a cycle.
type Event int

const (
	EventBeforeProcessImage Event = iota
	EventExecuteWrite
	EventAfterProcessImage
)

func (e Event) String() string {
	switch e {
	case EventBeforeProcessImage:
		return "BEFORE_PROCESS_IMAGE"
	case EventExecuteWrite:
		return "EXECUTE_WRITE"
	case EventAfterProcessImage:
		return "AFTER_PROCESS_IMAGE"
	default:
		return "UNKNOWN"
	}
}

// Handler reacts to cycle events. Bridge workers and the component registry
// subscribe through the Dispatcher.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Runnable is executed once per cycle between the read and the write phase.
type Runnable interface {
	ID() string
	Run(ctx context.Context) error
}

// Scheduler decides which runnables execute in a cycle and in which order.
type Scheduler interface {
	Schedule() []Runnable
}

// Stats summarises executor timing.
type Stats struct {
	Cycles            uint64        `json:"cycles"`
	Overruns          uint64        `json:"overruns"`
	ComponentFailures uint64        `json:"component_failures"`
	LastDuration      time.Duration `json:"last_duration_ns"`
	MaxDuration       time.Duration `json:"max_duration_ns"`
	CycleTime         time.Duration `json:"cycle_time_ns"`
	Running           bool          `json:"running"`
}
