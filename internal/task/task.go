package task

import (
	"fmt"
	"sync"

	"github.com/KevinKickass/OpenEnergyCore/internal/channel"
)

// Priority controls how often a task is executed.
type Priority int

const (
	// PriorityHigh tasks run every cycle.
	PriorityHigh Priority = iota
	// PriorityLow tasks share the bus round-robin, one per manager per cycle.
	PriorityLow
	// PriorityOnce tasks run exactly once after registration.
	PriorityOnce
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityLow:
		return "LOW"
	case PriorityOnce:
		return "ONCE"
	default:
		return "UNKNOWN"
	}
}

// ParsePriority accepts "high", "low" and "once" (case-sensitive, lower case).
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "high", "":
		return PriorityHigh, nil
	case "low":
		return PriorityLow, nil
	case "once":
		return PriorityOnce, nil
	default:
		return 0, fmt.Errorf("unknown task priority %q", s)
	}
}

// Op is the direction of a task.
type Op int

const (
	OpRead Op = iota
	OpWrite
)

func (o Op) String() string {
	if o == OpWrite {
		return "write"
	}
	return "read"
}

// Function selects the register table a task addresses.
type Function uint8

const (
	FunctionCoils Function = iota + 1
	FunctionDiscreteInputs
	FunctionHoldingRegisters
	FunctionInputRegisters
)

func (f Function) String() string {
	switch f {
	case FunctionCoils:
		return "coils"
	case FunctionDiscreteInputs:
		return "discrete_inputs"
	case FunctionHoldingRegisters:
		return "holding_registers"
	case FunctionInputRegisters:
		return "input_registers"
	default:
		return "unknown"
	}
}

// Bits reports whether the function addresses single-bit items.
func (f Function) Bits() bool {
	return f == FunctionCoils || f == FunctionDiscreteInputs
}

// Element maps a slice of a task's address range to a channel.
type Element interface {
	// Address is the first register or bit address of the element.
	Address() uint16
	// Width is the number of registers or bits the element spans.
	Width() uint16
	Channel() channel.Any
	// Decode sets the channel's next value from raw, which starts at offset
	// registers (or bits) relative to the task start address.
	Decode(raw []byte, offset uint16) error
	// Encode consumes the channel's pending write value. ok is false when
	// nothing is pending.
	Encode() (payload []byte, ok bool, err error)
	// Invalidate marks the channel's next value undefined.
	Invalidate()
}

// Task is a unit of bus work for one component.
type Task struct {
	Component  string
	Op         Op
	UnitID     uint8
	Function   Function
	Address    uint16
	Priority   Priority
	SkipCycles int
	Elements   []Element

	mu       sync.Mutex
	counters []ErrorCounter
}

// NewRead creates a read task covering all elements.
func NewRead(component string, unitID uint8, fn Function, prio Priority, elements ...Element) *Task {
	return &Task{
		Component: component,
		Op:        OpRead,
		UnitID:    unitID,
		Function:  fn,
		Address:   startAddress(elements),
		Priority:  prio,
		Elements:  elements,
		counters:  make([]ErrorCounter, len(elements)),
	}
}

// NewWrite creates a write task. Write tasks are always HIGH priority.
func NewWrite(component string, unitID uint8, fn Function, elements ...Element) *Task {
	return &Task{
		Component: component,
		Op:        OpWrite,
		UnitID:    unitID,
		Function:  fn,
		Address:   startAddress(elements),
		Priority:  PriorityHigh,
		Elements:  elements,
		counters:  make([]ErrorCounter, len(elements)),
	}
}

// WithSkipCycles makes the task run only every (n+1)-th cycle.
func (t *Task) WithSkipCycles(n int) *Task {
	if n < 0 {
		n = 0
	}
	t.SkipCycles = n
	return t
}

// Quantity is the number of registers (or bits) the task spans.
func (t *Task) Quantity() uint16 {
	var end uint16
	for _, e := range t.Elements {
		if last := e.Address() + e.Width(); last > end {
			end = last
		}
	}
	if end < t.Address {
		return 0
	}
	return end - t.Address
}

// Due reports whether the task runs in the given cycle.
func (t *Task) Due(cycle uint64) bool {
	return cycle%uint64(1+t.SkipCycles) == 0
}

// Counter returns the error counter of element i.
func (t *Task) Counter(i int) *ErrorCounter {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &t.counters[i]
}

func (t *Task) String() string {
	return fmt.Sprintf("%s %s unit=%d %s@%d+%d %s", t.Component, t.Op, t.UnitID, t.Function, t.Address, t.Quantity(), t.Priority)
}

func startAddress(elements []Element) uint16 {
	if len(elements) == 0 {
		return 0
	}
	start := elements[0].Address()
	for _, e := range elements[1:] {
		if e.Address() < start {
			start = e.Address()
		}
	}
	return start
}

// ErrorCounter counts consecutive failures of one element.
type ErrorCounter struct {
	mu    sync.Mutex
	count int
}

// Fail increments the counter and returns the new count.
func (c *ErrorCounter) Fail() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return c.count
}

// Reset clears the counter after a successful read.
func (c *ErrorCounter) Reset() {
	c.mu.Lock()
	c.count = 0
	c.mu.Unlock()
}

func (c *ErrorCounter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
