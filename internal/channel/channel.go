package channel

import (
	"fmt"
	"math"
	"sync"
)

// Any is the type-erased view of a Channel used by process images, the
// component registry and the API.
type Any interface {
	ID() string
	Type() Type
	Doc() Doc
	Address() Address

	Defined() bool
	AnyValue() (any, bool)
	AnyNextValue() (any, bool)
	AnyPendingWrite() (any, bool)

	SetNextUndefined()
	SetNextWriteAny(v any) error
	DiscardNextWrite()

	bind(component string)
	swap() func()
}

// Channel is a typed data point. It holds the current value (visible to
// control logic during a cycle), the next value computed this cycle, and for
// writable channels a pending write consumed exactly once by a bridge worker.
type Channel[T Primitive] struct {
	id  string
	typ Type
	doc Doc

	mu        sync.RWMutex
	component string
	current   Maybe[T]
	next      Maybe[T]
	pending   Maybe[T]
	listeners []func(previous, current Maybe[T])
}

// New creates an unbound channel. Use Register to add it to a process image.
func New[T Primitive](id string, opts ...Option) *Channel[T] {
	doc := Doc{Access: AccessReadOnly}
	for _, o := range opts {
		o(&doc)
	}
	return &Channel[T]{
		id:  id,
		typ: typeOf[T](),
		doc: doc,
	}
}

// Register creates a channel and adds it to img. It panics on a duplicate id,
// which is a driver programming error.
func Register[T Primitive](img *ProcessImage, id string, opts ...Option) *Channel[T] {
	ch := New[T](id, opts...)
	if err := img.Add(ch); err != nil {
		panic(err)
	}
	return ch
}

func (c *Channel[T]) ID() string { return c.id }
func (c *Channel[T]) Type() Type { return c.typ }
func (c *Channel[T]) Doc() Doc   { return c.doc }

// Address returns the component-scoped address of the channel.
func (c *Channel[T]) Address() Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Address{Component: c.component, Channel: c.id}
}

func (c *Channel[T]) bind(component string) {
	c.mu.Lock()
	c.component = component
	c.mu.Unlock()
}

// Value returns the current value and whether it is defined.
func (c *Channel[T]) Value() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.Value, c.current.Defined
}

// Get returns the current value as a Maybe.
func (c *Channel[T]) Get() Maybe[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// OrElse returns the current value or def if undefined.
func (c *Channel[T]) OrElse(def T) T {
	return c.Get().OrElse(def)
}

// Defined reports whether the current value is defined.
func (c *Channel[T]) Defined() bool {
	return c.Get().Defined
}

// NextValue returns the value that becomes current on the next promotion.
func (c *Channel[T]) NextValue() Maybe[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.next
}

// SetNextValue sets the value computed this cycle.
func (c *Channel[T]) SetNextValue(v T) {
	c.mu.Lock()
	c.next = Some(v)
	c.mu.Unlock()
}

// SetNext sets the next value from a Maybe.
func (c *Channel[T]) SetNext(m Maybe[T]) {
	c.mu.Lock()
	c.next = m
	c.mu.Unlock()
}

// SetNextUndefined marks the next value as undefined.
func (c *Channel[T]) SetNextUndefined() {
	c.SetNext(Maybe[T]{})
}

// SetNextWriteValue enqueues v to be written to the device in this cycle's
// write phase. A later call in the same cycle replaces the pending value.
func (c *Channel[T]) SetNextWriteValue(v T) error {
	if !c.doc.Access.Writable() {
		return fmt.Errorf("%s: %w", c.id, ErrNotWritable)
	}
	if err := c.checkRange(v); err != nil {
		return err
	}
	c.mu.Lock()
	c.pending = Some(v)
	c.mu.Unlock()
	return nil
}

// NextWriteValueAndReset returns the pending write value once and clears it.
func (c *Channel[T]) NextWriteValueAndReset() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending
	c.pending = Maybe[T]{}
	return p.Value, p.Defined
}

// PendingWrite returns the pending write value without consuming it.
func (c *Channel[T]) PendingWrite() Maybe[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pending
}

// DiscardNextWrite drops any pending write value.
func (c *Channel[T]) DiscardNextWrite() {
	c.NextWriteValueAndReset()
}

// OnPromote registers a listener called after each promotion with the
// previous and new current value. Listeners run synchronously on the
// promoting goroutine; they may read other channels but must not trigger a
// promotion themselves.
func (c *Channel[T]) OnPromote(fn func(previous, current Maybe[T])) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Channel[T]) checkRange(v T) error {
	if !c.doc.Bounded {
		return nil
	}
	f, ok := ToFloat64(any(v))
	if !ok {
		return nil
	}
	if math.IsNaN(f) {
		return fmt.Errorf("%s: %w: NaN", c.id, ErrOutOfRange)
	}
	if f < c.doc.Min {
		return fmt.Errorf("%s: %w: %v < %v", c.id, ErrOutOfRange, v, c.doc.Min)
	}
	if f > c.doc.Max {
		return fmt.Errorf("%s: %w: %v > %v", c.id, ErrOutOfRange, v, c.doc.Max)
	}
	return nil
}

// swap promotes next to current and returns the listener notification, to be
// invoked after all channels of the image have been swapped.
func (c *Channel[T]) swap() func() {
	c.mu.Lock()
	prev := c.current
	c.current = c.next
	cur := c.current
	listeners := c.listeners
	c.mu.Unlock()

	if len(listeners) == 0 {
		return nil
	}
	return func() {
		for _, fn := range listeners {
			fn(prev, cur)
		}
	}
}

func (c *Channel[T]) AnyValue() (any, bool) {
	v, ok := c.Value()
	if !ok {
		return nil, false
	}
	return v, true
}

func (c *Channel[T]) AnyNextValue() (any, bool) {
	m := c.NextValue()
	if !m.Defined {
		return nil, false
	}
	return m.Value, true
}

func (c *Channel[T]) AnyPendingWrite() (any, bool) {
	m := c.PendingWrite()
	if !m.Defined {
		return nil, false
	}
	return m.Value, true
}

// SetNextWriteAny converts v to T and enqueues it as a write.
func (c *Channel[T]) SetNextWriteAny(v any) error {
	t, err := Convert[T](v)
	if err != nil {
		return fmt.Errorf("%s: %w", c.id, err)
	}
	return c.SetNextWriteValue(t)
}

func (c *Channel[T]) String() string {
	return fmt.Sprintf("%s:%s", c.Address(), c.Get())
}
