package channel

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ProcessImage is the set of channels owned by one component.
type ProcessImage struct {
	owner string

	mu       sync.RWMutex
	channels map[string]Any
	order    []string

	promoting atomic.Bool
}

// NewProcessImage creates an empty process image for the given component id.
func NewProcessImage(owner string) *ProcessImage {
	return &ProcessImage{
		owner:    owner,
		channels: make(map[string]Any),
	}
}

// Owner returns the owning component id.
func (p *ProcessImage) Owner() string { return p.owner }

// Add binds ch to this image.
func (p *ProcessImage) Add(ch Any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.channels[ch.ID()]; exists {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateChannel, p.owner, ch.ID())
	}
	ch.bind(p.owner)
	p.channels[ch.ID()] = ch
	p.order = append(p.order, ch.ID())
	return nil
}

// Channel returns the channel with the given id.
func (p *ProcessImage) Channel(id string) (Any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ch, ok := p.channels[id]
	return ch, ok
}

// Channels returns all channels in declaration order.
func (p *ProcessImage) Channels() []Any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Any, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.channels[id])
	}
	return out
}

// Len returns the number of channels.
func (p *ProcessImage) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order)
}

// Promote makes every channel's next value current. All swaps happen under
// the image write lock; promotion listeners run afterwards, outside the lock.
func (p *ProcessImage) Promote() error {
	if !p.promoting.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", p.owner, ErrReentrantPromotion)
	}
	defer p.promoting.Store(false)

	p.mu.Lock()
	notify := make([]func(), 0, len(p.order))
	for _, id := range p.order {
		if fn := p.channels[id].swap(); fn != nil {
			notify = append(notify, fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	return nil
}

// Value is one entry of a Snapshot.
type Value struct {
	Channel string `json:"channel" cbor:"1,keyasint"`
	Type    Type   `json:"type" cbor:"2,keyasint"`
	Unit    string `json:"unit,omitempty" cbor:"3,keyasint,omitempty"`
	Value   any    `json:"value" cbor:"4,keyasint"`
	Defined bool   `json:"defined" cbor:"5,keyasint"`
}

// Snapshot returns the current values of all channels, consistent with
// respect to promotion.
func (p *ProcessImage) Snapshot() []Value {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Value, 0, len(p.order))
	for _, id := range p.order {
		ch := p.channels[id]
		v, ok := ch.AnyValue()
		out = append(out, Value{
			Channel: id,
			Type:    ch.Type(),
			Unit:    ch.Doc().Unit,
			Value:   v,
			Defined: ok,
		})
	}
	return out
}
