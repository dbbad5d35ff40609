package component

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenEnergyCore/internal/channel"
	"github.com/KevinKickass/OpenEnergyCore/internal/cycle"
)

var (
	ErrDuplicateComponent = errors.New("component already registered")
	ErrUnknownComponent   = errors.New("unknown component")
	ErrUnknownChannel     = errors.New("unknown channel")
)

// Registry holds all active components and resolves channel addresses.
type Registry struct {
	logger *zap.Logger

	mu         sync.RWMutex
	components map[string]Component
	order      []string
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:     logger,
		components: make(map[string]Component),
	}
}

// Add registers c. Registration order is kept for listing and promotion.
func (r *Registry) Add(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.components[c.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateComponent, c.ID())
	}
	r.components[c.ID()] = c
	r.order = append(r.order, c.ID())
	r.logger.Debug("Component registered", zap.String("component", c.ID()))
	return nil
}

// Remove unregisters the component with the given id.
func (r *Registry) Remove(id string) (Component, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.components[id]
	if !ok {
		return nil, false
	}
	delete(r.components, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return c, true
}

func (r *Registry) Get(id string) (Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[id]
	return c, ok
}

// List returns all components in registration order.
func (r *Registry) List() []Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Component, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.components[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Resolve returns the channel at addr.
func (r *Registry) Resolve(addr channel.Address) (channel.Any, error) {
	c, ok := r.Get(addr.Component)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownComponent, addr.Component)
	}
	ch, ok := c.Image().Channel(addr.Channel)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, addr)
	}
	return ch, nil
}

// Promote promotes the process image of every component.
func (r *Registry) Promote() error {
	var errs []error
	for _, c := range r.List() {
		if err := c.Image().Promote(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleEvent promotes all process images on AFTER_PROCESS_IMAGE.
func (r *Registry) HandleEvent(_ context.Context, ev cycle.Event) error {
	if ev != cycle.EventAfterProcessImage {
		return nil
	}
	if err := r.Promote(); err != nil {
		r.logger.Error("Process image promotion failed", zap.Error(err))
		return err
	}
	return nil
}

// Snapshot returns the current values of all components keyed by id.
func (r *Registry) Snapshot() map[string][]channel.Value {
	comps := r.List()
	out := make(map[string][]channel.Value, len(comps))
	for _, c := range comps {
		out[c.ID()] = c.Image().Snapshot()
	}
	return out
}
