package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrUnknownBridge = errors.New("unknown bridge")

// Registry holds the bridge workers of the running system by id.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*Worker
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]*Worker)}
}

func (r *Registry) Add(w *Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workers[w.ID()]; exists {
		return fmt.Errorf("bridge %s already registered", w.ID())
	}
	r.workers[w.ID()] = w
	r.order = append(r.order, w.ID())
	return nil
}

func (r *Registry) Get(id string) (*Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBridge, id)
	}
	return w, nil
}

// List returns all workers in registration order.
func (r *Registry) List() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Worker, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.workers[id])
	}
	return out
}

// ActivateAll activates every worker.
func (r *Registry) ActivateAll(ctx context.Context) error {
	var errs []error
	for _, w := range r.List() {
		if err := w.Activate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", w.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// DeactivateAll deactivates every worker in reverse order.
func (r *Registry) DeactivateAll() error {
	workers := r.List()
	var errs []error
	for i := len(workers) - 1; i >= 0; i-- {
		if err := workers[i].Deactivate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", workers[i].ID(), err))
		}
	}
	return errors.Join(errs...)
}
