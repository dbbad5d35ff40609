package scheduler

import (
	"sync"

	"github.com/samber/lo"

	"github.com/KevinKickass/OpenEnergyCore/internal/component"
	"github.com/KevinKickass/OpenEnergyCore/internal/cycle"
)

// Source lists the active components. component.Registry satisfies it.
type Source interface {
	List() []component.Component
}

// FixedOrder runs the configured component ids first, in the given order,
// followed by every other runnable component in registration order.
// Configured ids that are not active are skipped.
type FixedOrder struct {
	source Source

	mu    sync.RWMutex
	order []string
}

func NewFixedOrder(source Source, order []string) *FixedOrder {
	return &FixedOrder{source: source, order: lo.Uniq(order)}
}

// SetOrder replaces the configured order, e.g. after a reload.
func (s *FixedOrder) SetOrder(order []string) {
	s.mu.Lock()
	s.order = lo.Uniq(order)
	s.mu.Unlock()
}

func (s *FixedOrder) Order() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

func (s *FixedOrder) Schedule() []cycle.Runnable {
	runnables := lo.FilterMap(s.source.List(), func(c component.Component, _ int) (component.Runnable, bool) {
		r, ok := c.(component.Runnable)
		return r, ok
	})
	byID := lo.KeyBy(runnables, func(r component.Runnable) string { return r.ID() })

	order := s.Order()
	out := make([]cycle.Runnable, 0, len(runnables))
	for _, id := range order {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	for _, r := range runnables {
		if !lo.Contains(order, r.ID()) {
			out = append(out, r)
		}
	}
	return out
}
