package task

import (
	"sync"

	"github.com/samber/lo"
)

type entry struct {
	key     string
	manager *Manager
}

// MetaManager aggregates the managers of all components sharing a bus.
// Results are concatenated in manager registration order.
type MetaManager struct {
	mu      sync.RWMutex
	entries []entry
}

func NewMetaManager() *MetaManager {
	return &MetaManager{}
}

// Add registers m under key, replacing a manager already registered there.
func (mm *MetaManager) Add(key string, m *Manager) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	for i := range mm.entries {
		if mm.entries[i].key == key {
			mm.entries[i].manager = m
			return
		}
	}
	mm.entries = append(mm.entries, entry{key: key, manager: m})
}

// Remove unregisters the manager stored under key.
func (mm *MetaManager) Remove(key string) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	mm.entries = lo.Reject(mm.entries, func(e entry, _ int) bool { return e.key == key })
}

// Keys returns the registered keys in order.
func (mm *MetaManager) Keys() []string {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return lo.Map(mm.entries, func(e entry, _ int) string { return e.key })
}

func (mm *MetaManager) managers() []*Manager {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return lo.Map(mm.entries, func(e entry, _ int) *Manager { return e.manager })
}

// AllTasks concatenates AllTasks(p) of every manager.
func (mm *MetaManager) AllTasks(p Priority) []*Task {
	return lo.FlatMap(mm.managers(), func(m *Manager, _ int) []*Task {
		return m.AllTasks(p)
	})
}

// OneTasks returns OneTask(p) of every manager that has one, so each
// component gets its own share of the bus per round.
func (mm *MetaManager) OneTasks(p Priority) []*Task {
	return lo.FilterMap(mm.managers(), func(m *Manager, _ int) (*Task, bool) {
		return m.OneTask(p)
	})
}

// OneDueTasks returns OneDueTask(p, cycle) of every manager that has one.
func (mm *MetaManager) OneDueTasks(p Priority, cycle uint64) []*Task {
	return lo.FilterMap(mm.managers(), func(m *Manager, _ int) (*Task, bool) {
		return m.OneDueTask(p, cycle)
	})
}

// Len returns the total number of tasks.
func (mm *MetaManager) Len() int {
	return lo.SumBy(mm.managers(), func(m *Manager) int { return m.Len() })
}
