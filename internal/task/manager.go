package task

import (
	"sync"

	"github.com/samber/lo"
)

// Manager holds the tasks of one component, split by priority.
type Manager struct {
	mu sync.Mutex

	high   []*Task
	low    []*Task
	once   []*Task
	cursor int
}

func NewManager(tasks ...*Task) *Manager {
	m := &Manager{}
	m.Add(tasks...)
	return m
}

// Add registers tasks. ONCE tasks are queued for exactly one execution.
func (m *Manager) Add(tasks ...*Task) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range tasks {
		switch t.Priority {
		case PriorityHigh:
			m.high = append(m.high, t)
		case PriorityLow:
			m.low = append(m.low, t)
		case PriorityOnce:
			m.once = append(m.once, t)
		}
	}
}

// Remove unregisters a task. The LOW cursor is clamped so that round-robin
// continues with the task that followed the removed one.
func (m *Manager) Remove(t *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.high = lo.Without(m.high, t)
	m.once = lo.Without(m.once, t)

	idx := lo.IndexOf(m.low, t)
	if idx < 0 {
		return
	}
	m.low = append(m.low[:idx], m.low[idx+1:]...)
	if idx < m.cursor {
		m.cursor--
	}
	if m.cursor >= len(m.low) {
		m.cursor = 0
	}
}

// Clear removes all tasks.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.high, m.low, m.once = nil, nil, nil
	m.cursor = 0
	m.mu.Unlock()
}

// AllTasks returns every task of the given priority in registration order.
// For ONCE the queue is drained.
func (m *Manager) AllTasks(p Priority) []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch p {
	case PriorityHigh:
		return append([]*Task(nil), m.high...)
	case PriorityLow:
		return append([]*Task(nil), m.low...)
	case PriorityOnce:
		out := m.once
		m.once = nil
		return out
	}
	return nil
}

// OneTask returns the next task of the given priority. LOW tasks are
// returned round-robin; ONCE tasks are popped; HIGH returns the first task.
func (m *Manager) OneTask(p Priority) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch p {
	case PriorityHigh:
		if len(m.high) == 0 {
			return nil, false
		}
		return m.high[0], true
	case PriorityLow:
		if len(m.low) == 0 {
			return nil, false
		}
		if m.cursor >= len(m.low) {
			m.cursor = 0
		}
		t := m.low[m.cursor]
		m.cursor = (m.cursor + 1) % len(m.low)
		return t, true
	case PriorityOnce:
		if len(m.once) == 0 {
			return nil, false
		}
		t := m.once[0]
		m.once = m.once[1:]
		return t, true
	}
	return nil, false
}

// OneDueTask is OneTask filtered by Due(cycle). For LOW the round-robin scan
// starts at the cursor and passes over tasks that are not due; the cursor
// moves behind the returned task only, so a skipped task keeps its turn.
func (m *Manager) OneDueTask(p Priority, cycle uint64) (*Task, bool) {
	if p != PriorityLow {
		t, ok := m.OneTask(p)
		if !ok || (p == PriorityHigh && !t.Due(cycle)) {
			return nil, false
		}
		return t, true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.low)
	if m.cursor >= n {
		m.cursor = 0
	}
	for i := 0; i < n; i++ {
		idx := (m.cursor + i) % n
		if t := m.low[idx]; t.Due(cycle) {
			m.cursor = (idx + 1) % n
			return t, true
		}
	}
	return nil, false
}

// Len returns the number of registered (and not yet executed ONCE) tasks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.high) + len(m.low) + len(m.once)
}
