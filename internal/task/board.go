package task

import "sync"

// Board keeps the latest snapshot of every task it has been notified about,
// in submission order. It is safe for concurrent use.
type Board struct {
	mu    sync.RWMutex
	tasks map[string]Task
	order []string
}

func NewBoard() *Board {
	return &Board{tasks: make(map[string]Task)}
}

func (b *Board) TaskStatusChanged(snapshot Task) {
	b.mu.Lock()
	if _, known := b.tasks[snapshot.ID]; !known {
		b.order = append(b.order, snapshot.ID)
	}
	b.tasks[snapshot.ID] = snapshot
	b.mu.Unlock()
}

// Get returns a task by ID
func (b *Board) Get(taskID string) (Task, bool) {
	b.mu.RLock()
	found, ok := b.tasks[taskID]
	b.mu.RUnlock()
	return found, ok
}

// List returns every known task in submission order.
func (b *Board) List() []Task {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Task, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.tasks[id])
	}
	return out
}
