package task

import "sync"

// Queue is a FIFO of pending tasks, safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []*Task
}

func NewQueue() *Queue { return &Queue{} }

// Enqueue appends tasks to the tail in the given order.
func (q *Queue) Enqueue(tasks ...*Task) {
	q.mu.Lock()
	q.items = append(q.items, tasks...)
	q.mu.Unlock()
}

// Dequeue removes and returns the head, or false when empty.
func (q *Queue) Dequeue() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	head := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return head, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
