package world

import (
	"sync"
	"sync/atomic"
)

// TaskQueue collects work for the main context. Any goroutine may Post; only the owner
// of the main context calls Drain.
type TaskQueue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
}

// Post queues task. It returns false once the queue is closed.
func (q *TaskQueue) Post(task func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, task)
	return true
}

// Drain runs every task queued so far, in post order, and returns how many ran. Tasks
// posted while draining wait for the next call.
func (q *TaskQueue) Drain() int {
	q.mu.Lock()
	batch := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, task := range batch {
		task()
	}
	return len(batch)
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close rejects further posts. Tasks already queued stay until drained.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Lifetime issues handles that stay valid until it is invalidated.
type Lifetime struct {
	gen atomic.Uint64
}

func (l *Lifetime) Handle() Handle { return Handle{l: l, gen: l.gen.Load()} }

// Invalidate makes every handle issued so far report invalid.
func (l *Lifetime) Invalidate() { l.gen.Add(1) }

// Handle is a generation-checked reference to an owning world.
type Handle struct {
	l   *Lifetime
	gen uint64
}

func (h Handle) Valid() bool { return h.l != nil && h.l.gen.Load() == h.gen }
