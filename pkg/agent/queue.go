package agent

import (
	"sync"
	"time"

	"github.com/dirigent-io/dirigent/pkg/models"
)

// ResultCallback receives a task's final result. Callbacks run on the
// instance worker goroutine and must not block for long.
type ResultCallback func(*models.AgentResult)

// Pending couples a task with its delivery path. Ownership transfers with
// the value: exactly one holder delivers exactly one result, whether the
// task completes, fails, or is cancelled during shutdown.
type Pending struct {
	task       *models.AgentTask
	callback   ResultCallback
	resultCh   chan *models.AgentResult
	enqueuedAt time.Time
}

// NewPending wraps a task for asynchronous delivery. callback may be nil
// for fire-and-forget work.
func NewPending(task *models.AgentTask, callback ResultCallback) *Pending {
	return &Pending{
		task:       task,
		callback:   callback,
		enqueuedAt: time.Now(),
	}
}

// NewSyncPending wraps a task for synchronous execution. The result channel
// is buffered so delivery never blocks the worker, even when the waiting
// caller has already given up.
func NewSyncPending(task *models.AgentTask) *Pending {
	return &Pending{
		task:       task,
		resultCh:   make(chan *models.AgentResult, 1),
		enqueuedAt: time.Now(),
	}
}

// Task returns the wrapped task.
func (p *Pending) Task() *models.AgentTask {
	return p.task
}

// Result exposes the delivery channel of a synchronous pending. It is nil
// for callback-based pendings.
func (p *Pending) Result() <-chan *models.AgentResult {
	return p.resultCh
}

// Deliver hands the final result to whoever is waiting for it.
func (p *Pending) Deliver(result *models.AgentResult) {
	if p.callback != nil {
		p.callback(result)
	}
	if p.resultCh != nil {
		p.resultCh <- result
	}
}

// taskQueue is the bounded per-instance queue. Tasks come out in priority
// order (CRITICAL first) and FIFO within the same priority.
type taskQueue struct {
	mu       sync.Mutex
	capacity int
	size     int
	// One FIFO bucket per priority rank, index = rank-1.
	buckets [5][]*Pending
	// notify coalesces wakeups for the single consumer.
	notify chan struct{}
}

func newTaskQueue(capacity int) *taskQueue {
	return &taskQueue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// push appends the item to its priority bucket and wakes the worker.
func (q *taskQueue) push(p *Pending) error {
	q.mu.Lock()
	if q.size >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	idx := p.task.Priority.Rank() - 1
	q.buckets[idx] = append(q.buckets[idx], p)
	q.size++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// pop removes and returns the highest-priority item, oldest first within a
// priority. It never blocks.
func (q *taskQueue) pop() (*Pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for idx := range q.buckets {
		bucket := q.buckets[idx]
		if len(bucket) == 0 {
			continue
		}
		p := bucket[0]
		q.buckets[idx] = bucket[1:]
		q.size--
		return p, true
	}
	return nil, false
}

// drain removes every queued item, highest priority first, transferring
// ownership to the caller.
func (q *taskQueue) drain() []*Pending {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Pending, 0, q.size)
	for idx := range q.buckets {
		out = append(out, q.buckets[idx]...)
		q.buckets[idx] = nil
	}
	q.size = 0
	return out
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
