// Package pipeline runs the asynchronous photo ingestion work: a fixed
// worker pool fed by an in-memory FIFO backlog, and the per-photo stage
// coordinator.
package pipeline

import (
	"context"
	"log"
	"sync"
)

// Task is one unit of queued work.
type Task struct {
	Name string
	Run  func(ctx context.Context)
}

// Queue is an in-memory FIFO task queue served by a fixed pool of workers.
// Enqueue never blocks; the backlog grows without bound. Tasks run at most
// once, there are no retries.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	backlog []Task
	closed  bool
	wg      sync.WaitGroup
}

// NewQueue starts a queue with the given number of workers. Workers receive
// ctx in every task; cancelling it aborts in-flight work but queued tasks
// still drain.
func NewQueue(ctx context.Context, workers int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)

	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker(ctx)
	}
	return q
}

// Enqueue appends a task to the backlog. Returns false when the queue is
// already closed.
func (q *Queue) Enqueue(task Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.backlog = append(q.backlog, task)
	q.cond.Signal()
	return true
}

// Len returns the number of tasks waiting in the backlog.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// Close stops accepting tasks and blocks until the backlog drains and all
// workers exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.wg.Wait()
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		for len(q.backlog) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.backlog) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		task := q.backlog[0]
		q.backlog = q.backlog[1:]
		q.mu.Unlock()

		q.run(ctx, task)
	}
}

// run executes one task. A panicking task is logged and dropped so it
// cannot take its worker down.
func (q *Queue) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("task %s panicked: %v", task.Name, r)
		}
	}()
	task.Run(ctx)
}
