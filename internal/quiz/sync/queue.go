package sync

import (
	"context"
	stdsync "sync"
)

// pushJob is a local attempt id to push, or a flush barrier when done is set.
type pushJob struct {
	localID int64
	done    chan struct{}
}

// pushQueue feeds a single worker goroutine, so queued pushes run one at a
// time in enqueue order.
type pushQueue struct {
	jobs   chan pushJob
	handle func(localID int64)

	mu     stdsync.RWMutex
	closed bool
	wg     stdsync.WaitGroup
}

func newPushQueue(size int, handle func(localID int64)) *pushQueue {
	q := &pushQueue{
		jobs:   make(chan pushJob, size),
		handle: handle,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *pushQueue) run() {
	defer q.wg.Done()
	for job := range q.jobs {
		if job.done != nil {
			close(job.done)
			continue
		}
		q.handle(job.localID)
	}
}

// enqueue adds a push without blocking. It reports false when the queue is
// full or closed; the attempt then waits for the next sweep.
func (q *pushQueue) enqueue(localID int64) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.jobs <- pushJob{localID: localID}:
		return true
	default:
		return false
	}
}

// flush blocks until the worker has passed every job queued before it.
func (q *pushQueue) flush(ctx context.Context) error {
	done := make(chan struct{})

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return nil
	}
	select {
	case q.jobs <- pushJob{done: done}:
	case <-ctx.Done():
		q.mu.RUnlock()
		return ctx.Err()
	}
	q.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting jobs, then waits for the worker to drain the rest.
func (q *pushQueue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
