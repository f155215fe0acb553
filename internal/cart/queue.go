package cart

import (
	"context"
	"sync"

	"payndeliver-cart/internal/model"
)

type pushJob struct {
	userID string
	items  []model.LineItem
}

// pushQueue runs pushes one at a time on a single worker. It holds at most one
// waiting job: enqueueing while a job waits replaces it, so the server always
// ends on the most recently issued snapshot. A running push is left to finish.
type pushQueue struct {
	run func(pushJob)

	mu      sync.Mutex
	pending *pushJob
	running bool
	closed  bool
	idle    chan struct{}

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

func newPushQueue(run func(pushJob)) *pushQueue {
	q := &pushQueue{
		run:  run,
		idle: make(chan struct{}),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	close(q.idle)

	q.wg.Add(1)
	go q.loop()
	return q
}

// enqueue reports false if the queue is closed.
func (q *pushQueue) enqueue(job pushJob) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if q.pending == nil && !q.running {
		q.idle = make(chan struct{})
	}
	q.pending = &job
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// next takes the waiting job, marking the queue idle when there is none.
func (q *pushQueue) next() (pushJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending == nil {
		if q.running {
			q.running = false
			close(q.idle)
		}
		return pushJob{}, false
	}
	job := *q.pending
	q.pending = nil
	q.running = true
	return job, true
}

func (q *pushQueue) loop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.wake:
		case <-q.done:
			q.drain()
			return
		}
		q.drain()
	}
}

func (q *pushQueue) drain() {
	for {
		job, ok := q.next()
		if !ok {
			return
		}
		q.run(job)
	}
}

// wait blocks until no job is waiting or running.
func (q *pushQueue) wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close runs any waiting job, then stops the worker.
func (q *pushQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.done)
	q.wg.Wait()
}
