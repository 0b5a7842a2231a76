// Package event provides ordered, asynchronous delivery of callbacks.
//
// A Queue runs posted functions one at a time in posting order on a runner
// goroutine that exists only while work is pending. A Feed fans a typed value
// out to its subscribers through a Queue.
package event

import "sync"

// Queue is a serial executor. The zero value is ready to use.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	running bool
	closed  bool
	idle    *sync.Cond
}

// Post schedules fn to run after every previously posted function. It never
// blocks. Post reports false if the queue has been closed.
func (q *Queue) Post(fn func()) bool {
	if fn == nil {
		return true
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, fn)
	if !q.running {
		q.running = true
		go q.run()
	}
	q.mu.Unlock()
	return true
}

func (q *Queue) run() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			if q.idle != nil {
				q.idle.Broadcast()
			}
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		fn()
	}
}

// Flush blocks until every function posted before the call has run.
//
// Flush must not be called from a function running on the queue.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.idle == nil {
		q.idle = sync.NewCond(&q.mu)
	}
	for q.running {
		q.idle.Wait()
	}
}

// Close stops the queue from accepting new work. Work already posted still
// runs.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
