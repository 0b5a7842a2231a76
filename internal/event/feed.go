package event

import (
	"slices"
	"sync"
)

// Feed delivers values of type T to subscribers on a Queue.
//
// Subscribers registered when Emit is called receive the value at most once;
// a subscriber that unsubscribes before the value is dispatched does not
// receive it.
type Feed[T any] struct {
	queue *Queue

	mu   sync.Mutex
	next uint64
	subs map[uint64]func(T)
}

// NewFeed returns a Feed that dispatches on q.
func NewFeed[T any](q *Queue) *Feed[T] {
	return &Feed[T]{queue: q, subs: make(map[uint64]func(T))}
}

// Subscribe registers fn and returns a function that removes it. The returned
// function is safe to call more than once.
func (f *Feed[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

// Emit schedules delivery of v to the current subscribers.
func (f *Feed[T]) Emit(v T) {
	f.mu.Lock()
	ids := make([]uint64, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	f.mu.Unlock()
	if len(ids) == 0 {
		return
	}
	// Map iteration is unordered; deliver in subscription order.
	slices.Sort(ids)

	f.queue.Post(func() {
		for _, id := range ids {
			f.mu.Lock()
			fn, ok := f.subs[id]
			f.mu.Unlock()
			if ok {
				fn(v)
			}
		}
	})
}

// Len returns the number of live subscribers.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
