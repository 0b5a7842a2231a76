package event

import (
	"sync"
	"testing"
	"time"
)

func TestQueue_RunsInPostOrder(t *testing.T) {
	var q Queue
	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		q.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	q.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 100 {
		t.Fatalf("len(got)=%d, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d]=%d, want %d", i, v, i)
		}
	}
}

func TestQueue_PostFromRunningFunction(t *testing.T) {
	var q Queue
	done := make(chan struct{})
	q.Post(func() {
		q.Post(func() { close(done) })
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for nested post")
	}
}

func TestQueue_ClosedRejectsPosts(t *testing.T) {
	var q Queue
	q.Close()
	if q.Post(func() {}) {
		t.Fatalf("Post succeeded on closed queue")
	}
}

func TestFeed_UnsubscribeBeforeDispatch(t *testing.T) {
	var q Queue
	f := NewFeed[string](&q)

	block := make(chan struct{})
	q.Post(func() { <-block })

	var mu sync.Mutex
	var got []string
	unsub := f.Subscribe(func(v string) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	f.Emit("first")
	unsub()
	unsub()
	close(block)
	q.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 0 {
		t.Fatalf("got=%v, want no deliveries after unsubscribe", got)
	}
	if f.Len() != 0 {
		t.Fatalf("Len()=%d, want 0", f.Len())
	}
}

func TestFeed_DeliversOncePerSubscriber(t *testing.T) {
	var q Queue
	f := NewFeed[int](&q)

	var mu sync.Mutex
	counts := map[string]int{}
	f.Subscribe(func(int) { mu.Lock(); counts["a"]++; mu.Unlock() })
	f.Subscribe(func(int) { mu.Lock(); counts["b"]++; mu.Unlock() })
	f.Emit(1)
	q.Flush()

	mu.Lock()
	defer mu.Unlock()
	if counts["a"] != 1 || counts["b"] != 1 {
		t.Fatalf("counts=%v, want one delivery each", counts)
	}
}
