package resume

import (
	"context"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/signaling"
)

type stashed struct {
	cfg     signaling.ServerConfig
	expires time.Time
}

// MemoryStore is a process-local Store. Stashes survive only as long as the
// process, which is enough for controllers restarted in place.
type MemoryStore struct {
	now func() time.Time

	mu    sync.Mutex
	busy  map[string]struct{}
	stash map[string]stashed
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock returns a MemoryStore that reads the time from now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		now:   now,
		busy:  make(map[string]struct{}),
		stash: make(map[string]stashed),
	}
}

func (s *MemoryStore) Acquire(_ context.Context, room string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.busy[room]; ok {
		return false, nil
	}
	s.busy[room] = struct{}{}
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, room string) error {
	s.mu.Lock()
	delete(s.busy, room)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Stash(_ context.Context, key string, cfg signaling.ServerConfig, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl <= 0 {
		delete(s.stash, key)
		return nil
	}
	s.stash[key] = stashed{cfg: cfg, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Load(_ context.Context, key string) (signaling.ServerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stash[key]
	if !ok {
		return signaling.ServerConfig{}, ErrNotFound
	}
	if !s.now().Before(st.expires) {
		delete(s.stash, key)
		return signaling.ServerConfig{}, ErrNotFound
	}
	return st.cfg, nil
}
