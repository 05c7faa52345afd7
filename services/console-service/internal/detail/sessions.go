package detail

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sessions keeps one Orchestrator per console session. Sessions idle for
// longer than the TTL are closed by the cleanup loop.
type Sessions struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	items map[string]*session
}

type session struct {
	o        *Orchestrator
	lastUsed time.Time
}

func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Sessions{ttl: ttl, now: time.Now, items: map[string]*session{}}
}

// Get returns the session's orchestrator, creating it with create on first
// use.
func (s *Sessions) Get(id string, create func() *Orchestrator) *Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		item = &session{o: create()}
		s.items[id] = item
	}
	item.lastUsed = s.now()
	return item.o
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Sessions) evictIdle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, item := range s.items {
		if s.now().Sub(item.lastUsed) >= s.ttl {
			item.o.Close()
			delete(s.items, id)
			n++
		}
	}
	return n
}

func (s *Sessions) StartCleanup(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.evictIdle(); n > 0 {
					logger.Debug("detail sessions evicted", "count", n)
				}
			}
		}
	}()
}
