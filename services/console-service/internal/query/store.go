package query

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Entry is what the cache holds for one key. Only successful fetches are
// stored.
type Entry struct {
	Data        json.RawMessage `json:"data"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Seq         uint64          `json:"seq"`
	Invalidated bool            `json:"invalidated,omitempty"`
	// GCTime is kept with the entry so an invalidation can rewrite it
	// without knowing which query produced it.
	GCTime time.Duration `json:"gc_time"`
}

// Store holds entries until their GC time passes without access. The
// query Client is its only writer.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Touch restarts the GC clock of key.
	Touch(ctx context.Context, key string, ttl time.Duration) error
}

type memoryItem struct {
	entry     Entry
	expiresAt time.Time
}

type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string]memoryItem{}, now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false, nil
	}
	if s.expired(item) {
		s.mu.Lock()
		if cur, ok := s.items[key]; ok && s.expired(cur) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return Entry{}, false, nil
	}
	e := item.entry
	e.Data = slices.Clone(e.Data)
	return e, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, e Entry) error {
	e.Data = slices.Clone(e.Data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = memoryItem{entry: e, expiresAt: s.expiry(e.GCTime)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.items, k)
	}
	return nil
}

func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k, item := range s.items {
		if strings.HasPrefix(k, prefix) && !s.expired(item) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *MemoryStore) Touch(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[key]
	if !ok {
		return nil
	}
	item.expiresAt = s.expiry(ttl)
	s.items[key] = item
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// StartCleanup evicts expired entries every interval until ctx is done.
func (s *MemoryStore) StartCleanup(ctx context.Context, interval time.Duration, logger *slog.Logger) {
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
				if n := s.evictExpired(); n > 0 && logger != nil {
					logger.Debug("query cache eviction", "evicted", n)
				}
			}
		}
	}()
}

func (s *MemoryStore) evictExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, item := range s.items {
		if s.expired(item) {
			delete(s.items, k)
			n++
		}
	}
	return n
}

func (s *MemoryStore) expired(item memoryItem) bool {
	return !item.expiresAt.IsZero() && !s.now().Before(item.expiresAt)
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}
