package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory keeps entries in process with go-cache. Tag membership is tracked
// next to it; expired keys left in a tag set are harmless.
type Memory struct {
	store *gocache.Cache

	mu   sync.Mutex
	tags map[string]map[string]struct{}
}

// NewMemory creates an in-process cache. A zero ttl means DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		store: gocache.New(ttl, ttl+ttl/4),
		tags:  make(map[string]map[string]struct{}),
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	x, found := m.store.Get(key)
	if !found {
		return nil, false
	}
	b, ok := x.([]byte)
	return b, ok
}

func (m *Memory) Set(_ context.Context, key string, value []byte, tags ...string) {
	m.store.Set(key, value, gocache.DefaultExpiration)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tag := range tags {
		keys, ok := m.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			m.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
}

func (m *Memory) InvalidateTag(_ context.Context, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tag := range tags {
		for key := range m.tags[tag] {
			m.store.Delete(key)
		}
		delete(m.tags, tag)
	}
}

func (m *Memory) Flush(context.Context) {
	m.store.Flush()
	m.mu.Lock()
	m.tags = make(map[string]map[string]struct{})
	m.mu.Unlock()
}
