package cache

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

type memoryEntry struct {
	value   []byte
	version uint64
	expires time.Time
}

// MemoryCache keeps everything in the current process. Several pools in
// the same process (or several tests) can share it to simulate distinct
// hosts.
type MemoryCache struct {
	mu      sync.Mutex
	clock   clock.PassiveClock
	entries map[string]memoryEntry
	version uint64
}

var _ Cache = &MemoryCache{}

func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithClock(clock.RealClock{})
}

func NewMemoryCacheWithClock(c clock.PassiveClock) *MemoryCache {
	return &MemoryCache{
		clock:   c,
		entries: make(map[string]memoryEntry),
	}
}

// lookup must be called with the lock held
func (m *MemoryCache) lookup(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expires.IsZero() && !m.clock.Now().Before(e.expires) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// store must be called with the lock held
func (m *MemoryCache) store(key string, value []byte, ttl time.Duration) {
	m.version++
	e := memoryEntry{
		value:   append([]byte(nil), value...),
		version: m.version,
	}
	if ttl > 0 {
		e.expires = m.clock.Now().Add(ttl)
	}
	m.entries[key] = e
}

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

func (m *MemoryCache) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if e, ok := m.lookup(k); ok {
			res[k] = append([]byte(nil), e.value...)
		}
	}
	return res, nil
}

func (m *MemoryCache) Gets(ctx context.Context, key string) ([]byte, Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		return nil, nil, nil
	}
	return append([]byte(nil), e.value...), e.version, nil
}

func (m *MemoryCache) CompareAndSwap(ctx context.Context, key string, value []byte, token Token, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	switch t := token.(type) {
	case nil:
		if ok {
			return false, nil
		}
	case uint64:
		if !ok || e.version != t {
			return false, nil
		}
	default:
		return false, TokenError{Backend: "memory", Token: token}
	}

	m.store(key, value, ttl)
	return true, nil
}

func (m *MemoryCache) CompareAndDelete(ctx context.Context, key string, token Token) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	version, ok := token.(uint64)
	if !ok {
		return false, TokenError{Backend: "memory", Token: token}
	}
	if e, found := m.lookup(key); !found || e.version != version {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *MemoryCache) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.store(key, value, ttl)
	return true, nil
}

func (m *MemoryCache) SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration, keyPrefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range items {
		m.store(keyPrefix+k, v, ttl)
	}
	return nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

func (m *MemoryCache) DeleteMulti(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

// Len reports the number of live keys
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k := range m.entries {
		if _, ok := m.lookup(k); ok {
			n++
		}
	}
	return n
}

func (m *MemoryCache) Close() error {
	return nil
}
