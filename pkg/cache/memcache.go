package cache

import (
	"context"
	"errors"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const memcacheBackend = "memcache"

// MemcacheCache talks to memcached servers, the gets/cas commands
// providing the compare-and-swap semantics.
type MemcacheCache struct {
	client *memcache.Client
}

var _ Cache = &MemcacheCache{}

func NewMemcacheCache(servers []string, timeout time.Duration) (*MemcacheCache, error) {
	if len(servers) == 0 {
		return nil, errors.New("at least one memcache server is required")
	}

	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}

	return &MemcacheCache{
		client: client,
	}, nil
}

// memcachedMaxRelative is the longest expiration memcached reads as
// relative seconds, anything above is taken as a unix timestamp
const memcachedMaxRelative = 30 * 24 * time.Hour

// memcacheExpiration converts a ttl into the expiration expected by
// memcached, rounding up so that a sub-second ttl does not mean forever
func memcacheExpiration(ttl time.Duration, now time.Time) int32 {
	if ttl <= 0 {
		return 0
	}
	if ttl > memcachedMaxRelative {
		return int32(now.Add(ttl).Unix())
	}
	return int32((ttl + time.Second - 1) / time.Second)
}

// memcacheErr keeps the protocol level answers and turns everything else
// into an UnavailableError
func memcacheErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, memcache.ErrCacheMiss),
		errors.Is(err, memcache.ErrCASConflict),
		errors.Is(err, memcache.ErrNotStored),
		errors.Is(err, memcache.ErrMalformedKey):
		return err
	default:
		return NewUnavailableError(memcacheBackend, op, err)
	}
}

func (m *MemcacheCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	item, err := m.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, memcacheErr("get", err)
	}
	return item.Value, nil
}

func (m *MemcacheCache) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return res, nil
	}

	items, err := m.client.GetMulti(keys)
	if err != nil {
		return nil, memcacheErr("get_multi", err)
	}
	for k, item := range items {
		res[k] = item.Value
	}
	return res, nil
}

func (m *MemcacheCache) Gets(ctx context.Context, key string) ([]byte, Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	item, err := m.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, memcacheErr("gets", err)
	}
	return item.Value, item, nil
}

func (m *MemcacheCache) CompareAndSwap(ctx context.Context, key string, value []byte, token Token, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if token == nil {
		return m.Add(ctx, key, value, ttl)
	}

	observed, ok := token.(*memcache.Item)
	if !ok || observed.Key != key {
		return false, TokenError{Backend: memcacheBackend, Token: token}
	}

	// The copy keeps the cas id of the observed item
	item := *observed
	item.Value = value
	item.Expiration = memcacheExpiration(ttl, time.Now())

	err := m.client.CompareAndSwap(&item)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, memcache.ErrCASConflict), errors.Is(err, memcache.ErrNotStored), errors.Is(err, memcache.ErrCacheMiss):
		return false, nil
	default:
		return false, memcacheErr("cas", err)
	}
}

// CompareAndDelete swaps the observed item for an already expired one, as
// the delete command has no cas variant
func (m *MemcacheCache) CompareAndDelete(ctx context.Context, key string, token Token) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	observed, ok := token.(*memcache.Item)
	if !ok || observed.Key != key {
		return false, TokenError{Backend: memcacheBackend, Token: token}
	}

	item := *observed
	item.Value = nil
	item.Expiration = -1

	err := m.client.CompareAndSwap(&item)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, memcache.ErrCASConflict), errors.Is(err, memcache.ErrNotStored), errors.Is(err, memcache.ErrCacheMiss):
		return false, nil
	default:
		return false, memcacheErr("cad", err)
	}
}

func (m *MemcacheCache) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	err := m.client.Add(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: memcacheExpiration(ttl, time.Now()),
	})
	if errors.Is(err, memcache.ErrNotStored) {
		return false, nil
	}
	if err != nil {
		return false, memcacheErr("add", err)
	}
	return true, nil
}

func (m *MemcacheCache) SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration, keyPrefix string) error {
	for k, v := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := m.client.Set(&memcache.Item{
			Key:        keyPrefix + k,
			Value:      v,
			Expiration: memcacheExpiration(ttl, time.Now()),
		})
		if err != nil {
			return memcacheErr("set_multi", err)
		}
	}
	return nil
}

func (m *MemcacheCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := m.client.Delete(key)
	if err == nil || errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return memcacheErr("delete", err)
}

func (m *MemcacheCache) DeleteMulti(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := m.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemcacheCache) Close() error {
	return nil
}
