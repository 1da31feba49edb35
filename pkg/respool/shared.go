package respool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/samber/lo"

	"github.com/f5qa/respool/pkg/cache"
)

// Allocator is the interface shared by the pools handed out by a Factory
type Allocator interface {
	Name() string
	Get(ctx context.Context, opts GetOptions) (Item, error)
	GetMulti(ctx context.Context, n int, opts GetOptions) ([]Item, error)
	Free(ctx context.Context, item Item) (Item, bool, error)
	FreeEncoded(ctx context.Context, e EncodedItem) (Item, bool, error)
	FreeAll(ctx context.Context, opts FreeOptions) ([]Item, error)
	// Sync registers the local items in the shared state, and reloads it
	Sync(ctx context.Context) error
	// Refresh reloads the shared state without modifying it
	Refresh(ctx context.Context) error
	Items() []Item
	GetByName(name string) (Item, bool)
}

type SharedPoolOptions struct {
	Retry RetryPolicy
	// TTL of the item entries, zero means forever
	ItemTTL time.Duration
	Logger  logr.Logger
}

// SharedPool keeps the membership of a Pool in a cache, so that several
// processes can allocate from the same pool. The cache holds an index
// under the name of the pool, listing the sub-keys of the allocated
// items, and one entry per item under its sub-key. Every operation
// reloads the pool from the cache, applies itself locally and writes the
// index back with a compare-and-swap, retrying from scratch when another
// writer got there first.
type SharedPool struct {
	mu     sync.Mutex
	pool   *Pool
	cache  cache.Cache
	retry  RetryPolicy
	ttl    time.Duration
	logger logr.Logger
}

var _ Allocator = &SharedPool{}

func NewSharedPool(pool *Pool, c cache.Cache, opts SharedPoolOptions) *SharedPool {
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	return &SharedPool{
		pool:   pool,
		cache:  c,
		retry:  opts.Retry,
		ttl:    opts.ItemTTL,
		logger: logger.WithName(pool.Name()),
	}
}

func (s *SharedPool) Name() string {
	return s.pool.Name()
}

func (s *SharedPool) subKey(itemKey string) string {
	return s.pool.Name() + "_" + itemKey
}

func (s *SharedPool) itemKey(subKey string) string {
	return strings.TrimPrefix(subKey, s.pool.Name()+"_")
}

func decodeIndex(pool string, raw []byte) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	var index []string
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, NewDecodeError(pool, fmt.Sprintf("invalid index: %v", err))
	}
	slices.Sort(index)
	return slices.Compact(index), nil
}

// index returns the sorted sub-keys of the current content of the pool
func (s *SharedPool) index() []string {
	keys := append(s.pool.Keys(), s.pool.Reserved()...)
	res := lo.Map(keys, func(k string, _ int) string {
		return s.subKey(k)
	})
	slices.Sort(res)
	return res
}

// load replaces the content of the local pool with the items listed in
// the index. Sub-keys without an item entry are reserved, so that their
// values are not handed out again.
func (s *SharedPool) load(ctx context.Context, raw []byte) ([]string, error) {
	index, err := decodeIndex(s.pool.Name(), raw)
	if err != nil {
		return nil, err
	}

	var entries map[string][]byte
	if len(index) > 0 {
		entries, err = s.cache.GetMulti(ctx, index)
		if err != nil {
			return nil, err
		}
	}

	items := make([]Item, 0, len(index))
	var reserved []string
	for _, sk := range index {
		data, ok := entries[sk]
		if !ok {
			reserved = append(reserved, s.itemKey(sk))
			continue
		}
		item, err := UnmarshalItem(sk, data)
		if err != nil {
			return nil, err
		}
		if s.subKey(item.Key()) != sk {
			return nil, NewDecodeError(sk, fmt.Sprintf("entry holds item %s", item.Key()))
		}
		items = append(items, item)
	}

	s.pool.UpdateWith(items)
	s.pool.Reserve(reserved...)
	if len(reserved) > 0 {
		s.logger.V(1).Info("index entries without item", "keys", reserved)
	}
	return index, nil
}

type changes struct {
	added []Item
	// removed maps the sub-keys dropped from the index to the items
	// their entries held when the index was read
	removed map[string]Item
}

// update runs op against the pool reloaded from the cache, and publishes
// the resulting index. With seed the new item entries are only created
// when missing.
func (s *SharedPool) update(ctx context.Context, seed bool, op func() error) error {
	return withCASRetry(ctx, s.cache, s.pool.Name(), s.retry, s.logger, func(ctx context.Context, current []byte) (*casUpdate, error) {
		before, err := s.load(ctx, current)
		if err != nil {
			return nil, err
		}
		loaded := lo.SliceToMap(s.pool.Items(), func(item Item) (string, Item) {
			return s.subKey(item.Key()), item
		})

		if err := op(); err != nil {
			return nil, err
		}

		after := s.index()
		if current != nil && slices.Equal(before, after) {
			return nil, nil
		}

		value, err := json.Marshal(after)
		if err != nil {
			return nil, err
		}

		c := changes{removed: map[string]Item{}}
		for _, item := range s.pool.Items() {
			if _, ok := loaded[s.subKey(item.Key())]; !ok {
				c.added = append(c.added, item)
			}
		}
		for sk, item := range loaded {
			if !slices.Contains(after, sk) {
				c.removed[sk] = item
			}
		}

		return &casUpdate{
			value: value,
			commit: func(ctx context.Context) error {
				return s.commit(ctx, c, seed)
			},
		}, nil
	})
}

func (s *SharedPool) commit(ctx context.Context, c changes, seed bool) error {
	if err := s.release(ctx, c.removed); err != nil {
		return err
	}
	if len(c.added) == 0 {
		return nil
	}

	entries := make(map[string][]byte, len(c.added))
	for _, item := range c.added {
		data, err := marshalItem(item)
		if err != nil {
			return err
		}
		entries[s.subKey(item.Key())] = data
	}

	if !seed {
		return s.cache.SetMulti(ctx, entries, s.ttl, "")
	}
	for sk, data := range entries {
		added, err := s.cache.Add(ctx, sk, data, s.ttl)
		if err != nil {
			return err
		}
		if !added {
			s.logger.Info("item entry already registered", "key", sk)
		}
	}
	return nil
}

// release deletes the entries of the freed items. Once the index no longer
// lists a sub-key, another process may allocate it again and write its own
// entry there, so an entry is only deleted while it still holds the same
// allocation.
func (s *SharedPool) release(ctx context.Context, removed map[string]Item) error {
	subKeys := lo.Keys(removed)
	slices.Sort(subKeys)

	for _, sk := range subKeys {
		data, token, err := s.cache.Gets(ctx, sk)
		if err != nil {
			return err
		}
		if data == nil {
			continue
		}

		current, err := UnmarshalItem(sk, data)
		if err != nil || !sameAllocation(current, removed[sk]) {
			s.logger.Info("item entry reallocated, keeping it", "key", sk)
			continue
		}

		deleted, err := s.cache.CompareAndDelete(ctx, sk, token)
		if err != nil {
			return err
		}
		if !deleted {
			s.logger.Info("item entry changed while releasing it, keeping it", "key", sk)
		}
	}
	return nil
}

func sameAllocation(a, b Item) bool {
	return a.Key() == b.Key() &&
		a.FullName() == b.FullName() &&
		a.Acquired().Equal(b.Acquired())
}

func (s *SharedPool) wrap(op string, err error) error {
	if errors.Is(err, ErrPoolExhausted) {
		exhaustedCount.WithLabelValues(s.pool.Name()).Inc()
	}
	return fmt.Errorf("%s from pool %s: %w", op, s.pool.Name(), err)
}

func (s *SharedPool) Get(ctx context.Context, opts GetOptions) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		item  Item
		isNew bool
	)
	err := s.update(ctx, false, func() error {
		var err error
		item, isNew, err = s.pool.get(opts)
		return err
	})
	if err != nil {
		return nil, s.wrap("get", err)
	}
	if isNew {
		allocationsCount.WithLabelValues(s.pool.Name()).Inc()
	}
	return item, nil
}

func (s *SharedPool) GetMulti(ctx context.Context, n int, opts GetOptions) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []Item
	before := 0
	err := s.update(ctx, false, func() error {
		before = s.pool.Len()
		var err error
		items, err = s.pool.GetMulti(n, opts)
		return err
	})
	if err != nil {
		return nil, s.wrap("get", err)
	}
	allocationsCount.WithLabelValues(s.pool.Name()).Add(float64(s.pool.Len() - before))
	return items, nil
}

func (s *SharedPool) Free(ctx context.Context, item Item) (Item, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		removed Item
		found   bool
	)
	err := s.update(ctx, false, func() error {
		removed, found = s.pool.Free(item)
		return nil
	})
	if err != nil {
		return nil, false, s.wrap("free", err)
	}
	countFree(s.pool.Name(), found)
	return removed, found, nil
}

func (s *SharedPool) FreeEncoded(ctx context.Context, e EncodedItem) (Item, bool, error) {
	item, err := DecodeItem(e)
	if err != nil {
		return nil, false, err
	}
	return s.Free(ctx, item)
}

func (s *SharedPool) FreeAll(ctx context.Context, opts FreeOptions) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []Item
	err := s.update(ctx, false, func() error {
		removed = s.pool.FreeAll(opts)
		return nil
	})
	if err != nil {
		return nil, s.wrap("free all", err)
	}
	freesCount.WithLabelValues(s.pool.Name()).Add(float64(len(removed)))
	return removed, nil
}

// Sync registers the items allocated locally in the pool namespace, which
// other processes do not know yet, then reloads the pool. Item entries
// are only created, never overwritten.
func (s *SharedPool) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	local := lo.Filter(s.pool.Items(), func(item Item, _ int) bool {
		return strings.HasPrefix(item.FullName(), s.pool.Prefix())
	})

	err := s.update(ctx, true, func() error {
		for _, item := range local {
			if _, ok := s.pool.GetByFullName(item.FullName()); ok || s.pool.inUse(item.Key()) {
				continue
			}
			s.pool.add(item)
		}
		return nil
	})
	if err != nil {
		return s.wrap("sync", err)
	}
	return nil
}

func (s *SharedPool) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.refresh(ctx)
}

func (s *SharedPool) refresh(ctx context.Context) error {
	raw, _, err := s.cache.Gets(ctx, s.pool.Name())
	if err != nil {
		return s.wrap("refresh", err)
	}
	if _, err := s.load(ctx, raw); err != nil {
		return s.wrap("refresh", err)
	}
	return nil
}

// Orphans reloads the pool and returns the keys listed in the index
// without an item entry
func (s *SharedPool) Orphans(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	return s.pool.Reserved(), nil
}

// DropOrphans removes from the index the given keys which still have no
// item entry, and returns how many were removed
func (s *SharedPool) DropOrphans(ctx context.Context, keys []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	err := s.update(ctx, false, func() error {
		dropped = 0
		for _, k := range keys {
			if _, ok := s.pool.reserved[k]; ok {
				delete(s.pool.reserved, k)
				dropped++
			}
		}
		return nil
	})
	if err != nil {
		return 0, s.wrap("sweep", err)
	}
	orphansSweptCount.WithLabelValues(s.pool.Name()).Add(float64(dropped))
	return dropped, nil
}

// Items returns the items known since the last operation
func (s *SharedPool) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pool.Items()
}

func (s *SharedPool) GetByName(name string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pool.GetByName(name)
}

func countFree(pool string, found bool) {
	if found {
		freesCount.WithLabelValues(pool).Inc()
	} else {
		freeMissesCount.WithLabelValues(pool).Inc()
	}
}
