package respool

import (
	"context"
	"errors"
	"sync"
)

// LocalAllocator exposes a Pool as an Allocator, for sessions without a
// shared cache. Nothing leaves the process.
type LocalAllocator struct {
	mu   sync.Mutex
	pool *Pool
}

var _ Allocator = &LocalAllocator{}

func NewLocalAllocator(pool *Pool) *LocalAllocator {
	return &LocalAllocator{pool: pool}
}

func (l *LocalAllocator) Name() string {
	return l.pool.Name()
}

func (l *LocalAllocator) observe(err error) error {
	if errors.Is(err, ErrPoolExhausted) {
		exhaustedCount.WithLabelValues(l.pool.Name()).Inc()
	}
	return err
}

func (l *LocalAllocator) Get(_ context.Context, opts GetOptions) (Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, isNew, err := l.pool.get(opts)
	if err != nil {
		return nil, l.observe(err)
	}
	if isNew {
		allocationsCount.WithLabelValues(l.pool.Name()).Inc()
	}
	return item, nil
}

func (l *LocalAllocator) GetMulti(_ context.Context, n int, opts GetOptions) ([]Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	before := l.pool.Len()
	items, err := l.pool.GetMulti(n, opts)
	if err != nil {
		return nil, l.observe(err)
	}
	allocationsCount.WithLabelValues(l.pool.Name()).Add(float64(l.pool.Len() - before))
	return items, nil
}

func (l *LocalAllocator) Free(_ context.Context, item Item) (Item, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed, found := l.pool.Free(item)
	countFree(l.pool.Name(), found)
	return removed, found, nil
}

func (l *LocalAllocator) FreeEncoded(ctx context.Context, e EncodedItem) (Item, bool, error) {
	item, err := DecodeItem(e)
	if err != nil {
		return nil, false, err
	}
	return l.Free(ctx, item)
}

func (l *LocalAllocator) FreeAll(_ context.Context, opts FreeOptions) ([]Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := l.pool.FreeAll(opts)
	freesCount.WithLabelValues(l.pool.Name()).Add(float64(len(removed)))
	return removed, nil
}

func (l *LocalAllocator) Sync(context.Context) error {
	return nil
}

func (l *LocalAllocator) Refresh(context.Context) error {
	return nil
}

func (l *LocalAllocator) Items() []Item {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.pool.Items()
}

func (l *LocalAllocator) GetByName(name string) (Item, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.pool.GetByName(name)
}
