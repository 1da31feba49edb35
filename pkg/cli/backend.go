package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/samber/lo"

	v1 "github.com/f5qa/respool/api/v1"
	"github.com/f5qa/respool/pkg/respool"
	clientv1 "github.com/f5qa/respool/pkg/server/clientset/v1"
)

var ErrNotConfigured = errors.New("not configured")

// Backend performs the pool operations, either directly against the
// shared cache or through a respool API server
type Backend interface {
	List(ctx context.Context) ([]string, error)
	Status(ctx context.Context, pool string) ([]clientv1.Item, error)
	Acquire(ctx context.Context, pool string, opts clientv1.AcquireOptions) ([]clientv1.Item, error)
	Release(ctx context.Context, pool string, name string, opts clientv1.ReleaseOptions) (*clientv1.FreeResult, error)
	ReleaseAll(ctx context.Context, pool string, opts clientv1.ReleaseOptions) (*clientv1.FreeResult, error)
	Sync(ctx context.Context, pool string) ([]clientv1.Item, error)
	Next(ctx context.Context, rangeName string) (*clientv1.RangeValue, error)
}

// ---------------------------------

type localBackend struct {
	factory *respool.Factory
	config  *v1.Config
}

func (b *localBackend) pool(ctx context.Context, name string) (respool.Allocator, error) {
	spec, ok := b.config.Pools[name]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", name, ErrNotConfigured)
	}
	return b.factory.Pool(ctx, name, spec)
}

func toItems(pool string, items []respool.Item) []clientv1.Item {
	return lo.Map(items, func(i respool.Item, _ int) clientv1.Item {
		return clientv1.NewItem(pool, i)
	})
}

func (b *localBackend) List(context.Context) ([]string, error) {
	return sortedKeys(b.config.Pools), nil
}

func (b *localBackend) Status(ctx context.Context, pool string) ([]clientv1.Item, error) {
	a, err := b.pool(ctx, pool)
	if err != nil {
		return nil, err
	}
	if err := a.Refresh(ctx); err != nil {
		return nil, err
	}
	return toItems(pool, a.Items()), nil
}

func (b *localBackend) Acquire(ctx context.Context, pool string, opts clientv1.AcquireOptions) ([]clientv1.Item, error) {
	a, err := b.pool(ctx, pool)
	if err != nil {
		return nil, err
	}

	getOpts := respool.GetOptions{Name: opts.Name, Prefix: opts.Prefix}
	if opts.Count > 1 {
		items, err := a.GetMulti(ctx, opts.Count, getOpts)
		if err != nil {
			return nil, err
		}
		return toItems(pool, items), nil
	}

	item, err := a.Get(ctx, getOpts)
	if err != nil {
		return nil, err
	}
	return toItems(pool, []respool.Item{item}), nil
}

func (b *localBackend) Release(ctx context.Context, pool string, name string, opts clientv1.ReleaseOptions) (*clientv1.FreeResult, error) {
	a, err := b.pool(ctx, pool)
	if err != nil {
		return nil, err
	}
	if err := a.Refresh(ctx); err != nil {
		return nil, err
	}

	var (
		item  respool.Item
		found bool
	)
	if opts.Prefix != "" {
		item, found = lo.Find(a.Items(), func(i respool.Item) bool {
			return i.FullName() == opts.Prefix+name
		})
	} else {
		item, found = a.GetByName(name)
	}

	result := &clientv1.FreeResult{Items: []clientv1.Item{}}
	if !found {
		return result, nil
	}

	removed, ok, err := a.Free(ctx, item)
	if err != nil {
		return nil, err
	}
	result.Found = ok
	if ok {
		result.Items = append(result.Items, clientv1.NewItem(pool, removed))
	}
	return result, nil
}

func (b *localBackend) ReleaseAll(ctx context.Context, pool string, opts clientv1.ReleaseOptions) (*clientv1.FreeResult, error) {
	a, err := b.pool(ctx, pool)
	if err != nil {
		return nil, err
	}

	removed, err := a.FreeAll(ctx, respool.FreeOptions{Prefix: opts.Prefix})
	if err != nil {
		return nil, err
	}
	return &clientv1.FreeResult{
		Found: len(removed) > 0,
		Items: toItems(pool, removed),
	}, nil
}

func (b *localBackend) Sync(ctx context.Context, pool string) ([]clientv1.Item, error) {
	// Creating the pool synchronizes it
	a, err := b.pool(ctx, pool)
	if err != nil {
		return nil, err
	}
	return toItems(pool, a.Items()), nil
}

func (b *localBackend) Next(_ context.Context, rangeName string) (*clientv1.RangeValue, error) {
	spec, ok := b.config.Ranges[rangeName]
	if !ok {
		return nil, fmt.Errorf("range %s: %w", rangeName, ErrNotConfigured)
	}
	r, err := b.factory.Range(rangeName, spec)
	if err != nil {
		return nil, err
	}

	v, ok := r.Next()
	if !ok {
		return nil, respool.NewPoolExhaustedError(rangeName)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &clientv1.RangeValue{Range: rangeName, Value: raw}, nil
}

// ---------------------------------

type remoteBackend struct {
	client *clientv1.RespoolV1Client
}

func (b *remoteBackend) List(ctx context.Context) ([]string, error) {
	list, err := b.client.Pools().List(ctx)
	if err != nil {
		return nil, err
	}
	return list.Pools, nil
}

func (b *remoteBackend) Status(ctx context.Context, pool string) ([]clientv1.Item, error) {
	status, err := b.client.Pools().Get(ctx, pool)
	if err != nil {
		return nil, err
	}
	return status.Items, nil
}

func (b *remoteBackend) Acquire(ctx context.Context, pool string, opts clientv1.AcquireOptions) ([]clientv1.Item, error) {
	return b.client.Pools().Acquire(ctx, pool, opts)
}

func (b *remoteBackend) Release(ctx context.Context, pool string, name string, opts clientv1.ReleaseOptions) (*clientv1.FreeResult, error) {
	return b.client.Pools().Release(ctx, pool, name, opts)
}

func (b *remoteBackend) ReleaseAll(ctx context.Context, pool string, opts clientv1.ReleaseOptions) (*clientv1.FreeResult, error) {
	return b.client.Pools().ReleaseAll(ctx, pool, opts)
}

// Sync has nothing to register through the server, the pools are
// synchronized when it starts
func (b *remoteBackend) Sync(ctx context.Context, pool string) ([]clientv1.Item, error) {
	return b.Status(ctx, pool)
}

func (b *remoteBackend) Next(ctx context.Context, rangeName string) (*clientv1.RangeValue, error) {
	return b.client.Ranges().Next(ctx, rangeName)
}
