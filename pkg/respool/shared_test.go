package respool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/f5qa/respool/pkg/cache"
)

var fastRetry = RetryPolicy{
	Steps:    5,
	Duration: time.Millisecond,
	Factor:   1,
}

func ipPortShared(t *testing.T, c cache.Cache, name, prefix string) *SharedPool {
	p, err := NewIPPortPool(name, IPPortPoolArgs{IPStart: "1.1.1.10"}, PoolOptions{Prefix: prefix})
	require.NoError(t, err)
	return NewSharedPool(p, c, SharedPoolOptions{Retry: fastRetry, Logger: logr.Discard()})
}

func rangeShared(t *testing.T, c cache.Cache, name string, size int) *SharedPool {
	p, err := NewRangePool(name, 0, size, "", PoolOptions{})
	require.NoError(t, err)
	return NewSharedPool(p, c, SharedPoolOptions{Retry: fastRetry})
}

func readIndex(t *testing.T, c cache.Cache, pool string) []string {
	raw, err := c.Get(context.Background(), pool)
	require.NoError(t, err)
	var index []string
	require.NoError(t, json.Unmarshal(raw, &index))
	return index
}

func TestSharedPoolCacheLayout(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()
	s := rangeShared(t, c, "layout", 10)

	items, err := s.GetMulti(ctx, 2, GetOptions{Name: "n%d"})
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, keys(items))

	assert.Equal(t, []string{"layout_0", "layout_1"}, readIndex(t, c, "layout"))

	raw, err := c.Get(ctx, "layout_1")
	require.NoError(t, err)
	item, err := UnmarshalItem("layout_1", raw)
	require.NoError(t, err)
	assert.Equal(t, "n2", item.Name())

	_, _, err = s.Free(ctx, items[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"layout_1"}, readIndex(t, c, "layout"))
	_, err = c.Get(ctx, "layout_0")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestSharedPoolNamedItemAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()

	first := ipPortShared(t, c, "pool1", "machine1")
	require.NoError(t, first.Sync(ctx))
	item, err := first.Get(ctx, GetOptions{Name: "bip1"})
	require.NoError(t, err)
	assert.Equal(t, "1.1.1.10:20000", item.Key())

	// A second process starting from scratch
	second := ipPortShared(t, c, "pool1", "machine1")
	require.NoError(t, second.Sync(ctx))

	found, ok := second.GetByName("bip1")
	assert.True(t, ok)
	assert.Equal(t, item.Key(), found.Key())

	again, err := second.Get(ctx, GetOptions{Name: "bip1"})
	require.NoError(t, err)
	assert.Equal(t, "1.1.1.10:20000", again.Key())
	assert.Len(t, readIndex(t, c, "pool1"), 1)
}

func TestSharedPoolPrefixIsolation(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()

	m1 := ipPortShared(t, c, "pool1", "machine1")
	m2 := ipPortShared(t, c, "pool1", "machine2")

	a, err := m1.Get(ctx, GetOptions{Name: "bip1"})
	require.NoError(t, err)
	b, err := m2.Get(ctx, GetOptions{Name: "bip1"})
	require.NoError(t, err)

	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, "machine1bip1", a.FullName())
	assert.Equal(t, "machine2bip1", b.FullName())

	// Each namespace only releases its own items
	removed, err := m2.FreeAll(ctx, FreeOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{b.Key()}, keys(removed))
	assert.Equal(t, []string{"pool1_" + a.Key()}, readIndex(t, c, "pool1"))
}

// interleavingCache runs hook right before the first compare-and-swap, as
// if another process had updated the index in the meantime
type interleavingCache struct {
	cache.Cache
	once  sync.Once
	hook  func()
	swaps int
}

func (i *interleavingCache) CompareAndSwap(ctx context.Context, key string, value []byte, token cache.Token, ttl time.Duration) (bool, error) {
	i.once.Do(i.hook)
	i.swaps++
	return i.Cache.CompareAndSwap(ctx, key, value, token, ttl)
}

func TestSharedPoolConcurrentGet(t *testing.T) {
	ctx := context.Background()
	shared := cache.NewMemoryCache()

	other := rangeShared(t, shared, "race", 10)

	var otherItem Item
	racing := &interleavingCache{Cache: shared}
	racing.hook = func() {
		var err error
		otherItem, err = other.Get(ctx, GetOptions{})
		require.NoError(t, err)
	}
	mine := rangeShared(t, racing, "race", 10)

	conflicts := testutil.ToFloat64(casConflictsCount.WithLabelValues("race"))

	item, err := mine.Get(ctx, GetOptions{})
	require.NoError(t, err)

	assert.NotEqual(t, otherItem.Key(), item.Key())
	assert.Equal(t, 2, racing.swaps)
	assert.Equal(t, conflicts+1, testutil.ToFloat64(casConflictsCount.WithLabelValues("race")))
	assert.ElementsMatch(t, []string{"race_0", "race_1"}, readIndex(t, shared, "race"))
}

// releaseRaceCache runs hook once, right before the entry of key is read
// back to be released, as if another process allocated it in between
type releaseRaceCache struct {
	cache.Cache
	key  string
	once sync.Once
	hook func()
}

func (r *releaseRaceCache) Gets(ctx context.Context, key string) ([]byte, cache.Token, error) {
	if key == r.key {
		r.once.Do(r.hook)
	}
	return r.Cache.Gets(ctx, key)
}

func TestSharedPoolFreeRacingReallocation(t *testing.T) {
	tests := []struct {
		name      string
		otherName string
	}{
		{
			name:      "other name",
			otherName: "b",
		},
		{
			name:      "same name",
			otherName: "a",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			shared := cache.NewMemoryCache()

			newShared := func(c cache.Cache, acquired time.Time) *SharedPool {
				p, err := NewRangePool("realloc", 0, 2, "", PoolOptions{Clock: testingclock.NewFakePassiveClock(acquired)})
				require.NoError(t, err)
				return NewSharedPool(p, c, SharedPoolOptions{Retry: fastRetry})
			}

			other := newShared(shared, now.Add(time.Minute))
			var otherItem Item
			racing := &releaseRaceCache{Cache: shared, key: "realloc_0"}
			racing.hook = func() {
				var err error
				otherItem, err = other.Get(ctx, GetOptions{Name: tc.otherName})
				require.NoError(t, err)
			}
			mine := newShared(racing, now)

			item, err := mine.Get(ctx, GetOptions{Name: "a"})
			require.NoError(t, err)
			require.Equal(t, "0", item.Key())

			removed, found, err := mine.Free(ctx, item)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "a", removed.Name())

			// The value went to the other process, its entry survives the release
			require.NotNil(t, otherItem)
			assert.Equal(t, "0", otherItem.Key())
			assert.Equal(t, []string{"realloc_0"}, readIndex(t, shared, "realloc"))
			raw, err := shared.Get(ctx, "realloc_0")
			require.NoError(t, err)
			entry, err := UnmarshalItem("realloc_0", raw)
			require.NoError(t, err)
			assert.Equal(t, tc.otherName, entry.Name())
			assert.True(t, entry.Acquired().Equal(now.Add(time.Minute)))

			// Nothing for a sweep to drop
			orphans, err := other.Orphans(ctx)
			require.NoError(t, err)
			assert.Empty(t, orphans)
			dropped, err := other.DropOrphans(ctx, []string{"0"})
			require.NoError(t, err)
			assert.Zero(t, dropped)
			assert.Equal(t, []string{"realloc_0"}, readIndex(t, shared, "realloc"))

			third := newShared(shared, now.Add(2*time.Minute))
			next, err := third.Get(ctx, GetOptions{Name: "c"})
			require.NoError(t, err)
			assert.Equal(t, "1", next.Key())

			removed, found, err = other.Free(ctx, otherItem)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "0", removed.Key())
			assert.Equal(t, tc.otherName, removed.Name())
			assert.Equal(t, []string{"realloc_1"}, readIndex(t, shared, "realloc"))
			_, err = shared.Get(ctx, "realloc_0")
			assert.ErrorIs(t, err, cache.ErrCacheMiss)
		})
	}
}

func TestSharedPoolReleaseLosesToRewrite(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	c := cache.NewMockCache(ctrl)
	p, err := NewRangePool("rewritten", 0, 3, "", PoolOptions{})
	require.NoError(t, err)
	s := NewSharedPool(p, c, SharedPoolOptions{Retry: fastRetry})

	item, err := p.Get(GetOptions{Name: "a"})
	require.NoError(t, err)
	entry, err := marshalItem(item)
	require.NoError(t, err)
	index, err := json.Marshal([]string{"rewritten_0"})
	require.NoError(t, err)
	empty, err := json.Marshal([]string{})
	require.NoError(t, err)

	gomock.InOrder(
		c.EXPECT().Gets(gomock.Any(), "rewritten").Return(index, uint64(1), nil),
		c.EXPECT().GetMulti(gomock.Any(), []string{"rewritten_0"}).Return(map[string][]byte{"rewritten_0": entry}, nil),
		c.EXPECT().CompareAndSwap(gomock.Any(), "rewritten", empty, uint64(1), time.Duration(0)).Return(true, nil),
		c.EXPECT().Gets(gomock.Any(), "rewritten_0").Return(entry, uint64(2), nil),
		c.EXPECT().CompareAndDelete(gomock.Any(), "rewritten_0", uint64(2)).Return(false, nil),
	)

	_, found, err := s.Free(ctx, item)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSharedPoolConcurrentProcesses(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()

	const (
		processes = 4
		perWorker = 10
	)
	pools := make([]*SharedPool, processes)
	for i := range pools {
		p, err := NewRangePool("busy", 0, processes*perWorker, "", PoolOptions{})
		require.NoError(t, err)
		pools[i] = NewSharedPool(p, c, SharedPoolOptions{Retry: RetryPolicy{Steps: 1000, Duration: time.Millisecond, Factor: 1, Jitter: 1}})
	}

	var (
		mu  sync.Mutex
		got []string
		wg  sync.WaitGroup
	)
	for _, s := range pools {
		wg.Add(1)
		go func(s *SharedPool) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				item, err := s.Get(ctx, GetOptions{})
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				got = append(got, item.Key())
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	assert.Len(t, got, processes*perWorker)
	assert.Len(t, lo.Uniq(got), processes*perWorker)
	assert.Len(t, readIndex(t, c, "busy"), processes*perWorker)

	_, err := pools[0].Get(ctx, GetOptions{})
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestSharedPoolMemberTokens(t *testing.T) {
	ctx := context.Background()
	p, err := NewMemberPool("members", MemberPoolArgs{
		IPPortPoolArgs: IPPortPoolArgs{IPStart: "1.1.1.10"},
		RemoteDir:      "/tmp/pool-{key}",
	}, PoolOptions{})
	require.NoError(t, err)
	c := cache.NewMemoryCache()
	s := NewSharedPool(p, c, SharedPoolOptions{})

	item, err := s.Get(ctx, GetOptions{})
	require.NoError(t, err)
	member := item.(*MemberItem)
	assert.Contains(t, member.LocalDir, "1.1.1.10-20000")
	assert.Contains(t, member.RemoteDir, "1.1.1.10-20000")

	// The directories survive the trip through the cache
	other, err := NewMemberPool("members", MemberPoolArgs{IPPortPoolArgs: IPPortPoolArgs{IPStart: "1.1.1.10"}}, PoolOptions{})
	require.NoError(t, err)
	reader := NewSharedPool(other, c, SharedPoolOptions{})
	require.NoError(t, reader.Refresh(ctx))
	found, ok := reader.GetByName(item.Name())
	require.True(t, ok)
	assert.Equal(t, member.RemoteDir, found.(*MemberItem).RemoteDir)
}

func TestSharedPoolFreeMissing(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()
	s := rangeShared(t, c, "misses", 3)

	item, err := s.Get(ctx, GetOptions{})
	require.NoError(t, err)
	_, found, err := s.Free(ctx, item)
	require.NoError(t, err)
	assert.True(t, found)

	misses := testutil.ToFloat64(freeMissesCount.WithLabelValues("misses"))

	removed, found, err := s.Free(ctx, item)
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, removed)

	removed, found, err = s.FreeEncoded(ctx, item.Encode())
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, removed)

	assert.Equal(t, misses+2, testutil.ToFloat64(freeMissesCount.WithLabelValues("misses")))
}

func TestSharedPoolForcedConflict(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	c := cache.NewMockCache(ctrl)
	p, err := NewRangePool("mocked", 0, 3, "", PoolOptions{})
	require.NoError(t, err)
	s := NewSharedPool(p, c, SharedPoolOptions{Retry: fastRetry, ItemTTL: time.Hour})

	index, err := json.Marshal([]string{"mocked_0"})
	require.NoError(t, err)

	gomock.InOrder(
		c.EXPECT().Gets(gomock.Any(), "mocked").Return(nil, nil, nil),
		c.EXPECT().CompareAndSwap(gomock.Any(), "mocked", index, nil, time.Duration(0)).Return(false, nil),
		c.EXPECT().Gets(gomock.Any(), "mocked").Return(nil, nil, nil),
		c.EXPECT().CompareAndSwap(gomock.Any(), "mocked", index, nil, time.Duration(0)).Return(true, nil),
		c.EXPECT().SetMulti(gomock.Any(), gomock.Any(), time.Hour, "").DoAndReturn(
			func(_ context.Context, items map[string][]byte, _ time.Duration, _ string) error {
				assert.Contains(t, items, "mocked_0")
				return nil
			}),
	)

	item, err := s.Get(ctx, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "0", item.Key())
}

func TestSharedPoolRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	c := cache.NewMockCache(ctrl)
	p, err := NewRangePool("contended", 0, 3, "", PoolOptions{})
	require.NoError(t, err)
	s := NewSharedPool(p, c, SharedPoolOptions{Retry: RetryPolicy{Steps: 3, Duration: time.Millisecond, Factor: 1}})

	c.EXPECT().Gets(gomock.Any(), "contended").Return(nil, nil, nil).Times(3)
	c.EXPECT().CompareAndSwap(gomock.Any(), "contended", gomock.Any(), nil, time.Duration(0)).Return(false, nil).Times(3)

	_, err = s.Get(ctx, GetOptions{})
	assert.ErrorIs(t, err, ErrCASRetriesExhausted)

	var exhausted *CASRetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "contended", exhausted.Key)
	assert.Equal(t, 3, exhausted.Attempts)
}

func TestSharedPoolCacheUnavailable(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	c := cache.NewMockCache(ctrl)
	s := rangeShared(t, c, "down", 3)

	c.EXPECT().Gets(gomock.Any(), "down").Return(nil, nil, cache.NewUnavailableError("mock", "gets", fmt.Errorf("connection refused")))

	_, err := s.Get(ctx, GetOptions{})
	assert.ErrorIs(t, err, cache.ErrCacheUnavailable)
	assert.NotErrorIs(t, err, ErrPoolExhausted)
}

func TestSharedPoolCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := rangeShared(t, cache.NewMemoryCache(), "canceled", 3)

	_, err := s.Get(ctx, GetOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSharedPoolDecodeFailure(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()

	_, err := c.Add(ctx, "corrupt", []byte(`["corrupt_1"]`), 0)
	require.NoError(t, err)
	_, err = c.Add(ctx, "corrupt_1", []byte(`{"type":"numeric","key":"1","name":"1"}`), 0)
	require.NoError(t, err)

	s := rangeShared(t, c, "corrupt", 3)
	_, err = s.Get(ctx, GetOptions{})
	assert.ErrorIs(t, err, ErrDecode)

	// The index is left untouched
	assert.Equal(t, []string{"corrupt_1"}, readIndex(t, c, "corrupt"))
}

func TestSharedPoolOrphans(t *testing.T) {
	ctx := context.Background()
	clock := testingclock.NewFakeClock(time.Now())
	c := cache.NewMemoryCacheWithClock(clock)

	p, err := NewRangePool("orphans", 0, 3, "", PoolOptions{})
	require.NoError(t, err)
	s := NewSharedPool(p, c, SharedPoolOptions{ItemTTL: time.Minute})

	_, err = s.GetMulti(ctx, 2, GetOptions{})
	require.NoError(t, err)

	// The item entries expire, the index still lists them
	clock.Step(2 * time.Minute)

	orphans, err := s.Orphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, orphans)
	assert.Empty(t, s.Items())

	// Reserved values are not handed out again
	item, err := s.Get(ctx, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "2", item.Key())

	swept := testutil.ToFloat64(orphansSweptCount.WithLabelValues("orphans"))
	dropped, err := s.DropOrphans(ctx, []string{"0", "2"})
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, swept+1, testutil.ToFloat64(orphansSweptCount.WithLabelValues("orphans")))
	assert.Equal(t, []string{"orphans_1", "orphans_2"}, readIndex(t, c, "orphans"))

	item, err = s.Get(ctx, GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "0", item.Key())
}

func TestSharedPoolSyncSeedsLocalItems(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()

	p, err := NewRangePool("seeded", 0, 5, "", PoolOptions{Prefix: "m1-"})
	require.NoError(t, err)
	_, err = p.Get(GetOptions{Name: "a"})
	require.NoError(t, err)
	_, err = p.Get(GetOptions{Name: "other", Prefix: "m2-"})
	require.NoError(t, err)

	// Another process already holds the first value
	remote := rangeShared(t, c, "seeded", 5)
	taken, err := remote.Get(ctx, GetOptions{Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, "0", taken.Key())

	s := NewSharedPool(p, c, SharedPoolOptions{})
	require.NoError(t, s.Sync(ctx))

	// Only the items of the pool namespace not clashing with the cache
	// are registered
	assert.Equal(t, []string{"seeded_0"}, readIndex(t, c, "seeded"))

	_, err = s.Get(ctx, GetOptions{Name: "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"seeded_0", "seeded_1"}, readIndex(t, c, "seeded"))

	// Sync is idempotent
	require.NoError(t, s.Sync(ctx))
	assert.Len(t, readIndex(t, c, "seeded"), 2)

	late, err := NewRangePool("seeded", 0, 5, "", PoolOptions{Prefix: "m3-"})
	require.NoError(t, err)
	_, err = late.GetMulti(3, GetOptions{Name: "c%d"})
	require.NoError(t, err)

	s3 := NewSharedPool(late, c, SharedPoolOptions{})
	require.NoError(t, s3.Sync(ctx))
	assert.Equal(t, []string{"seeded_0", "seeded_1", "seeded_2"}, readIndex(t, c, "seeded"))

	seeded, ok := s3.GetByName("c3")
	require.True(t, ok)
	assert.Equal(t, "2", seeded.Key())
	_, ok = s3.GetByName("c1")
	assert.False(t, ok)
}

func TestLocalAllocator(t *testing.T) {
	ctx := context.Background()
	p, err := NewRangePool("local", 0, 2, "", PoolOptions{})
	require.NoError(t, err)
	a := NewLocalAllocator(p)

	assert.NoError(t, a.Sync(ctx))
	items, err := a.GetMulti(ctx, 2, GetOptions{Name: "n%d"})
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, keys(items))

	_, err = a.Get(ctx, GetOptions{})
	assert.ErrorIs(t, err, ErrPoolExhausted)

	found, ok := a.GetByName("n2")
	assert.True(t, ok)
	assert.Equal(t, "1", found.Key())

	_, ok, err = a.FreeEncoded(ctx, items[0].Encode())
	assert.NoError(t, err)
	assert.True(t, ok)

	removed, err := a.FreeAll(ctx, FreeOptions{})
	assert.NoError(t, err)
	assert.Len(t, removed, 1)
	assert.Empty(t, a.Items())
}
