package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	testingclock "k8s.io/utils/clock/testing"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

func TestExpiry(t *testing.T) {
	tests := []struct {
		name  string
		build func(t *testing.T, clock *testingclock.FakeClock) Cache
	}{
		{
			name: "memory",
			build: func(t *testing.T, clock *testingclock.FakeClock) Cache {
				return NewMemoryCacheWithClock(clock)
			},
		},
		{
			name: "bolt",
			build: func(t *testing.T, clock *testingclock.FakeClock) Cache {
				c, err := NewBoltCache(filepath.Join(t.TempDir(), "respool.db"), 5*time.Second)
				assert.NoError(t, err)
				c.clock = clock
				return c
			},
		},
		{
			name: "configmap",
			build: func(t *testing.T, clock *testingclock.FakeClock) Cache {
				c := NewConfigMapCache(fake.NewClientBuilder().Build(), "")
				c.clock = clock
				return c
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			clock := testingclock.NewFakeClock(time.Now())
			c := tc.build(t, clock)

			assert.NoError(t, c.SetMulti(ctx, map[string][]byte{"short": []byte("1")}, time.Minute, ""))
			assert.NoError(t, c.SetMulti(ctx, map[string][]byte{"forever": []byte("1")}, 0, ""))

			clock.Step(30 * time.Second)
			values, err := c.GetMulti(ctx, []string{"short", "forever"})
			assert.NoError(t, err)
			assert.Len(t, values, 2)

			clock.Step(time.Minute)
			values, err = c.GetMulti(ctx, []string{"short", "forever"})
			assert.NoError(t, err)
			assert.Equal(t, map[string][]byte{"forever": []byte("1")}, values)

			// An expired key can be created again
			_, token, err := c.Gets(ctx, "short")
			assert.NoError(t, err)
			assert.Nil(t, token)

			ok, err := c.Add(ctx, "short", []byte("2"), time.Minute)
			assert.NoError(t, err)
			assert.True(t, ok)

			value, err := c.Get(ctx, "short")
			assert.NoError(t, err)
			assert.Equal(t, []byte("2"), value)
		})
	}
}

func TestMemoryCacheLen(t *testing.T) {
	ctx := context.Background()
	clock := testingclock.NewFakeClock(time.Now())
	c := NewMemoryCacheWithClock(clock)

	assert.NoError(t, c.SetMulti(ctx, map[string][]byte{"a": nil, "b": nil}, time.Second, ""))
	assert.NoError(t, c.SetMulti(ctx, map[string][]byte{"c": nil}, 0, ""))
	assert.Equal(t, 3, c.Len())

	clock.Step(time.Second)
	assert.Equal(t, 1, c.Len())
}
