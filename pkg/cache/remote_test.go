package cache

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// These tests need real servers, they are skipped unless the endpoints
// are provided through the environment

func TestEtcdCache(t *testing.T) {
	endpoints := os.Getenv("RESPOOL_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("RESPOOL_ETCD_ENDPOINTS not set")
	}

	c, err := NewEtcdCache(strings.Split(endpoints, ","), "/respool-test/"+uuid.NewString()+"/", 5*time.Second, nil)
	assert.NoError(t, err)
	defer c.Close()

	testRemoteCache(t, c)
}

func TestMemcacheCache(t *testing.T) {
	servers := os.Getenv("RESPOOL_MEMCACHE_SERVERS")
	if servers == "" {
		t.Skip("RESPOOL_MEMCACHE_SERVERS not set")
	}

	c, err := NewMemcacheCache(strings.Split(servers, ","), time.Second)
	assert.NoError(t, err)

	testRemoteCache(t, WithKeyPrefix(c, uuid.NewString()+"_"))
}

func testRemoteCache(t *testing.T, c Cache) {
	ctx := context.Background()

	ok, err := c.CompareAndSwap(ctx, "index", []byte("a"), nil, time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)

	_, token, err := c.Gets(ctx, "index")
	assert.NoError(t, err)

	ok, err = c.CompareAndSwap(ctx, "index", []byte("b"), token, time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.CompareAndSwap(ctx, "index", []byte("c"), token, time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, c.SetMulti(ctx, map[string][]byte{"x": []byte("1")}, time.Minute, "p_"))
	values, err := c.GetMulti(ctx, []string{"p_x", "p_y"})
	assert.NoError(t, err)
	assert.Equal(t, map[string][]byte{"p_x": []byte("1")}, values)

	_, token, err = c.Gets(ctx, "index")
	assert.NoError(t, err)
	ok, err = c.CompareAndDelete(ctx, "index", token)
	assert.NoError(t, err)
	assert.True(t, ok)
	_, err = c.Get(ctx, "index")
	assert.ErrorIs(t, err, ErrCacheMiss)

	assert.NoError(t, c.DeleteMulti(ctx, []string{"index", "p_x"}))
}
