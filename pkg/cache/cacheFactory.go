package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/etcd/client/pkg/v3/transport"

	v1 "github.com/f5qa/respool/api/v1"
)

// NewCache builds the cache client described by spec
func NewCache(spec v1.CacheSpec) (Cache, error) {

	timeout := spec.Timeout.Duration

	switch spec.Type {
	case v1.CacheMemory:
		return WithKeyPrefix(NewMemoryCache(), spec.KeyPrefix), nil

	case v1.CacheMemcache:
		c, err := NewMemcacheCache(spec.Servers, timeout)
		if err != nil {
			return nil, err
		}
		return WithKeyPrefix(c, spec.KeyPrefix), nil

	case v1.CacheEtcd:
		var tlsInfo *transport.TLSInfo
		if spec.TLS != nil {
			tlsInfo = &transport.TLSInfo{
				CertFile:           spec.TLS.CertFile,
				KeyFile:            spec.TLS.KeyFile,
				TrustedCAFile:      spec.TLS.TrustedCAFile,
				InsecureSkipVerify: spec.TLS.InsecureSkipVerify,
			}
		}
		return NewEtcdCache(spec.Endpoints, spec.KeyPrefix, timeout, tlsInfo)

	case v1.CacheBolt:
		c, err := NewBoltCache(spec.Path, timeout)
		if err != nil {
			return nil, err
		}
		return WithKeyPrefix(c, spec.KeyPrefix), nil

	case v1.CacheConfigMap:
		c, err := NewConfigMapCacheFromKubeconfig(spec.Kubeconfig, spec.Namespace)
		if err != nil {
			return nil, err
		}
		return WithKeyPrefix(c, spec.KeyPrefix), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCacheType, spec.Type)
	}
}

// WithKeyPrefix namespaces every key of c with prefix
func WithKeyPrefix(c Cache, prefix string) Cache {
	if prefix == "" {
		return c
	}
	return &prefixedCache{
		Cache:  c,
		prefix: prefix,
	}
}

type prefixedCache struct {
	Cache
	prefix string
}

func (p *prefixedCache) keys(keys []string) []string {
	res := make([]string, 0, len(keys))
	for _, k := range keys {
		res = append(res, p.prefix+k)
	}
	return res
}

func (p *prefixedCache) Get(ctx context.Context, key string) ([]byte, error) {
	return p.Cache.Get(ctx, p.prefix+key)
}

func (p *prefixedCache) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	values, err := p.Cache.GetMulti(ctx, p.keys(keys))
	if err != nil {
		return nil, err
	}
	res := make(map[string][]byte, len(values))
	for k, v := range values {
		res[strings.TrimPrefix(k, p.prefix)] = v
	}
	return res, nil
}

func (p *prefixedCache) Gets(ctx context.Context, key string) ([]byte, Token, error) {
	return p.Cache.Gets(ctx, p.prefix+key)
}

func (p *prefixedCache) CompareAndSwap(ctx context.Context, key string, value []byte, token Token, ttl time.Duration) (bool, error) {
	return p.Cache.CompareAndSwap(ctx, p.prefix+key, value, token, ttl)
}

func (p *prefixedCache) CompareAndDelete(ctx context.Context, key string, token Token) (bool, error) {
	return p.Cache.CompareAndDelete(ctx, p.prefix+key, token)
}

func (p *prefixedCache) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return p.Cache.Add(ctx, p.prefix+key, value, ttl)
}

func (p *prefixedCache) SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration, keyPrefix string) error {
	return p.Cache.SetMulti(ctx, items, ttl, p.prefix+keyPrefix)
}

func (p *prefixedCache) Delete(ctx context.Context, key string) error {
	return p.Cache.Delete(ctx, p.prefix+key)
}

func (p *prefixedCache) DeleteMulti(ctx context.Context, keys []string) error {
	return p.Cache.DeleteMulti(ctx, p.keys(keys))
}
