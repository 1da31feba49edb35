package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.etcd.io/etcd/client/pkg/v3/transport"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	etcdBackend = "etcd"

	// Stay below the default limit of operations per transaction
	etcdMaxTxnOps = 100

	defaultEtcdDialTimeout = 5 * time.Second
)

// EtcdCache stores the keys in an etcd v3 cluster. The mod revision of a
// key is used as its cas token, and ttls are implemented with leases.
type EtcdCache struct {
	client *clientv3.Client
	prefix string
}

var _ Cache = &EtcdCache{}

func NewEtcdCache(endpoints []string, prefix string, dialTimeout time.Duration, tlsInfo *transport.TLSInfo) (*EtcdCache, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("at least one etcd endpoint is required")
	}
	if dialTimeout <= 0 {
		dialTimeout = defaultEtcdDialTimeout
	}

	cfg := clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	}
	if tlsInfo != nil {
		tlsConfig, err := tlsInfo.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("invalid etcd tls configuration: %w", err)
		}
		cfg.TLS = tlsConfig
	}

	client, err := clientv3.New(cfg)
	if err != nil {
		return nil, NewUnavailableError(etcdBackend, "dial", err)
	}

	return NewEtcdCacheFromClient(client, prefix), nil
}

func NewEtcdCacheFromClient(client *clientv3.Client, prefix string) *EtcdCache {
	return &EtcdCache{
		client: client,
		prefix: prefix,
	}
}

func (e *EtcdCache) key(k string) string {
	return e.prefix + k
}

func (e *EtcdCache) etcdErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return NewUnavailableError(etcdBackend, op, err)
}

// leaseOpts grants a lease for ttl, if any
func (e *EtcdCache) leaseOpts(ctx context.Context, ttl time.Duration) ([]clientv3.OpOption, error) {
	if ttl <= 0 {
		return nil, nil
	}
	lease, err := e.client.Grant(ctx, int64(math.Ceil(ttl.Seconds())))
	if err != nil {
		return nil, e.etcdErr(ctx, "grant", err)
	}
	return []clientv3.OpOption{clientv3.WithLease(lease.ID)}, nil
}

func (e *EtcdCache) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := e.client.Get(ctx, e.key(key))
	if err != nil {
		return nil, e.etcdErr(ctx, "get", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrCacheMiss
	}
	return resp.Kvs[0].Value, nil
}

func (e *EtcdCache) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	res := make(map[string][]byte, len(keys))

	for start := 0; start < len(keys); start += etcdMaxTxnOps {
		end := min(start+etcdMaxTxnOps, len(keys))

		ops := make([]clientv3.Op, 0, end-start)
		for _, k := range keys[start:end] {
			ops = append(ops, clientv3.OpGet(e.key(k)))
		}

		resp, err := e.client.Txn(ctx).Then(ops...).Commit()
		if err != nil {
			return nil, e.etcdErr(ctx, "get_multi", err)
		}

		for _, r := range resp.Responses {
			rr := r.GetResponseRange()
			if rr == nil || len(rr.Kvs) == 0 {
				continue
			}
			kv := rr.Kvs[0]
			res[strings.TrimPrefix(string(kv.Key), e.prefix)] = kv.Value
		}
	}

	return res, nil
}

func (e *EtcdCache) Gets(ctx context.Context, key string) ([]byte, Token, error) {
	resp, err := e.client.Get(ctx, e.key(key))
	if err != nil {
		return nil, nil, e.etcdErr(ctx, "gets", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil, nil
	}
	return resp.Kvs[0].Value, resp.Kvs[0].ModRevision, nil
}

func (e *EtcdCache) CompareAndSwap(ctx context.Context, key string, value []byte, token Token, ttl time.Duration) (bool, error) {
	k := e.key(key)

	var cmp clientv3.Cmp
	switch t := token.(type) {
	case nil:
		cmp = clientv3.Compare(clientv3.CreateRevision(k), "=", 0)
	case int64:
		cmp = clientv3.Compare(clientv3.ModRevision(k), "=", t)
	default:
		return false, TokenError{Backend: etcdBackend, Token: token}
	}

	opts, err := e.leaseOpts(ctx, ttl)
	if err != nil {
		return false, err
	}

	resp, err := e.client.Txn(ctx).
		If(cmp).
		Then(clientv3.OpPut(k, string(value), opts...)).
		Commit()
	if err != nil {
		return false, e.etcdErr(ctx, "cas", err)
	}
	return resp.Succeeded, nil
}

func (e *EtcdCache) CompareAndDelete(ctx context.Context, key string, token Token) (bool, error) {
	revision, ok := token.(int64)
	if !ok {
		return false, TokenError{Backend: etcdBackend, Token: token}
	}

	k := e.key(key)
	resp, err := e.client.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(k), "=", revision)).
		Then(clientv3.OpDelete(k)).
		Commit()
	if err != nil {
		return false, e.etcdErr(ctx, "cad", err)
	}
	return resp.Succeeded, nil
}

func (e *EtcdCache) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return e.CompareAndSwap(ctx, key, value, nil, ttl)
}

func (e *EtcdCache) SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration, keyPrefix string) error {
	opts, err := e.leaseOpts(ctx, ttl)
	if err != nil {
		return err
	}

	ops := make([]clientv3.Op, 0, len(items))
	for k, v := range items {
		ops = append(ops, clientv3.OpPut(e.key(keyPrefix+k), string(v), opts...))
	}
	return e.commitChunks(ctx, "set_multi", ops)
}

func (e *EtcdCache) Delete(ctx context.Context, key string) error {
	if _, err := e.client.Delete(ctx, e.key(key)); err != nil {
		return e.etcdErr(ctx, "delete", err)
	}
	return nil
}

func (e *EtcdCache) DeleteMulti(ctx context.Context, keys []string) error {
	ops := make([]clientv3.Op, 0, len(keys))
	for _, k := range keys {
		ops = append(ops, clientv3.OpDelete(e.key(k)))
	}
	return e.commitChunks(ctx, "delete_multi", ops)
}

func (e *EtcdCache) commitChunks(ctx context.Context, op string, ops []clientv3.Op) error {
	for start := 0; start < len(ops); start += etcdMaxTxnOps {
		end := min(start+etcdMaxTxnOps, len(ops))
		if _, err := e.client.Txn(ctx).Then(ops[start:end]...).Commit(); err != nil {
			return e.etcdErr(ctx, op, err)
		}
	}
	return nil
}

func (e *EtcdCache) Close() error {
	return e.client.Close()
}
