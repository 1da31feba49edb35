package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"
	"k8s.io/utils/clock"
)

const (
	boltBackend = "bolt"

	defaultBoltTimeout = 10 * time.Second

	// version (8 bytes) + expiration in unix nanoseconds (8 bytes)
	boltHeaderLen = 16
)

var boltBucket = []byte("respool")

// BoltCache stores the keys in a bbolt file. The file is opened for every
// operation, so that the processes of the same host take turns on its
// lock instead of one of them holding it for its whole life.
type BoltCache struct {
	path    string
	timeout time.Duration
	clock   clock.PassiveClock
}

var _ Cache = &BoltCache{}

func NewBoltCache(path string, timeout time.Duration) (*BoltCache, error) {
	if path == "" {
		return nil, errors.New("a bolt file path is required")
	}
	if timeout <= 0 {
		timeout = defaultBoltTimeout
	}
	return &BoltCache{
		path:    path,
		timeout: timeout,
		clock:   clock.RealClock{},
	}, nil
}

type boltRecord struct {
	version uint64
	expires int64
	value   []byte
}

func decodeBoltRecord(raw []byte) (boltRecord, bool) {
	if len(raw) < boltHeaderLen {
		return boltRecord{}, false
	}
	return boltRecord{
		version: binary.BigEndian.Uint64(raw[0:8]),
		expires: int64(binary.BigEndian.Uint64(raw[8:16])),
		// Values are only valid during the transaction
		value: append([]byte(nil), raw[boltHeaderLen:]...),
	}, true
}

func (r boltRecord) encode() []byte {
	buf := make([]byte, boltHeaderLen+len(r.value))
	binary.BigEndian.PutUint64(buf[0:8], r.version)
	binary.BigEndian.PutUint64(buf[8:16], uint64(r.expires))
	copy(buf[boltHeaderLen:], r.value)
	return buf
}

func (b *BoltCache) withDB(ctx context.Context, op string, writable bool, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db, err := bolt.Open(b.path, 0o600, &bolt.Options{Timeout: b.timeout})
	if err != nil {
		return NewUnavailableError(boltBackend, op, err)
	}
	defer db.Close()

	if writable {
		err = db.Update(fn)
	} else {
		err = db.View(fn)
	}
	if err != nil {
		var tokenErr TokenError
		if errors.As(err, &tokenErr) {
			return err
		}
		return NewUnavailableError(boltBackend, op, err)
	}
	return nil
}

func (b *BoltCache) lookup(bucket *bolt.Bucket, key string) (boltRecord, bool) {
	if bucket == nil {
		return boltRecord{}, false
	}
	rec, ok := decodeBoltRecord(bucket.Get([]byte(key)))
	if !ok {
		return boltRecord{}, false
	}
	if rec.expires != 0 && b.clock.Now().UnixNano() >= rec.expires {
		return boltRecord{}, false
	}
	return rec, true
}

func (b *BoltCache) put(bucket *bolt.Bucket, key string, value []byte, ttl time.Duration) error {
	version, err := bucket.NextSequence()
	if err != nil {
		return err
	}
	rec := boltRecord{
		version: version,
		value:   value,
	}
	if ttl > 0 {
		rec.expires = b.clock.Now().Add(ttl).UnixNano()
	}
	return bucket.Put([]byte(key), rec.encode())
}

func (b *BoltCache) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		rec   boltRecord
		found bool
	)
	err := b.withDB(ctx, "get", false, func(tx *bolt.Tx) error {
		rec, found = b.lookup(tx.Bucket(boltBucket), key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrCacheMiss
	}
	return rec.value, nil
}

func (b *BoltCache) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	res := make(map[string][]byte, len(keys))
	err := b.withDB(ctx, "get_multi", false, func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		for _, k := range keys {
			if rec, ok := b.lookup(bucket, k); ok {
				res[k] = rec.value
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (b *BoltCache) Gets(ctx context.Context, key string) ([]byte, Token, error) {
	var (
		rec   boltRecord
		found bool
	)
	err := b.withDB(ctx, "gets", false, func(tx *bolt.Tx) error {
		rec, found = b.lookup(tx.Bucket(boltBucket), key)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, nil
	}
	return rec.value, rec.version, nil
}

func (b *BoltCache) CompareAndSwap(ctx context.Context, key string, value []byte, token Token, ttl time.Duration) (bool, error) {
	swapped := false
	err := b.withDB(ctx, "cas", true, func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}

		rec, found := b.lookup(bucket, key)
		switch t := token.(type) {
		case nil:
			if found {
				return nil
			}
		case uint64:
			if !found || rec.version != t {
				return nil
			}
		default:
			return TokenError{Backend: boltBackend, Token: token}
		}

		if err := b.put(bucket, key, value, ttl); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	return swapped, err
}

func (b *BoltCache) CompareAndDelete(ctx context.Context, key string, token Token) (bool, error) {
	version, ok := token.(uint64)
	if !ok {
		return false, TokenError{Backend: boltBackend, Token: token}
	}

	deleted := false
	err := b.withDB(ctx, "cad", true, func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if rec, found := b.lookup(bucket, key); !found || rec.version != version {
			return nil
		}
		if err := bucket.Delete([]byte(key)); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

func (b *BoltCache) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return b.CompareAndSwap(ctx, key, value, nil, ttl)
}

func (b *BoltCache) SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration, keyPrefix string) error {
	return b.withDB(ctx, "set_multi", true, func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}
		for k, v := range items {
			if err := b.put(bucket, keyPrefix+k, v, ttl); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltCache) Delete(ctx context.Context, key string) error {
	return b.DeleteMulti(ctx, []string{key})
}

func (b *BoltCache) DeleteMulti(ctx context.Context, keys []string) error {
	return b.withDB(ctx, "delete", true, func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if bucket == nil {
			return nil
		}
		for _, k := range keys {
			if err := bucket.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltCache) Close() error {
	return nil
}
