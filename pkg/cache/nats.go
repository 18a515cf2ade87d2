package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// KV is a Cache backed by a NATS JetStream key-value bucket. TTL applies
// per bucket, so each caching concern gets its own bucket.
type KV struct {
	kv nats.KeyValue
}

// NewKV binds to (or creates) the named bucket with the given entry TTL.
func NewKV(nc *nats.Conn, bucket string, ttl time.Duration) (*KV, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("cache: jetstream: %w", err)
	}

	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: bucket,
			TTL:    ttl,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("cache: bucket %s: %w", bucket, err)
	}
	return &KV{kv: kv}, nil
}

// Get returns the cached value, or a miss for absent and expired keys.
func (c *KV) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, err := c.kv.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return entry.Value(), true, nil
}

// Set stores value wholesale; existing entries are replaced, not patched.
func (c *KV) Set(_ context.Context, key string, value []byte) error {
	if _, err := c.kv.Put(key, value); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (c *KV) Delete(_ context.Context, key string) error {
	err := c.kv.Delete(key)
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	return nil
}
