// Package cache provides a TTL key-value cache used for two concerns under
// separate buckets: content embeddings (long-lived) and query results
// (short-lived). The production backend is a NATS JetStream key-value bucket;
// an in-memory backend serves tests and single-node development.
package cache

import "context"

// Cache is a get/set/delete store with bucket-level TTL. Get reports a miss
// as (nil, false, nil); errors are reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
