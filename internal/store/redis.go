package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// DefaultMaxRetries bounds optimistic retries of a single Update.
const DefaultMaxRetries = 16

// RedisBackend stores values in Redis and serialises updates with WATCH/MULTI.
type RedisBackend struct {
	client     *redis.Client
	maxRetries int
}

// NewRedisBackend wraps client. maxRetries <= 0 selects DefaultMaxRetries.
func NewRedisBackend(client *redis.Client, maxRetries int) *RedisBackend {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &RedisBackend{client: client, maxRetries: maxRetries}
}

// Get returns nil, nil on a missing key.
func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

// Update retries the transaction whenever another writer touched key between
// the read and the EXEC.
func (r *RedisBackend) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}

	for i := 0; i < r.maxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

// Ping verifies connectivity.
func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
