// Package cache provides the read-through cache used for catalog and bank account lookups.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache stores JSON encoded values under string keys.
type Cache interface {
	// Get decodes the cached value into dst and reports whether the key was present.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// DeletePrefix removes every key starting with prefix and returns the count removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Ping(ctx context.Context) error
}

// ErrorFunc receives cache failures; lookups still fall through to the loader.
type ErrorFunc func(ctx context.Context, op, key string, err error)

// ReadThrough returns the cached value for key or calls load and stores its result.
// Cache failures never fail the lookup.
func ReadThrough[T any](ctx context.Context, c Cache, key string, ttl time.Duration, onError ErrorFunc, load func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}
	var cached T
	found, err := c.Get(ctx, key, &cached)
	if err != nil && onError != nil {
		onError(ctx, "get", key, err)
	}
	if found && err == nil {
		return cached, nil
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	if err := c.Set(ctx, key, value, ttl); err != nil && onError != nil {
		onError(ctx, "set", key, err)
	}
	return value, nil
}

func encode(value any) ([]byte, error) {
	return json.Marshal(value)
}

func decode(data []byte, dst any) error {
	return json.Unmarshal(data, dst)
}
