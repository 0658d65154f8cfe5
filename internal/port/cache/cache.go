// Package cache defines the port interface for caching.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Cache is the port interface for key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// JSON stores values of type T as JSON under a fixed key prefix.
type JSON[T any] struct {
	c      Cache
	prefix string
	ttl    time.Duration
}

// NewJSON wraps c for values of type T.
func NewJSON[T any](c Cache, prefix string, ttl time.Duration) *JSON[T] {
	return &JSON[T]{c: c, prefix: prefix, ttl: ttl}
}

// Get decodes the cached value for key. A miss returns ok=false and no error.
func (j *JSON[T]) Get(ctx context.Context, key string) (v T, ok bool, err error) {
	raw, found, err := j.c.Get(ctx, j.prefix+key)
	if err != nil || !found {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("decode cached %s%s: %w", j.prefix, key, err)
	}
	return v, true, nil
}

// Set encodes and stores v under key.
func (j *JSON[T]) Set(ctx context.Context, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s%s: %w", j.prefix, key, err)
	}
	return j.c.Set(ctx, j.prefix+key, raw, j.ttl)
}

// Delete removes key.
func (j *JSON[T]) Delete(ctx context.Context, key string) error {
	return j.c.Delete(ctx, j.prefix+key)
}
