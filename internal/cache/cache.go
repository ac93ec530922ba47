// Package cache provides the key→value store with TTL used for provider
// sessions, geocode entries, and optimized routes.
package cache

import (
	"context"
	"sync"
	"time"
)

// KV is a byte-value store with per-key TTL. Writes are atomic per key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Memory is an in-process KV used when no REDIS_URL is set, and in tests.
type Memory struct {
	mu sync.Mutex
	m  map[string]memEntry
}

type memEntry struct {
	val       []byte
	expiresAt time.Time
}

func NewMemory() *Memory { return &Memory{m: map[string]memEntry{}} }

func (c *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !time.Now().Before(e.expiresAt) {
		delete(c.m, key)
		return nil, false, nil
	}
	out := append([]byte(nil), e.val...)
	return out, true, nil
}

func (c *Memory) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memEntry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.m[key] = e
	return nil
}

func (c *Memory) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}
