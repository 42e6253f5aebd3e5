package service

import (
	"context"
	"sync"
	"time"
)

// KeyMissCache remembers license keys that recently failed lookup so
// repeated probes of a fabricated key are answered without touching
// the license store. It only absorbs reads; the per-call audit row is
// still written.
type KeyMissCache interface {
	Get(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, ttl time.Duration) error
}

type NoopKeyMissCache struct{}

func NewNoopKeyMissCache() *NoopKeyMissCache { return &NoopKeyMissCache{} }

func (c *NoopKeyMissCache) Get(context.Context, string) (bool, error) { return false, nil }

func (c *NoopKeyMissCache) Set(context.Context, string, time.Duration) error { return nil }

type InMemoryKeyMissCache struct {
	mu    sync.RWMutex
	store map[string]time.Time
}

func NewInMemoryKeyMissCache() *InMemoryKeyMissCache {
	return &InMemoryKeyMissCache{store: make(map[string]time.Time)}
}

func (c *InMemoryKeyMissCache) Get(_ context.Context, key string) (bool, error) {
	now := time.Now().UTC()
	hashed := hashKey(key)
	c.mu.RLock()
	expiresAt, ok := c.store[hashed]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if now.After(expiresAt) {
		c.mu.Lock()
		delete(c.store, hashed)
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (c *InMemoryKeyMissCache) Set(_ context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[hashKey(key)] = time.Now().UTC().Add(ttl)
	return nil
}
