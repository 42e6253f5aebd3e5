package service

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryKeyMissCacheExpires(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryKeyMissCache()

	hit, err := cache.Get(ctx, "unknown")
	if err != nil || hit {
		t.Fatalf("expected clean miss, got hit=%v err=%v", hit, err)
	}

	if err := cache.Set(ctx, "unknown", 50*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	hit, err = cache.Get(ctx, "unknown")
	if err != nil || !hit {
		t.Fatalf("expected cached miss, got hit=%v err=%v", hit, err)
	}

	time.Sleep(60 * time.Millisecond)
	hit, err = cache.Get(ctx, "unknown")
	if err != nil || hit {
		t.Fatalf("expected entry to expire, got hit=%v err=%v", hit, err)
	}
}

func TestInMemoryKeyMissCacheIgnoresNonPositiveTTL(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryKeyMissCache()
	if err := cache.Set(ctx, "k", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	hit, err := cache.Get(ctx, "k")
	if err != nil || hit {
		t.Fatalf("zero ttl must not store, got hit=%v err=%v", hit, err)
	}
}

func TestNoopKeyMissCache(t *testing.T) {
	ctx := context.Background()
	cache := NewNoopKeyMissCache()
	if err := cache.Set(ctx, "k", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	hit, err := cache.Get(ctx, "k")
	if err != nil || hit {
		t.Fatalf("noop cache never hits, got hit=%v err=%v", hit, err)
	}
}
