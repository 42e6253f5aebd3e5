package service

import (
	"context"
	"testing"
	"time"
)

func TestRedisKeyMissCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	server, client := newRedisClientForTest(t)
	cache := NewRedisKeyMissCache(client, "miss_test")

	hit, err := cache.Get(ctx, "probe-key")
	if err != nil || hit {
		t.Fatalf("expected clean miss, got hit=%v err=%v", hit, err)
	}

	if err := cache.Set(ctx, "probe-key", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	hit, err = cache.Get(ctx, "probe-key")
	if err != nil || !hit {
		t.Fatalf("expected cached miss, got hit=%v err=%v", hit, err)
	}

	// Raw license keys must not appear in redis.
	for _, k := range server.Keys() {
		if k == "miss_test:probe-key" {
			t.Fatal("license key stored unhashed")
		}
	}

	server.FastForward(2 * time.Minute)
	hit, err = cache.Get(ctx, "probe-key")
	if err != nil || hit {
		t.Fatalf("expected ttl expiry, got hit=%v err=%v", hit, err)
	}
}

func TestRedisKeyMissCacheNilClientIsNoop(t *testing.T) {
	ctx := context.Background()
	cache := NewRedisKeyMissCache(nil, "")
	if err := cache.Set(ctx, "k", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	hit, err := cache.Get(ctx, "k")
	if err != nil || hit {
		t.Fatalf("nil client must behave as noop, got hit=%v err=%v", hit, err)
	}
}
