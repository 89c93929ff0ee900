package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"
)

func skipIfNoRedis(t *testing.T) {
	if os.Getenv("REDIS_TEST_ADDR") == "" {
		t.Skip("REDIS_TEST_ADDR not set, skipping Redis tests")
	}
}

func newRedisTestLimiter(t *testing.T, requests int) *RedisLimiter {
	t.Helper()
	limiter, err := NewRedisLimiter(&Config{
		Requests:      requests,
		Window:        time.Minute,
		Strategy:      StrategySlidingWindow,
		Backend:       "redis",
		RedisAddr:     os.Getenv("REDIS_TEST_ADDR"),
		RedisPassword: os.Getenv("REDIS_TEST_PASSWORD"),
	})
	if err != nil {
		t.Fatalf("NewRedisLimiter() error = %v", err)
	}
	t.Cleanup(func() { limiter.Close() })
	return limiter
}

func TestRedisLimiter_AllowWithinLimit(t *testing.T) {
	skipIfNoRedis(t)
	limiter := newRedisTestLimiter(t, 10)

	ctx := context.Background()
	key := SourceKey("sensor-redis-1")
	limiter.Reset(ctx, key)
	defer limiter.Reset(ctx, key)

	allowed, err := limiter.Allow(ctx, key)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Error("first request should be allowed")
	}
}

func TestRedisLimiter_ExhaustsWindow(t *testing.T) {
	skipIfNoRedis(t)
	limiter := newRedisTestLimiter(t, 3)

	ctx := context.Background()
	key := SourceKey("sensor-redis-2")
	limiter.Reset(ctx, key)
	defer limiter.Reset(ctx, key)

	allowed, err := limiter.AllowN(ctx, key, 3)
	if err != nil {
		t.Fatalf("AllowN() error = %v", err)
	}
	if !allowed {
		t.Fatal("batch within limit should be allowed")
	}

	allowed, err = limiter.Allow(ctx, key)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Error("request over the window limit should be rejected")
	}
}

func TestRedisLimiter_GetInfo(t *testing.T) {
	skipIfNoRedis(t)
	limiter := newRedisTestLimiter(t, 5)

	ctx := context.Background()
	key := SourceKey("sensor-redis-3")
	limiter.Reset(ctx, key)
	defer limiter.Reset(ctx, key)

	limiter.Allow(ctx, key)
	limiter.Allow(ctx, key)

	info, err := limiter.GetInfo(ctx, key)
	if err != nil {
		t.Fatalf("GetInfo() error = %v", err)
	}
	if info.Limit != 5 {
		t.Errorf("Limit = %d, want 5", info.Limit)
	}
	if info.Remaining != 3 {
		t.Errorf("Remaining = %d, want 3", info.Remaining)
	}
}
