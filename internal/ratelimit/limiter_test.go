package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLimiterCapacity(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewLimiter(client, 2, 0, time.Minute)

	allowed, _, err := limiter.Allow(ctx, "user-1")
	if err != nil || !allowed {
		t.Fatalf("expected first trigger allowed, got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = limiter.Allow(ctx, "user-1")
	if !allowed {
		t.Fatalf("expected second trigger allowed")
	}
	allowed, tokens, _ := limiter.Allow(ctx, "user-1")
	if allowed {
		t.Fatalf("expected third trigger rejected, tokens=%v", tokens)
	}

	// Note: refill cannot be tested with miniredis.FastForward() because the
	// script receives time from Go's time.Now(), not Redis's internal clock.
}

func TestLimiterBucketsArePerUser(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewLimiter(client, 1, 0, time.Minute)

	if allowed, _, _ := limiter.Allow(ctx, "user-1"); !allowed {
		t.Fatalf("expected user-1 allowed")
	}
	if allowed, _, _ := limiter.Allow(ctx, "user-1"); allowed {
		t.Fatalf("expected user-1 exhausted")
	}
	if allowed, _, _ := limiter.Allow(ctx, "user-2"); !allowed {
		t.Fatalf("user-2 must have an independent bucket")
	}
}
