package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

func TestSlidingWindowLimiterCheck(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.Unix(1_700_000_000, 0)
	limiter, err := newSlidingWindowLimiter(rdb, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newSlidingWindowLimiter() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		res, err := limiter.Check(context.Background(), "login:user-1", 2, time.Minute)
		if err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		if !res.Success {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
		if res.Remaining != 1-i {
			t.Fatalf("attempt %d remaining = %d, want %d", i+1, res.Remaining, 1-i)
		}
	}

	res, err := limiter.Check(context.Background(), "login:user-1", 2, time.Minute)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if res.Success || res.Remaining != 0 {
		t.Fatalf("third attempt = %+v, want denied", res)
	}

	now = now.Add(time.Minute)
	res, err = limiter.Check(context.Background(), "login:user-1", 2, time.Minute)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !res.Success || res.Remaining != 1 {
		t.Fatalf("attempt after window = %+v, want success with 1 remaining", res)
	}
}

func TestSlidingWindowLimiterSameMillisecond(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.Unix(1_700_000_050, 0)
	limiter, err := newSlidingWindowLimiter(rdb, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newSlidingWindowLimiter() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		res, err := limiter.Check(context.Background(), "burst", 3, time.Second)
		if err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		if !res.Success {
			t.Fatalf("attempt %d in the same millisecond should be allowed", i+1)
		}
	}

	res, _ := limiter.Check(context.Background(), "burst", 3, time.Second)
	if res.Success {
		t.Fatal("fourth attempt should be denied")
	}
}

func TestSlidingWindowLimiterPerIdentifier(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.Unix(1_700_000_100, 0)
	limiter, err := newSlidingWindowLimiter(rdb, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newSlidingWindowLimiter() error = %v", err)
	}

	if res, _ := limiter.Check(context.Background(), "a", 1, time.Minute); !res.Success {
		t.Fatal("a should be allowed on first request")
	}
	if res, _ := limiter.Check(context.Background(), "a", 1, time.Minute); res.Success {
		t.Fatal("a second request should be rejected")
	}
	if res, _ := limiter.Check(context.Background(), "b", 1, time.Minute); !res.Success {
		t.Fatal("b should be allowed on first request")
	}
}

func TestSlidingWindowLimiterRejectedAttemptsAreNotCounted(t *testing.T) {
	t.Parallel()

	rdb, mr := newTestRedisClient(t)

	now := time.Unix(1_700_000_200, 0)
	limiter, err := newSlidingWindowLimiter(rdb, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newSlidingWindowLimiter() error = %v", err)
	}

	const max = 3
	for i := 0; i < 3*max; i++ {
		if _, err := limiter.Check(context.Background(), "gift-card:abc", max, time.Hour); err != nil {
			t.Fatalf("Check() error = %v", err)
		}
	}

	members, err := mr.ZMembers(redisKey("gift-card:abc"))
	if err != nil {
		t.Fatalf("ZMembers() error = %v", err)
	}
	if len(members) != max {
		t.Fatalf("recorded attempts = %d, want %d", len(members), max)
	}
	if ttl := mr.TTL(redisKey("gift-card:abc")); ttl != time.Hour {
		t.Fatalf("key ttl = %v, want 1h", ttl)
	}

	if err := limiter.Reset(context.Background(), "gift-card:abc"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	res, err := limiter.Check(context.Background(), "gift-card:abc", max, time.Hour)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if res.Remaining != max-1 {
		t.Fatalf("remaining after reset = %d, want %d", res.Remaining, max-1)
	}
}

func TestSlidingWindowLimiterResetUnknownIdentifier(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	limiter, err := NewSlidingWindowLimiter(rdb)
	if err != nil {
		t.Fatalf("NewSlidingWindowLimiter() error = %v", err)
	}

	if err := limiter.Reset(context.Background(), "unknown"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	res, err := limiter.Check(context.Background(), "unknown", 2, time.Minute)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !res.Success || res.Remaining != 1 {
		t.Fatalf("Check() = %+v, want success with 1 remaining", res)
	}
}

func TestSlidingWindowLimiterMalformedArgumentsDeny(t *testing.T) {
	t.Parallel()

	rdb, mr := newTestRedisClient(t)

	limiter, err := NewSlidingWindowLimiter(rdb)
	if err != nil {
		t.Fatalf("NewSlidingWindowLimiter() error = %v", err)
	}

	res, err := limiter.Check(context.Background(), "x", 0, time.Minute)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if res != ratelimit.Denied() {
		t.Fatalf("Check() = %+v, want denied", res)
	}
	if mr.Exists(redisKey("x")) {
		t.Fatal("malformed check must not record anything")
	}
}

func TestSlidingWindowLimiterRedisDown(t *testing.T) {
	t.Parallel()

	rdb, mr := newTestRedisClient(t)
	mr.Close()

	limiter, err := NewSlidingWindowLimiter(rdb)
	if err != nil {
		t.Fatalf("NewSlidingWindowLimiter() error = %v", err)
	}

	res, err := limiter.Check(context.Background(), "login:user", 1, time.Minute)
	if err == nil {
		t.Fatal("expected error when redis is unavailable")
	}
	if res.Success {
		t.Fatal("result must be denied on error")
	}
}

func TestNewSlidingWindowLimiterRequiresClient(t *testing.T) {
	t.Parallel()

	if _, err := NewSlidingWindowLimiter(nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func newTestRedisClient(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:       mr.Addr(),
		MaxRetries: -1,
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb, mr
}
