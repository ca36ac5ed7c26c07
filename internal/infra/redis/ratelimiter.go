package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/ergomarketing/Semzo-Prive--sub004/internal/ratelimit"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

// slidingWindowScript evicts members at or before the window start, then
// records the attempt only when the remaining count is under the cap.
// Returns {allowed, remaining}.
var slidingWindowScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])
if count >= limit then
  return {0, 0}
end

redis.call("ZADD", KEYS[1], now, ARGV[4])
redis.call("PEXPIRE", KEYS[1], window)
return {1, limit - count - 1}
`)

var _ ratelimit.Limiter = (*SlidingWindowLimiter)(nil)

// SlidingWindowLimiter is a distributed sliding window limiter backed by a
// Redis sorted set per identifier. The whole check runs as one script, so
// concurrent API instances cannot both take the last slot.
type SlidingWindowLimiter struct {
	client *goredis.Client
	now    func() time.Time
	member func(nowMillis int64) string
	script *goredis.Script
}

func NewSlidingWindowLimiter(client *goredis.Client) (*SlidingWindowLimiter, error) {
	return newSlidingWindowLimiter(client, time.Now)
}

func newSlidingWindowLimiter(client *goredis.Client, nowFn func() time.Time) (*SlidingWindowLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &SlidingWindowLimiter{
		client: client,
		now:    nowFn,
		member: func(nowMillis int64) string {
			return fmt.Sprintf("%d-%s", nowMillis, uuid.NewString())
		},
		script: slidingWindowScript,
	}, nil
}

func (l *SlidingWindowLimiter) Check(ctx context.Context, identifier string, maxAttempts int, window time.Duration) (ratelimit.Result, error) {
	if l == nil || l.client == nil || l.script == nil {
		return ratelimit.Denied(), fmt.Errorf("rate limiter is not initialized")
	}
	if !ratelimit.ValidArgs(identifier, maxAttempts, window) {
		return ratelimit.Denied(), nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	nowMillis := l.now().UnixMilli()
	values, err := l.script.Run(
		ctx,
		l.client,
		[]string{redisKey(identifier)},
		nowMillis,
		window.Milliseconds(),
		maxAttempts,
		l.member(nowMillis),
	).Int64Slice()
	if err != nil {
		return ratelimit.Denied(), fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	if len(values) != 2 {
		return ratelimit.Denied(), fmt.Errorf("unexpected rate limit reply length %d", len(values))
	}

	return ratelimit.Result{
		Success:   values[0] == 1,
		Remaining: int(values[1]),
	}, nil
}

func (l *SlidingWindowLimiter) Reset(ctx context.Context, identifier string) error {
	if l == nil || l.client == nil {
		return fmt.Errorf("rate limiter is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := l.client.Del(ctx, redisKey(identifier)).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}

func redisKey(identifier string) string {
	return keyPrefix + identifier
}
