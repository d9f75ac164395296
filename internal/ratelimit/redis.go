package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a sliding-window limiter backed by Redis sorted sets,
// for deployments running more than one gateway instance. If the client
// is nil or Redis is unreachable, checks pass (fail open).
type RedisLimiter struct {
	rdb    *redis.Client
	quota  int
	window time.Duration
}

func NewRedisLimiter(rdb *redis.Client, quota int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, quota: quota, window: window}
}

// slidingWindowScript atomically: removes expired entries, adds current, counts.
// KEYS[1] = sorted set key
// ARGV[1] = window start (unix micro)
// ARGV[2] = now (unix micro), used as both score and member uniqueness
// ARGV[3] = limit
// ARGV[4] = TTL seconds for the key
// Returns: [current_count, 1=allowed/0=denied]
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local window_start = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, now .. ':' .. math.random(1000000))
    redis.call('EXPIRE', key, ttl)
    return {count + 1, 1}
end

redis.call('EXPIRE', key, ttl)
return {count, 0}
`)

func (l *RedisLimiter) Allow(ctx context.Context, callerID string) Decision {
	now := time.Now()
	if l.rdb == nil {
		return Decision{Allowed: true, Remaining: l.quota - 1, ResetAt: now.Add(l.window)}
	}

	windowStart := now.Add(-l.window).UnixMicro()
	ttlSecs := int64(l.window.Seconds()) + 1
	key := fmt.Sprintf("insight:rl:%s", callerID)

	result, err := slidingWindowScript.Run(ctx, l.rdb, []string{key},
		windowStart, now.UnixMicro(), l.quota, ttlSecs,
	).Int64Slice()
	if err != nil || len(result) < 2 {
		// Fail open on Redis errors
		return Decision{Allowed: true, Remaining: l.quota, ResetAt: now.Add(l.window)}
	}

	count := int(result[0])
	allowed := result[1] == 1
	remaining := l.quota - count
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{Allowed: allowed, Remaining: remaining, ResetAt: now.Add(l.window)}
	if !allowed {
		d.RetryAfter = l.window / 2
	}
	return d
}
