package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTokenBucketScript runs the token bucket atomically in Redis, so
// multiple API replicas share one view of the budget.
// KEYS[1] = bucket key, ARGV = rate (tokens/s), capacity, cost, now.
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// RedisLimiter is the distributed variant of the API rate limiter.
type RedisLimiter struct {
	client *redis.Client
	rate   float64
	burst  int
}

// NewRedisLimiter connects to addr and enforces rps with the given burst.
func NewRedisLimiter(addr, password string, db, rps, burst int) *RedisLimiter {
	return &RedisLimiter{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		rate:   float64(rps),
		burst:  burst,
	}
}

// Allow consumes one token for the given key.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(time.Now().UnixMicro()) / 1e6
	res, err := redisTokenBucketScript.Run(ctx, l.client,
		[]string{"rate_limit:" + key}, l.rate, l.burst, 1, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("redis limiter: unexpected script result %T", res)
	}
	return allowed == 1, nil
}

// Close releases the underlying client.
func (l *RedisLimiter) Close() error { return l.client.Close() }
