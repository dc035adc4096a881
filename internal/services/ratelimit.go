package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter gates instant delivery per rule. Implementations must fail
// open: availability of the limiter backend never blocks event capture.
type RateLimiter interface {
	Allow(ctx context.Context, ruleID int64, limit int) bool
}

const rateLimitWindow = time.Minute

// Trim the window, count, and record in one atomic step so concurrent
// classifiers racing on the same rule cannot overshoot the limit.
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
if redis.call('ZCARD', key) >= limit then
	return 0
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisRateLimiter counts deliveries per rule in a sliding one-minute
// window backed by a redis sorted set scored by timestamp.
type RedisRateLimiter struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisRateLimiter(client *redis.Client, logger *zap.Logger) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, logger: logger}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, ruleID int64, limit int) bool {
	if limit <= 0 {
		return true
	}

	key := fmt.Sprintf("eventrelay:ratelimit:rule:%d", ruleID)
	now := time.Now().UnixMilli()

	// Member must be unique so bursts within the same millisecond still
	// count individually.
	member := fmt.Sprintf("%d:%s", now, uuid.New().String())

	allowed, err := rateLimitScript.Run(ctx, l.client, []string{key},
		now, rateLimitWindow.Milliseconds(), limit, member).Int()
	if err != nil {
		l.logger.Warn("rate limit check failed, allowing delivery",
			zap.Int64("rule_id", ruleID), zap.Error(err))
		return true
	}
	return allowed == 1
}
