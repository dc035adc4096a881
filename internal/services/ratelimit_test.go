package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestLimiter(t *testing.T) (*RedisRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRateLimiter(client, zap.NewNop()), mr
}

func TestRedisRateLimiter_EnforcesWindow(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	assert.True(t, limiter.Allow(ctx, 1, 2))
	assert.True(t, limiter.Allow(ctx, 1, 2))
	assert.False(t, limiter.Allow(ctx, 1, 2), "third delivery in the window is over the limit")
}

func TestRedisRateLimiter_PerRuleIsolation(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	assert.True(t, limiter.Allow(ctx, 1, 1))
	assert.False(t, limiter.Allow(ctx, 1, 1))

	// A different rule has its own window.
	assert.True(t, limiter.Allow(ctx, 2, 1))
}

func TestRedisRateLimiter_ZeroLimitUnbounded(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		assert.True(t, limiter.Allow(ctx, 3, 0))
	}
}

// A concurrent burst on one rule must not overshoot the configured limit;
// the window check and the recording step run as one atomic script.
func TestRedisRateLimiter_ConcurrentBurstStaysWithinLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	const burst = 20
	const limit = 5

	var wg sync.WaitGroup
	var allowed atomic.Int32
	for i := 0; i < burst; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow(ctx, 1, limit) {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), allowed.Load())
}

// Limiter failures must not block capture or delivery.
func TestRedisRateLimiter_FailsOpen(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	mr.Close()

	assert.True(t, limiter.Allow(context.Background(), 1, 1))
}
