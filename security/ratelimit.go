package security

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter throttles claim attempts per claimant with a Redis
// fixed window, so one scripted client cannot monopolize a grid's
// writer lock.
type RateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

func NewRateLimiter(redisClient *redis.Client, limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{redis: redisClient, limit: limit, window: window}
}

// Allow counts one attempt and reports whether the claimant is still
// inside the window. Redis being down fails open: rate limiting is
// protection, not correctness.
func (r *RateLimiter) Allow(ctx context.Context, claimantID string) bool {
	key := fmt.Sprintf("ratelimit:claim:%s", claimantID)

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return true
	}

	if count == 1 {
		r.redis.Expire(ctx, key, r.window)
	}

	return count <= int64(r.limit)
}
