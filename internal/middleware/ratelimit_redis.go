package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisRateLimiter implements the same fixed windows on a shared redis
// instance, so multiple server processes enforce one combined quota.
type RedisRateLimiter struct {
	client    *redis.Client
	perMinute int
	dailyCap  int
	logger    *logrus.Logger
}

// NewRedisRateLimiter creates a redis-backed limiter
func NewRedisRateLimiter(client *redis.Client, perMinute, dailyCap int, logger *logrus.Logger) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:    client,
		perMinute: perMinute,
		dailyCap:  dailyCap,
		logger:    logger,
	}
}

// Allow increments both window keys and rejects when either exceeds its
// cap. Redis errors fail open: losing rate limiting is preferable to
// taking the chat endpoint down with the redis instance.
func (r *RedisRateLimiter) Allow(ctx context.Context, clientID string) Decision {
	if d := r.hit(ctx, minuteKey(clientID), r.perMinute, minuteWindow, ScopeMinute); !d.Allowed {
		return d
	}
	return r.hit(ctx, dayKey(clientID), r.dailyCap, dayWindow, ScopeDay)
}

func (r *RedisRateLimiter) hit(ctx context.Context, key string, limit int, ttl time.Duration, scope string) Decision {
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		r.logger.WithError(err).WithField("key", key).Error("Failed to increment rate limit counter")
		return allowed
	}

	if count == 1 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			r.logger.WithError(err).WithField("key", key).Error("Failed to set rate limit key expiry")
		}
	}

	if int(count) > limit {
		retryAfter := ttl
		if remaining, err := r.client.TTL(ctx, key).Result(); err == nil && remaining > 0 {
			retryAfter = remaining
		}
		r.logger.WithFields(logrus.Fields{
			"key":   key,
			"scope": scope,
			"count": count,
		}).Warn("Rate limit exceeded")
		return Decision{Scope: scope, RetryAfter: retryAfter}
	}

	return allowed
}

// Reset clears both window keys for a client
func (r *RedisRateLimiter) Reset(ctx context.Context, clientID string) {
	if err := r.client.Del(ctx, minuteKey(clientID), dayKey(clientID)).Err(); err != nil {
		r.logger.WithError(err).WithField("client_id", clientID).Error("Failed to reset rate limit counters")
	}
}

func minuteKey(clientID string) string {
	return fmt.Sprintf("ratelimit:minute:%s", clientID)
}

func dayKey(clientID string) string {
	return fmt.Sprintf("ratelimit:day:%s", clientID)
}
