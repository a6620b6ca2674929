package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fabell4/marion/internal/config"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Rate limit scopes reported on rejection
const (
	ScopeMinute = "minute"
	ScopeDay    = "day"
	ScopeGlobal = "global"
)

const (
	minuteWindow = time.Minute
	dayWindow    = 24 * time.Hour
)

// Decision is the outcome of a rate limit check
type Decision struct {
	Allowed    bool
	Scope      string
	RetryAfter time.Duration
}

var allowed = Decision{Allowed: true}

// RateLimiter decides whether a client may issue another request.
//
// Counters increment on every call, whether or not the request is
// ultimately served: a blocked or failed request still consumes quota.
type RateLimiter interface {
	Allow(ctx context.Context, clientID string) Decision
	Reset(ctx context.Context, clientID string)
}

// NewRateLimiter creates a rate limiter backed by the configured store.
// The in-memory store is the default; redis is available for deployments
// running more than one instance behind a balancer.
func NewRateLimiter(cfg *config.RateLimitConfig, logger *logrus.Logger) (RateLimiter, error) {
	var limiter RateLimiter

	switch cfg.Store {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		limiter = NewRedisRateLimiter(client, cfg.PerMinute, cfg.DailyCap, logger)
	default:
		limiter = NewMemoryRateLimiter(cfg.PerMinute, cfg.DailyCap, logger)
	}

	if cfg.GlobalRPS > 0 {
		limiter = &globalGuard{
			inner:   limiter,
			limiter: rate.NewLimiter(rate.Limit(cfg.GlobalRPS), int(cfg.GlobalRPS)+1),
		}
	}

	return limiter, nil
}

// globalGuard layers a process-wide token bucket in front of the
// per-client windows, so a flood from many distinct IPs cannot drain
// upstream quota.
type globalGuard struct {
	inner   RateLimiter
	limiter *rate.Limiter
}

func (g *globalGuard) Allow(ctx context.Context, clientID string) Decision {
	if !g.limiter.Allow() {
		return Decision{Scope: ScopeGlobal, RetryAfter: time.Second}
	}
	return g.inner.Allow(ctx, clientID)
}

func (g *globalGuard) Reset(ctx context.Context, clientID string) {
	g.inner.Reset(ctx, clientID)
}

type window struct {
	count int
	start time.Time
}

type clientWindows struct {
	minute window
	day    window
}

// MemoryRateLimiter implements per-client fixed windows in process memory.
// State is volatile: a restart resets every counter.
type MemoryRateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientWindows
	perMinute int
	dailyCap  int
	logger    *logrus.Logger
	now       func() time.Time
}

// NewMemoryRateLimiter creates the in-memory limiter
func NewMemoryRateLimiter(perMinute, dailyCap int, logger *logrus.Logger) *MemoryRateLimiter {
	rl := &MemoryRateLimiter{
		clients:   make(map[string]*clientWindows),
		perMinute: perMinute,
		dailyCap:  dailyCap,
		logger:    logger,
		now:       time.Now,
	}

	go rl.cleanup()

	return rl
}

// Allow rolls both windows forward, counts the attempt, and rejects when
// either incremented counter exceeds its cap.
func (r *MemoryRateLimiter) Allow(ctx context.Context, clientID string) Decision {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	cw, exists := r.clients[clientID]
	if !exists {
		cw = &clientWindows{}
		r.clients[clientID] = cw
	}

	roll(&cw.minute, now, minuteWindow)
	roll(&cw.day, now, dayWindow)

	cw.minute.count++
	cw.day.count++

	if cw.minute.count > r.perMinute {
		r.logger.WithFields(logrus.Fields{
			"client_id": clientID,
			"scope":     ScopeMinute,
			"count":     cw.minute.count,
		}).Warn("Rate limit exceeded")
		return Decision{Scope: ScopeMinute, RetryAfter: remaining(cw.minute, now, minuteWindow)}
	}

	if cw.day.count > r.dailyCap {
		r.logger.WithFields(logrus.Fields{
			"client_id": clientID,
			"scope":     ScopeDay,
			"count":     cw.day.count,
		}).Warn("Rate limit exceeded")
		return Decision{Scope: ScopeDay, RetryAfter: remaining(cw.day, now, dayWindow)}
	}

	return allowed
}

// Reset clears the counters for a client
func (r *MemoryRateLimiter) Reset(ctx context.Context, clientID string) {
	r.mu.Lock()
	delete(r.clients, clientID)
	r.mu.Unlock()
}

func roll(w *window, now time.Time, d time.Duration) {
	if w.start.IsZero() || now.Sub(w.start) >= d {
		w.start = now
		w.count = 0
	}
}

func remaining(w window, now time.Time, d time.Duration) time.Duration {
	left := w.start.Add(d).Sub(now)
	if left < time.Second {
		left = time.Second
	}
	return left
}

// cleanup bounds the client map. Entries are never removed individually,
// so a long-lived process scanning from many IPs could grow it without
// limit otherwise.
func (r *MemoryRateLimiter) cleanup() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		r.mu.Lock()
		if len(r.clients) > 10000 {
			r.logger.WithField("clients", len(r.clients)).Warn("Rate limiter map size exceeded threshold, clearing")
			r.clients = make(map[string]*clientWindows)
		}
		r.mu.Unlock()
	}
}
