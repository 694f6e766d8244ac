package academic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER - token bucket in front of the academic service
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiterConfig contains configuration for the rate limiter.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained request rate.
	RequestsPerSecond float64

	// BurstSize is the bucket capacity.
	BurstSize int

	// MinInterval is enforced between two requests even with tokens left.
	MinInterval time.Duration

	// WaitTimeout bounds how long Wait blocks for a token.
	WaitTimeout time.Duration
}

// DefaultRateLimiterConfig returns limits sized for one batch of invoice
// lookups (5-10 candidates, several invoices each).
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 8.0,
		BurstSize:         10,
		MinInterval:       20 * time.Millisecond,
		WaitTimeout:       30 * time.Second,
	}
}

// RateLimiter implements the token bucket algorithm.
type RateLimiter struct {
	mu sync.Mutex

	capacity    float64
	refillRate  float64
	baseRate    float64
	tokens      float64
	lastRefill  time.Time
	lastRequest time.Time
	minInterval time.Duration
	waitTimeout time.Duration
	pausedUntil time.Time
}

// NewRateLimiter creates a limiter with a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.BurstSize <= 0 {
		config.BurstSize = 1
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 1
	}
	now := time.Now()
	return &RateLimiter{
		capacity:    float64(config.BurstSize),
		refillRate:  config.RequestsPerSecond,
		baseRate:    config.RequestsPerSecond,
		tokens:      float64(config.BurstSize),
		lastRefill:  now,
		lastRequest: now.Add(-config.MinInterval),
		minInterval: config.MinInterval,
		waitTimeout: config.WaitTimeout,
	}
}

// Wait blocks until a token is available, the context ends or the wait
// timeout elapses.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	deadline := time.Now().Add(rl.waitTimeout)

	for {
		wait, ok := rl.tryAcquire()
		if ok {
			return nil
		}

		if rl.waitTimeout > 0 && time.Now().Add(wait).After(deadline) {
			return shared.NewDomainError("academic", "RateLimit", shared.ErrRateLimited,
				fmt.Sprintf("no request slot within %s", rl.waitTimeout))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (rl *RateLimiter) tryAcquire() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Before(rl.pausedUntil) {
		return rl.pausedUntil.Sub(now), false
	}

	rl.refill(now)

	if since := now.Sub(rl.lastRequest); since < rl.minInterval {
		return rl.minInterval - since, false
	}

	if rl.tokens < 1.0 {
		missing := 1.0 - rl.tokens
		return time.Duration(missing / rl.refillRate * float64(time.Second)), false
	}

	rl.tokens--
	rl.lastRequest = now
	return 0, true
}

// refill must be called with the lock held.
func (rl *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
	rl.lastRefill = now

	// recover slowly from a throttle
	if rl.refillRate < rl.baseRate {
		rl.refillRate += (rl.baseRate - rl.refillRate) * 0.1
	}
}

// Throttle drains the bucket after the service answered 429 and pauses new
// requests for retryAfter.
func (rl *RateLimiter) Throttle(retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens = 0
	rl.refillRate *= 0.8
	if retryAfter > 0 {
		rl.pausedUntil = time.Now().Add(retryAfter)
	}
}

// RateLimiterStatus is a snapshot for health reporting.
type RateLimiterStatus struct {
	AvailableTokens float64   `json:"available_tokens"`
	Capacity        float64   `json:"capacity"`
	RefillRate      float64   `json:"refill_rate"`
	PausedUntil     time.Time `json:"paused_until,omitempty"`
}

// Status returns the current limiter state.
func (rl *RateLimiter) Status() RateLimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(time.Now())

	return RateLimiterStatus{
		AvailableTokens: rl.tokens,
		Capacity:        rl.capacity,
		RefillRate:      rl.refillRate,
		PausedUntil:     rl.pausedUntil,
	}
}
