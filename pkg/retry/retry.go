// Package retry re-runs operations that failed with a transient error. The
// caller decides what is transient; everything else is returned at once.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Config holds retry configuration.
type Config struct {
	// MaxAttempts counts the first attempt. One disables retrying.
	MaxAttempts int

	// InitialDelay doubles after every attempt up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter float64

	// RetryIf reports transient errors. Nil retries nothing.
	RetryIf func(error) bool

	// OnRetry is called before sleeping.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Option is a functional option for configuring retries.
type Option func(*Config)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithBackoff sets the first delay and its cap.
func WithBackoff(initial, limit time.Duration) Option {
	return func(c *Config) {
		if initial > 0 {
			c.InitialDelay = initial
		}
		if limit >= c.InitialDelay {
			c.MaxDelay = limit
		}
	}
}

// WithJitter sets the jitter fraction, 0 to 1.
func WithJitter(j float64) Option {
	return func(c *Config) {
		if j >= 0 && j <= 1 {
			c.Jitter = j
		}
	}
}

// WithRetryIf sets the transient error classifier.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) {
		c.RetryIf = fn
	}
}

// WithOnRetry sets the callback run before each retry.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *Config) {
		c.OnRetry = fn
	}
}

// Retrier runs operations under a Config.
type Retrier struct {
	config Config
}

// New creates a Retrier. Without options it makes three attempts and retries
// nothing, so a classifier is needed for it to do anything.
func New(opts ...Option) *Retrier {
	config := Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Jitter:       0.1,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Retrier{config: config}
}

// Upstream retries academic service calls that failed because the service
// was down or throttling. Expired sessions are the invoker's business and
// must not be classified as transient.
func Upstream(retryIf func(error) bool, opts ...Option) *Retrier {
	return New(append([]Option{
		WithMaxAttempts(3),
		WithBackoff(500*time.Millisecond, 10*time.Second),
		WithJitter(0.2),
		WithRetryIf(retryIf),
	}, opts...)...)
}

// Database retries benefit store writes aborted by serialization failures or
// dropped connections.
func Database(retryIf func(error) bool, opts ...Option) *Retrier {
	return New(append([]Option{
		WithMaxAttempts(3),
		WithBackoff(50*time.Millisecond, time.Second),
		WithJitter(0.05),
		WithRetryIf(retryIf),
	}, opts...)...)
}

// Do runs op until it succeeds, fails with a non-transient error, runs out of
// attempts or ctx ends. It returns the last error of op; a context that ends
// before the first attempt returns ctx.Err().
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= r.config.MaxAttempts || r.config.RetryIf == nil || !r.config.RetryIf(err) {
			return err
		}

		delay := r.delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func (r *Retrier) delay(attempt int) time.Duration {
	d := r.config.InitialDelay
	for i := 1; i < attempt && d < r.config.MaxDelay; i++ {
		d *= 2
	}
	if d > r.config.MaxDelay {
		d = r.config.MaxDelay
	}
	if r.config.Jitter > 0 {
		spread := float64(d) * r.config.Jitter
		d += time.Duration(spread * (rand.Float64()*2 - 1))
	}
	if d < 0 {
		return 0
	}
	return d
}
