package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	errTransient = errors.New("connection reset")
	errRejected  = errors.New("malformed row")
)

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func fastRetrier(opts ...Option) *Retrier {
	base := []Option{WithBackoff(time.Millisecond, 2*time.Millisecond), WithJitter(0), WithRetryIf(isTransient)}
	return New(append(base, opts...)...)
}

func TestRetrier_RetriesTransientErrors(t *testing.T) {
	calls := 0
	var delays []time.Duration
	r := fastRetrier(WithMaxAttempts(3), WithOnRetry(func(_ int, _ error, d time.Duration) { delays = append(delays, d) }))

	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestRetrier_ReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	err := fastRetrier(WithMaxAttempts(2)).Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})

	assert.Equal(t, errTransient, err)
	assert.Equal(t, 2, calls)
}

func TestRetrier_StopsOnNonTransientError(t *testing.T) {
	calls := 0
	err := fastRetrier(WithMaxAttempts(5)).Do(context.Background(), func(context.Context) error {
		calls++
		return errRejected
	})

	assert.Equal(t, errRejected, err)
	assert.Equal(t, 1, calls)
}

func TestRetrier_WithoutClassifierRunsOnce(t *testing.T) {
	calls := 0
	err := New().Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})

	assert.Equal(t, errTransient, err)
	assert.Equal(t, 1, calls)
}

func TestRetrier_ContextEndsWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	r := New(WithRetryIf(isTransient), WithBackoff(time.Hour, time.Hour), WithJitter(0),
		WithOnRetry(func(int, error, time.Duration) { cancel() }))

	err := r.Do(ctx, func(context.Context) error {
		calls++
		return errTransient
	})

	assert.Equal(t, errTransient, err)
	assert.Equal(t, 1, calls)

	assert.ErrorIs(t, r.Do(ctx, func(context.Context) error { return nil }), context.Canceled)
}

func TestDelayIsCapped(t *testing.T) {
	r := New(WithBackoff(time.Second, 4*time.Second), WithJitter(0))

	assert.Equal(t, time.Second, r.delay(1))
	assert.Equal(t, 4*time.Second, r.delay(3))
	assert.Equal(t, 4*time.Second, r.delay(40))
}

func TestPresetsKeepClassifier(t *testing.T) {
	calls := 0
	r := Database(isTransient, WithBackoff(time.Millisecond, time.Millisecond), WithJitter(0))

	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})

	assert.Equal(t, errTransient, err)
	assert.Equal(t, 3, calls)
}
