package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errDown = errors.New("connection refused")

func fail(context.Context) error    { return errDown }
func succeed(context.Context) error { return nil }

// manualClock lets tests move past the cool-down without sleeping.
type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(s Settings) (*Breaker, *manualClock) {
	clock := &manualClock{t: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	b := New(s)
	b.now = clock.now
	return b, clock
}

func TestBreaker_OpensAfterConsecutiveOutages(t *testing.T) {
	var transitions []State
	b, _ := newTestBreaker(Settings{
		Name:          "test",
		Trip:          2,
		CoolDown:      time.Minute,
		OnStateChange: func(_ string, _, to State) { transitions = append(transitions, to) },
	})
	ctx := context.Background()

	assert.ErrorIs(t, b.Execute(ctx, fail), errDown)
	assert.NoError(t, b.Execute(ctx, succeed), "a success resets the count")
	assert.ErrorIs(t, b.Execute(ctx, fail), errDown)
	assert.Equal(t, Closed, b.State())

	assert.ErrorIs(t, b.Execute(ctx, fail), errDown)
	assert.Equal(t, Open, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
	assert.Equal(t, []State{Open}, transitions)
}

func TestBreaker_AnswersAreNotOutages(t *testing.T) {
	notFound := errors.New("no rows")
	b, _ := newTestBreaker(Settings{
		Trip:     1,
		IsOutage: func(err error) bool { return !errors.Is(err, notFound) },
	})

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Execute(context.Background(), func(context.Context) error { return notFound }), notFound)
	}
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	b, clock := newTestBreaker(Settings{Trip: 1, Recover: 2, CoolDown: time.Minute, Trials: 1})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	assert.Equal(t, Open, b.State())

	clock.advance(30 * time.Second)
	assert.ErrorIs(t, b.Execute(ctx, succeed), ErrOpen, "still cooling down")

	clock.advance(30 * time.Second)
	assert.NoError(t, b.Execute(ctx, succeed))
	assert.Equal(t, HalfOpen, b.State(), "one success of two")

	assert.NoError(t, b.Execute(ctx, succeed))
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	b, clock := newTestBreaker(Settings{Trip: 1, CoolDown: time.Minute})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clock.advance(time.Minute)

	assert.ErrorIs(t, b.Execute(ctx, fail), errDown)
	assert.Equal(t, Open, b.State())
	assert.ErrorIs(t, b.Execute(ctx, succeed), ErrOpen, "cool-down restarts")
}

func TestBreaker_LimitsConcurrentTrials(t *testing.T) {
	b, clock := newTestBreaker(Settings{Trip: 1, CoolDown: time.Minute, Trials: 1})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clock.advance(time.Minute)

	var second error
	err := b.Execute(ctx, func(context.Context) error {
		second = b.Execute(ctx, succeed)
		return nil
	})

	assert.NoError(t, err)
	assert.ErrorIs(t, second, ErrOpen)
	assert.Equal(t, Closed, b.State())
}

func TestDatabasePreset(t *testing.T) {
	var changes []string
	b := Database(func(err error) bool { return errors.Is(err, errDown) }, func(name string, from, to State) {
		changes = append(changes, name+":"+from.String()+"->"+to.String())
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}

	assert.Equal(t, Open, b.State())
	assert.Equal(t, []string{"database:closed->open"}, changes)
}
