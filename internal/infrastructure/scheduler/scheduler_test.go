package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcJob struct {
	name string
	fn   func(ctx context.Context) error
}

func (j funcJob) Name() string                  { return j.name }
func (j funcJob) Description() string           { return "test job " + j.name }
func (j funcJob) Run(ctx context.Context) error { return j.fn(ctx) }

func TestScheduler_Register(t *testing.T) {
	s := New(nil)
	job := funcJob{name: "a", fn: func(context.Context) error { return nil }}

	require.NoError(t, s.Register(job, Every(time.Hour)))
	assert.ErrorIs(t, s.Register(job, Every(time.Hour)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, Every(time.Hour)), ErrNilJob)
	assert.ErrorIs(t, s.Register(funcJob{name: "b"}, nil), ErrNilSchedule)

	infos := s.ListJobs()
	require.Len(t, infos, 1)
	assert.Equal(t, "@every 1h0m0s", infos[0].Schedule)
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(nil)
	boom := errors.New("boom")
	require.NoError(t, s.Register(funcJob{name: "ok", fn: func(context.Context) error { return nil }}, Every(time.Hour)))
	require.NoError(t, s.Register(funcJob{name: "bad", fn: func(context.Context) error { return boom }}, Every(time.Hour)))
	require.NoError(t, s.Register(funcJob{name: "panics", fn: func(context.Context) error { panic("nope") }}, Every(time.Hour)))

	result, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.True(t, result.Manual)

	_, err = s.RunNow(context.Background(), "bad")
	assert.ErrorIs(t, err, boom)

	_, err = s.RunNow(context.Background(), "panics")
	assert.ErrorContains(t, err, "panicked")

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	for _, info := range s.ListJobs() {
		assert.EqualValues(t, 1, info.Runs, info.Name)
		assert.False(t, info.Running)
	}
}

func TestScheduler_RunsDueJobsWithoutOverlap(t *testing.T) {
	var (
		started atomic.Int32
		release = make(chan struct{})
	)
	job := funcJob{name: "slow", fn: func(ctx context.Context) error {
		started.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}

	s := New(nil, WithTick(5*time.Millisecond))
	require.NoError(t, s.Register(job, Every(time.Millisecond)))
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 1, started.Load(), "a busy job is not started again")

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobRunning)

	close(release)
	require.Eventually(t, func() bool { return started.Load() >= 2 }, time.Second, time.Millisecond)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}
