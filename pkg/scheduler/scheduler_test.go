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

func TestScheduler_Schedule(t *testing.T) {
	ctx := context.Background()
	s := New()

	var fired atomic.Int32
	job := s.Schedule(ctx, "device-1", TaskFunc(func(_ context.Context) error {
		fired.Add(1)
		return nil
	}), 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		done, err := job.Result()
		return done && err == nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestScheduler_Schedule_Supersedes(t *testing.T) {
	ctx := context.Background()
	s := New()

	var fired atomic.Int32
	task := TaskFunc(func(_ context.Context) error {
		fired.Add(1)
		return nil
	})

	first := s.Schedule(ctx, "device-1", task, time.Hour)
	second := s.Schedule(ctx, "device-1", task, 10*time.Millisecond)

	done, err := first.Result()
	require.True(t, done)
	assert.ErrorIs(t, err, ErrCanceled)

	assert.Eventually(t, func() bool {
		done, err := second.Result()
		return done && err == nil
	}, time.Second, 10*time.Millisecond)
	// only the replacement fires
	assert.Equal(t, int32(1), fired.Load())
}

func TestScheduler_Cancel(t *testing.T) {
	ctx := context.Background()
	s := New()

	var fired atomic.Int32
	job := s.Schedule(ctx, "device-1", TaskFunc(func(_ context.Context) error {
		fired.Add(1)
		return nil
	}), time.Hour)
	assert.False(t, job.Due().Before(time.Now()))

	s.Cancel("device-1")
	done, err := job.Result()
	assert.True(t, done)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, int32(0), fired.Load())

	_, ok := s.Job("device-1")
	assert.False(t, ok)

	// canceling without a pending job is a no-op
	s.Cancel("device-2")
}

func TestScheduler_Schedule_TaskFails(t *testing.T) {
	s := New()
	job := s.Schedule(context.Background(), "device-1", TaskFunc(func(_ context.Context) error {
		return errors.New("device offline")
	}), 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		done, err := job.Result()
		return done && err != nil && err.Error() == "device offline"
	}, time.Second, 10*time.Millisecond)
}
