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
	user string
	fn   func(ctx context.Context) error
}

func (j *funcJob) Execute(ctx context.Context) error { return j.fn(ctx) }
func (j *funcJob) UserID() string                    { return j.user }
func (j *funcJob) Description() string               { return "test job for " + j.user }

func TestWorkerPool_RunsAllJobs(t *testing.T) {
	pool := NewWorkerPool(3, 0, 20, nil)
	pool.Start()

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		err := pool.Submit(&funcJob{user: "u", fn: func(context.Context) error {
			ran.Add(1)
			return nil
		}})
		require.NoError(t, err)
	}
	pool.ShutdownWithTimeout(2 * time.Second)

	assert.EqualValues(t, 10, ran.Load())
}

func TestWorkerPool_FailingJobDoesNotStopWorker(t *testing.T) {
	pool := NewWorkerPool(1, 0, 5, nil)
	pool.Start()

	var ran atomic.Int32
	require.NoError(t, pool.Submit(&funcJob{user: "u", fn: func(context.Context) error { return errors.New("boom") }}))
	require.NoError(t, pool.Submit(&funcJob{user: "u", fn: func(context.Context) error { ran.Add(1); return nil }}))
	pool.ShutdownWithTimeout(2 * time.Second)

	assert.EqualValues(t, 1, ran.Load())
}

func TestWorkerPool_QueueFull(t *testing.T) {
	// Not started, so nothing drains the queue.
	pool := NewWorkerPool(1, 0, 1, nil)
	noop := &funcJob{user: "u", fn: func(context.Context) error { return nil }}

	require.NoError(t, pool.Submit(noop))
	err := pool.Submit(noop)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 0, pool.SubmitBatch([]Job{noop}))
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(1, 0, 1, nil)
	pool.Start()
	pool.ShutdownWithTimeout(time.Second)

	err := pool.Submit(&funcJob{user: "u", fn: func(context.Context) error { return nil }})
	assert.Error(t, err)

	// A second shutdown is a no-op.
	pool.ShutdownWithTimeout(time.Second)
}

func TestWorkerPool_ShutdownTimeoutCancelsJobs(t *testing.T) {
	pool := NewWorkerPool(1, 0, 1, nil)
	pool.Start()

	started := make(chan struct{})
	var cancelled atomic.Bool
	require.NoError(t, pool.Submit(&funcJob{user: "u", fn: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}}))
	<-started

	pool.ShutdownWithTimeout(50 * time.Millisecond)
	assert.True(t, cancelled.Load())
}
