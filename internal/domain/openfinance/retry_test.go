package openfinance

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ofclient "koffers/internal/infrastructure/openfinance"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{40, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicy_Jitter(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: 0.5}

	p.Rand = func() float64 { return 0 }
	assert.Equal(t, 500*time.Millisecond, p.Delay(0))
	p.Rand = func() float64 { return 0.5 }
	assert.Equal(t, time.Second, p.Delay(0))
	p.Rand = func() float64 { return 1 }
	assert.Equal(t, 1500*time.Millisecond, p.Delay(0))
}

func TestRetryPolicy_Do(t *testing.T) {
	transient := &ofclient.ProviderError{StatusCode: http.StatusTooManyRequests}
	permanent := &ofclient.ProviderError{StatusCode: http.StatusBadRequest, ErrorCode: "INVALID_FIELD"}

	tests := []struct {
		name      string
		failures  []error
		wantCalls int
		wantErr   error
		wantSleep []time.Duration
	}{
		{"success first try", nil, 1, nil, nil},
		{"recovers after transient", []error{transient, transient}, 3, nil, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}},
		{"gives up after max attempts", []error{transient, transient, transient, transient}, 3, transient, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}},
		{"no retry on permanent error", []error{permanent}, 1, permanent, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var slept []time.Duration
			p := RetryPolicy{
				MaxAttempts: 3,
				BaseDelay:   10 * time.Millisecond,
				MaxDelay:    time.Second,
				Sleep: func(_ context.Context, d time.Duration) error {
					slept = append(slept, d)
					return nil
				},
			}
			calls := 0
			err := p.Do(context.Background(), func(context.Context) error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantSleep, slept)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestRetryPolicy_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		return &ofclient.ProviderError{StatusCode: http.StatusBadGateway}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestGuard_SharesConcurrentRuns(t *testing.T) {
	var g Guard
	var runs atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})

	fn := func(ctx context.Context) (any, error) {
		if runs.Add(1) == 1 {
			close(started)
		}
		<-release
		return "done", nil
	}

	var wg sync.WaitGroup
	results := make([]bool, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, shared, err := g.Do(context.Background(), "conn-1", fn)
		assert.NoError(t, err)
		results[0] = shared
	}()
	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		v, shared, err := g.Do(context.Background(), "conn-1", fn)
		assert.NoError(t, err)
		assert.Equal(t, "done", v)
		results[1] = shared
	}()

	// Give the second caller time to join the in-flight run.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
	assert.True(t, results[1])
}

func TestGuard_DifferentKeysRunIndependently(t *testing.T) {
	var g Guard
	var runs atomic.Int32
	fn := func(ctx context.Context) (any, error) {
		runs.Add(1)
		return nil, errors.New("boom")
	}
	_, _, err1 := g.Do(context.Background(), "a", fn)
	_, _, err2 := g.Do(context.Background(), "b", fn)
	assert.Error(t, err1)
	assert.Error(t, err2)
	assert.Equal(t, int32(2), runs.Load())
}
