package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScheduleTime(t *testing.T) {
	tests := []struct {
		in      string
		want    ScheduleTime
		wantErr bool
	}{
		{in: "05:00", want: ScheduleTime{Hour: 5}},
		{in: "23:59", want: ScheduleTime{Hour: 23, Minute: 59}},
		{in: "24:00", wantErr: true},
		{in: "10:60", wantErr: true},
		{in: "noon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScheduleTime(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestNewScheduler_Validation(t *testing.T) {
	pool := NewWorkerPool(1, 0, 1, nil)

	_, err := NewScheduler(pool, Config{}, nil)
	assert.Error(t, err, "no schedule times")

	_, err = NewScheduler(pool, Config{ScheduleTimes: []string{"25:00"}}, nil)
	assert.Error(t, err)

	_, err = NewScheduler(nil, Config{ScheduleTimes: []string{"05:00"}}, nil)
	assert.Error(t, err)
}

func TestShouldRun_FiresOncePerSlot(t *testing.T) {
	s, err := NewScheduler(NewWorkerPool(1, 0, 1, nil), Config{ScheduleTimes: []string{"05:00", "20:00"}}, nil)
	require.NoError(t, err)

	day := time.Date(2026, 3, 10, 5, 0, 10, 0, time.UTC)
	assert.True(t, s.shouldRun(day))
	assert.False(t, s.shouldRun(day.Add(30*time.Second)), "same minute must not fire twice")
	assert.False(t, s.shouldRun(day.Add(time.Minute)))
	assert.True(t, s.shouldRun(day.Add(15*time.Hour)))
	assert.True(t, s.shouldRun(day.AddDate(0, 0, 1)), "next day fires again")
}

func TestNextRun(t *testing.T) {
	times := []ScheduleTime{{Hour: 20}, {Hour: 5}, {Hour: 14}}

	now := time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC), nextRun(now, times))

	late := time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 11, 5, 0, 0, 0, time.UTC), nextRun(late, times))

	exact := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC), nextRun(exact, times))
}

func TestRunJobs_SubmitsProviderBatch(t *testing.T) {
	pool := NewWorkerPool(2, 0, 10, nil)
	pool.Start()

	done := make(chan string, 3)
	provider := func(ctx context.Context) ([]Job, error) {
		return []Job{
			&funcJob{user: "u1", fn: func(context.Context) error { done <- "u1"; return nil }},
			&funcJob{user: "u2", fn: func(context.Context) error { done <- "u2"; return nil }},
		}, nil
	}
	s, err := NewScheduler(pool, Config{ScheduleTimes: []string{"05:00"}, JobProvider: provider}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, s.RunJobs())
	pool.ShutdownWithTimeout(time.Second)
	close(done)

	var users []string
	for u := range done {
		users = append(users, u)
	}
	assert.ElementsMatch(t, []string{"u1", "u2"}, users)
}

func TestRunJobs_NoProvider(t *testing.T) {
	s, err := NewScheduler(NewWorkerPool(1, 0, 1, nil), Config{ScheduleTimes: []string{"05:00"}}, nil)
	require.NoError(t, err)
	assert.Zero(t, s.RunJobs())
}

func TestRunJobs_SubmitsJobsReturnedWithError(t *testing.T) {
	pool := NewWorkerPool(1, 0, 10, nil)
	pool.Start()

	ran := make(chan struct{}, 1)
	provider := func(ctx context.Context) ([]Job, error) {
		return []Job{&funcJob{user: "u1", fn: func(context.Context) error { ran <- struct{}{}; return nil }}},
			errors.New("one provider failed")
	}
	s, err := NewScheduler(pool, Config{ScheduleTimes: []string{"05:00"}, JobProvider: provider}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, s.RunJobs())
	pool.ShutdownWithTimeout(time.Second)
	assert.Len(t, ran, 1)
}
