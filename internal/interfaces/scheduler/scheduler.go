package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"koffers/internal/shared/logger"
)

// ScheduleTime is a time of day at which the scheduler fires.
type ScheduleTime struct {
	Hour   int
	Minute int
}

// String returns the time in HH:MM format.
func (st ScheduleTime) String() string {
	return fmt.Sprintf("%02d:%02d", st.Hour, st.Minute)
}

// ParseScheduleTime parses a time string in HH:MM format.
func ParseScheduleTime(s string) (ScheduleTime, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return ScheduleTime{}, fmt.Errorf("invalid time format (expected HH:MM): %w", err)
	}
	if hour < 0 || hour > 23 {
		return ScheduleTime{}, fmt.Errorf("invalid hour: %d (must be 0-23)", hour)
	}
	if minute < 0 || minute > 59 {
		return ScheduleTime{}, fmt.Errorf("invalid minute: %d (must be 0-59)", minute)
	}
	return ScheduleTime{Hour: hour, Minute: minute}, nil
}

// JobProvider builds the batch of jobs for one scheduled run.
type JobProvider func(ctx context.Context) ([]Job, error)

// Config holds the scheduler settings.
type Config struct {
	ScheduleTimes []string
	RunOnStartup  bool
	JobProvider   JobProvider
}

// Scheduler submits a batch of jobs to a worker pool at fixed times of day.
type Scheduler struct {
	pool          *WorkerPool
	scheduleTimes []ScheduleTime
	runOnStartup  bool
	jobProvider   JobProvider
	log           *zap.Logger
	now           func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun string
}

// NewScheduler validates the schedule. The pool is started and shut down
// by the caller since it also serves non-scheduled work.
func NewScheduler(pool *WorkerPool, cfg Config, log *zap.Logger) (*Scheduler, error) {
	if pool == nil {
		return nil, errors.New("worker pool is required")
	}
	times := make([]ScheduleTime, 0, len(cfg.ScheduleTimes))
	for _, s := range cfg.ScheduleTimes {
		st, err := ParseScheduleTime(s)
		if err != nil {
			return nil, fmt.Errorf("failed to parse schedule time %q: %w", s, err)
		}
		times = append(times, st)
	}
	if len(times) == 0 {
		return nil, errors.New("at least one schedule time is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		pool:          pool,
		scheduleTimes: times,
		runOnStartup:  cfg.RunOnStartup,
		jobProvider:   cfg.JobProvider,
		log:           logger.OrNop(log).Named("scheduler"),
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start launches the scheduling loop.
func (s *Scheduler) Start() {
	if s.runOnStartup {
		s.log.Info("running initial job batch on startup")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.RunJobs()
		}()
	}

	s.wg.Add(1)
	go s.scheduleLoop()

	s.log.Info("scheduler started", zap.Strings("times", s.timeStrings()), zap.Time("next_run", s.NextRun()))
}

func (s *Scheduler) scheduleLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			if s.shouldRun(now) {
				s.log.Info("scheduled run triggered", zap.String("at", now.Format("15:04")))
				s.RunJobs()
			}
		}
	}
}

// shouldRun reports whether now falls on a schedule time that has not
// fired yet today.
func (s *Scheduler) shouldRun(now time.Time) bool {
	key := now.Format("2006-01-02-15:04")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastRun == key {
		return false
	}
	for _, st := range s.scheduleTimes {
		if now.Hour() == st.Hour && now.Minute() == st.Minute {
			s.lastRun = key
			return true
		}
	}
	return false
}

// RunJobs fetches a batch from the job provider and submits it. Jobs that
// come back alongside an error are still submitted. It returns the number
// of jobs accepted by the pool.
func (s *Scheduler) RunJobs() int {
	if s.jobProvider == nil {
		s.log.Warn("no job provider configured")
		return 0
	}

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	jobs, err := s.jobProvider(ctx)
	if err != nil {
		s.log.Error("failed to fetch jobs", zap.Error(err))
		if len(jobs) == 0 {
			return 0
		}
	}
	if len(jobs) == 0 {
		s.log.Info("no jobs to process")
		return 0
	}
	return s.pool.SubmitBatch(jobs)
}

// TriggerNow runs a batch immediately in the background.
func (s *Scheduler) TriggerNow() {
	s.log.Info("manual trigger")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunJobs()
	}()
}

// Shutdown stops the scheduling loop. The worker pool is left running.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-time.After(timeout):
		s.log.Warn("timed out waiting for scheduler loop to stop")
	}
}

// NextRun returns the next scheduled run time after the current time.
func (s *Scheduler) NextRun() time.Time {
	return nextRun(s.now(), s.scheduleTimes)
}

func nextRun(now time.Time, times []ScheduleTime) time.Time {
	var next time.Time
	for _, st := range times {
		t := time.Date(now.Year(), now.Month(), now.Day(), st.Hour, st.Minute, 0, 0, now.Location())
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next
}

func (s *Scheduler) timeStrings() []string {
	out := make([]string, len(s.scheduleTimes))
	for i, st := range s.scheduleTimes {
		out[i] = st.String()
	}
	return out
}

// ScheduleTimes returns the configured schedule times.
func (s *Scheduler) ScheduleTimes() []ScheduleTime {
	return s.scheduleTimes
}
