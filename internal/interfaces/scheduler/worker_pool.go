package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"koffers/internal/shared/logger"
)

// JobTimeout bounds a single job execution.
const JobTimeout = 120 * time.Second

var ErrQueueFull = errors.New("job queue full")

var (
	jobTracer          = otel.Tracer("koffers/scheduler")
	jobMeter           = otel.Meter("koffers/scheduler")
	jobDuration, _     = jobMeter.Float64Histogram("scheduler.job.duration", metric.WithDescription("Job execution duration in seconds"), metric.WithUnit("s"))
	jobTotal, _        = jobMeter.Int64Counter("scheduler.job.total", metric.WithDescription("Total jobs executed by status"))
	jobQueueDropped, _ = jobMeter.Int64Counter("scheduler.job.queue_dropped", metric.WithDescription("Jobs dropped due to full queue"))
)

// WorkerPool runs submitted jobs on a fixed number of goroutines. It serves
// both the scheduled sync batches and receipt processing triggered by
// upload notifications.
type WorkerPool struct {
	workerCount int
	jobDelay    time.Duration
	jobs        chan Job
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	log         *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool creates a pool. jobDelay is a pause each worker takes after
// a job, which keeps bursts under the provider's rate limits.
func NewWorkerPool(workerCount int, jobDelay time.Duration, queueSize int, log *zap.Logger) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workerCount: workerCount,
		jobDelay:    jobDelay,
		jobs:        make(chan Job, queueSize),
		ctx:         ctx,
		cancel:      cancel,
		log:         logger.OrNop(log).Named("worker_pool"),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	wp.log.Info("starting worker pool", zap.Int("workers", wp.workerCount), zap.Duration("job_delay", wp.jobDelay))

	for i := 1; i <= wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return

		case job, ok := <-wp.jobs:
			if !ok {
				return
			}

			wp.processJob(id, job)

			if wp.jobDelay > 0 {
				select {
				case <-time.After(wp.jobDelay):
				case <-wp.ctx.Done():
					return
				}
			}
		}
	}
}

// processJob executes a single job with a timeout, a span and metrics.
func (wp *WorkerPool) processJob(workerID int, job Job) {
	log := wp.log.With(
		zap.Int("worker_id", workerID),
		zap.String("job", job.Description()),
		zap.String("user_id", job.UserID()),
	)

	ctx, cancel := context.WithTimeout(wp.ctx, JobTimeout)
	defer cancel()

	ctx, span := jobTracer.Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("job.description", job.Description()),
			attribute.String("job.user_id", job.UserID()),
		),
	)
	defer span.End()

	start := time.Now()
	err := job.Execute(ctx)
	elapsed := time.Since(start)
	jobDuration.Record(ctx, elapsed.Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		log.Error("job failed", zap.Duration("duration", elapsed), zap.Error(err))
		return
	}

	jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	log.Info("job completed", zap.Duration("duration", elapsed))
}

// Submit enqueues a job without blocking. It returns ErrQueueFull when the
// queue is at capacity and the job is dropped.
func (wp *WorkerPool) Submit(job Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return context.Canceled
	}

	select {
	case <-wp.ctx.Done():
		return wp.ctx.Err()
	case wp.jobs <- job:
		return nil
	default:
		jobQueueDropped.Add(context.Background(), 1)
		wp.log.Warn("job queue full, dropping job", zap.String("job", job.Description()), zap.String("user_id", job.UserID()))
		return fmt.Errorf("%w: dropping %s", ErrQueueFull, job.Description())
	}
}

// SubmitBatch enqueues jobs and reports how many were accepted.
func (wp *WorkerPool) SubmitBatch(jobs []Job) int {
	submitted := 0
	for _, job := range jobs {
		if err := wp.Submit(job); err != nil {
			continue
		}
		submitted++
	}
	wp.log.Info("submitted jobs to worker pool", zap.Int("submitted", submitted), zap.Int("total", len(jobs)))
	return submitted
}

// ShutdownWithTimeout stops accepting jobs and waits for queued ones to
// finish. When the timeout passes first, running jobs are cancelled.
func (wp *WorkerPool) ShutdownWithTimeout(timeout time.Duration) {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.jobs)
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.log.Info("all workers finished")
	case <-time.After(timeout):
		wp.log.Warn("worker pool shutdown timed out, cancelling running jobs", zap.Duration("timeout", timeout))
		wp.cancel()
		<-done
	}
	wp.cancel()
}
