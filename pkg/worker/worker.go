package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/augurhq/augur/pkg/backend"
	"github.com/augurhq/augur/pkg/backoff"
	"github.com/augurhq/augur/pkg/cache"
	"github.com/augurhq/augur/pkg/classify"
	"github.com/augurhq/augur/pkg/core"
	"github.com/augurhq/augur/pkg/dedup"
	"github.com/augurhq/augur/pkg/queue"
	"github.com/augurhq/augur/pkg/webhook"
)

// Progress milestones reported while a job runs, so a polling caller
// observes forward motion.
const (
	progressStarted   = 10
	progressGenerated = 60
	progressCached    = 80
	progressDelivered = 90
)

// Worker pulls jobs from the queue and runs the execution pipeline:
// cache re-check, backend invocation, write-through, marker clear, webhook
// delivery. Each worker holds at most one job at a time.
type Worker struct {
	queue     *queue.Queue
	cache     *cache.Cache
	tracker   *dedup.Tracker
	runner    backend.Runner
	deliverer *webhook.Deliverer
	config    Config
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// New creates a worker pool over explicitly wired components. Passing the
// collaborators in (rather than resolving them ambiently) lets tests
// substitute fakes per instance.
func New(q *queue.Queue, c *cache.Cache, t *dedup.Tracker, r backend.Runner, d *webhook.Deliverer, cfg Config, logger *slog.Logger) *Worker {
	return &Worker{
		queue:     q,
		cache:     c,
		tracker:   t,
		runner:    r,
		deliverer: d,
		config:    cfg.normalize(),
		logger:    logger.With("component", "worker_pool"),
	}
}

// Start begins processing jobs and blocks until the context is cancelled.
// Shutdown is graceful: dequeuing stops, jobs already handed to workers
// finish (or hit their own execution timeout), then Start returns.
func (w *Worker) Start(ctx context.Context) error {
	jobsChan := make(chan *core.Job, w.config.Concurrency)

	// Jobs drain under a context detached from shutdown so an in-flight
	// execution can finish; its own timeout remains the bound.
	drainCtx := context.WithoutCancel(ctx)

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.processLoop(drainCtx, jobsChan)
	}

	go w.runSweeper(ctx)
	go w.runSnapshots(ctx)

	reaper := cron.New()
	if _, err := reaper.AddFunc(w.config.ReaperSchedule, func() { w.reap(drainCtx) }); err != nil {
		return fmt.Errorf("worker: invalid reaper schedule %q: %w", w.config.ReaperSchedule, err)
	}
	reaper.Start()
	defer reaper.Stop()

	w.logger.Info("worker pool started",
		"concurrency", w.config.Concurrency,
		"worker_id", w.config.WorkerID)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(jobsChan)
			w.wg.Wait()
			w.logger.Info("worker pool drained")
			return ctx.Err()
		case <-ticker.C:
			job, err := w.dequeueWithRetry(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					w.logger.Error("failed to dequeue after retries", "error", err)
				}
				continue
			}
			if job != nil {
				select {
				case jobsChan <- job:
				case <-ctx.Done():
				}
			}
		}
	}
}

// dequeueWithRetry attempts to dequeue a job with exponential backoff on
// transient storage failure.
func (w *Worker) dequeueWithRetry(ctx context.Context) (*core.Job, error) {
	var job *core.Job
	err := backoff.Retry(ctx, w.config.StorageRetry, func() error {
		var dequeueErr error
		job, dequeueErr = w.queue.Storage().Dequeue(ctx, w.config.WorkerID, w.config.LockDuration)
		return dequeueErr
	})
	return job, err
}

func (w *Worker) processLoop(ctx context.Context, jobs <-chan *core.Job) {
	defer w.wg.Done()

	for job := range jobs {
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job *core.Job) {
	startTime := time.Now()
	logger := w.logger.With("job_id", job.ID, "fingerprint", job.Fingerprint, "attempt", job.Attempt)

	w.queue.Emit(&core.JobStarted{Job: job, Timestamp: startTime})
	w.setProgress(ctx, job, progressStarted)

	// Keep the lock alive while the backend runs.
	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, job)

	// Re-check the cache: an equivalent fingerprint may have completed
	// between enqueue and now.
	if res, hit, err := w.cache.Get(ctx, job.Fingerprint); err != nil {
		cancelHeartbeat()
		w.handleError(ctx, job, err, logger)
		return
	} else if hit {
		cancelHeartbeat()
		logger.Info("cache hit on re-check, skipping backend")
		w.finalize(ctx, job, res, true, startTime, logger)
		return
	}

	hints := classify.Hints(job.QueryText)
	res, execErr := w.runner.Execute(ctx, job.Query(), backend.Options{
		Timeout:   w.config.ExecTimeout,
		ToolHints: hints,
	})

	cancelHeartbeat()

	if execErr != nil {
		w.handleError(ctx, job, execErr, logger)
		return
	}

	w.setProgress(ctx, job, progressGenerated)

	// Write-through. A cache write failure does not fail the job: the
	// result still lands durably on the job row below.
	if err := w.cache.Put(ctx, job.Fingerprint, res); err != nil {
		logger.Warn("cache write-through failed", "error", err)
	}
	w.setProgress(ctx, job, progressCached)

	w.finalize(ctx, job, res, false, startTime, logger)
}

// finalize clears the in-flight marker, delivers the webhook if configured,
// and marks the job completed with the result attached.
func (w *Worker) finalize(ctx context.Context, job *core.Job, res *core.Result, fromCache bool, startTime time.Time, logger *slog.Logger) {
	w.clearMarker(ctx, job, logger)

	payload, err := json.Marshal(res)
	if err != nil {
		w.handleError(ctx, job, err, logger)
		return
	}

	if job.CallbackURL != "" {
		outcome := w.deliverer.Deliver(ctx, job.CallbackURL, notification{
			JobID:  job.ID,
			Status: string(core.StatusCompleted),
			Result: res,
		})
		if outcome.Err != nil {
			// Non-fatal: the result is durable and pollable regardless.
			logger.Warn("result delivery failed", "error", outcome.Err, "attempts", outcome.Attempts)
		} else {
			w.setProgress(ctx, job, progressDelivered)
		}
	}

	completeErr := backoff.Retry(ctx, w.config.StorageRetry, func() error {
		return w.queue.Storage().Complete(ctx, job.ID, w.config.WorkerID, payload)
	})
	if completeErr != nil {
		logger.Error("failed to complete job after retries", "error", completeErr)
		return
	}

	job.Status = core.StatusCompleted
	job.Progress = 100
	job.Result = payload

	w.queue.CallCompleteHooks(ctx, job)
	w.queue.Emit(&core.JobCompleted{
		Job:       job,
		FromCache: fromCache,
		Duration:  time.Since(startTime),
		Timestamp: time.Now(),
	})
	logger.Info("job completed", "from_cache", fromCache, "duration", time.Since(startTime))
}

// handleError clears the in-flight marker (failure must not leak it), then
// either schedules a backoff retry or fails the job permanently.
func (w *Worker) handleError(ctx context.Context, job *core.Job, jobErr error, logger *slog.Logger) {
	w.clearMarker(ctx, job, logger)

	if job.Attempt < job.MaxAttempts {
		delay := w.config.QueueRetry.Delay(job.Attempt + 1)
		retryAt := time.Now().Add(delay)
		w.failWithRetry(ctx, job.ID, jobErr.Error(), &retryAt, logger)
		w.queue.Emit(&core.JobRetrying{
			Job:       job,
			Attempt:   job.Attempt,
			Error:     jobErr,
			NextRunAt: retryAt,
			Timestamp: time.Now(),
		})
		logger.Warn("job failed, retry scheduled", "error", jobErr, "next_run_at", retryAt)
		return
	}

	w.failWithRetry(ctx, job.ID, jobErr.Error(), nil, logger)
	job.Status = core.StatusFailed
	job.LastError = jobErr.Error()
	w.queue.CallFailHooks(ctx, job, jobErr)
	w.queue.Emit(&core.JobFailed{Job: job, Error: jobErr, Timestamp: time.Now()})
	logger.Error("job failed permanently", "error", jobErr)
}

// clearMarker removes the job's in-flight marker. Called on every outcome;
// a leaked marker would make the fingerprint unresolvable until TTL expiry.
func (w *Worker) clearMarker(ctx context.Context, job *core.Job, logger *slog.Logger) {
	if err := w.tracker.Clear(ctx, job.Fingerprint); err != nil {
		logger.Error("failed to clear in-flight marker", "error", err)
	}
}

// failWithRetry marks a job as failed with retry on transient storage
// failures.
func (w *Worker) failWithRetry(ctx context.Context, jobID, errMsg string, retryAt *time.Time, logger *slog.Logger) {
	err := backoff.Retry(ctx, w.config.StorageRetry, func() error {
		return w.queue.Storage().Fail(ctx, jobID, w.config.WorkerID, errMsg, retryAt)
	})
	if err != nil {
		logger.Error("failed to mark job as failed after retries", "error", err)
	}
}

func (w *Worker) setProgress(ctx context.Context, job *core.Job, progress int) {
	if err := w.queue.Storage().SetProgress(ctx, job.ID, progress); err != nil {
		w.logger.Warn("failed to record progress", "job_id", job.ID, "error", err)
	} else {
		job.Progress = progress
	}
}

// runHeartbeat periodically extends the job lock during execution so a
// long-running job is not reclaimed as stalled.
func (w *Worker) runHeartbeat(ctx context.Context, job *core.Job) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := backoff.Retry(ctx, w.config.StorageRetry, func() error {
				return w.queue.Storage().Heartbeat(ctx, job.ID, w.config.WorkerID, w.config.LockDuration)
			})
			if err != nil {
				w.logger.Warn("heartbeat failed after retries", "job_id", job.ID, "error", err)
			}
		}
	}
}

// notification is the webhook payload shape.
type notification struct {
	JobID  string       `json:"job_id"`
	Status string       `json:"status"`
	Result *core.Result `json:"result"`
}
