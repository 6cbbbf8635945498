// Package queue provides the durable job queue API: enqueueing, lookup,
// administrative operations, lifecycle hooks, and the event stream consumed
// by the observability layer.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/augurhq/augur/pkg/core"
	"github.com/augurhq/augur/pkg/security"
)

// Options holds per-enqueue configuration.
type Options struct {
	// JobID optionally supplies the job identifier. A collision with an
	// existing job is an error; the queue never silently merges.
	JobID string

	// Priority is the job's class; defaults to normal.
	Priority core.Priority

	// CallbackURL, when set, receives the completed result by POST.
	CallbackURL string

	// MaxAttempts is the per-job attempt ceiling; clamped to limits.
	MaxAttempts int
}

// Queue manages job persistence, hooks, and the event stream.
type Queue struct {
	storage     core.Storage
	maxAttempts int
	mu          sync.RWMutex

	// Hooks
	onComplete []func(context.Context, *core.Job)
	onFail     []func(context.Context, *core.Job, error)

	// Event stream
	eventSubs []chan core.Event
}

// New creates a new Queue with the given storage backend.
func New(s core.Storage) *Queue {
	return &Queue{storage: s}
}

// Storage returns the underlying storage.
func (q *Queue) Storage() core.Storage {
	return q.storage
}

// SetDefaultMaxAttempts sets the attempt ceiling applied when an enqueue does
// not specify one.
func (q *Queue) SetDefaultMaxAttempts(n int) {
	q.maxAttempts = n
}

// Enqueue adds a generation job for the given query and fingerprint.
func (q *Queue) Enqueue(ctx context.Context, query core.Query, fp string, opts Options) (*core.Job, error) {
	if len(query.Text) > security.MaxQueryLength {
		return nil, core.ErrQueryTooLarge
	}
	if err := security.ValidateCallbackURL(opts.CallbackURL); err != nil {
		return nil, err
	}

	var contextJSON []byte
	if len(query.Context) > 0 {
		var err error
		contextJSON, err = json.Marshal(query.Context)
		if err != nil {
			return nil, err
		}
	}

	priority := opts.Priority
	if priority == "" {
		priority = core.PriorityNormal
	}

	id := opts.JobID
	if id == "" {
		id = uuid.New().String()
	}

	attempts := opts.MaxAttempts
	if attempts == 0 {
		attempts = q.maxAttempts
	}

	job := &core.Job{
		ID:           id,
		QueryText:    query.Text,
		QueryContext: contextJSON,
		Fingerprint:  fp,
		CallbackURL:  opts.CallbackURL,
		Priority:     priority,
		Status:       core.StatusWaiting,
		MaxAttempts:  security.ClampAttempts(attempts),
	}

	if err := q.storage.Enqueue(ctx, job); err != nil {
		return nil, err
	}

	q.Emit(&core.JobQueued{Job: job, Timestamp: time.Now()})
	return job, nil
}

// GetJob retrieves a job by id; nil when absent.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	return q.storage.GetJob(ctx, jobID)
}

// ListJobs retrieves jobs filtered by status for the administrative surface.
func (q *Queue) ListJobs(ctx context.Context, statuses []core.JobStatus, limit int) ([]*core.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	return q.storage.ListJobs(ctx, statuses, limit)
}

// Retry requeues a failed or stalled job with a fresh attempt budget.
func (q *Queue) Retry(ctx context.Context, jobID string) error {
	return q.storage.RequeueJob(ctx, jobID)
}

// Remove deletes a job.
func (q *Queue) Remove(ctx context.Context, jobID string) error {
	return q.storage.DeleteJob(ctx, jobID)
}

// OnJobComplete registers a callback for when a job completes successfully.
func (q *Queue) OnJobComplete(fn func(context.Context, *core.Job)) {
	q.mu.Lock()
	q.onComplete = append(q.onComplete, fn)
	q.mu.Unlock()
}

// OnJobFail registers a callback for when a job fails permanently.
func (q *Queue) OnJobFail(fn func(context.Context, *core.Job, error)) {
	q.mu.Lock()
	q.onFail = append(q.onFail, fn)
	q.mu.Unlock()
}

// CallCompleteHooks calls all registered complete hooks.
func (q *Queue) CallCompleteHooks(ctx context.Context, job *core.Job) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job), len(q.onComplete))
	copy(hooks, q.onComplete)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job)
	}
}

// CallFailHooks calls all registered fail hooks.
func (q *Queue) CallFailHooks(ctx context.Context, job *core.Job, err error) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job, error), len(q.onFail))
	copy(hooks, q.onFail)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, err)
	}
}

// Events returns a channel for receiving queue events. The caller must call
// Unsubscribe when done to prevent resource leaks.
func (q *Queue) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	q.mu.Lock()
	q.eventSubs = append(q.eventSubs, ch)
	q.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events(). The channel
// is not closed; after Unsubscribe returns, no further events are sent.
func (q *Queue) Unsubscribe(ch <-chan core.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, sub := range q.eventSubs {
		if sub == ch {
			q.eventSubs = append(q.eventSubs[:i], q.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit sends an event to all subscribers, dropping it for subscribers whose
// buffers are full so a slow consumer never blocks a worker.
func (q *Queue) Emit(e core.Event) {
	q.mu.RLock()
	subs := make([]chan core.Event, len(q.eventSubs))
	copy(subs, q.eventSubs)
	q.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}
