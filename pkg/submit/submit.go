// Package submit implements the per-request decision sequence:
// validate, fingerprint, check cache, check in-flight, enqueue, mark
// in-flight.
package submit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/augurhq/augur/pkg/cache"
	"github.com/augurhq/augur/pkg/core"
	"github.com/augurhq/augur/pkg/dedup"
	"github.com/augurhq/augur/pkg/fingerprint"
	"github.com/augurhq/augur/pkg/queue"
	"github.com/augurhq/augur/pkg/security"
)

// Status classifies a submission outcome.
type Status string

const (
	// StatusQueued means a new job was enqueued.
	StatusQueued Status = "queued"

	// StatusCached means a previously computed result was returned.
	StatusCached Status = "cached"

	// StatusDuplicate means an equivalent query is already executing; the
	// submission references the in-flight job.
	StatusDuplicate Status = "duplicate"
)

// Request is an incoming submission.
type Request struct {
	Query       string            `json:"query"       validate:"required"`
	Context     map[string]string `json:"context,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Priority    string            `json:"priority,omitempty" validate:"omitempty,oneof=high normal"`
	JobID       string            `json:"job_id,omitempty"   validate:"omitempty,max=64"`
}

// Submission is the outcome of a Submit call.
type Submission struct {
	Status      Status       `json:"status"`
	JobID       string       `json:"job_id,omitempty"`
	Fingerprint string       `json:"fingerprint"`
	Result      *core.Result `json:"result,omitempty"`
}

// JobView is the poll-facing projection of a job's last durable state.
type JobView struct {
	JobID    string         `json:"job_id"`
	State    core.JobStatus `json:"state"`
	Progress int            `json:"progress"`
	Result   *core.Result   `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Service is the submission orchestrator. All collaborators are wired in at
// construction so tests can substitute fakes per instance.
type Service struct {
	queue    *queue.Queue
	cache    *cache.Cache
	tracker  *dedup.Tracker
	validate *validator.Validate
	logger   *slog.Logger
}

// New creates a submission service.
func New(q *queue.Queue, c *cache.Cache, t *dedup.Tracker, logger *slog.Logger) *Service {
	return &Service{
		queue:    q,
		cache:    c,
		tracker:  t,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("component", "submit"),
	}
}

// Submit runs the decision sequence for one request. A store failure during
// the cache or in-flight check aborts the submission: an outage must not
// silently disable deduplication.
func (s *Service) Submit(ctx context.Context, req Request) (*Submission, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	fp := fingerprint.New(req.Query, req.Context)
	logger := s.logger.With("fingerprint", fp)

	if res, hit, err := s.cache.Get(ctx, fp); err != nil {
		return nil, err
	} else if hit {
		logger.Info("submission served from cache")
		return &Submission{Status: StatusCached, Fingerprint: fp, Result: res}, nil
	}

	if jobID, inFlight, err := s.tracker.Lookup(ctx, fp); err != nil {
		return nil, err
	} else if inFlight {
		logger.Info("submission deduplicated", "job_id", jobID)
		return &Submission{Status: StatusDuplicate, JobID: jobID, Fingerprint: fp}, nil
	}

	priority := core.Priority(req.Priority)
	if priority == "" {
		priority = core.PriorityNormal
	}

	job, err := s.queue.Enqueue(ctx, core.Query{Text: req.Query, Context: req.Context}, fp, queue.Options{
		JobID:       req.JobID,
		Priority:    priority,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		return nil, err
	}

	// The job exists either way; a lost marker only widens the tolerated
	// duplicate window, so failures here do not unwind the enqueue.
	if won, err := s.tracker.Mark(ctx, fp, job.ID); err != nil {
		logger.Warn("failed to mark fingerprint in-flight", "job_id", job.ID, "error", err)
	} else if !won {
		logger.Info("lost in-flight race after enqueue", "job_id", job.ID)
	}

	logger.Info("job queued", "job_id", job.ID, "priority", priority)
	return &Submission{Status: StatusQueued, JobID: job.ID, Fingerprint: fp}, nil
}

// Status returns a job's last durable state.
func (s *Service) Status(ctx context.Context, jobID string) (*JobView, error) {
	job, err := s.queue.GetJob(ctx, jobID)
	if err != nil {
		return nil, core.NewStoreError("job lookup", err)
	}
	if job == nil {
		return nil, core.ErrJobNotFound
	}

	view := &JobView{
		JobID:    job.ID,
		State:    job.Status,
		Progress: job.Progress,
		Error:    job.LastError,
	}
	if job.Status == core.StatusCompleted {
		res, err := job.DecodeResult()
		if err != nil {
			return nil, err
		}
		view.Result = res
		view.Error = ""
	}
	return view, nil
}

func (s *Service) validateRequest(req Request) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &core.ValidationError{Field: verrs[0].Field(), Reason: verrs[0].Tag()}
		}
		return &core.ValidationError{Field: "request", Reason: err.Error()}
	}
	if len(req.Query) > security.MaxQueryLength {
		return &core.ValidationError{Field: "query", Reason: "exceeds size limit"}
	}
	if len(req.Context) > security.MaxContextEntries {
		return &core.ValidationError{Field: "context", Reason: "too many entries"}
	}
	if err := security.ValidateCallbackURL(req.CallbackURL); err != nil {
		return &core.ValidationError{Field: "callback_url", Reason: "must be an absolute http or https url"}
	}
	return nil
}
