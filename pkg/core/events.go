package core

import "time"

// Event is the interface for all queue events. Events are emitted
// synchronously by the worker at defined lifecycle points; the observability
// layer subscribes via the queue's event stream.
type Event interface {
	eventMarker()
}

// JobQueued is emitted when a job is accepted onto the queue.
type JobQueued struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobQueued) eventMarker() {}

// JobStarted is emitted when a worker takes a job.
type JobStarted struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobStarted) eventMarker() {}

// JobCompleted is emitted when a job completes successfully.
type JobCompleted struct {
	Job       *Job
	FromCache bool // Result came from the post-dequeue cache re-check
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobCompleted) eventMarker() {}

// JobFailed is emitted when a job fails permanently.
type JobFailed struct {
	Job       *Job
	Error     error
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// JobRetrying is emitted when a failed job is rescheduled with backoff.
type JobRetrying struct {
	Job       *Job
	Attempt   int
	Error     error
	NextRunAt time.Time
	Timestamp time.Time
}

func (*JobRetrying) eventMarker() {}

// JobStalled is emitted when a job's lock expired without a heartbeat,
// meaning its worker died mid-execution.
type JobStalled struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobStalled) eventMarker() {}

// QueueSnapshot is a periodic queue-depth-by-state report.
type QueueSnapshot struct {
	Depths    map[JobStatus]int64
	Timestamp time.Time
}

func (*QueueSnapshot) eventMarker() {}
