package core

import (
	"context"
	"time"
)

// Starter is the interface for long-running components started at boot.
type Starter interface {
	Start(ctx context.Context) error
}

// Storage defines the persistence layer shared by the queue, the result
// cache, and the in-flight tracker. Cache entries and markers live in a
// prefixed key-value table; job state lives in the jobs table. All methods
// are safe for concurrent use.
type Storage interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Job lifecycle
	Enqueue(ctx context.Context, job *Job) error
	Dequeue(ctx context.Context, workerID string, lockFor time.Duration) (*Job, error)
	Complete(ctx context.Context, jobID, workerID string, result []byte) error
	Fail(ctx context.Context, jobID, workerID, errMsg string, retryAt *time.Time) error
	SetProgress(ctx context.Context, jobID string, progress int) error

	// Locking
	Heartbeat(ctx context.Context, jobID, workerID string, extend time.Duration) error
	// ReclaimStalled transitions active jobs whose lock expired without a
	// heartbeat: back to waiting if attempts remain, otherwise failed.
	// Returns the affected jobs with their new status set.
	ReclaimStalled(ctx context.Context, now time.Time) ([]*Job, error)

	// Queries
	GetJob(ctx context.Context, jobID string) (*Job, error)
	ListJobs(ctx context.Context, statuses []JobStatus, limit int) ([]*Job, error)
	CountByStatus(ctx context.Context) (map[JobStatus]int64, error)

	// Administrative
	RequeueJob(ctx context.Context, jobID string) error
	DeleteJob(ctx context.Context, jobID string) error
	// TrimTerminal evicts terminal jobs beyond keep per terminal status,
	// oldest first, bounding store growth.
	TrimTerminal(ctx context.Context, keep int) (int64, error)

	// Key-value entries (result cache, in-flight markers)
	KVGet(ctx context.Context, key string) ([]byte, bool, error)
	KVPut(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// KVSetNX stores the value only if the key is absent or expired.
	// The atomicity of this operation is what prevents duplicate execution
	// per fingerprint; a check-then-set here would reintroduce the race.
	KVSetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)
	KVDelete(ctx context.Context, key string) error
	KVCount(ctx context.Context, prefix string) (int64, error)
	KVDeletePrefix(ctx context.Context, prefix string) (int64, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
