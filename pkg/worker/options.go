// Package worker provides the fixed-size worker pool that executes queued
// generation jobs.
package worker

import (
	"time"

	"github.com/google/uuid"

	"github.com/augurhq/augur/pkg/backoff"
	"github.com/augurhq/augur/pkg/security"
)

// Config holds worker pool configuration. Concurrency is the sole
// admission-control knob bounding concurrent backend invocations.
type Config struct {
	// Concurrency is the number of workers; clamped to [1, MaxConcurrency].
	Concurrency int

	// PollInterval is the queue poll cadence.
	PollInterval time.Duration

	// WorkerID identifies this pool instance in job locks.
	WorkerID string

	// LockDuration is how long a dequeued job stays locked without a
	// heartbeat.
	LockDuration time.Duration

	// HeartbeatInterval is the lock-renewal cadence during execution.
	HeartbeatInterval time.Duration

	// ExecTimeout bounds each backend invocation attempt.
	ExecTimeout time.Duration

	// QueueRetry is the backoff policy between queue-level job attempts.
	QueueRetry backoff.Config

	// StorageRetry is the backoff policy for transient storage failures.
	StorageRetry backoff.Config

	// SweepInterval is the stall-detection cadence.
	SweepInterval time.Duration

	// SnapshotInterval is the queue-depth snapshot cadence.
	SnapshotInterval time.Duration

	// RetentionKeep bounds how many terminal jobs are retained per state;
	// the reaper evicts oldest first.
	RetentionKeep int

	// ReaperSchedule is the cron spec driving retention trims and expired
	// key-value purges.
	ReaperSchedule string
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       2,
		PollInterval:      250 * time.Millisecond,
		WorkerID:          uuid.New().String(),
		LockDuration:      5 * time.Minute,
		HeartbeatInterval: time.Minute,
		ExecTimeout:       2 * time.Minute,
		QueueRetry: backoff.Config{
			MaxAttempts: 3,
			Base:        5 * time.Second,
			Max:         5 * time.Minute,
			Multiplier:  2.0,
		},
		StorageRetry: backoff.Config{
			MaxAttempts: 3,
			Base:        100 * time.Millisecond,
			Max:         5 * time.Second,
			Multiplier:  2.0,
			Jitter:      0.1,
		},
		SweepInterval:    30 * time.Second,
		SnapshotInterval: 15 * time.Second,
		RetentionKeep:    1000,
		ReaperSchedule:   "@every 5m",
	}
}

// normalize applies limits and fills zero values.
func (c Config) normalize() Config {
	def := DefaultConfig()
	c.Concurrency = security.ClampConcurrency(c.Concurrency)
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.WorkerID == "" {
		c.WorkerID = uuid.New().String()
	}
	if c.LockDuration <= 0 {
		c.LockDuration = def.LockDuration
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = def.ExecTimeout
	}
	if c.QueueRetry.MaxAttempts == 0 {
		c.QueueRetry = def.QueueRetry
	}
	if c.StorageRetry.MaxAttempts == 0 {
		c.StorageRetry = def.StorageRetry
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = def.SnapshotInterval
	}
	if c.RetentionKeep <= 0 {
		c.RetentionKeep = def.RetentionKeep
	}
	if c.ReaperSchedule == "" {
		c.ReaperSchedule = def.ReaperSchedule
	}
	return c
}
