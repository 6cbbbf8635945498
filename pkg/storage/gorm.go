// Package storage provides the GORM-backed persistence layer for jobs,
// cache entries, and in-flight markers.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/augurhq/augur/pkg/core"
	"github.com/augurhq/augur/pkg/security"
)

// GormStorage implements core.Storage using GORM.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.Job{}, &core.KVEntry{})
}

// Enqueue adds a job to the queue. A caller-supplied id that collides with
// an existing job returns core.ErrDuplicateJobID; ids are never silently
// merged.
func (s *GormStorage) Enqueue(ctx context.Context, job *core.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = core.StatusWaiting
	}
	if job.Priority == "" {
		job.Priority = core.PriorityNormal
	}
	job.Rank = job.Priority.Rank()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&core.Job{}).Where("id = ?", job.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return core.ErrDuplicateJobID
		}
		return tx.Create(job).Error
	})
}

// Dequeue fetches and locks the next runnable job: high priority before
// normal, FIFO within a class, delayed jobs only once due. The status flip
// and lock assignment happen in one transaction, so each job is handed to at
// most one worker.
func (s *GormStorage) Dequeue(ctx context.Context, workerID string, lockFor time.Duration) (*core.Job, error) {
	var job core.Job
	now := time.Now()
	lockUntil := now.Add(lockFor)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.
			Where("status IN ?", []core.JobStatus{core.StatusWaiting, core.StatusDelayed}).
			Where("(run_at IS NULL OR run_at <= ?)", now).
			Where("(locked_until IS NULL OR locked_until < ?)", now).
			Order("rank DESC, created_at ASC").
			First(&job)

		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return nil
			}
			return result.Error
		}

		job.Status = core.StatusActive
		job.LockedBy = workerID
		job.LockedUntil = &lockUntil
		job.LastHeartbeatAt = &now
		job.StartedAt = &now
		job.Attempt++

		return tx.Save(&job).Error
	})

	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, nil
	}
	return &job, nil
}

// Complete marks a job as successfully completed with its result payload.
// Validates that the worker owns the job before completing.
func (s *GormStorage) Complete(ctx context.Context, jobID, workerID string, result []byte) error {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND locked_by = ?", jobID, workerID).
		Updates(map[string]any{
			"status":       core.StatusCompleted,
			"progress":     100,
			"result":       result,
			"completed_at": now,
			"locked_by":    "",
			"locked_until": nil,
		})

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}
	return nil
}

// Fail marks a job as failed, optionally scheduling a delayed retry.
// Validates that the worker owns the job before failing. Error messages are
// sanitized before storage.
func (s *GormStorage) Fail(ctx context.Context, jobID, workerID, errMsg string, retryAt *time.Time) error {
	sanitized := security.SanitizeErrorMessage(errMsg)

	updates := map[string]any{
		"last_error":   sanitized,
		"locked_by":    "",
		"locked_until": nil,
	}

	if retryAt != nil {
		updates["status"] = core.StatusDelayed
		updates["run_at"] = retryAt
	} else {
		updates["status"] = core.StatusFailed
		now := time.Now()
		updates["completed_at"] = now
	}

	res := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND locked_by = ?", jobID, workerID).
		Updates(updates)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return core.ErrJobNotOwned
	}
	return nil
}

// SetProgress records a progress milestone for a job.
func (s *GormStorage) SetProgress(ctx context.Context, jobID string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ?", jobID).
		Update("progress", progress).Error
}

// Heartbeat extends the lock on an active job.
func (s *GormStorage) Heartbeat(ctx context.Context, jobID, workerID string, extend time.Duration) error {
	now := time.Now()
	lockUntil := now.Add(extend)
	return s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND locked_by = ?", jobID, workerID).
		Updates(map[string]any{
			"locked_until":      lockUntil,
			"last_heartbeat_at": now,
		}).Error
}

// ReclaimStalled transitions active jobs whose lock expired without a
// heartbeat. Jobs with attempts remaining go back to waiting; exhausted jobs
// become failed. Returns the affected jobs with their new status set.
func (s *GormStorage) ReclaimStalled(ctx context.Context, now time.Time) ([]*core.Job, error) {
	var stale []*core.Job
	err := s.db.WithContext(ctx).
		Where("status = ?", core.StatusActive).
		Where("locked_until < ?", now).
		Find(&stale).Error
	if err != nil {
		return nil, err
	}

	for _, job := range stale {
		updates := map[string]any{
			"locked_by":    "",
			"locked_until": nil,
		}
		if job.Attempt < job.MaxAttempts {
			updates["status"] = core.StatusWaiting
			job.Status = core.StatusWaiting
		} else {
			updates["status"] = core.StatusFailed
			updates["last_error"] = "worker lost mid-execution"
			updates["completed_at"] = now
			job.Status = core.StatusFailed
			job.LastError = "worker lost mid-execution"
		}
		res := s.db.WithContext(ctx).
			Model(&core.Job{}).
			Where("id = ? AND status = ?", job.ID, core.StatusActive).
			Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
	}
	return stale, nil
}

// GetJob retrieves a job by ID. Returns nil when the job does not exist.
func (s *GormStorage) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs retrieves jobs filtered by status, newest first. An empty status
// list matches all.
func (s *GormStorage) ListJobs(ctx context.Context, statuses []core.JobStatus, limit int) ([]*core.Job, error) {
	q := s.db.WithContext(ctx).Model(&core.Job{})
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var jobList []*core.Job
	err := q.Order("created_at DESC").Limit(limit).Find(&jobList).Error
	return jobList, err
}

// CountByStatus returns the queue depth per state.
func (s *GormStorage) CountByStatus(ctx context.Context) (map[core.JobStatus]int64, error) {
	type row struct {
		Status core.JobStatus
		N      int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	depths := make(map[core.JobStatus]int64, len(rows))
	for _, r := range rows {
		depths[r.Status] = r.N
	}
	return depths, nil
}

// RequeueJob puts a failed or stalled job back on the queue with a fresh
// attempt budget.
func (s *GormStorage) RequeueJob(ctx context.Context, jobID string) error {
	res := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ?", jobID).
		Where("status IN ?", []core.JobStatus{core.StatusFailed, core.StatusStalled}).
		Updates(map[string]any{
			"status":       core.StatusWaiting,
			"attempt":      0,
			"progress":     0,
			"last_error":   "",
			"run_at":       nil,
			"completed_at": nil,
			"locked_by":    "",
			"locked_until": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return core.ErrJobNotRetryable
	}
	return nil
}

// DeleteJob removes a job.
func (s *GormStorage) DeleteJob(ctx context.Context, jobID string) error {
	res := s.db.WithContext(ctx).Where("id = ?", jobID).Delete(&core.Job{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return core.ErrJobNotFound
	}
	return nil
}

// TrimTerminal evicts terminal jobs beyond keep per terminal status, oldest
// first.
func (s *GormStorage) TrimTerminal(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	var evicted int64
	for _, status := range []core.JobStatus{core.StatusCompleted, core.StatusFailed} {
		var ids []string
		err := s.db.WithContext(ctx).
			Model(&core.Job{}).
			Where("status = ?", status).
			Order("created_at DESC").
			Offset(keep).
			Limit(1000).
			Pluck("id", &ids).Error
		if err != nil {
			return evicted, err
		}
		if len(ids) == 0 {
			continue
		}
		res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&core.Job{})
		if res.Error != nil {
			return evicted, res.Error
		}
		evicted += res.RowsAffected
	}
	return evicted, nil
}
