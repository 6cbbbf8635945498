package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/augurhq/augur/pkg/core"
)

func testJob(id, fp string, priority core.Priority) *core.Job {
	return &core.Job{
		ID:          id,
		QueryText:   "what is the answer",
		Fingerprint: fp,
		Priority:    priority,
		MaxAttempts: 3,
	}
}

func TestEnqueue_GeneratesIDAndDefaults(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	job := &core.Job{QueryText: "q", Fingerprint: "fp1"}
	require.NoError(t, s.Enqueue(ctx, job))

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, core.StatusWaiting, job.Status)
	assert.Equal(t, core.PriorityNormal, job.Priority)
}

func TestEnqueue_DuplicateIDRejected(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, testJob("job-1", "fp1", core.PriorityNormal)))
	err := s.Enqueue(ctx, testJob("job-1", "fp2", core.PriorityNormal))
	assert.ErrorIs(t, err, core.ErrDuplicateJobID)
}

func TestDequeue_PriorityThenFIFO(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, testJob("normal-1", "fp1", core.PriorityNormal)))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.Enqueue(ctx, testJob("high-1", "fp2", core.PriorityHigh)))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.Enqueue(ctx, testJob("normal-2", "fp3", core.PriorityNormal)))

	var order []string
	for i := 0; i < 3; i++ {
		job, err := s.Dequeue(ctx, "w1", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, job)
		order = append(order, job.ID)
	}

	assert.Equal(t, []string{"high-1", "normal-1", "normal-2"}, order)
}

func TestDequeue_EmptyQueueReturnsNil(t *testing.T) {
	s := newTestStorage(t)

	job, err := s.Dequeue(context.Background(), "w1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestDequeue_LocksAndIncrementsAttempt(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, testJob("job-1", "fp1", core.PriorityNormal)))

	job, err := s.Dequeue(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, core.StatusActive, job.Status)
	assert.Equal(t, "w1", job.LockedBy)
	assert.Equal(t, 1, job.Attempt)

	// Locked job is invisible to a second worker.
	again, err := s.Dequeue(ctx, "w2", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestDequeue_DelayedJobOnlyOnceDue(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	job := testJob("job-1", "fp1", core.PriorityNormal)
	job.Status = core.StatusDelayed
	runAt := time.Now().Add(100 * time.Millisecond)
	job.RunAt = &runAt
	require.NoError(t, s.Enqueue(ctx, job))

	got, err := s.Dequeue(ctx, "w1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, got)

	time.Sleep(120 * time.Millisecond)
	got, err = s.Dequeue(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "job-1", got.ID)
}

func TestComplete_RequiresOwnership(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, testJob("job-1", "fp1", core.PriorityNormal)))
	_, err := s.Dequeue(ctx, "w1", time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Complete(ctx, "job-1", "imposter", nil), core.ErrJobNotOwned)

	require.NoError(t, s.Complete(ctx, "job-1", "w1", []byte(`{"kind":"text","text":"4"}`)))

	job, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.NotEmpty(t, job.Result)
	assert.Empty(t, job.LockedBy)
}

func TestFail_WithRetrySchedulesDelayed(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, testJob("job-1", "fp1", core.PriorityNormal)))
	_, err := s.Dequeue(ctx, "w1", time.Minute)
	require.NoError(t, err)

	retryAt := time.Now().Add(time.Minute)
	require.NoError(t, s.Fail(ctx, "job-1", "w1", "backend exploded", &retryAt))

	job, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusDelayed, job.Status)
	assert.Equal(t, "backend exploded", job.LastError)
	require.NotNil(t, job.RunAt)
}

func TestFail_TerminalKeepsLastError(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, testJob("job-1", "fp1", core.PriorityNormal)))
	_, err := s.Dequeue(ctx, "w1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.Fail(ctx, "job-1", "w1", "final failure", nil))

	job, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, job.Status)
	assert.Equal(t, "final failure", job.LastError)
	require.NotNil(t, job.CompletedAt)
}

func TestHeartbeat_ExtendsLock(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, testJob("job-1", "fp1", core.PriorityNormal)))
	job, err := s.Dequeue(ctx, "w1", time.Second)
	require.NoError(t, err)
	before := *job.LockedUntil

	require.NoError(t, s.Heartbeat(ctx, "job-1", "w1", time.Hour))

	job, err = s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, job.LockedUntil.After(before))
	require.NotNil(t, job.LastHeartbeatAt)
}

func TestReclaimStalled_RequeuesWhenAttemptsRemain(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, testJob("job-1", "fp1", core.PriorityNormal)))
	_, err := s.Dequeue(ctx, "w1", -time.Minute) // lock already expired
	require.NoError(t, err)

	stalled, err := s.ReclaimStalled(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, core.StatusWaiting, stalled[0].Status)

	job, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusWaiting, job.Status)
	assert.Empty(t, job.LockedBy)
}

func TestReclaimStalled_FailsWhenAttemptsExhausted(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	job := testJob("job-1", "fp1", core.PriorityNormal)
	job.MaxAttempts = 1
	require.NoError(t, s.Enqueue(ctx, job))
	_, err := s.Dequeue(ctx, "w1", -time.Minute)
	require.NoError(t, err)

	stalled, err := s.ReclaimStalled(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, core.StatusFailed, stalled[0].Status)

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.Equal(t, "worker lost mid-execution", got.LastError)
}

func TestReclaimStalled_IgnoresHealthyActiveJobs(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, testJob("job-1", "fp1", core.PriorityNormal)))
	_, err := s.Dequeue(ctx, "w1", time.Hour)
	require.NoError(t, err)

	stalled, err := s.ReclaimStalled(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, stalled)
}

func TestRequeueJob(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	job := testJob("job-1", "fp1", core.PriorityNormal)
	job.MaxAttempts = 1
	require.NoError(t, s.Enqueue(ctx, job))
	_, err := s.Dequeue(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, "job-1", "w1", "boom", nil))

	require.NoError(t, s.RequeueJob(ctx, "job-1"))

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusWaiting, got.Status)
	assert.Equal(t, 0, got.Attempt)
	assert.Empty(t, got.LastError)
}

func TestRequeueJob_RejectsNonTerminal(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, testJob("job-1", "fp1", core.PriorityNormal)))
	assert.ErrorIs(t, s.RequeueJob(ctx, "job-1"), core.ErrJobNotRetryable)
}

func TestDeleteJob(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, testJob("job-1", "fp1", core.PriorityNormal)))
	require.NoError(t, s.DeleteJob(ctx, "job-1"))

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, s.DeleteJob(ctx, "job-1"), core.ErrJobNotFound)
}

func TestListJobs_FiltersByStatus(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, testJob("a", "fp1", core.PriorityNormal)))
	require.NoError(t, s.Enqueue(ctx, testJob("b", "fp2", core.PriorityNormal)))
	_, err := s.Dequeue(ctx, "w1", time.Minute)
	require.NoError(t, err)

	waiting, err := s.ListJobs(ctx, []core.JobStatus{core.StatusWaiting}, 10)
	require.NoError(t, err)
	assert.Len(t, waiting, 1)

	all, err := s.ListJobs(ctx, nil, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCountByStatus(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, testJob("a", "fp1", core.PriorityNormal)))
	require.NoError(t, s.Enqueue(ctx, testJob("b", "fp2", core.PriorityNormal)))
	_, err := s.Dequeue(ctx, "w1", time.Minute)
	require.NoError(t, err)

	depths, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depths[core.StatusWaiting])
	assert.Equal(t, int64(1), depths[core.StatusActive])
}

func TestTrimTerminal_EvictsOldestFirst(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for _, id := range []string{"old", "mid", "new"} {
		require.NoError(t, s.Enqueue(ctx, testJob(id, "fp-"+id, core.PriorityNormal)))
		job, err := s.Dequeue(ctx, "w1", time.Minute)
		require.NoError(t, err)
		require.NoError(t, s.Complete(ctx, job.ID, "w1", nil))
		time.Sleep(5 * time.Millisecond)
	}

	evicted, err := s.TrimTerminal(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), evicted)

	gone, err := s.GetJob(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := s.GetJob(ctx, "new")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}
