package queue

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/augurhq/augur/pkg/core"
	"github.com/augurhq/augur/pkg/security"
	"github.com/augurhq/augur/pkg/storage"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := storage.NewGormStorage(db)
	require.NoError(t, store.Migrate(context.Background()))
	return New(store)
}

func TestEnqueue_PersistsJobWithDefaults(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	query := core.Query{Text: "what is 2+2", Context: map[string]string{"lang": "en"}}
	job, err := q.Enqueue(ctx, query, "fp1", Options{})
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, core.StatusWaiting, job.Status)
	assert.Equal(t, core.PriorityNormal, job.Priority)
	assert.Equal(t, 1, job.MaxAttempts)

	got, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "what is 2+2", got.QueryText)
	assert.Equal(t, map[string]string{"lang": "en"}, got.Query().Context)
}

func TestEnqueue_CallerSuppliedID(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, core.Query{Text: "q"}, "fp1", Options{JobID: "my-id"})
	require.NoError(t, err)
	assert.Equal(t, "my-id", job.ID)
}

func TestEnqueue_DuplicateIDIsError(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, core.Query{Text: "q"}, "fp1", Options{JobID: "my-id"})
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, core.Query{Text: "other"}, "fp2", Options{JobID: "my-id"})
	assert.ErrorIs(t, err, core.ErrDuplicateJobID)
}

func TestEnqueue_RejectsOversizedQuery(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Enqueue(context.Background(), core.Query{
		Text: strings.Repeat("a", security.MaxQueryLength+1),
	}, "fp1", Options{})
	assert.ErrorIs(t, err, core.ErrQueryTooLarge)
}

func TestEnqueue_RejectsBadCallbackURL(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Enqueue(context.Background(), core.Query{Text: "q"}, "fp1", Options{
		CallbackURL: "ftp://example.com/hook",
	})
	assert.ErrorIs(t, err, core.ErrInvalidCallbackURL)
}

func TestEnqueue_UsesQueueDefaultAttempts(t *testing.T) {
	q := newTestQueue(t)
	q.SetDefaultMaxAttempts(5)

	job, err := q.Enqueue(context.Background(), core.Query{Text: "q"}, "fp1", Options{})
	require.NoError(t, err)
	assert.Equal(t, 5, job.MaxAttempts)
}

func TestEnqueue_ClampsMaxAttempts(t *testing.T) {
	q := newTestQueue(t)

	job, err := q.Enqueue(context.Background(), core.Query{Text: "q"}, "fp1", Options{MaxAttempts: 10000})
	require.NoError(t, err)
	assert.Equal(t, security.MaxAttempts, job.MaxAttempts)
}

func TestEnqueue_EmitsJobQueuedEvent(t *testing.T) {
	q := newTestQueue(t)
	events := q.Events()
	defer q.Unsubscribe(events)

	job, err := q.Enqueue(context.Background(), core.Query{Text: "q"}, "fp1", Options{})
	require.NoError(t, err)

	select {
	case e := <-events:
		queued, ok := e.(*core.JobQueued)
		require.True(t, ok, "expected *core.JobQueued, got %T", e)
		assert.Equal(t, job.ID, queued.Job.ID)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestRetry_OnlyTerminalJobs(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, core.Query{Text: "q"}, "fp1", Options{})
	require.NoError(t, err)

	assert.ErrorIs(t, q.Retry(ctx, job.ID), core.ErrJobNotRetryable)
}

func TestRemove(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, core.Query{Text: "q"}, "fp1", Options{})
	require.NoError(t, err)
	require.NoError(t, q.Remove(ctx, job.ID))

	got, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, q.Remove(ctx, job.ID), core.ErrJobNotFound)
}

func TestHooks_CalledInRegistrationOrder(t *testing.T) {
	q := newTestQueue(t)

	var order []string
	q.OnJobComplete(func(ctx context.Context, job *core.Job) {
		order = append(order, "first")
	})
	q.OnJobComplete(func(ctx context.Context, job *core.Job) {
		order = append(order, "second")
	})

	q.CallCompleteHooks(context.Background(), &core.Job{ID: "job-1"})
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestFailHooks_ReceiveError(t *testing.T) {
	q := newTestQueue(t)

	var gotErr error
	q.OnJobFail(func(ctx context.Context, job *core.Job, err error) {
		gotErr = err
	})

	boom := &core.ExecutionError{ExitCode: 1, Err: context.DeadlineExceeded}
	q.CallFailHooks(context.Background(), &core.Job{ID: "job-1"}, boom)
	assert.Equal(t, boom, gotErr)
}

func TestEmit_DropsWhenSubscriberBufferFull(t *testing.T) {
	q := newTestQueue(t)
	events := q.Events()
	defer q.Unsubscribe(events)

	// Overflow the subscriber buffer; Emit must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			q.Emit(&core.JobQueued{Job: &core.Job{ID: "x"}, Timestamp: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full subscriber")
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	q := newTestQueue(t)
	events := q.Events()
	q.Unsubscribe(events)

	q.Emit(&core.JobQueued{Job: &core.Job{ID: "x"}, Timestamp: time.Now()})

	select {
	case e := <-events:
		t.Fatalf("received event after unsubscribe: %T", e)
	default:
	}
}
