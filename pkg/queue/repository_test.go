package queue_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/kvstore"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

func newTestRepo(t *testing.T) *queue.Repository {
	t.Helper()
	repo, err := queue.NewRepository(kvstore.NewMemoryStore())
	require.NoError(t, err)
	return repo
}

func makeJob(name string, priority int, createdAt time.Time) *queue.Job {
	return &queue.Job{
		ID:         uuid.New(),
		Name:       name,
		Status:     queue.StatusPending,
		Priority:   priority,
		MaxRetries: 3,
		CreatedAt:  createdAt,
	}
}

func TestRepository_CreateAndFind(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	job := makeJob("send-email", 5, time.Now())
	job.Payload = json.RawMessage(`{"to":"user@example.com"}`)
	require.NoError(t, repo.Create(ctx, job))

	found, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, found.ID)
	assert.Equal(t, "send-email", found.Name)
	assert.Equal(t, queue.StatusPending, found.Status)
	assert.Equal(t, 5, found.Priority)
	assert.JSONEq(t, `{"to":"user@example.com"}`, string(found.Payload))
}

func TestRepository_CreateDuplicate(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	job := makeJob("send-email", 0, time.Now())
	require.NoError(t, repo.Create(ctx, job))
	assert.ErrorIs(t, repo.Create(ctx, job), queue.ErrJobExists)
}

func TestRepository_FindMissing(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	_, err := repo.FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestRepository_Claim(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()
	workerID := uuid.New()

	t.Run("pending job becomes running", func(t *testing.T) {
		job := makeJob("resize-image", 0, time.Now())
		require.NoError(t, repo.Create(ctx, job))

		claimed, err := repo.Claim(ctx, job.ID, workerID)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusRunning, claimed.Status)
		require.NotNil(t, claimed.ProcessingBy)
		assert.Equal(t, workerID, *claimed.ProcessingBy)
		assert.NotNil(t, claimed.StartedAt)
		assert.Equal(t, 1, claimed.Attempts, "claiming starts an execution attempt")
	})

	t.Run("running job cannot be claimed again", func(t *testing.T) {
		job := makeJob("resize-image", 0, time.Now())
		require.NoError(t, repo.Create(ctx, job))

		_, err := repo.Claim(ctx, job.ID, workerID)
		require.NoError(t, err)

		_, err = repo.Claim(ctx, job.ID, uuid.New())
		assert.ErrorIs(t, err, queue.ErrNotClaimable)
	})

	t.Run("future scheduled job is not claimable", func(t *testing.T) {
		job := makeJob("reminder", 0, time.Now())
		at := time.Now().Add(time.Hour)
		job.ScheduledFor = &at
		require.NoError(t, repo.Create(ctx, job))

		_, err := repo.Claim(ctx, job.ID, workerID)
		assert.ErrorIs(t, err, queue.ErrNotClaimable)
	})
}

func TestRepository_CompleteAndFail(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	claim := func(t *testing.T) *queue.Job {
		t.Helper()
		job := makeJob("report", 0, time.Now())
		require.NoError(t, repo.Create(ctx, job))
		claimed, err := repo.Claim(ctx, job.ID, uuid.New())
		require.NoError(t, err)
		return claimed
	}

	t.Run("complete records result", func(t *testing.T) {
		job := claim(t)
		done, err := repo.Complete(ctx, job.ID, json.RawMessage(`{"rows":42}`))
		require.NoError(t, err)
		assert.Equal(t, queue.StatusCompleted, done.Status)
		assert.NotNil(t, done.CompletedAt)
		assert.Nil(t, done.ProcessingBy)
		assert.JSONEq(t, `{"rows":42}`, string(done.Result))
	})

	t.Run("fail with retry deadline moves to retrying", func(t *testing.T) {
		job := claim(t)
		at := time.Now().Add(time.Minute)
		failed, err := repo.Fail(ctx, job.ID, "connection refused", &at)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusRetrying, failed.Status)
		assert.Equal(t, 1, failed.Attempts)
		require.NotNil(t, failed.Error)
		assert.Equal(t, "connection refused", *failed.Error)
		require.NotNil(t, failed.ScheduledFor)
		assert.WithinDuration(t, at, *failed.ScheduledFor, time.Second)
	})

	t.Run("fail without retry deadline is terminal", func(t *testing.T) {
		job := claim(t)
		failed, err := repo.Fail(ctx, job.ID, "boom", nil)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusFailed, failed.Status)
		assert.Equal(t, 1, failed.Attempts)
		assert.NotNil(t, failed.CompletedAt)
		assert.Nil(t, failed.ScheduledFor)
	})
}

func TestRepository_Retry(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	job := makeJob("export", 0, time.Now())
	require.NoError(t, repo.Create(ctx, job))

	t.Run("only failed jobs are retryable", func(t *testing.T) {
		_, err := repo.Retry(ctx, job.ID)
		assert.ErrorIs(t, err, queue.ErrNotRetryable)
	})

	_, err := repo.Claim(ctx, job.ID, uuid.New())
	require.NoError(t, err)
	_, err = repo.Fail(ctx, job.ID, "disk full", nil)
	require.NoError(t, err)

	t.Run("resets to pending keeping the attempt count", func(t *testing.T) {
		retried, err := repo.Retry(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusPending, retried.Status)
		assert.Equal(t, 1, retried.Attempts)
		assert.Nil(t, retried.Error)
		assert.Nil(t, retried.StartedAt)
		assert.Nil(t, retried.CompletedAt)
	})
}

func TestRepository_GetPendingJobs(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	low := makeJob("low", 1, base)
	oldHigh := makeJob("old-high", 10, base.Add(time.Second))
	newHigh := makeJob("new-high", 10, base.Add(2*time.Second))
	future := makeJob("future", 50, base)
	at := time.Now().Add(time.Hour)
	future.ScheduledFor = &at

	for _, j := range []*queue.Job{low, oldHigh, newHigh, future} {
		require.NoError(t, repo.Create(ctx, j))
	}

	running := makeJob("busy", 99, base)
	require.NoError(t, repo.Create(ctx, running))
	_, err := repo.Claim(ctx, running.ID, uuid.New())
	require.NoError(t, err)

	jobs, err := repo.GetPendingJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	// Priority descending, then oldest first. Future-scheduled and running
	// jobs never appear.
	assert.Equal(t, oldHigh.ID, jobs[0].ID)
	assert.Equal(t, newHigh.ID, jobs[1].ID)
	assert.Equal(t, low.ID, jobs[2].ID)

	jobs, err = repo.GetPendingJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, oldHigh.ID, jobs[0].ID)
}

func TestRepository_GetPendingJobsIncludesDueRetrying(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	job := makeJob("flaky", 0, time.Now().Add(-time.Minute))
	require.NoError(t, repo.Create(ctx, job))
	_, err := repo.Claim(ctx, job.ID, uuid.New())
	require.NoError(t, err)
	past := time.Now().Add(-time.Second)
	_, err = repo.Fail(ctx, job.ID, "transient", &past)
	require.NoError(t, err)

	jobs, err := repo.GetPendingJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
	assert.Equal(t, queue.StatusRetrying, jobs[0].Status)
}

func TestRepository_PromoteDue(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	due := makeJob("due", 0, time.Now())
	past := time.Now().Add(-time.Second)
	due.ScheduledFor = &past
	require.NoError(t, repo.Create(ctx, due))

	notYet := makeJob("not-yet", 0, time.Now())
	later := time.Now().Add(time.Hour)
	notYet.ScheduledFor = &later
	require.NoError(t, repo.Create(ctx, notYet))

	promoted, err := repo.PromoteDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	got, err := repo.FindByID(ctx, due.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ScheduledFor)
	assert.Equal(t, queue.StatusPending, got.Status)

	got, err = repo.FindByID(ctx, notYet.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ScheduledFor)
}

func TestRepository_ListJobs(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	first := makeJob("send-email", 0, base)
	second := makeJob("send-email", 0, base.Add(time.Second))
	other := makeJob("resize-image", 0, base.Add(2*time.Second))
	for _, j := range []*queue.Job{first, second, other} {
		require.NoError(t, repo.Create(ctx, j))
	}
	_, err := repo.Claim(ctx, other.ID, uuid.New())
	require.NoError(t, err)

	t.Run("filter by name", func(t *testing.T) {
		jobs, err := repo.ListJobs(ctx, queue.ListFilter{Name: "send-email"})
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, first.ID, jobs[0].ID)
		assert.Equal(t, second.ID, jobs[1].ID)
	})

	t.Run("filter by status", func(t *testing.T) {
		jobs, err := repo.ListJobs(ctx, queue.ListFilter{Status: queue.StatusRunning})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, other.ID, jobs[0].ID)
	})

	t.Run("newest first", func(t *testing.T) {
		jobs, err := repo.ListJobs(ctx, queue.ListFilter{Newest: true})
		require.NoError(t, err)
		require.Len(t, jobs, 3)
		assert.Equal(t, other.ID, jobs[0].ID)
		assert.Equal(t, first.ID, jobs[2].ID)
	})

	t.Run("limit", func(t *testing.T) {
		jobs, err := repo.ListJobs(ctx, queue.ListFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, jobs, 1)
	})
}

func TestRepository_GetStats(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	for range 3 {
		require.NoError(t, repo.Create(ctx, makeJob("a", 0, time.Now())))
	}
	running := makeJob("b", 0, time.Now())
	require.NoError(t, repo.Create(ctx, running))
	_, err := repo.Claim(ctx, running.ID, uuid.New())
	require.NoError(t, err)

	failed := makeJob("c", 0, time.Now())
	require.NoError(t, repo.Create(ctx, failed))
	_, err = repo.Claim(ctx, failed.ID, uuid.New())
	require.NoError(t, err)
	_, err = repo.Fail(ctx, failed.ID, "broken", nil)
	require.NoError(t, err)

	stats, err := repo.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pending)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Retrying)
	assert.Equal(t, 0, stats.Completed)
	assert.Equal(t, 5, stats.Total)
}

func TestRepository_DeleteOldTerminal(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	ctx := context.Background()

	finish := func(t *testing.T, name string, fail bool, completedAt time.Time) uuid.UUID {
		t.Helper()
		job := makeJob(name, 0, time.Now())
		require.NoError(t, repo.Create(ctx, job))
		_, err := repo.Claim(ctx, job.ID, uuid.New())
		require.NoError(t, err)
		if fail {
			_, err = repo.Fail(ctx, job.ID, "gone", nil)
		} else {
			_, err = repo.Complete(ctx, job.ID, nil)
		}
		require.NoError(t, err)
		require.NoError(t, repo.BackdateCompletion(ctx, job.ID, completedAt))
		return job.ID
	}

	oldDone := finish(t, "old-done", false, time.Now().Add(-48*time.Hour))
	newDone := finish(t, "new-done", false, time.Now())
	oldFailed := finish(t, "old-failed", true, time.Now().Add(-48*time.Hour))

	deleted, err := repo.DeleteOldCompleted(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = repo.FindByID(ctx, oldDone)
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
	_, err = repo.FindByID(ctx, newDone)
	assert.NoError(t, err)
	_, err = repo.FindByID(ctx, oldFailed)
	assert.NoError(t, err, "failed jobs are untouched by completed cleanup")

	deleted, err = repo.DeleteOldFailed(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	_, err = repo.FindByID(ctx, oldFailed)
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}
