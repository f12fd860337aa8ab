package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobkit/pkg/kvstore"
)

// casRetries bounds read-modify-write loops on transitions that are expected
// to conflict only under external interference, never in normal operation.
const casRetries = 5

// listPageSize is how many index entries a scan fetches per storage round trip.
const listPageSize = 200

// Repository maps jobs onto the key-value store and keeps the secondary
// index in lockstep with the primary records. Every transition that changes
// status or priority deletes the stale index entry and inserts the new one in
// the same atomic transaction as the record update; the pending-job query
// trusts the index exclusively, so a stale entry would be a correctness bug,
// not just a slow path.
type Repository struct {
	store kvstore.Store
}

// NewRepository creates a repository on top of the given store.
func NewRepository(store kvstore.Store) (*Repository, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	return &Repository{store: store}, nil
}

// ListFilter narrows and bounds ListJobs results.
type ListFilter struct {
	Status Status // empty matches all statuses
	Name   string // empty matches all names
	Limit  int    // defaults to 100
	Newest bool   // sort by creation time descending instead of ascending
}

// Create persists a new job and its index entry. Returns ErrJobExists when
// the ID is already taken.
func (r *Repository) Create(ctx context.Context, job *Job) error {
	value, err := json.Marshal(job)
	if err != nil {
		return errors.Join(ErrPayloadMarshal, err)
	}

	err = r.store.Atomic(ctx, kvstore.Transaction{
		Checks: []kvstore.Check{{Key: jobKey(job.ID), Version: 0}},
		Writes: []kvstore.Write{
			{Key: jobKey(job.ID), Value: value},
			{Key: idxKey(job), Value: []byte(job.ID.String())},
		},
	})
	if errors.Is(err, kvstore.ErrTxnConflict) {
		return ErrJobExists
	}
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

// FindByID loads a job by its identifier.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*Job, error) {
	job, _, err := r.load(ctx, id)
	return job, err
}

// UpdateStatus moves a job to the given status, relocating its index entry.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Job, error) {
	return r.mutate(ctx, id, func(j *Job) error {
		j.Status = status
		return nil
	})
}

// GetPendingJobs returns up to limit jobs that are ready to be claimed,
// ordered by priority descending, then creation time ascending. Jobs whose
// scheduled time lies in the future are never returned.
func (r *Repository) GetPendingJobs(ctx context.Context, limit int) ([]Job, error) {
	now := time.Now()

	pending, err := r.scanReady(ctx, StatusPending, limit, now)
	if err != nil {
		return nil, err
	}
	retrying, err := r.scanReady(ctx, StatusRetrying, limit, now)
	if err != nil {
		return nil, err
	}
	return mergeReady(pending, retrying, limit), nil
}

// ListJobs returns jobs matching the filter, sorted by creation time.
func (r *Repository) ListJobs(ctx context.Context, filter ListFilter) ([]Job, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var jobs []Job
	var err error
	if filter.Status != "" {
		jobs, err = r.collectByStatus(ctx, filter.Status, filter.Name, limit)
	} else {
		jobs, err = r.collectAll(ctx, filter.Name, limit)
	}
	if err != nil {
		return nil, err
	}

	sort.Slice(jobs, func(i, k int) bool {
		if filter.Newest {
			return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
		}
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
	return jobs, nil
}

// GetStats counts jobs per status by walking the index.
func (r *Repository) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	counts := map[Status]*int{
		StatusPending:   &stats.Pending,
		StatusRunning:   &stats.Running,
		StatusRetrying:  &stats.Retrying,
		StatusCompleted: &stats.Completed,
		StatusFailed:    &stats.Failed,
	}

	for status, counter := range counts {
		cursor := ""
		for {
			entries, next, err := r.store.List(ctx, idxStatusPrefix(status), cursor, listPageSize)
			if err != nil {
				return Stats{}, fmt.Errorf("stats scan %s: %w", status, err)
			}
			*counter += len(entries)
			if next == "" {
				break
			}
			cursor = next
		}
	}
	stats.Total = stats.Pending + stats.Running + stats.Retrying + stats.Completed + stats.Failed
	return stats, nil
}

// DeleteOldCompleted removes completed jobs finished longer than olderThan
// ago and returns how many were deleted.
func (r *Repository) DeleteOldCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	return r.deleteOldTerminal(ctx, StatusCompleted, olderThan)
}

// DeleteOldFailed removes failed jobs finished longer than olderThan ago and
// returns how many were deleted.
func (r *Repository) DeleteOldFailed(ctx context.Context, olderThan time.Duration) (int, error) {
	return r.deleteOldTerminal(ctx, StatusFailed, olderThan)
}

// Retry resets a failed job back to pending so the poll loop picks it up
// again. The attempt counter is deliberately left unchanged; only the error
// and execution timestamps are cleared. Returns ErrNotRetryable when the job
// is not in failed status.
func (r *Repository) Retry(ctx context.Context, id uuid.UUID) (*Job, error) {
	return r.mutate(ctx, id, func(j *Job) error {
		if j.Status != StatusFailed {
			return ErrNotRetryable
		}
		j.Status = StatusPending
		j.Error = nil
		j.StartedAt = nil
		j.CompletedAt = nil
		j.ProcessingBy = nil
		return nil
	})
}

// Claim atomically transitions a ready job to running on behalf of the given
// worker, advancing the attempt counter for the execution that now begins.
// It is single-shot: kvstore.ErrTxnConflict means another worker
// claimed the job first, which callers treat as a normal outcome and skip.
func (r *Repository) Claim(ctx context.Context, id, workerID uuid.UUID) (*Job, error) {
	job, ver, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if !job.Ready(now) {
		return nil, ErrNotClaimable
	}

	oldIdx := idxKey(job)
	job.Status = StatusRunning
	job.ProcessingBy = &workerID
	job.StartedAt = &now
	job.Attempts++

	value, err := json.Marshal(job)
	if err != nil {
		return nil, errors.Join(ErrPayloadMarshal, err)
	}

	err = r.store.Atomic(ctx, kvstore.Transaction{
		Checks: []kvstore.Check{{Key: jobKey(job.ID), Version: ver}},
		Writes: []kvstore.Write{
			{Key: jobKey(job.ID), Value: value},
			{Key: oldIdx, Delete: true},
			{Key: idxKey(job), Value: []byte(job.ID.String())},
		},
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Complete marks a running job as successfully finished.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) (*Job, error) {
	return r.mutate(ctx, id, func(j *Job) error {
		now := time.Now()
		j.Status = StatusCompleted
		j.CompletedAt = &now
		j.Result = result
		j.ProcessingBy = nil
		return nil
	})
}

// Fail records a failed execution: the job either goes back to the awaiting
// set with a backoff deadline (retryAt set) or terminally fails (retryAt
// nil). The attempt counter was already advanced by Claim when this
// execution started.
func (r *Repository) Fail(ctx context.Context, id uuid.UUID, errMsg string, retryAt *time.Time) (*Job, error) {
	return r.mutate(ctx, id, func(j *Job) error {
		j.Error = &errMsg
		j.ProcessingBy = nil
		if retryAt != nil {
			j.Status = StatusRetrying
			j.ScheduledFor = retryAt
			return nil
		}
		now := time.Now()
		j.Status = StatusFailed
		j.CompletedAt = &now
		j.ScheduledFor = nil
		return nil
	})
}

// PromoteDue clears the scheduled time of awaiting jobs whose deadline has
// passed, moving them into the ready set. The status is left untouched: a
// delayed or retrying job is already conceptually awaiting a worker.
func (r *Repository) PromoteDue(ctx context.Context, limit int) (int, error) {
	now := time.Now()
	promoted := 0

	for _, status := range []Status{StatusPending, StatusRetrying} {
		entries, _, err := r.store.List(ctx, idxStatusPrefix(status), "", limit)
		if err != nil {
			return promoted, fmt.Errorf("promote scan %s: %w", status, err)
		}
		for _, e := range entries {
			id, err := idxKeyJobID(e.Key)
			if err != nil {
				continue
			}
			job, err := r.FindByID(ctx, id)
			if err != nil || job.ScheduledFor == nil || job.ScheduledFor.After(now) {
				continue
			}
			if _, err := r.mutate(ctx, id, func(j *Job) error {
				if !j.Status.Awaiting() || j.ScheduledFor == nil || j.ScheduledFor.After(now) {
					return errSkipPromotion
				}
				j.ScheduledFor = nil
				return nil
			}); err == nil {
				promoted++
			}
		}
	}
	return promoted, nil
}

// errSkipPromotion aborts a promotion mutate when a concurrent transition
// already moved the job on; not surfaced to callers.
var errSkipPromotion = errors.New("job no longer due for promotion")

// load reads and decodes a job together with its storage version.
func (r *Repository) load(ctx context.Context, id uuid.UUID) (*Job, kvstore.Version, error) {
	value, ver, err := r.store.Get(ctx, jobKey(id))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, 0, ErrJobNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load job %s: %w", id, err)
	}

	var job Job
	if err := json.Unmarshal(value, &job); err != nil {
		return nil, 0, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, ver, nil
}

// mutate applies fn to a freshly loaded job and writes the result back,
// relocating the index entry when the mutation moved it. Conflicts are
// retried a few times; they are unexpected here because each of these
// transitions is performed by the worker that owns the job.
func (r *Repository) mutate(ctx context.Context, id uuid.UUID, fn func(*Job) error) (*Job, error) {
	for range casRetries {
		job, ver, err := r.load(ctx, id)
		if err != nil {
			return nil, err
		}

		oldIdx := idxKey(job)
		if err := fn(job); err != nil {
			return nil, err
		}

		value, err := json.Marshal(job)
		if err != nil {
			return nil, errors.Join(ErrPayloadMarshal, err)
		}

		writes := []kvstore.Write{{Key: jobKey(job.ID), Value: value}}
		if newIdx := idxKey(job); newIdx != oldIdx {
			writes = append(writes,
				kvstore.Write{Key: oldIdx, Delete: true},
				kvstore.Write{Key: newIdx, Value: []byte(job.ID.String())},
			)
		}

		err = r.store.Atomic(ctx, kvstore.Transaction{
			Checks: []kvstore.Check{{Key: jobKey(job.ID), Version: ver}},
			Writes: writes,
		})
		if errors.Is(err, kvstore.ErrTxnConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update job %s: %w", job.ID, err)
		}
		return job, nil
	}
	return nil, kvstore.ErrTxnConflict
}

// scanReady walks one status prefix of the index collecting up to limit jobs
// that are claimable right now. The index is already ordered by inverted
// priority and age, so the slice comes back in claim-preference order.
func (r *Repository) scanReady(ctx context.Context, status Status, limit int, now time.Time) ([]Job, error) {
	jobs := make([]Job, 0, limit)
	cursor := ""
	for len(jobs) < limit {
		entries, next, err := r.store.List(ctx, idxStatusPrefix(status), cursor, listPageSize)
		if err != nil {
			return nil, fmt.Errorf("ready scan %s: %w", status, err)
		}
		for _, e := range entries {
			if len(jobs) == limit {
				break
			}
			id, err := idxKeyJobID(e.Key)
			if err != nil {
				continue
			}
			job, err := r.FindByID(ctx, id)
			if err != nil {
				// Entry raced with a concurrent transition; skip.
				continue
			}
			if job.Ready(now) {
				jobs = append(jobs, *job)
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return jobs, nil
}

// mergeReady merges two claim-preference-ordered slices, preserving priority
// descending then creation time ascending across both.
func mergeReady(a, b []Job, limit int) []Job {
	merged := make([]Job, 0, min(limit, len(a)+len(b)))
	i, k := 0, 0
	for len(merged) < limit && (i < len(a) || k < len(b)) {
		switch {
		case i == len(a):
			merged = append(merged, b[k])
			k++
		case k == len(b):
			merged = append(merged, a[i])
			i++
		case claimBefore(&a[i], &b[k]):
			merged = append(merged, a[i])
			i++
		default:
			merged = append(merged, b[k])
			k++
		}
	}
	return merged
}

// claimBefore reports whether x should be claimed ahead of y.
func claimBefore(x, y *Job) bool {
	if x.Priority != y.Priority {
		return x.Priority > y.Priority
	}
	return x.CreatedAt.Before(y.CreatedAt)
}

func (r *Repository) collectByStatus(ctx context.Context, status Status, name string, limit int) ([]Job, error) {
	jobs := make([]Job, 0, limit)
	cursor := ""
	for len(jobs) < limit {
		entries, next, err := r.store.List(ctx, idxStatusPrefix(status), cursor, listPageSize)
		if err != nil {
			return nil, fmt.Errorf("list scan %s: %w", status, err)
		}
		for _, e := range entries {
			if len(jobs) == limit {
				break
			}
			id, err := idxKeyJobID(e.Key)
			if err != nil {
				continue
			}
			job, err := r.FindByID(ctx, id)
			if err != nil {
				continue
			}
			if name == "" || job.Name == name {
				jobs = append(jobs, *job)
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return jobs, nil
}

func (r *Repository) collectAll(ctx context.Context, name string, limit int) ([]Job, error) {
	jobs := make([]Job, 0, limit)
	cursor := ""
	for len(jobs) < limit {
		entries, next, err := r.store.List(ctx, jobKeyPrefix, cursor, listPageSize)
		if err != nil {
			return nil, fmt.Errorf("list scan: %w", err)
		}
		for _, e := range entries {
			if len(jobs) == limit {
				break
			}
			var job Job
			if err := json.Unmarshal(e.Value, &job); err != nil {
				continue
			}
			if name == "" || job.Name == name {
				jobs = append(jobs, job)
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return jobs, nil
}

func (r *Repository) deleteOldTerminal(ctx context.Context, status Status, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	deleted := 0
	cursor := ""
	for {
		entries, next, err := r.store.List(ctx, idxStatusPrefix(status), cursor, listPageSize)
		if err != nil {
			return deleted, fmt.Errorf("cleanup scan %s: %w", status, err)
		}
		for _, e := range entries {
			id, err := idxKeyJobID(e.Key)
			if err != nil {
				continue
			}
			job, ver, err := r.load(ctx, id)
			if err != nil {
				continue
			}
			if job.Status != status || job.CompletedAt == nil || job.CompletedAt.After(cutoff) {
				continue
			}
			err = r.store.Atomic(ctx, kvstore.Transaction{
				Checks: []kvstore.Check{{Key: jobKey(id), Version: ver}},
				Writes: []kvstore.Write{
					{Key: jobKey(id), Delete: true},
					{Key: idxKey(job), Delete: true},
				},
			})
			if err == nil {
				deleted++
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return deleted, nil
}
