package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobkit/pkg/broadcast"
	"github.com/dmitrymomot/jobkit/pkg/kvstore"
)

// Queue is the job queue engine: it accepts work via Enqueue, claims ready
// jobs in a polling loop, and dispatches them to registered handlers with
// retry and exponential backoff on failure.
//
// Multiple engines may run against the same store, in one process or many;
// the atomic claim transaction guarantees that each attempt of a job is
// executed by exactly one of them. Claim order prefers higher priority and
// then older jobs, but under concurrent workers it is a preference, not a
// hard guarantee.
type Queue struct {
	repo     *Repository
	workerID uuid.UUID

	handlers map[string]HandlerFunc
	hmu      sync.RWMutex

	pollInterval      atomic.Int64 // nanoseconds, read at the top of every cycle
	claimBatchSize    int
	defaultMaxRetries int
	baseDelay         time.Duration
	maxDelay          time.Duration

	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex // protects ctx/cancel lifecycle
	stopMu   sync.Mutex // serializes stop begin against WaitGroup adds
	stopping atomic.Bool
	loopDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	logger   *slog.Logger
	notifier Notifier
}

// New creates a queue engine on top of the given store.
func New(store kvstore.Store, opts ...Option) (*Queue, error) {
	repo, err := NewRepository(store)
	if err != nil {
		return nil, err
	}

	options := &options{
		pollInterval:      5 * time.Second,
		claimBatchSize:    10,
		maxConcurrent:     10,
		defaultMaxRetries: 3,
		baseDelay:         time.Second,
		maxDelay:          5 * time.Minute,
		workerID:          uuid.New(),
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	q := &Queue{
		repo:              repo,
		workerID:          options.workerID,
		handlers:          make(map[string]HandlerFunc),
		claimBatchSize:    options.claimBatchSize,
		defaultMaxRetries: options.defaultMaxRetries,
		baseDelay:         options.baseDelay,
		maxDelay:          options.maxDelay,
		sem:               make(chan struct{}, options.maxConcurrent),
		logger:            options.logger,
		notifier:          options.notifier,
	}
	q.pollInterval.Store(int64(options.pollInterval))
	return q, nil
}

// Repository exposes direct read/administration access to the stored jobs.
func (q *Queue) Repository() *Repository {
	return q.repo
}

// Enqueue creates a pending job and returns it. The payload is serialized to
// JSON and stays opaque to the engine. With WithDelay the job is not eligible
// for claim until the delay has passed.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, opts ...EnqueueOption) (*Job, error) {
	if name == "" {
		return nil, ErrNameRequired
	}

	options := &enqueueOptions{
		maxRetries: q.defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.priority < 0 || options.priority > MaxPriority {
		return nil, ErrInvalidPriority
	}

	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, errors.Join(ErrPayloadMarshal, err)
		}
	}

	now := time.Now()
	job := &Job{
		ID:         options.jobID,
		Name:       name,
		Payload:    raw,
		Status:     StatusPending,
		Priority:   options.priority,
		MaxRetries: options.maxRetries,
		CreatedAt:  now,
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if options.delay > 0 {
		at := now.Add(options.delay)
		job.ScheduledFor = &at
	}

	if err := q.repo.Create(ctx, job); err != nil {
		return nil, err
	}

	q.logger.Debug("job enqueued",
		slog.String("job_id", job.ID.String()),
		slog.String("job_name", job.Name),
		slog.Int("priority", job.Priority))
	return job, nil
}

// Process registers the handler for a job name. Registration is
// last-writer-wins: re-registering a name replaces the previous handler and
// logs a warning.
func (q *Queue) Process(name string, handler HandlerFunc) {
	q.hmu.Lock()
	defer q.hmu.Unlock()

	if _, exists := q.handlers[name]; exists {
		q.logger.Warn("replacing existing job handler", slog.String("job_name", name))
	}
	q.handlers[name] = handler
}

// RetryJob resets a failed job back to pending. The attempt counter is left
// unchanged.
func (q *Queue) RetryJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	return q.repo.Retry(ctx, id)
}

// Stats returns a point-in-time count of jobs per status.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	return q.repo.GetStats(ctx)
}

// SetPollInterval adjusts the loop cadence. Takes effect on the next cycle.
func (q *Queue) SetPollInterval(d time.Duration) {
	if d > 0 {
		q.pollInterval.Store(int64(d))
	}
}

// Start begins the polling loop in the background.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancel != nil {
		return ErrAlreadyStarted
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.stopping.Store(false)
	q.loopDone = make(chan struct{})

	go q.run()

	q.logger.Info("queue started",
		slog.String("worker_id", q.workerID.String()),
		slog.Duration("poll_interval", time.Duration(q.pollInterval.Load())),
		slog.Int("max_concurrent", cap(q.sem)))
	return nil
}

// Stop shuts the engine down gracefully: no new claims are made once
// stopping has begun, and every in-flight handler is allowed to finish
// before Stop returns.
func (q *Queue) Stop() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancel == nil {
		return ErrNotStarted
	}

	q.stopMu.Lock()
	q.stopping.Store(true)
	q.stopMu.Unlock()

	q.cancel()
	q.cancel = nil

	q.logger.Info("queue stopping, draining in-flight jobs",
		slog.String("worker_id", q.workerID.String()))
	<-q.loopDone
	q.wg.Wait()

	q.logger.Info("queue stopped", slog.String("worker_id", q.workerID.String()))
	return nil
}

// Run starts the queue and returns a function suitable for errgroup.
func (q *Queue) Run(ctx context.Context) func() error {
	return func() error {
		if err := q.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return q.Stop()
	}
}

// run is the polling loop. It never blocks on handler completion; claimed
// jobs are dispatched to background goroutines bounded by the semaphore.
func (q *Queue) run() {
	defer close(q.loopDone)

	// First cycle immediately so short-lived processes pick up work without
	// waiting a full interval.
	q.cycle()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-time.After(time.Duration(q.pollInterval.Load())):
			q.cycle()
		}
	}
}

// cycle performs one promotion + fetch + claim pass.
func (q *Queue) cycle() {
	ctx := q.ctx

	if _, err := q.repo.PromoteDue(ctx, q.claimBatchSize); err != nil && ctx.Err() == nil {
		q.logger.Warn("failed to promote scheduled jobs", slog.String("error", err.Error()))
	}

	jobs, err := q.repo.GetPendingJobs(ctx, q.claimBatchSize)
	if err != nil {
		if ctx.Err() == nil {
			q.logger.Error("failed to fetch ready jobs", slog.String("error", err.Error()))
		}
		return
	}

	for i := range jobs {
		if q.stopping.Load() {
			return
		}

		// Reserve a concurrency slot before claiming so that a claimed job
		// never sits waiting for capacity.
		select {
		case q.sem <- struct{}{}:
		default:
			return // all slots busy, leave the rest for the next cycle
		}

		q.stopMu.Lock()
		if q.stopping.Load() {
			q.stopMu.Unlock()
			<-q.sem
			return
		}
		q.wg.Add(1)
		q.stopMu.Unlock()

		go q.claimAndProcess(jobs[i].ID)
	}
}

// claimAndProcess attempts the atomic claim and, on success, executes the
// job. Losing the claim race to another worker is expected under concurrency
// and is skipped silently.
func (q *Queue) claimAndProcess(id uuid.UUID) {
	defer q.wg.Done()
	defer func() { <-q.sem }()

	// Detached from the queue lifecycle: shutdown drains in-flight jobs
	// instead of aborting their storage transitions mid-flight.
	ctx := context.WithoutCancel(q.ctx)

	claimed, err := q.repo.Claim(ctx, id, q.workerID)
	if err != nil {
		switch {
		case errors.Is(err, kvstore.ErrTxnConflict), errors.Is(err, ErrNotClaimable):
			// Another worker got there first.
		case errors.Is(err, ErrJobNotFound):
			// Deleted between fetch and claim.
		default:
			q.logger.Error("failed to claim job",
				slog.String("job_id", id.String()),
				slog.String("error", err.Error()))
		}
		return
	}

	q.execute(ctx, claimed)
}

// execute dispatches one claimed job to its handler and records the outcome.
// Handler panics are recovered and treated as failures; nothing a handler
// does can take the engine down.
func (q *Queue) execute(ctx context.Context, job *Job) {
	start := time.Now()

	q.hmu.RLock()
	handler, ok := q.handlers[job.Name]
	q.hmu.RUnlock()

	if !ok {
		q.logger.Error("no handler registered for job",
			slog.String("job_id", job.ID.String()),
			slog.String("job_name", job.Name))
		q.handleFailure(ctx, job, fmt.Errorf("%w: %s", ErrNoHandlerRegistered, job.Name))
		return
	}

	var result any
	err := func() (execErr error) {
		defer func() {
			if r := recover(); r != nil {
				execErr = fmt.Errorf("panic in handler: %v", r)
			}
		}()
		result, execErr = handler(ctx, *job)
		return
	}()
	duration := time.Since(start)

	if err != nil {
		q.logger.Error("job failed",
			slog.String("job_id", job.ID.String()),
			slog.String("job_name", job.Name),
			slog.Int("attempt", job.Attempts),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		q.handleFailure(ctx, job, err)
		return
	}

	var raw json.RawMessage
	if result != nil {
		raw, err = json.Marshal(result)
		if err != nil {
			q.handleFailure(ctx, job, fmt.Errorf("marshal handler result: %w", err))
			return
		}
	}

	if _, err := q.repo.Complete(ctx, job.ID, raw); err != nil {
		q.logger.Error("failed to mark job completed",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()))
		return
	}

	q.logger.Info("job completed",
		slog.String("job_id", job.ID.String()),
		slog.String("job_name", job.Name),
		slog.Duration("duration", duration))
	q.notify(ctx, Event{JobID: job.ID, Name: job.Name, Status: StatusCompleted})
}

// handleFailure either schedules a retry with exponential backoff or fails
// the job permanently once the budget is exhausted. job.Attempts already
// counts the execution that just failed, so a job with maxRetries N runs at
// most N+1 times.
func (q *Queue) handleFailure(ctx context.Context, job *Job, execErr error) {
	var retryAt *time.Time
	if job.Attempts <= job.MaxRetries {
		at := time.Now().Add(q.backoff(job.Attempts))
		retryAt = &at
	}

	updated, err := q.repo.Fail(ctx, job.ID, execErr.Error(), retryAt)
	if err != nil {
		q.logger.Error("failed to record job failure",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()))
		return
	}

	if retryAt != nil {
		q.logger.Warn("job will be retried",
			slog.String("job_id", job.ID.String()),
			slog.String("job_name", job.Name),
			slog.Int("attempts", updated.Attempts),
			slog.Int("max_retries", job.MaxRetries),
			slog.Time("retry_at", *retryAt))
		q.notify(ctx, Event{JobID: job.ID, Name: job.Name, Status: StatusRetrying, Error: execErr.Error()})
		return
	}

	q.logger.Error("job permanently failed",
		slog.String("job_id", job.ID.String()),
		slog.String("job_name", job.Name),
		slog.Int("attempts", updated.Attempts))
	q.notify(ctx, Event{JobID: job.ID, Name: job.Name, Status: StatusFailed, Error: execErr.Error()})
}

// backoff returns baseDelay * 2^(attempt-1) capped at maxDelay.
func (q *Queue) backoff(attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 32 {
		return q.maxDelay
	}
	d := q.baseDelay << uint(shift)
	if d <= 0 || d > q.maxDelay {
		return q.maxDelay
	}
	return d
}

// notify publishes a lifecycle event; delivery is best effort.
func (q *Queue) notify(ctx context.Context, e Event) {
	if q.notifier == nil {
		return
	}
	_ = q.notifier.Broadcast(ctx, broadcast.Message[Event]{Data: e})
}
