package queue

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Option is a functional option for configuring the queue engine.
type Option func(*options)

type options struct {
	pollInterval      time.Duration
	claimBatchSize    int
	maxConcurrent     int
	defaultMaxRetries int
	baseDelay         time.Duration
	maxDelay          time.Duration
	workerID          uuid.UUID
	logger            *slog.Logger
	notifier          Notifier
}

// WithPollInterval sets how often the engine looks for ready jobs.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithClaimBatchSize sets how many ready jobs one poll cycle fetches.
func WithClaimBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.claimBatchSize = n
		}
	}
}

// WithMaxConcurrent caps how many handlers may run at the same time.
func WithMaxConcurrent(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithDefaultMaxRetries sets the retry budget applied when an enqueue call
// does not specify one.
func WithDefaultMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.defaultMaxRetries = n
		}
	}
}

// WithBaseDelay sets the first retry backoff; each further attempt doubles it.
func WithBaseDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.baseDelay = d
		}
	}
}

// WithMaxDelay caps the exponential retry backoff.
func WithMaxDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maxDelay = d
		}
	}
}

// WithWorkerID overrides the generated worker identity used in claims.
func WithWorkerID(id uuid.UUID) Option {
	return func(o *options) {
		if id != uuid.Nil {
			o.workerID = id
		}
	}
}

// WithLogger sets the logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithNotifier sets the push channel for job lifecycle events.
func WithNotifier(n Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifier = n
		}
	}
}

// FromConfig applies every numeric setting from an env-parsed Config.
func FromConfig(cfg Config) Option {
	return func(o *options) {
		WithPollInterval(cfg.PollInterval)(o)
		WithClaimBatchSize(cfg.ClaimBatchSize)(o)
		WithMaxConcurrent(cfg.MaxConcurrent)(o)
		WithDefaultMaxRetries(cfg.DefaultMaxRetries)(o)
		WithBaseDelay(cfg.BaseDelay)(o)
		WithMaxDelay(cfg.MaxDelay)(o)
	}
}

// EnqueueOption is a functional option for a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	priority   int
	maxRetries int
	delay      time.Duration
	jobID      uuid.UUID
}

// WithPriority sets the job priority; higher values are claimed first.
func WithPriority(priority int) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = priority
	}
}

// WithMaxRetries overrides the engine default retry budget for this job.
func WithMaxRetries(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithDelay makes the job ineligible for claim until now+delay.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// WithJobID fixes the job identifier instead of generating one; useful for
// idempotent enqueues.
func WithJobID(id uuid.UUID) EnqueueOption {
	return func(o *enqueueOptions) {
		if id != uuid.Nil {
			o.jobID = id
		}
	}
}
