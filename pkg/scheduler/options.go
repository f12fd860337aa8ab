package scheduler

import (
	"log/slog"
	"time"
)

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	checkInterval time.Duration
	logger        *slog.Logger
}

// WithCheckInterval sets how often the loop looks for due schedules. The
// default of one minute matches cron's resolution; tests lower it.
func WithCheckInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.checkInterval = d
		}
	}
}

// WithLogger sets the logger (defaults to slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// FromConfig applies an environment-derived configuration.
func FromConfig(cfg Config) Option {
	return func(o *options) {
		if cfg.CheckInterval > 0 {
			o.checkInterval = cfg.CheckInterval
		}
	}
}

// ScheduleOption configures one schedule registration.
type ScheduleOption func(*scheduleOptions)

type scheduleOptions struct {
	disabled bool
}

// WithDisabled registers the schedule without arming it. It keeps its state
// and can be armed later with Enable.
func WithDisabled() ScheduleOption {
	return func(o *scheduleOptions) {
		o.disabled = true
	}
}
