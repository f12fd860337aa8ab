package scheduler

import "errors"

var (
	// ErrStoreNil is returned when the scheduler is created without a store.
	ErrStoreNil = errors.New("scheduler: store is nil")
	// ErrNameRequired is returned when a schedule name is empty.
	ErrNameRequired = errors.New("scheduler: schedule name is required")
	// ErrHandlerNil is returned when a schedule is registered without a handler.
	ErrHandlerNil = errors.New("scheduler: handler is nil")
	// ErrInvalidCron is returned when a cron expression cannot be parsed or
	// never matches any future time. Surfaced at registration, not at runtime.
	ErrInvalidCron = errors.New("scheduler: invalid cron expression")
	// ErrScheduleNotFound is returned when the named schedule is not registered.
	ErrScheduleNotFound = errors.New("scheduler: schedule not found")
	// ErrAlreadyStarted is returned when Start is called on a running scheduler.
	ErrAlreadyStarted = errors.New("scheduler: already started")
	// ErrNotStarted is returned when Stop is called on a stopped scheduler.
	ErrNotStarted = errors.New("scheduler: not started")
)
