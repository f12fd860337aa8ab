package queue

import "errors"

// Common errors
var (
	// ErrStoreNil is returned when a nil store is provided to a constructor.
	ErrStoreNil = errors.New("store cannot be nil")

	// ErrNameRequired is returned when enqueueing a job without a name.
	ErrNameRequired = errors.New("job name is required")

	// ErrInvalidPriority is returned when priority is negative or above MaxPriority.
	ErrInvalidPriority = errors.New("priority must be between 0 and 99999")

	// ErrPayloadMarshal is returned when the payload cannot be encoded to JSON.
	ErrPayloadMarshal = errors.New("failed to marshal payload to JSON")

	// ErrNoPayload is returned when decoding the payload of a job that has none.
	ErrNoPayload = errors.New("job has no payload")

	// ErrJobNotFound is returned when a job does not exist in storage.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when creating a job whose ID is already taken.
	ErrJobExists = errors.New("job already exists")

	// ErrNotRetryable is returned by Retry when the job is not in failed status.
	ErrNotRetryable = errors.New("only failed jobs can be retried")

	// ErrNotClaimable is returned when attempting to claim a job that is not ready.
	ErrNotClaimable = errors.New("job is not ready to be claimed")

	// ErrNoHandlerRegistered is recorded as the failure reason of a job whose
	// name has no registered handler at dispatch time.
	ErrNoHandlerRegistered = errors.New("no handler registered for job name")

	// ErrAlreadyStarted is returned when starting a queue that is running.
	ErrAlreadyStarted = errors.New("queue already started")

	// ErrNotStarted is returned when stopping a queue that is not running.
	ErrNotStarted = errors.New("queue not started")
)
