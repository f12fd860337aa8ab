package queue

import "context"

// HandlerFunc processes one claimed job. The returned value, if any, is
// serialized to JSON and stored as the job's result on success. Returning an
// error (or panicking) marks the attempt as failed and drives the retry
// state machine.
//
// The context is detached from the queue lifecycle so that graceful shutdown
// can drain in-flight handlers instead of interrupting them.
type HandlerFunc func(ctx context.Context, job Job) (any, error)
