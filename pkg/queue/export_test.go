package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BackdateCompletion rewrites a terminal job's completion time so cleanup
// tests can age jobs without sleeping.
func (r *Repository) BackdateCompletion(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.mutate(ctx, id, func(j *Job) error {
		j.CompletedAt = &at
		return nil
	})
	return err
}
