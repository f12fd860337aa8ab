package scheduler

import (
	"context"
	"time"
)

// BackdateNextRun rewrites a schedule's next run so loop tests can make it
// due without waiting for a real cron boundary.
func (s *Scheduler) BackdateNextRun(ctx context.Context, name string, at time.Time) error {
	_, err := s.mutate(ctx, name, func(sc *Schedule) error {
		sc.NextRun = &at
		return nil
	})
	return err
}
