package scheduler

import (
	"context"
	"time"
)

// Handler is the function a schedule invokes when due. It may perform work
// directly or hand off by enqueueing a job.
type Handler func(ctx context.Context) error

// Schedule is the persisted state of one recurring trigger. The handler
// itself is process-local and registered separately; everything else survives
// restarts in the store.
type Schedule struct {
	Name     string     `json:"name"`
	Cron     string     `json:"cron"`
	Enabled  bool       `json:"enabled"`
	NextRun  *time.Time `json:"next_run,omitempty"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	RunCount int        `json:"run_count"`
}

// Due reports whether the schedule should fire at the given moment.
func (s *Schedule) Due(now time.Time) bool {
	return s.Enabled && s.NextRun != nil && !s.NextRun.After(now)
}
