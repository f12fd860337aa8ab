// Package scheduler runs recurring triggers described by five-field cron
// expressions.
//
// A schedule couples a persisted record (cron expression, enabled flag, next
// run, run statistics) with a process-local handler function. The record
// lives in the same key-value store as the job queue, so schedule state
// survives restarts; handlers are re-registered on boot.
//
//	s, err := scheduler.New(store)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	_, err = s.Schedule(ctx, "cleanup", "0 0 * * *", func(ctx context.Context) error {
//		_, err := repo.DeleteOldCompleted(ctx, 30*24*time.Hour)
//		return err
//	})
//
//	if err := s.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//	defer s.Stop()
//
// The loop checks once per minute by default, matching cron resolution. A
// handler commonly enqueues a job and returns, handing the actual work to
// the queue engine with its retry machinery; doing the work inline is fine
// for cheap tasks.
package scheduler
