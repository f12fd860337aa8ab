// Package queue implements a persistent background job queue on top of a
// versioned key-value store.
//
// Jobs are durable records that move through a small lifecycle: pending,
// running, completed, failed, and retrying. The engine polls the store
// for ready work, claims jobs with an atomic compare-and-swap transaction,
// and dispatches them to registered handlers. Because claiming is a single
// atomic transaction, any number of engines in any number of processes can
// share one store without ever executing the same attempt twice.
//
// # Basic usage
//
//	store := kvstore.NewMemoryStore()
//	q, err := queue.New(store)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	q.Process("send-email", func(ctx context.Context, job queue.Job) (any, error) {
//		var p EmailPayload
//		if err := job.UnmarshalPayload(&p); err != nil {
//			return nil, err
//		}
//		return map[string]bool{"sent": true}, sendEmail(ctx, p)
//	})
//
//	if err := q.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//	defer q.Stop()
//
//	job, err := q.Enqueue(ctx, "send-email", EmailPayload{To: "user@example.com"},
//		queue.WithPriority(10),
//		queue.WithMaxRetries(5))
//
// # Retries
//
// A failing job is retried with exponential backoff (base delay doubled per
// attempt, capped at the maximum delay) until its retry budget is spent: a
// job with maxRetries N executes at most N+1 times. After the final failure
// the job lands in the failed status, keeping its last error message, and
// can be revived manually with RetryJob.
//
// # Delayed jobs
//
// WithDelay(d) makes a job invisible to workers until d has elapsed. The
// scheduled time is a lower bound: the job is picked up on the first poll
// cycle after it becomes due.
//
// # Shutdown
//
// Stop drains gracefully: no new jobs are claimed once stopping begins and
// every in-flight handler runs to completion before Stop returns.
package queue
