package queue_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/jobkit/pkg/kvstore"
	"github.com/dmitrymomot/jobkit/pkg/queue"
	"github.com/dmitrymomot/jobkit/pkg/scheduler"
)

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func Example() {
	store := kvstore.NewMemoryStore()

	q, err := queue.New(store,
		queue.WithPollInterval(time.Second),
		queue.WithMaxConcurrent(5),
	)
	if err != nil {
		log.Fatal(err)
	}

	q.Process("send-email", func(ctx context.Context, job queue.Job) (any, error) {
		var p emailPayload
		if err := job.UnmarshalPayload(&p); err != nil {
			return nil, err
		}
		fmt.Printf("sending %q to %s\n", p.Subject, p.To)
		return map[string]bool{"sent": true}, nil
	})

	if err := q.Start(context.Background()); err != nil {
		log.Fatal(err)
	}
	defer q.Stop()

	_, err = q.Enqueue(context.Background(), "send-email",
		emailPayload{To: "user@example.com", Subject: "Welcome"},
		queue.WithPriority(10),
		queue.WithMaxRetries(5),
	)
	if err != nil {
		log.Fatal(err)
	}
}

// Queue engine and scheduler typically run side by side under one errgroup,
// shut down together by a signal-bound context.
func Example_errgroup() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store := kvstore.NewMemoryStore()

	q, err := queue.New(store)
	if err != nil {
		log.Fatal(err)
	}
	q.Process("cleanup-old-jobs", func(ctx context.Context, job queue.Job) (any, error) {
		n, err := q.Repository().DeleteOldCompleted(ctx, 30*24*time.Hour)
		return map[string]int{"deleted": n}, err
	})

	s, err := scheduler.New(store)
	if err != nil {
		log.Fatal(err)
	}
	_, err = s.Schedule(ctx, "nightly-cleanup", "0 0 * * *", func(ctx context.Context) error {
		_, err := q.Enqueue(ctx, "cleanup-old-jobs", nil)
		return err
	})
	if err != nil {
		log.Fatal(err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(q.Run(ctx))
	g.Go(s.Run(ctx))
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}
