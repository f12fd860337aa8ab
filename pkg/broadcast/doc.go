// Package broadcast provides a small generic publish/subscribe primitive
// used for fanning out job lifecycle events to in-process listeners.
//
// A Broadcaster delivers each message to every active Subscriber. Delivery
// is non-blocking: a subscriber that does not drain its channel fast enough
// misses messages and is eventually dropped, so a stuck listener can never
// stall the publisher.
//
//	events := broadcast.NewMemoryBroadcaster[queue.Event](64)
//	sub := events.Subscribe(ctx)
//	for msg := range sub.Receive(ctx) {
//		log.Printf("job %s is now %s", msg.Data.JobID, msg.Data.Status)
//	}
package broadcast
