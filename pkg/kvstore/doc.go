// Package kvstore provides a durable key-value store abstraction with
// optimistic concurrency control, used as the persistence layer of the job
// queue and scheduler packages.
//
// Every read returns an opaque Version token alongside the value. Writers
// that depend on what they read submit a Transaction whose Checks assert the
// observed versions and whose Writes are applied only if every check still
// holds. A failed check surfaces as ErrTxnConflict and means another writer
// got there first; callers re-read and retry their logic. This single
// primitive is what lets multiple worker processes coordinate through the
// store without any cross-process locking.
//
// Three backends implement the Store interface:
//
//   - MemoryStore — mutex-guarded map, for tests and local development.
//   - RedisStore  — go-redis client; versions live in per-key hashes, keys
//     are mirrored into a sorted set for ordered prefix listing, and all
//     mutations run as server-side Lua scripts.
//   - PostgresStore — pgx connection pool over a single kv table with a row
//     version column; transactions lock checked rows with SELECT FOR UPDATE
//     and creation races are arbitrated by the primary-key constraint.
//     Schema is managed by embedded goose migrations.
//
// Versions are drawn from a store-wide monotonic counter in every backend,
// so a token observed before a key was deleted can never match the key
// after recreation.
//
// # Usage
//
//	store := kvstore.NewMemoryStore()
//
//	// Read, then update only if nobody else wrote in between.
//	value, ver, err := store.Get(ctx, "job:123")
//	if err != nil {
//	    return err
//	}
//	err = store.Atomic(ctx, kvstore.Transaction{
//	    Checks: []kvstore.Check{{Key: "job:123", Version: ver}},
//	    Writes: []kvstore.Write{{Key: "job:123", Value: updated}},
//	})
//	if errors.Is(err, kvstore.ErrTxnConflict) {
//	    // somebody else won the race; re-read and retry
//	}
//
// Listing walks keys in lexicographic order and is restartable via the
// returned cursor:
//
//	entries, next, err := store.List(ctx, "job_idx:pending:", "", 100)
package kvstore
