package kvstore

import "context"

// Version is an opaque token returned alongside every read. It identifies the
// revision of a key at the moment it was observed and is the only currency
// accepted by transaction checks. Tokens are never reissued: a token observed
// before a key was deleted can never match the same key after recreation. The
// zero Version asserts that a key must not exist.
type Version uint64

// Entry is a single key/value pair returned by List.
type Entry struct {
	Key     string
	Value   []byte
	Version Version
}

// Check asserts that a key still holds the version observed at read time.
// A zero Version asserts the key is absent.
type Check struct {
	Key     string
	Version Version
}

// Write describes one mutation inside a transaction. When Delete is true the
// key is removed and Value is ignored.
type Write struct {
	Key    string
	Value  []byte
	Delete bool
}

// Transaction bundles optimistic checks with the writes that depend on them.
// Either every write applies or none does.
type Transaction struct {
	Checks []Check
	Writes []Write
}

// Store is a durable key-value store with optimistic concurrency control.
// Implementations must guarantee that Atomic applies all writes only if every
// check passes, observed as a single indivisible step by concurrent callers.
type Store interface {
	// Get returns the value and current version of a key.
	// Returns ErrKeyNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, Version, error)

	// Set writes a value unconditionally, bumping the key's version.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns entries whose keys start with prefix, in ascending
	// lexicographic key order. Iteration restarts after the cursor key
	// (exclusive); pass an empty cursor to start from the beginning. The
	// returned cursor is empty once the range is exhausted.
	List(ctx context.Context, prefix, cursor string, limit int) ([]Entry, string, error)

	// Atomic applies tx.Writes only if every check in tx.Checks still holds.
	// Returns ErrTxnConflict when a check fails; no writes are applied in
	// that case and the caller is expected to re-read and retry its logic.
	Atomic(ctx context.Context, tx Transaction) error
}
