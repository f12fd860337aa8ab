package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store implementation for testing and local
// development. All methods are safe for concurrent use; Atomic holds the
// store lock for the whole transaction, so checks and writes are indivisible.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	counter Version
}

type memoryEntry struct {
	value   []byte
	version Version
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
	}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, 0, ErrKeyNotFound
	}

	// Copy to prevent callers from mutating stored bytes.
	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, e.version, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(key, value)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, prefix, cursor string, limit int) ([]Entry, string, error) {
	if limit <= 0 {
		return nil, "", ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) && k > cursor {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	more := len(keys) > limit
	if more {
		keys = keys[:limit]
	}

	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		e := s.entries[k]
		value := make([]byte, len(e.value))
		copy(value, e.value)
		entries = append(entries, Entry{Key: k, Value: value, Version: e.version})
	}

	next := ""
	if more {
		next = keys[len(keys)-1]
	}
	return entries, next, nil
}

// Atomic implements Store.
func (s *MemoryStore) Atomic(ctx context.Context, tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range tx.Checks {
		e, ok := s.entries[c.Key]
		if c.Version == 0 {
			if ok {
				return ErrTxnConflict
			}
			continue
		}
		if !ok || e.version != c.Version {
			return ErrTxnConflict
		}
	}

	for _, w := range tx.Writes {
		if w.Delete {
			delete(s.entries, w.Key)
			continue
		}
		s.put(w.Key, w.Value)
	}
	return nil
}

// put stores a copy of value under the next version. Versions come from a
// store-wide counter so a token issued before a delete can never match a
// recreated key. Callers must hold the write lock.
func (s *MemoryStore) put(key string, value []byte) {
	stored := make([]byte, len(value))
	copy(stored, value)
	s.counter++
	s.entries[key] = memoryEntry{
		value:   stored,
		version: s.counter,
	}
}

// Len returns the number of stored keys. Intended for tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
