package kvstore_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/kvstore"
)

func TestMemoryStore_Contract(t *testing.T) {
	t.Parallel()

	testStoreContract(t, func(t *testing.T) kvstore.Store {
		return kvstore.NewMemoryStore()
	})
}

func TestMemoryStore_ConcurrentClaim(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	require.NoError(t, store.Set(ctx, "job:1", []byte("ready")))
	_, ver, err := store.Get(ctx, "job:1")
	require.NoError(t, err)

	// Many claimants race on the same observed version; exactly one wins.
	const claimants = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for range claimants {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Atomic(ctx, kvstore.Transaction{
				Checks: []kvstore.Check{{Key: "job:1", Version: ver}},
				Writes: []kvstore.Write{{Key: "job:1", Value: []byte("claimed")}},
			})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, kvstore.ErrTxnConflict)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	value, _, err := store.Get(ctx, "job:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("claimed"), value)
}

func TestMemoryStore_ValueIsolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kvstore.NewMemoryStore()

	original := []byte("stable")
	require.NoError(t, store.Set(ctx, "a", original))
	original[0] = 'X'

	value, _, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("stable"), value)

	value[0] = 'Y'
	again, _, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("stable"), again)
}
