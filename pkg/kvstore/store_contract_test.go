package kvstore_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/kvstore"
)

// testStoreContract exercises the Store contract against any backend.
func testStoreContract(t *testing.T, newStore func(t *testing.T) kvstore.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		store := newStore(t)

		_, _, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, kvstore.ErrKeyNotFound)
	})

	t.Run("set get roundtrip bumps version", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Set(ctx, "a", []byte("one")))
		value, v1, err := store.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("one"), value)
		assert.NotZero(t, v1)

		require.NoError(t, store.Set(ctx, "a", []byte("two")))
		value, v2, err := store.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), value)
		assert.Greater(t, v2, v1)
	})

	t.Run("delete removes key", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Set(ctx, "a", []byte("one")))
		require.NoError(t, store.Delete(ctx, "a"))
		_, _, err := store.Get(ctx, "a")
		assert.ErrorIs(t, err, kvstore.ErrKeyNotFound)

		// Deleting a missing key is not an error.
		assert.NoError(t, store.Delete(ctx, "a"))
	})

	t.Run("list is ordered and restartable", func(t *testing.T) {
		store := newStore(t)

		for i := 9; i >= 0; i-- {
			key := fmt.Sprintf("item:%02d", i)
			require.NoError(t, store.Set(ctx, key, []byte{byte(i)}))
		}
		require.NoError(t, store.Set(ctx, "other:00", []byte("x")))

		page1, cursor, err := store.List(ctx, "item:", "", 4)
		require.NoError(t, err)
		require.Len(t, page1, 4)
		assert.Equal(t, "item:00", page1[0].Key)
		assert.Equal(t, "item:03", page1[3].Key)
		require.NotEmpty(t, cursor)

		page2, cursor, err := store.List(ctx, "item:", cursor, 100)
		require.NoError(t, err)
		require.Len(t, page2, 6)
		assert.Equal(t, "item:04", page2[0].Key)
		assert.Equal(t, "item:09", page2[5].Key)
		assert.Empty(t, cursor)
	})

	t.Run("list rejects non-positive limit", func(t *testing.T) {
		store := newStore(t)

		_, _, err := store.List(ctx, "item:", "", 0)
		assert.ErrorIs(t, err, kvstore.ErrInvalidLimit)
	})

	t.Run("atomic applies writes when checks hold", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Set(ctx, "a", []byte("one")))
		_, ver, err := store.Get(ctx, "a")
		require.NoError(t, err)

		err = store.Atomic(ctx, kvstore.Transaction{
			Checks: []kvstore.Check{{Key: "a", Version: ver}},
			Writes: []kvstore.Write{
				{Key: "a", Value: []byte("two")},
				{Key: "b", Value: []byte("new")},
			},
		})
		require.NoError(t, err)

		value, _, err := store.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), value)
		value, _, err = store.Get(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), value)
	})

	t.Run("atomic conflict leaves all writes unapplied", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Set(ctx, "a", []byte("one")))
		_, stale, err := store.Get(ctx, "a")
		require.NoError(t, err)

		// Concurrent writer invalidates the observed version.
		require.NoError(t, store.Set(ctx, "a", []byte("interleaved")))

		err = store.Atomic(ctx, kvstore.Transaction{
			Checks: []kvstore.Check{{Key: "a", Version: stale}},
			Writes: []kvstore.Write{
				{Key: "a", Value: []byte("two")},
				{Key: "b", Value: []byte("never")},
			},
		})
		assert.ErrorIs(t, err, kvstore.ErrTxnConflict)

		value, _, err := store.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("interleaved"), value)
		_, _, err = store.Get(ctx, "b")
		assert.ErrorIs(t, err, kvstore.ErrKeyNotFound)
	})

	t.Run("zero version asserts absence", func(t *testing.T) {
		store := newStore(t)

		err := store.Atomic(ctx, kvstore.Transaction{
			Checks: []kvstore.Check{{Key: "a", Version: 0}},
			Writes: []kvstore.Write{{Key: "a", Value: []byte("created")}},
		})
		require.NoError(t, err)

		// Now the key exists, so the same transaction must conflict.
		err = store.Atomic(ctx, kvstore.Transaction{
			Checks: []kvstore.Check{{Key: "a", Version: 0}},
			Writes: []kvstore.Write{{Key: "a", Value: []byte("again")}},
		})
		assert.ErrorIs(t, err, kvstore.ErrTxnConflict)
	})

	t.Run("version tokens are not reused after recreation", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Set(ctx, "a", []byte("one")))
		_, stale, err := store.Get(ctx, "a")
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, "a"))
		require.NoError(t, store.Set(ctx, "a", []byte("reborn")))

		// The token from the previous incarnation must not match.
		err = store.Atomic(ctx, kvstore.Transaction{
			Checks: []kvstore.Check{{Key: "a", Version: stale}},
			Writes: []kvstore.Write{{Key: "a", Value: []byte("never")}},
		})
		assert.ErrorIs(t, err, kvstore.ErrTxnConflict)

		value, _, err := store.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("reborn"), value)
	})

	t.Run("concurrent creates admit one winner", func(t *testing.T) {
		store := newStore(t)

		const racers = 8
		var wg sync.WaitGroup
		created := make([]bool, racers)
		for i := range racers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.Atomic(ctx, kvstore.Transaction{
					Checks: []kvstore.Check{{Key: "singleton", Version: 0}},
					Writes: []kvstore.Write{{Key: "singleton", Value: []byte{byte(i)}}},
				})
				if err == nil {
					created[i] = true
				} else {
					assert.ErrorIs(t, err, kvstore.ErrTxnConflict)
				}
			}()
		}
		wg.Wait()

		winners := 0
		for _, ok := range created {
			if ok {
				winners++
			}
		}
		assert.Equal(t, 1, winners)
	})

	t.Run("atomic delete write", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Set(ctx, "a", []byte("one")))
		_, ver, err := store.Get(ctx, "a")
		require.NoError(t, err)

		err = store.Atomic(ctx, kvstore.Transaction{
			Checks: []kvstore.Check{{Key: "a", Version: ver}},
			Writes: []kvstore.Write{{Key: "a", Delete: true}},
		})
		require.NoError(t, err)

		_, _, err = store.Get(ctx, "a")
		assert.ErrorIs(t, err, kvstore.ErrKeyNotFound)
	})
}
