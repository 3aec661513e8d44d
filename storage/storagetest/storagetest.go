// Package storagetest holds the behaviour every storage.Repository backend
// must share. Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironsession/storage"
)

// Run exercises repo against the storage.Repository contract. Each call
// should receive a repository with no records in namespace "ns1".
func Run(t *testing.T, repo storage.Repository) {
	t.Helper()
	ctx := context.Background()
	const ns = "ns1"

	t.Run("PutAndGet", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, ns, "SESSION", "current", []byte("v1")))

		got, err := repo.Get(ctx, ns, "SESSION", "current")
		require.NoError(t, err)
		require.Equal(t, []byte("v1"), got)

		// Returned slices must not alias stored state.
		got[0] = 'X'
		again, err := repo.Get(ctx, ns, "SESSION", "current")
		require.NoError(t, err)
		require.Equal(t, []byte("v1"), again)
	})

	t.Run("PutReplacesWholeRecord", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, ns, "SESSION", "current", []byte("a much longer first value")))
		require.NoError(t, repo.Put(ctx, ns, "SESSION", "current", []byte("short")))
		got, err := repo.Get(ctx, ns, "SESSION", "current")
		require.NoError(t, err)
		require.Equal(t, []byte("short"), got)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := repo.Get(ctx, "nonexistent", "SESSION", "current")
		require.ErrorIs(t, err, storage.ErrNotFound)

		_, err = repo.Get(ctx, ns, "SESSION", "nonexistent")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("PutIfAbsent", func(t *testing.T) {
		require.NoError(t, repo.PutIfAbsent(ctx, ns, "KEY", "alias", []byte("first")))
		err := repo.PutIfAbsent(ctx, ns, "KEY", "alias", []byte("second"))
		require.ErrorIs(t, err, storage.ErrExists)

		got, err := repo.Get(ctx, ns, "KEY", "alias")
		require.NoError(t, err)
		require.Equal(t, []byte("first"), got)
	})

	t.Run("PutIfAbsentRace", func(t *testing.T) {
		const n = 8
		var wg sync.WaitGroup
		wins := make(chan int, n)
		for i := range n {
			wg.Go(func() {
				err := repo.PutIfAbsent(ctx, ns, "KEY", "raced", []byte{byte(i)})
				if err == nil {
					wins <- i
				} else if !errors.Is(err, storage.ErrExists) {
					t.Errorf("unexpected error: %v", err)
				}
			})
		}
		wg.Wait()
		close(wins)
		require.Len(t, wins, 1)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, ns, "ITEM", "a", []byte("1")))
		require.NoError(t, repo.Put(ctx, ns, "ITEM", "b", []byte("2")))
		require.NoError(t, repo.Put(ctx, ns, "OTHER", "c", []byte("3")))

		ids, err := repo.List(ctx, ns, "ITEM")
		require.NoError(t, err)
		sort.Strings(ids)
		require.Equal(t, []string{"a", "b"}, ids)

		ids, err = repo.List(ctx, "nonexistent", "ITEM")
		require.NoError(t, err)
		require.Empty(t, ids)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, ns, "SESSION", "gone", []byte("x")))
		require.NoError(t, repo.Delete(ctx, ns, "SESSION", "gone"))

		_, err := repo.Get(ctx, ns, "SESSION", "gone")
		require.ErrorIs(t, err, storage.ErrNotFound)

		err = repo.Delete(ctx, ns, "SESSION", "gone")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("NamespaceIsolation", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "ns-a", "SESSION", "current", []byte("a")))
		require.NoError(t, repo.Put(ctx, "ns-b", "SESSION", "current", []byte("b")))
		got, err := repo.Get(ctx, "ns-a", "SESSION", "current")
		require.NoError(t, err)
		require.Equal(t, []byte("a"), got)
	})
}
