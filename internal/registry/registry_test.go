package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryInsertGetDelete(t *testing.T) {
	var r Registry[string]

	db := "db0"
	id := r.Insert(&db)
	require.EqualValues(t, 0, id)

	got, ok := r.Get(id)
	require.True(t, ok)
	require.Equal(t, "db0", *got)

	r.Delete(id)
	_, ok = r.Get(id)
	require.False(t, ok)
}

func TestRegistryIdsNeverReused(t *testing.T) {
	var r Registry[int]

	var ids []uint64
	for i := 0; i < 5; i++ {
		v := i
		ids = append(ids, r.Insert(&v))
	}
	r.Delete(ids[2])

	v := 99
	newID := r.Insert(&v)

	seen := make(map[uint64]bool)
	for _, id := range ids {
		require.False(t, seen[id])
		seen[id] = true
	}
	require.False(t, seen[newID])
}

func TestRegistryIndependentCounters(t *testing.T) {
	var dbs Registry[string]
	var stmts Registry[string]

	d := "test.db"
	s := "CREATE TABLE foo (n INT)"

	dbID := dbs.Insert(&d)
	stmtID := stmts.Insert(&s)

	require.EqualValues(t, 0, dbID)
	require.EqualValues(t, 0, stmtID)
}

func TestRegistryConcurrentInsertUniqueIDs(t *testing.T) {
	var r Registry[int]
	const n = 200

	var wg sync.WaitGroup
	ids := make([]uint64, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := i
			ids[i] = r.Insert(&v)
		}()
	}
	wg.Wait()

	seen := make(map[uint64]bool, n)
	for _, id := range ids {
		require.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	require.Equal(t, n, r.Len())
}
