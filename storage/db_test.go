package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Database {
	t.Helper()
	disk, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	mem, err := NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() {
		disk.Close()
		mem.Close()
	})
	return map[string]Database{
		"memdb":    NewMemDB(),
		"leveldb":  disk,
		"memlevel": mem,
	}
}

func TestDatabaseGetMissing(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("missing"))
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDatabaseBatchAppliesAllWrites(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Put([]byte("stale"), []byte("x")))

			batch := db.NewBatch()
			batch.Put([]byte("a"), []byte("1"))
			batch.Put([]byte("b"), []byte("2"))
			batch.Delete([]byte("stale"))
			require.Equal(t, 3, batch.Len())

			// Nothing is visible before Write.
			_, err := db.Get([]byte("a"))
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, db.Write(batch))

			got, err := db.Get([]byte("a"))
			require.NoError(t, err)
			require.Equal(t, []byte("1"), got)
			got, err = db.Get([]byte("b"))
			require.NoError(t, err)
			require.Equal(t, []byte("2"), got)
			_, err = db.Get([]byte("stale"))
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := NewLevelDB(dir)
	require.NoError(t, err)
	batch := db.NewBatch()
	batch.Put([]byte("key"), []byte("value"))
	require.NoError(t, db.Write(batch))
	db.Close()

	reopened, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)
}

func TestMemDBRejectsForeignBatch(t *testing.T) {
	mem := NewMemDB()
	lvl, err := NewMemLevelDB()
	require.NoError(t, err)
	defer lvl.Close()
	require.Error(t, mem.Write(lvl.NewBatch()))
}
