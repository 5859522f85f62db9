package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"arrayledger/storage"
)

type sampleRecord struct {
	Name    string
	Amount  *big.Int
	Counter uint64
}

func TestManagerWritesStayPendingUntilCommit(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)

	require.NoError(t, mgr.KVPut([]byte("rec"), sampleRecord{Name: "a", Amount: big.NewInt(7), Counter: 1}))
	require.Equal(t, 0, db.Len())

	var got sampleRecord
	ok, err := mgr.KVGet([]byte("rec"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", got.Name)

	// A second manager over the same database does not see the write yet.
	other := NewManager(db)
	ok, err = other.KVGet([]byte("rec"), &got)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mgr.Commit())
	require.Equal(t, 0, mgr.Dirty())
	var committed sampleRecord
	ok, err = other.KVGet([]byte("rec"), &committed)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(7), committed.Amount.Int64())
}

func TestManagerDiscardDropsWrites(t *testing.T) {
	db := storage.NewMemDB()
	seed := NewManager(db)
	require.NoError(t, seed.KVPut([]byte("keep"), uint64(1)))
	require.NoError(t, seed.Commit())

	mgr := NewManager(db)
	require.NoError(t, mgr.KVPut([]byte("keep"), uint64(99)))
	require.NoError(t, mgr.KVPut([]byte("new"), uint64(2)))
	require.NoError(t, mgr.KVDelete([]byte("keep")))
	mgr.Discard()
	require.NoError(t, mgr.Commit())

	var value uint64
	ok, err := NewManager(db).KVGet([]byte("keep"), &value)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), value)
	ok, err = NewManager(db).KVGet([]byte("new"), &value)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestManagerDeleteHidesCommittedValue(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	require.NoError(t, mgr.KVPut([]byte("k"), "v"))
	require.NoError(t, mgr.Commit())

	require.NoError(t, mgr.KVDelete([]byte("k")))
	ok, err := mgr.KVGet([]byte("k"), nil)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mgr.Commit())
	require.Equal(t, 0, db.Len())
}

func TestManagerAppendIsDeduplicated(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.NoError(t, mgr.KVAppend([]byte("idx"), []byte("a")))
	require.NoError(t, mgr.KVAppend([]byte("idx"), []byte("b")))
	require.NoError(t, mgr.KVAppend([]byte("idx"), []byte("a")))

	var list [][]byte
	require.NoError(t, mgr.KVGetList([]byte("idx"), &list))
	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, list)

	var empty [][]byte
	require.NoError(t, mgr.KVGetList([]byte("missing"), &empty))
	require.NotNil(t, empty)
	require.Len(t, empty, 0)
}

func TestManagerRejectsEmptyKeys(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.Error(t, mgr.KVPut(nil, 1))
	_, err := mgr.KVGet(nil, nil)
	require.Error(t, err)
	require.Error(t, mgr.KVDelete(nil))
}
