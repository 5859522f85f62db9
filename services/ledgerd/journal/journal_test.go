package journal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(fmt.Sprintf("sqlite:file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func keyPtr(s string) *string { return &s }

func TestRecordAndLookup(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	op := &Operation{
		IdempotencyKey: keyPtr("k-1"),
		Op:             "deposit",
		Caller:         "arr1caller",
		Owner:          "arr1owner",
		Amount:         "500",
		Outcome:        OutcomeCommitted,
		Status:         200,
		Response:       `{"slot":0}`,
		Digest:         Digest("POST", "/v1/positions/deposit", "arr1caller", []byte(`{"amount":"500"}`)),
	}
	require.NoError(t, j.Record(ctx, op))
	require.NotEqual(t, uuid.Nil, op.ID)

	got, err := j.Lookup(ctx, "k-1")
	require.NoError(t, err)
	require.Equal(t, op.ID, got.ID)
	require.Equal(t, "500", got.Amount)
	require.Equal(t, op.Digest, got.Digest)

	_, err = j.Lookup(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestIdempotencyKeyIsUnique(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	require.NoError(t, j.Record(ctx, &Operation{IdempotencyKey: keyPtr("dup"), Op: "open_position"}))
	require.Error(t, j.Record(ctx, &Operation{IdempotencyKey: keyPtr("dup"), Op: "open_position"}))

	// Rows without a key never collide.
	require.NoError(t, j.Record(ctx, &Operation{Op: "credit"}))
	require.NoError(t, j.Record(ctx, &Operation{Op: "credit"}))
}

func TestListFiltersNewestFirst(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, entry := range []struct{ op, owner string }{
		{"deposit", "alice"},
		{"withdraw", "alice"},
		{"deposit", "bob"},
		{"deposit", "alice"},
	} {
		require.NoError(t, j.Record(ctx, &Operation{Op: entry.op, Owner: entry.owner, Amount: fmt.Sprint(i), CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	all, err := j.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, "3", all[0].Amount)

	alice, err := j.List(ctx, Filter{Owner: "alice", Op: "deposit"})
	require.NoError(t, err)
	require.Len(t, alice, 2)
	require.Equal(t, "3", alice[0].Amount)
	require.Equal(t, "0", alice[1].Amount)

	limited, err := j.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestDigestSeparatesFields(t *testing.T) {
	a := Digest("POST", "/v1/positions/deposit", "arr1x", []byte("{}"))
	require.Len(t, a, 64)
	require.Equal(t, a, Digest("POST", "/v1/positions/deposit", "arr1x", []byte("{}")))
	require.NotEqual(t, a, Digest("POST", "/v1/positions/withdraw", "arr1x", []byte("{}")))
	require.NotEqual(t, a, Digest("POST", "/v1/positions/deposit", "arr1y", []byte("{}")))
	require.NotEqual(t, a, Digest("POST", "/v1/positions/deposi", "tarr1x", []byte("{}")))
}
