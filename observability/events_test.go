package observability

import (
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"arrayledger/core/events"
)

func TestEventsTrackAggregates(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.emitted.WithLabelValues(events.TypeVaultDeposited))
	m.Emit(events.VaultMovement{VaultIndex: 7, Amount: 5, Position: 5, Aggregate: big.NewInt(42)})
	after := testutil.ToFloat64(m.emitted.WithLabelValues(events.TypeVaultDeposited))
	if after != before+1 {
		t.Fatalf("expected deposit counter to increase by one, got %v -> %v", before, after)
	}
	if got := testutil.ToFloat64(m.aggregates.WithLabelValues("7")); got != 42 {
		t.Fatalf("expected aggregate gauge 42, got %v", got)
	}
	m.Emit(events.VaultMovement{VaultIndex: 7, Amount: 2, Aggregate: big.NewInt(40), Withdrawal: true})
	if got := testutil.ToFloat64(m.aggregates.WithLabelValues("7")); got != 40 {
		t.Fatalf("expected aggregate gauge 40, got %v", got)
	}
}
