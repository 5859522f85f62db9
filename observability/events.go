package observability

import (
	"math/big"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"arrayledger/core/events"
)

type eventMetrics struct {
	emitted    *prometheus.CounterVec
	aggregates *prometheus.GaugeVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed ledger events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "array",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of committed ledger events segmented by type.",
			}, []string{"type"}),
			aggregates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "array",
				Subsystem: "vault",
				Name:      "aggregate_balance",
				Help:      "Aggregate deposited balance per supported token vault.",
			}, []string{"vault"}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.aggregates)
	})
	return eventRegistry
}

// Emit implements events.Emitter so the registry can subscribe to the
// ledger's committed events.
func (m *eventMetrics) Emit(ev events.Event) {
	if m == nil || ev == nil {
		return
	}
	rendered := ev.Event()
	if rendered == nil {
		return
	}
	m.emitted.WithLabelValues(strings.TrimSpace(rendered.Type)).Inc()
	switch rendered.Type {
	case events.TypeVaultDeposited, events.TypeVaultWithdrawn:
		aggregate, ok := new(big.Int).SetString(rendered.Attr("aggregate"), 10)
		if !ok {
			return
		}
		value, _ := new(big.Float).SetInt(aggregate).Float64()
		m.aggregates.WithLabelValues(rendered.Attr("vault")).Set(value)
	}
}
