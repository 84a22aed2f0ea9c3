package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stockledger-api/internal/model"
)

// LedgerMetrics exports the ledger's transaction counters and stock gauges.
// A nil *LedgerMetrics is valid and records nothing.
type LedgerMetrics struct {
	transactions *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	duration     *prometheus.HistogramVec

	items      prometheus.Gauge
	stockUnits prometheus.Gauge
	lowStock   prometheus.Gauge
	outOfStock prometheus.Gauge
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	m := &LedgerMetrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Stock transactions committed to the ledger.",
		}, []string{"kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_transactions_rejected_total",
			Help: "Stock transactions rejected before commit.",
		}, []string{"reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_transaction_duration_seconds",
			Help:    "Time spent recording a stock transaction, including the storage transaction.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		items: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_items",
			Help: "Items currently registered.",
		}),
		stockUnits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_stock_units",
			Help: "Sum of current stock over all items.",
		}),
		lowStock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_low_stock_items",
			Help: "Items whose stock is below their minimum threshold.",
		}),
		outOfStock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_out_of_stock_items",
			Help: "Items with zero stock.",
		}),
	}
	reg.MustRegister(m.transactions, m.rejected, m.duration, m.items, m.stockUnits, m.lowStock, m.outOfStock)
	return m
}

// ObserveTransaction counts a committed transaction of the given kind.
func (m *LedgerMetrics) ObserveTransaction(kind model.TransactionKind, elapsed time.Duration) {
	if m == nil || m.transactions == nil {
		return
	}
	label := normalizeLabel(string(kind))
	m.transactions.WithLabelValues(label).Inc()
	m.duration.WithLabelValues(label).Observe(elapsed.Seconds())
}

// IncRejected counts a transaction that was refused, labelled by error kind.
func (m *LedgerMetrics) IncRejected(reason string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.WithLabelValues(normalizeLabel(reason)).Inc()
}

// SetStats publishes a stats snapshot to the gauges.
func (m *LedgerMetrics) SetStats(stats model.Stats) {
	if m == nil || m.items == nil {
		return
	}
	m.items.Set(float64(stats.TotalItems))
	m.stockUnits.Set(float64(stats.TotalStock))
	m.lowStock.Set(float64(stats.LowStockItems))
	m.outOfStock.Set(float64(stats.OutOfStockItems))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
