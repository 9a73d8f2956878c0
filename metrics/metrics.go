// Package metrics exposes Prometheus counters for the engine. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/station-engine/station"
)

// Metrics holds all engine metrics
type Metrics struct {
	registry *prometheus.Registry

	Transactions        *prometheus.CounterVec
	TransactionDuration *prometheus.HistogramVec
	ConflictRetries     *prometheus.CounterVec
	Compensations       *prometheus.CounterVec
	BalanceDrift        prometheus.Gauge
	LowStockTanks       prometheus.Gauge
}

// New creates a Metrics instance on its own registry.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Recorded transactions by kind and outcome (ok or error kind)",
		}, []string{"kind", "outcome"}),
		TransactionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Time to record a transaction including lock wait and retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		ConflictRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_retries_total",
			Help:      "Units of work retried after a lock timeout or version conflict",
		}, []string{"kind"}),
		Compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Units of work rolled back by compensating writes",
		}, []string{"kind", "outcome"}),
		BalanceDrift: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance_drift_accounts",
			Help:      "Account heads whose running balance differs from replay at the last audit",
		}),
		LowStockTanks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "low_stock_tanks",
			Help:      "Tanks below minimum stock at the last audit",
		}),
	}
	registry.MustRegister(m.Transactions, m.TransactionDuration, m.ConflictRetries,
		m.Compensations, m.BalanceDrift, m.LowStockTanks)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveTransaction records one finished operation.
func (m *Metrics) ObserveTransaction(kind string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(station.KindOf(err))
	}
	m.Transactions.WithLabelValues(kind, outcome).Inc()
	m.TransactionDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRetry(kind string) {
	if m == nil {
		return
	}
	m.ConflictRetries.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveCompensation(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.Compensations.WithLabelValues(kind, outcome).Inc()
}

// SetAudit publishes the result of a balance and stock audit.
func (m *Metrics) SetAudit(drifted, lowStock int) {
	if m == nil {
		return
	}
	m.BalanceDrift.Set(float64(drifted))
	m.LowStockTanks.Set(float64(lowStock))
}
