package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	// outcome: applied, duplicate, rejected, error
	LedgerOps *prometheus.CounterVec
	// pipeline: deposit, withdrawal, payout, sweep, recovery
	WorkerTicks        *prometheus.CounterVec
	WorkerTickDuration *prometheus.HistogramVec
	WorkerSkipped      *prometheus.CounterVec
	// pipeline + terminal status
	Settlements *prometheus.CounterVec
	RateFetches *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LedgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		WorkerTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_ticks_total",
			Help: "Worker ticks by worker and result.",
		}, []string{"worker", "result"}),
		WorkerTickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "worker_tick_duration_seconds",
			Help:    "Duration of a worker tick.",
			Buckets: prometheus.DefBuckets,
		}, []string{"worker"}),
		WorkerSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_ticks_skipped_total",
			Help: "Ticks skipped because the previous tick was still running.",
		}, []string{"worker"}),
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_transitions_total",
			Help: "Terminal settlement transitions by pipeline and status.",
		}, []string{"pipeline", "status"}),
		RateFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_rate_fetches_total",
			Help: "Exchange rate lookups by source.",
		}, []string{"source"}),
	}

	m.registry.MustRegister(
		m.LedgerOps,
		m.WorkerTicks,
		m.WorkerTickDuration,
		m.WorkerSkipped,
		m.Settlements,
		m.RateFetches,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Nil-safe helpers so components can run without metrics in tests.

func (m *Metrics) LedgerOp(op, outcome string) {
	if m == nil {
		return
	}
	m.LedgerOps.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) Settled(pipeline, status string) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(pipeline, status).Inc()
}

func (m *Metrics) RateFetched(source string) {
	if m == nil {
		return
	}
	m.RateFetches.WithLabelValues(source).Inc()
}

func (m *Metrics) TickSkipped(worker string) {
	if m == nil {
		return
	}
	m.WorkerSkipped.WithLabelValues(worker).Inc()
}

func (m *Metrics) TickDone(worker string, seconds float64, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.WorkerTicks.WithLabelValues(worker, result).Inc()
	m.WorkerTickDuration.WithLabelValues(worker).Observe(seconds)
}
