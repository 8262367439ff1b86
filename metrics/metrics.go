package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "blockflow"
)

/**
 * Metrics holds the collectors shared by the engine, the batch controller
 * and the poller. A nil *Metrics is valid, every Record method is a no-op
 * on it.
 */
type Metrics struct {
	Registry prometheus.Registerer

	// Executions by source (local, remote) and outcome (success, failure, error)
	Executions        *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec

	// Batches by terminal state
	Batches   *prometheus.CounterVec
	BatchRuns prometheus.Counter

	PollTicks   *prometheus.CounterVec
	PolledItems *prometheus.CounterVec
	TicksActive prometheus.Gauge
}

// New registers the collectors on reg, prometheus.DefaultRegisterer when nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		Executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of workflow executions by source and outcome",
		}, []string{"source", "outcome"}),

		ExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Workflow execution latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"source"}),

		Batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of multi-run batches by terminal state",
		}, []string{"state"}),

		BatchRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_runs_total",
			Help:      "Total number of runs completed inside batches",
		}),

		PollTicks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Total number of subscription poll ticks by status",
		}, []string{"status"}),

		PolledItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polled_items_total",
			Help:      "Items seen by the poller by outcome",
		}, []string{"outcome"}), // delivered, failed, duplicate

		TicksActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_ticks_active",
			Help:      "Number of subscription ticks currently running",
		}),
	}
}

func outcome(success bool, err error) string {
	if err != nil {
		return "error"
	}
	if !success {
		return "failure"
	}
	return "success"
}

func (m *Metrics) RecordExecution(source string, success bool, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(source, outcome(success, err)).Inc()
	m.ExecutionDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordBatch(state string, completed int) {
	if m == nil {
		return
	}
	m.Batches.WithLabelValues(state).Inc()
	m.BatchRuns.Add(float64(completed))
}

func (m *Metrics) RecordTick(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.PollTicks.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordItems(delivered, failed, duplicates int) {
	if m == nil {
		return
	}
	m.PolledItems.WithLabelValues("delivered").Add(float64(delivered))
	m.PolledItems.WithLabelValues("failed").Add(float64(failed))
	m.PolledItems.WithLabelValues("duplicate").Add(float64(duplicates))
}

func (m *Metrics) TickStarted() {
	if m == nil {
		return
	}
	m.TicksActive.Inc()
}

func (m *Metrics) TickFinished() {
	if m == nil {
		return
	}
	m.TicksActive.Dec()
}
