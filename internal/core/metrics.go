package core

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	stagedTotal   *prometheus.CounterVec
	stagedRows    *prometheus.CounterVec
	mutations     *prometheus.CounterVec
	commitRows    *prometheus.CounterVec
	opLatency     *prometheus.HistogramVec
	activeSession prometheus.Gauge
	expired       prometheus.Counter
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		stagedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog_import",
			Name:      "stage_total",
			Help:      "Total number of stage attempts by result.",
		}, []string{"result"}),
		stagedRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog_import",
			Name:      "staged_rows_total",
			Help:      "Total number of rows staged by validity.",
		}, []string{"validity"}),
		mutations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog_import",
			Name:      "mutation_total",
			Help:      "Total number of session mutations by operation and result.",
		}, []string{"op", "result"}),
		commitRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog_import",
			Name:      "commit_rows_total",
			Help:      "Total number of committed rows by outcome.",
		}, []string{"mode", "outcome"}),
		opLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "catalog_import",
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution for pipeline operations.",
			Buckets: []float64{
				0.001, 0.005, 0.01,
				0.05, 0.1, 0.25,
				0.5, 1, 2.5, 5, 10, 30,
			},
		}, []string{"op"}),
		activeSession: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "catalog_import",
			Name:      "sessions_active",
			Help:      "Current number of import sessions held in memory.",
		}),
		expired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "catalog_import",
			Name:      "sessions_expired_total",
			Help:      "Total number of idle sessions expired by the sweeper.",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}

func observeOp(op string, start time.Time, err error) {
	m := getMetrics()
	m.opLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if op == "stage" {
		m.stagedTotal.WithLabelValues(resultLabel(err)).Inc()
		return
	}
	m.mutations.WithLabelValues(op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func recordStagedRows(stats ImportStats) {
	m := getMetrics()
	m.stagedRows.WithLabelValues("valid").Add(float64(stats.ValidRows))
	m.stagedRows.WithLabelValues("invalid").Add(float64(stats.InvalidRows))
}

func recordCommitMetrics(r *CommitReport) {
	m := getMetrics()
	mode := string(r.Mode)
	m.commitRows.WithLabelValues(mode, "created").Add(float64(r.Created))
	m.commitRows.WithLabelValues(mode, "updated").Add(float64(r.Updated))
	m.commitRows.WithLabelValues(mode, "skipped").Add(float64(r.Skipped))
	m.commitRows.WithLabelValues(mode, "failed").Add(float64(r.Failed))
}
