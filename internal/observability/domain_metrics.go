package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

var (
	datasetLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askcsv_dataset_loads_total",
			Help: "Total number of dataset loads by format and status.",
		},
		[]string{"format", "status"},
	)
	datasetLoadLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askcsv_dataset_load_latency_ms",
			Help:    "Dataset load latency in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)
	datasetRows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "askcsv_dataset_rows",
			Help: "Row count of the live dataset.",
		},
	)
	datasetVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "askcsv_dataset_version",
			Help: "Load counter of the live dataset.",
		},
	)
	generationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askcsv_generation_requests_total",
			Help: "Total number of generation service calls by operation and status.",
		},
		[]string{"operation", "status"},
	)
	generationLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askcsv_generation_latency_ms",
			Help:    "Generation service round-trip latency in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000, 30000, 60000},
		},
		[]string{"operation"},
	)
	extractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askcsv_query_extractions_total",
			Help: "Total number of query extractions by outcome (fenced or fallback).",
		},
		[]string{"outcome"},
	)
	queryExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askcsv_query_executions_total",
			Help: "Total number of query executions by status.",
		},
		[]string{"status"},
	)
	queryLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askcsv_query_latency_ms",
			Help:    "Query execution latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)
)

func init() {
	prometheus.MustRegister(
		datasetLoadsTotal,
		datasetLoadLatencyMs,
		datasetRows,
		datasetVersion,
		generationRequestsTotal,
		generationLatencyMs,
		extractionsTotal,
		queryExecutionsTotal,
		queryLatencyMs,
	)
}

func ObserveDatasetLoad(format, status string, rows, version int64, elapsed time.Duration) {
	datasetLoadsTotal.WithLabelValues(format, status).Inc()
	if status != StatusOK {
		return
	}
	datasetLoadLatencyMs.Observe(float64(elapsed.Milliseconds()))
	if rows < 0 {
		rows = 0
	}
	datasetRows.Set(float64(rows))
	datasetVersion.Set(float64(version))
}

// ObserveGeneration records one generation call. status is StatusOK or the
// failure kind reported by the client.
func ObserveGeneration(operation, status string, elapsed time.Duration) {
	generationRequestsTotal.WithLabelValues(operation, status).Inc()
	generationLatencyMs.WithLabelValues(operation).Observe(float64(elapsed.Milliseconds()))
}

func ObserveExtraction(fenced bool) {
	outcome := "fallback"
	if fenced {
		outcome = "fenced"
	}
	extractionsTotal.WithLabelValues(outcome).Inc()
}

func ObserveQuery(status string, elapsed time.Duration) {
	queryExecutionsTotal.WithLabelValues(status).Inc()
	queryLatencyMs.Observe(float64(elapsed.Milliseconds()))
}
