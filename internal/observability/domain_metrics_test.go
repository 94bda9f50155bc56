package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveExtractionCountsOutcomes(t *testing.T) {
	fencedBefore := metricValue(t, extractionsTotal.WithLabelValues("fenced"))
	fallbackBefore := metricValue(t, extractionsTotal.WithLabelValues("fallback"))

	ObserveExtraction(true)
	ObserveExtraction(false)
	ObserveExtraction(false)

	if got := metricValue(t, extractionsTotal.WithLabelValues("fenced")) - fencedBefore; got != 1 {
		t.Fatalf("fenced delta = %v", got)
	}
	if got := metricValue(t, extractionsTotal.WithLabelValues("fallback")) - fallbackBefore; got != 2 {
		t.Fatalf("fallback delta = %v", got)
	}
}

func TestObserveDatasetLoadSetsGaugesOnSuccessOnly(t *testing.T) {
	ObserveDatasetLoad("csv", StatusOK, 42, 7, 10*time.Millisecond)
	if got := metricValue(t, datasetRows); got != 42 {
		t.Fatalf("dataset rows = %v", got)
	}
	if got := metricValue(t, datasetVersion); got != 7 {
		t.Fatalf("dataset version = %v", got)
	}

	ObserveDatasetLoad("csv", StatusError, 0, 0, time.Millisecond)
	if got := metricValue(t, datasetRows); got != 42 {
		t.Fatalf("dataset rows after failed load = %v", got)
	}
}

func metricValue(t *testing.T, metric prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := metric.Write(&out); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	default:
		t.Fatalf("unsupported metric %#v", &out)
		return 0
	}
}
