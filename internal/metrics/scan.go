package metrics

import "github.com/prometheus/client_golang/prometheus"

// Scan outcomes used as the "outcome" label.
const (
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
	OutcomeCanceled = "canceled"
)

var (
	// AssetsScannedTotal counts assets processed per format and outcome.
	AssetsScannedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_scanned_total",
			Help:      "Assets processed by the full-text scanner",
		},
		[]string{"format", "outcome"},
	)

	// ScanDuration observes the time spent scanning one format within a request.
	ScanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "format_scan_duration_seconds",
			Help:      "Time to scan all candidate assets of one format",
			Buckets:   prometheus.ExponentialBuckets(0.005, 3, 10),
		},
		[]string{"format"},
	)

	// SearchHits observes the number of distinct hits per request.
	SearchHits = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_hits",
			Help:      "Distinct assets returned per search request",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		},
	)
)
