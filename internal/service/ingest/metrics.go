package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ingestion pipeline's Prometheus instruments.
type Metrics struct {
	Consumed      *prometheus.CounterVec
	Committed     prometheus.Counter
	DeadLettered  prometheus.Counter
	StoreFailures prometheus.Counter
	Processing    prometheus.Histogram
}

// NewMetrics registers the ingestion instruments on reg. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Consumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audit",
			Subsystem: "ingest",
			Name:      "envelopes_consumed_total",
			Help:      "Envelopes fetched from the event transport, by topic.",
		}, []string{"topic"}),
		Committed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "audit",
			Subsystem: "ingest",
			Name:      "envelopes_committed_total",
			Help:      "Envelopes acknowledged after a durable audit write.",
		}),
		DeadLettered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "audit",
			Subsystem: "ingest",
			Name:      "envelopes_dead_lettered_total",
			Help:      "Envelopes recorded as DEAD_LETTER instead of a normal record.",
		}),
		StoreFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "audit",
			Subsystem: "ingest",
			Name:      "store_failures_total",
			Help:      "Audit store writes that failed and left the envelope uncommitted.",
		}),
		Processing: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "audit",
			Subsystem: "ingest",
			Name:      "processing_duration_seconds",
			Help:      "Wall time from fetch to commit for one envelope.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
