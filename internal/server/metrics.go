package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/phobologic/archgraph/internal/analyzer"
)

type metrics struct {
	// analyses counts requests by outcome: complete, partial, invalid,
	// invalid_archive, too_large, error.
	analyses    *prometheus.CounterVec
	duration    prometheus.Histogram
	uploadBytes prometheus.Histogram
	cacheHits   prometheus.Counter
}

func newMetrics(reg *prometheus.Registry, an *analyzer.Analyzer) *metrics {
	f := promauto.With(reg)
	m := &metrics{
		analyses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "archgraph",
			Name:      "analyses_total",
			Help:      "Analysis requests by outcome",
		}, []string{"outcome"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "archgraph",
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of one analysis",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}),
		uploadBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "archgraph",
			Name:      "upload_bytes",
			Help:      "Size of uploaded archives",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 12),
		}),
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "archgraph",
			Name:      "cache_hits_total",
			Help:      "Requests served from the result cache",
		}),
	}
	gov := an.Governor()
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "archgraph",
		Subsystem: "memory",
		Name:      "usage_bytes",
		Help:      "Sampled heap plus outstanding reservations",
	}, func() float64 { return float64(gov.Usage()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "archgraph",
		Subsystem: "memory",
		Name:      "level",
		Help:      "Governor level: 0 ok, 1 warning, 2 critical",
	}, func() float64 { return float64(gov.Level()) })
	return m
}
