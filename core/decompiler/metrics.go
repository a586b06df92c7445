package decompiler

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	decompileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "heimdall",
		Subsystem: "decompiler",
		Name:      "duration_seconds",
		Help:      "Time spent decompiling one contract",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	functionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "heimdall",
		Subsystem: "decompiler",
		Name:      "functions_total",
		Help:      "Functions recovered across all contracts",
	})

	diagnosticsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heimdall",
			Subsystem: "decompiler",
			Name:      "diagnostics_total",
			Help:      "Diagnostics emitted by kind",
		},
		[]string{"kind"},
	)

	resolverTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heimdall",
			Subsystem: "resolver",
			Name:      "lookups_total",
			Help:      "Selector lookups by outcome",
		},
		[]string{"result"}, // resolved, not_found, timeout, unavailable
	)

	cacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heimdall",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Decompiled interface cache lookups by result",
		},
		[]string{"result"}, // hit, miss, error
	)
)

func init() {
	prometheus.MustRegister(
		decompileDuration,
		functionsTotal,
		diagnosticsTotal,
		resolverTotal,
		cacheTotal,
	)
}
