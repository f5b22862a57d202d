package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overseer",
		Name:      "cycles_total",
		Help:      "Autopilot cycles by result (ok, degraded, failed, skipped).",
	}, []string{"result"})

	metricCycleSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "overseer",
		Name:      "cycle_duration_seconds",
		Help:      "Wall-clock duration of autopilot cycles.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
	})
)
