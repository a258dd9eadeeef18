package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels of storeOperations.
const (
	outcomeOk      = "ok"
	outcomeMiss    = "miss"
	outcomeInvalid = "invalid"
	outcomeError   = "error"
)

var (
	storeOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sica",
		Name:      "store_operations_total",
		Help:      "Total number of cache store operations.",
	}, []string{"operation" /* add | get | remove | reset */, "outcome" /* ok | miss | invalid | error */})
	sweepPasses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sica",
		Name:      "sweep_passes_total",
		Help:      "Total number of eviction sweeps.",
	})
	sweepEvictedEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sica",
		Name:      "sweep_evicted_entries_total",
		Help:      "Total number of expired entries removed by the sweeper.",
	}, []string{"scope" /* global | user */})
	sweepRemovedPartitions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sica",
		Name:      "sweep_removed_partitions_total",
		Help:      "Total number of emptied user partitions removed by the sweeper.",
	})
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sica",
		Name:      "sweep_duration_seconds",
		Help:      "Time spent holding the store lock for one sweep.",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
	})
)

// outcomeOf maps an operation error onto its metric label.
func outcomeOf(err error, found bool) string {
	switch {
	case err == nil && found:
		return outcomeOk
	case err == nil:
		return outcomeMiss
	case isValidation(err):
		return outcomeInvalid
	default:
		return outcomeError
	}
}
