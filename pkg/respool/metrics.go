package respool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	allocationsCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respool_allocations_total",
			Help: "Counts number of items allocated",
		},
		[]string{"pool"},
	)
	freesCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respool_frees_total",
			Help: "Counts number of items freed",
		},
		[]string{"pool"},
	)
	freeMissesCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respool_free_misses_total",
			Help: "Counts number of frees of items not allocated",
		},
		[]string{"pool"},
	)
	exhaustedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respool_exhausted_total",
			Help: "Counts number of requests failed because the pool was exhausted",
		},
		[]string{"pool"},
	)
	casConflictsCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respool_cas_conflicts_total",
			Help: "Counts number of compare-and-swap collisions on a key",
		},
		[]string{"key"},
	)
	casRetriesExhaustedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respool_cas_retries_exhausted_total",
			Help: "Counts number of operations abandoned after too many collisions",
		},
		[]string{"key"},
	)
	orphansSweptCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "respool_orphans_swept_total",
			Help: "Counts number of index entries dropped because their item was gone",
		},
		[]string{"pool"},
	)
)
