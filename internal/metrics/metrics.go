// Package metrics holds the prometheus collectors for handle lifecycles and
// iterator behavior. All collectors live on Registry rather than the global
// default registry so an embedding program decides whether to expose them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "refstore"

// Prefetch outcomes.
const (
	PrefetchUsed      = "used"
	PrefetchPreempted = "preempted"
	PrefetchDiscarded = "discarded"
	PrefetchSkipped   = "skipped"
)

var (
	Registry = prometheus.NewRegistry()

	HandlesOpen = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "handles_open",
		Help:      "Handles resolvable by id, by kind.",
	}, []string{"kind"})

	IteratorRefreshes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "iterator_refreshes_total",
		Help:      "Iterators moved onto a newer snapshot.",
	})

	Prefetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "prefetch_total",
		Help:      "Background prefetches, by outcome.",
	}, []string{"outcome"})

	CloseWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "close_wait_seconds",
		Help:      "Time a close spent waiting for in-flight operations.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"kind"})
)

func init() {
	Registry.MustRegister(HandlesOpen, IteratorRefreshes, Prefetches, CloseWait)
}
