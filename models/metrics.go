package models

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadtree/quadtree"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	errTypeLabel = "error_type"
)

var (
	worldEntityCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "world_entity_count",
		Help: "The number of entities in the world.",
	})

	worldRebuildLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "world_rebuild_latency",
		Help:    "The time to rebuild the world index.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16),
	})

	worldRejectedEntities = promauto.NewCounter(prometheus.CounterOpts{
		Name: "world_rejected_entities",
		Help: "The number of entities that could not be indexed because they were outside the world boundary.",
	})

	quadtreeElements = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quadtree_elements",
		Help: "The number of elements stored in the world index.",
	})

	quadtreeNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quadtree_nodes",
		Help: "The number of nodes attached to the world index.",
	})

	quadtreeDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quadtree_depth",
		Help: "The depth of the deepest node of the world index.",
	})

	quadtreePooledNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quadtree_pooled_nodes",
		Help: "The number of nodes waiting in the node pool.",
	})

	quadtreeAllocatedNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quadtree_allocated_nodes",
		Help: "The number of nodes allocated by the node pool.",
	})

	worldQueryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "world_query_latency",
		Help:    "The time to run a range query on the world index.",
		Buckets: prometheus.ExponentialBuckets(0.000001, 2, 16),
	})

	worldQueryResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "world_query_results",
		Help:    "The number of entities returned by a range query.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	worldQueryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "world_query_errors",
		Help: "The errors that occured while running a range query.",
	}, []string{
		errTypeLabel,
	})
)

func instrumentEntityCount(count int) {
	worldEntityCount.Set(float64(count))
}

func instrumentRebuild(start time.Time, rejected int, stats quadtree.Stats) {
	worldRebuildLatency.Observe(time.Since(start).Seconds())
	worldRejectedEntities.Add(float64(rejected))

	quadtreeElements.Set(float64(stats.Elements))
	quadtreeNodes.Set(float64(stats.Nodes))
	quadtreeDepth.Set(float64(stats.Depth))
	quadtreePooledNodes.Set(float64(stats.PooledNodes))
	quadtreeAllocatedNodes.Set(float64(stats.AllocatedNodes))
}

func instrumentQuery(start time.Time, results int) {
	worldQueryLatency.Observe(time.Since(start).Seconds())
	worldQueryResults.Observe(float64(results))
}

func instrumentQueryError(err error) {
	worldQueryErrors.
		With(prometheus.Labels{
			errTypeLabel: errors.Type(err),
		}).
		Inc()
}
