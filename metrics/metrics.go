// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tracedeck"

var (
	EngineQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "queries_total",
		Help:      "Statements sent to the query engine, by outcome.",
	}, []string{"outcome"})

	EngineQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "query_duration_seconds",
		Help:      "Wall time of query engine statements.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	LayoutCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "layout",
		Name:      "cache_lookups_total",
		Help:      "Depth layout cache lookups, by result.",
	}, []string{"result"})

	LayoutRows = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "layout",
		Name:      "rows",
		Help:      "Rows laid out per joint layout computation.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 12),
	})

	PluginLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "plugin",
		Name:      "trace_loads_total",
		Help:      "Plugin onTraceLoad invocations, by outcome.",
	}, []string{"outcome"})

	Aggregations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "aggregation",
		Name:      "prepared_total",
		Help:      "Aggregation prepareData invocations, by outcome.",
	}, []string{"outcome"})
)

// Outcome labels.
const (
	OK    = "ok"
	Error = "error"
	Stale = "stale"
	Hit   = "hit"
	Miss  = "miss"
)
