package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RendersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maprender_renders_total",
		Help: "Total number of render calls by status class",
	}, []string{"status"})

	RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "maprender_render_duration_seconds",
		Help:    "Wall-clock duration of render calls in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	HandleLoads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "maprender_handle_loads_total",
		Help: "Total number of successful handle constructions",
	})

	HandleLoadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "maprender_handle_load_failures_total",
		Help: "Total number of failed handle constructions",
	})

	TileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "maprender_tile_cache_hits_total",
		Help: "Total number of tile cache hits",
	})

	TileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "maprender_tile_cache_misses_total",
		Help: "Total number of tile cache misses",
	})

	TileCacheStores = promauto.NewCounter(prometheus.CounterOpts{
		Name: "maprender_tile_cache_stores_total",
		Help: "Total number of tile cache store operations",
	})
)
