package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all prometheus metrics
type Metrics struct {
	Computations    prometheus.Counter
	CacheHits       prometheus.Counter
	RowsLoaded      prometheus.Counter
	RowsDropped     *prometheus.CounterVec // label: column
	DatasetsLoaded  *prometheus.CounterVec // label: source
	ComputeDuration prometheus.Histogram
	PrizePool       prometheus.Gauge
	ErrorsCount     *prometheus.CounterVec // label: operation
}

// NewMetrics 在 reg 上注册；reg 为空时使用默认 registerer
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Computations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "computations_total",
			Help:      "The total number of metric computations, cache hits included",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "The total number of computations served from cache",
		}),
		RowsLoaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_loaded_total",
			Help:      "The total number of roster rows accepted by the loader",
		}),
		RowsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_dropped_total",
			Help:      "The total number of roster rows dropped, by offending column",
		}, []string{"column"}),
		DatasetsLoaded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datasets_loaded_total",
			Help:      "The total number of datasets loaded, by source",
		}, []string{"source"}),
		ComputeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compute_duration_seconds",
			Help:      "Time taken to filter and aggregate a dataset",
			Buckets:   prometheus.DefBuckets,
		}),
		PrizePool: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "prize_pool",
			Help:      "Prize pool of the most recent computation",
		}),
		ErrorsCount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "The total number of errors",
		}, []string{"operation"}),
	}
}
