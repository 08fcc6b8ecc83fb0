package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fim_rem"

// Metrics holds the Prometheus counters, histograms, and gauges for a harmonization run.
type Metrics struct {
	TilesCataloged       prometheus.Counter
	RatingFilesCataloged prometheus.Counter
	ItemsSkipped         *prometheus.CounterVec // labels: kind
	StageLayersBuilt     prometheus.Counter
	FeaturesPainted      prometheus.Counter
	OwnershipCollisions  prometheus.Counter
	CatchmentOverlaps    prometheus.Counter
	RatingRowsWritten    prometheus.Counter
	DuplicateRatingRows  prometheus.Counter
	RunRunning           prometheus.Gauge

	// Step timing.
	StepDuration *prometheus.HistogramVec // labels: step={catalog,units,ratings,rem,ownership,metadata,notify}

	// Tile cache metrics.
	TileCache *prometheus.CounterVec // labels: result={hit,miss}

	// Notification metrics.
	MessagesProduced prometheus.Counter
}

func newCollectors(help bool) *Metrics {
	h := func(s string) string {
		if help {
			return s
		}
		return ""
	}
	return &Metrics{
		TilesCataloged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_cataloged_total",
			Help:      h("Depth tiles found in the input tree."),
		}),
		RatingFilesCataloged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rating_files_cataloged_total",
			Help:      h("Rating-curve tables found in the input tree."),
		}),
		ItemsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_skipped_total",
			Help:      h("Per-item data errors skipped with a warning, by kind."),
		}, []string{"kind"}),
		StageLayersBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_layers_built_total",
			Help:      h("Per-stage mosaics written to scratch."),
		}),
		FeaturesPainted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "features_painted_total",
			Help:      h("Per-feature ownership rasters written to scratch."),
		}),
		OwnershipCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ownership_collisions_total",
			Help:      h("Cells claimed by more than one feature during the ownership merge."),
		}),
		CatchmentOverlaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catchment_overlaps_total",
			Help:      h("Catchment pairs found to overlap by the diagnostic check."),
		}),
		RatingRowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rating_rows_written_total",
			Help:      h("Rows written to the consolidated rating-curve table."),
		}),
		DuplicateRatingRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rating_duplicate_rows_total",
			Help:      h("Rating-curve rows sharing a feature id and stage with an earlier row."),
		}),
		RunRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_running",
			Help:      h("1 while a run is active, 0 otherwise."),
		}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      h("Duration of each run step."),
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"step"}),
		TileCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tile_cache_total",
			Help:      h("Decoded tile cache lookups by result."),
		}, []string{"result"}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_produced_total",
			Help:      h("Run notification messages written to Kafka."),
		}),
	}
}

// Collectors returns every collector so callers can register or push them.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.TilesCataloged,
		m.RatingFilesCataloged,
		m.ItemsSkipped,
		m.StageLayersBuilt,
		m.FeaturesPainted,
		m.OwnershipCollisions,
		m.CatchmentOverlaps,
		m.RatingRowsWritten,
		m.DuplicateRatingRows,
		m.RunRunning,
		m.StepDuration,
		m.TileCache,
		m.MessagesProduced,
	}
}

// NewMetrics creates and registers all run metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newCollectors(true)
	prometheus.MustRegister(m.Collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newCollectors(false)
}

// ObserveTileCache records one tile cache lookup.
func (m *Metrics) ObserveTileCache(hit bool) {
	if hit {
		m.TileCache.WithLabelValues("hit").Inc()
		return
	}
	m.TileCache.WithLabelValues("miss").Inc()
}

// ObserveSkip counts one skipped item.
func (m *Metrics) ObserveSkip(kind string) {
	m.ItemsSkipped.WithLabelValues(kind).Inc()
}
