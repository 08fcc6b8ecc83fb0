package domain

import (
	"log/slog"
	"sort"
	"sync"
)

// Skip kinds for per-item data errors. Each is recoverable: the item is
// logged, counted and left out of the products.
const (
	SkipTile              = "tile"
	SkipRatingFile        = "rating_file"
	SkipRatingRow         = "rating_row"
	SkipStage             = "stage"
	SkipFeatureNoCatch    = "feature_no_catchment"
	SkipFeatureNoTiles    = "feature_no_tiles"
	SkipFeatureEmptyMask  = "feature_empty_mask"
	SkipCatalogRow        = "catalog_row"
	SkipCatchment         = "catchment"
	SkipFeatureNoCurve    = "feature_no_rating_curve"
	SkipRatingNoOwnership = "rating_no_ownership"
)

// Report collects per-item data errors across the whole run. It is safe for
// concurrent use by pipeline workers.
type Report struct {
	mu     sync.Mutex
	counts map[string]int
	logger *slog.Logger
	onSkip func(kind string)
}

// NewReport creates a Report that logs every skip as a warning. onSkip may be
// nil; otherwise it is called once per skipped item (metrics hook).
func NewReport(logger *slog.Logger, onSkip func(kind string)) *Report {
	return &Report{
		counts: make(map[string]int),
		logger: logger,
		onSkip: onSkip,
	}
}

// Skip records one skipped item of the given kind.
func (r *Report) Skip(kind, key string, err error) {
	r.mu.Lock()
	r.counts[kind]++
	r.mu.Unlock()

	attrs := []any{"kind", kind, "key", key}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	r.logger.Warn("skipping item", attrs...)
	if r.onSkip != nil {
		r.onSkip(kind)
	}
}

// Counts returns a copy of the skip counters keyed by kind.
func (r *Report) Counts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

// Total returns the number of skipped items of every kind.
func (r *Report) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.counts {
		n += v
	}
	return n
}

// LogSummary writes one line per skip kind so operators can judge how
// complete the products are.
func (r *Report) LogSummary() {
	counts := r.Counts()
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		r.logger.Warn("skipped items", "kind", k, "count", counts[k])
	}
	r.logger.Info("skip summary", "total_skipped", r.Total())
}
