package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/fim-rem-etl/internal/adapter/csvtable"
	"github.com/couchcryptid/fim-rem-etl/internal/adapter/gpkg"
	"github.com/couchcryptid/fim-rem-etl/internal/adapter/shapefile"
	"github.com/couchcryptid/fim-rem-etl/internal/catalog"
	"github.com/couchcryptid/fim-rem-etl/internal/config"
	"github.com/couchcryptid/fim-rem-etl/internal/domain"
	"github.com/couchcryptid/fim-rem-etl/internal/metadata"
	"github.com/couchcryptid/fim-rem-etl/internal/observability"
	"github.com/couchcryptid/fim-rem-etl/internal/raster"
	"github.com/couchcryptid/fim-rem-etl/internal/rating"
)

// Output file names.
const (
	RatingCurveFile = "rating_curve.csv"
	OwnershipGPKG   = "ownership.gpkg"
	OwnershipSHP    = "ownership.shp"
)

// Notifier publishes the outcome of a finished run.
type Notifier interface {
	Notify(ctx context.Context, summary domain.RunSummary, features []metadata.Feature) (int, error)
}

// Pipeline runs one harmonization over an input tree.
type Pipeline struct {
	cfg      *config.Config
	notifier Notifier
	logger   *slog.Logger
	metrics  *observability.Metrics
	ready    atomic.Bool

	mu   sync.Mutex
	last *domain.RunSummary
}

// New creates a Pipeline. notifier may be nil.
func New(cfg *config.Config, notifier Notifier, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
	}
}

// CheckReadiness returns nil once a run has completed successfully.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no run has completed yet")
	}
	return nil
}

// LastRun returns the summary of the last successful run.
func (p *Pipeline) LastRun() (domain.RunSummary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return domain.RunSummary{}, false
	}
	return *p.last, true
}

// Run rebuilds the output directory from the input tree: rating-curve table,
// REM, ownership raster and polygons, and the manifest.
func (p *Pipeline) Run(ctx context.Context) (domain.RunSummary, error) {
	cfg := p.cfg
	p.metrics.RunRunning.Set(1)
	defer p.metrics.RunRunning.Set(0)

	summary := domain.RunSummary{
		RunID:     uuid.New().String(),
		StartedAt: domain.Now(),
		InputDir:  cfg.InputDir,
		OutputDir: cfg.OutputDir,
		NoData:    cfg.NoData,
	}
	logger := p.logger.With("run_id", summary.RunID)
	logger.Info("run started", "input_dir", cfg.InputDir, "output_dir", cfg.OutputDir, "workers", cfg.Workers)

	report := domain.NewReport(logger, p.metrics.ObserveSkip)
	defer report.LogSummary()

	if err := resetOutputDir(cfg.InputDir, cfg.OutputDir); err != nil {
		return summary, err
	}
	scratch := filepath.Join(cfg.ScratchDir, "fimrem-"+summary.RunID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return summary, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn("scratch cleanup failed", "path", scratch, "error", err)
		}
	}()

	var cat *catalog.Catalog
	err := p.step("catalog", func() (err error) {
		cat, err = catalog.Build(ctx, cfg.InputDir, report)
		return err
	})
	if err != nil {
		return summary, err
	}
	summary.Tiles, summary.RatingFiles = cat.TileCount(), len(cat.RatingCurves)
	p.metrics.TilesCataloged.Add(float64(summary.Tiles))
	p.metrics.RatingFilesCataloged.Add(float64(summary.RatingFiles))
	logger.Info("catalog built", "tiles", summary.Tiles, "stages", len(cat.ByStage),
		"features", len(cat.ByFeature), "rating_curves", summary.RatingFiles)

	var policy rating.UnitPolicy
	err = p.step("units", func() (err error) {
		policy, err = ResolveUnits(cat, cfg.OutputUnits)
		return err
	})
	if err != nil {
		return summary, err
	}
	summary.UnitSystem = string(policy.System)
	summary.StageColumn, summary.DischargeColumn = policy.StageColumn, policy.DischargeColumn
	logger.Info("units resolved", "source", policy.Source, "system", policy.System,
		"stage_scale", policy.StageScale, "discharge_scale", policy.DischargeScale)

	var table *rating.Table
	err = p.step("ratings", func() error {
		var stats rating.Stats
		var err error
		table, stats, err = rating.Consolidate(ctx, cat, policy, rating.Options{
			Workers: cfg.Workers, Dedupe: cfg.DedupeRatings, Report: report,
		})
		if err != nil {
			return err
		}
		if stats.Duplicates > 0 {
			logger.Warn("duplicate rating curve rows", "rows", stats.Duplicates, "dropped", stats.Dropped)
			p.metrics.DuplicateRatingRows.Add(float64(stats.Duplicates))
		}
		summary.RatingRows, summary.Duplicates = stats.Rows, stats.Duplicates
		return csvtable.WriteRatingCurves(filepath.Join(cfg.OutputDir, RatingCurveFile), table)
	})
	if err != nil {
		return summary, err
	}
	p.metrics.RatingRowsWritten.Add(float64(summary.RatingRows))

	opts := Options{
		Workers:    cfg.Workers,
		NoData:     cfg.NoData,
		StageScale: policy.StageScale,
		ScratchDir: scratch,
		OutputDir:  cfg.OutputDir,
		Reader:     raster.NewCachedReader(raster.FileReader{}, cfg.TileCacheSize, p.metrics.ObserveTileCache),
		Report:     report,
		Logger:     logger,
		Metrics:    p.metrics,
	}

	var rem *REM
	if err := p.step("rem", func() (err error) {
		rem, err = BuildREM(ctx, cat, opts)
		return err
	}); err != nil {
		return summary, err
	}
	summary.StageLayers = rem.Layers
	summary.CRS = rem.Grid.CRS.String()

	var own *Ownership
	err = p.step("ownership", func() error {
		catchments, err := shapefile.ReadCatchments(cfg.CatchmentsPath, shapefile.ReadOptions{
			IDField: cfg.CatchmentIDField, TargetProj: cfg.CatchmentTargetProj,
		}, report)
		if err != nil {
			return fmt.Errorf("read catchments: %w", err)
		}
		if cfg.OverlapCheck {
			summary.Overlaps = p.checkOverlaps(logger, catchments)
		}
		p.checkCatchmentGrid(logger, catchments, rem.Grid.Info)
		own, err = BuildOwnership(ctx, cat, catchments, rem.Grid.Info, opts)
		return err
	})
	if err != nil {
		return summary, err
	}
	summary.Collisions = own.Collisions

	var features []metadata.Feature
	err = p.step("metadata", func() (err error) {
		features, err = p.enrich(own.Features, table, policy, report)
		if err != nil {
			return err
		}
		return p.writeVectors(ctx, features, rem.Grid.CRS)
	})
	if err != nil {
		return summary, err
	}
	summary.Features = len(features)
	summary.Outputs = p.outputs()
	summary.SkippedByKind = report.Counts()
	summary.FinishedAt = domain.Now()

	if err := WriteManifest(cfg.OutputDir, summary); err != nil {
		return summary, err
	}

	if p.notifier != nil {
		err := p.step("notify", func() error {
			n, err := p.notifier.Notify(ctx, summary, features)
			p.metrics.MessagesProduced.Add(float64(n))
			return err
		})
		if err != nil {
			return summary, err
		}
	}

	p.mu.Lock()
	p.last = &summary
	p.mu.Unlock()
	p.ready.Store(true)
	logger.Info("run finished", "features", summary.Features, "rating_rows", summary.RatingRows,
		"skipped", report.Total(), "duration", summary.FinishedAt.Sub(summary.StartedAt))
	return summary, nil
}

// ResolveUnits infers the unit system from the first cataloged rating curve
// and converts it to the requested output units.
func ResolveUnits(cat *catalog.Catalog, outputUnits string) (rating.UnitPolicy, error) {
	if len(cat.RatingCurves) == 0 {
		return rating.UnitPolicy{}, &domain.NoInputFilesError{Kind: domain.InputRatingCurves, Root: cat.Root}
	}
	policy, err := rating.InferUnits(cat.RatingCurves[0].Path)
	if err != nil {
		return rating.UnitPolicy{}, err
	}
	return policy.ConvertTo(outputUnits)
}

func (p *Pipeline) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.metrics.StepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (p *Pipeline) checkOverlaps(logger *slog.Logger, catchments map[domain.FeatureID]*domain.Catchment) int {
	overlaps := CatchmentOverlaps(catchments)
	for _, o := range overlaps {
		logger.Warn("catchments overlap", "feature_a", o.A, "feature_b", o.B)
	}
	p.metrics.CatchmentOverlaps.Add(float64(len(overlaps)))
	return len(overlaps)
}

// checkCatchmentGrid warns once when the catchments cannot mask the grid,
// which would otherwise only show as one empty-mask skip per feature.
func (p *Pipeline) checkCatchmentGrid(logger *slog.Logger, catchments map[domain.FeatureID]*domain.Catchment, target raster.Info) {
	var prj string
	if p.cfg.CatchmentTargetProj == "" {
		prj = shapefile.ProjectionWKT(p.cfg.CatchmentsPath)
	}
	if reason := CatchmentGridMismatch(prj, catchments, target); reason != "" {
		logger.Warn("catchments do not match the raster grid", "reason", reason,
			"catchments", p.cfg.CatchmentsPath, "raster_crs", target.CRS.String())
	}
}

func (p *Pipeline) enrich(owned []domain.OwnershipFeature, table *rating.Table, policy rating.UnitPolicy,
	report *domain.Report) ([]metadata.Feature, error) {
	in := metadata.Inputs{Ranges: table.Ranges(), Policy: policy}
	if path := p.cfg.ModelCatalogPath; path != "" {
		models, err := csvtable.ReadModelCatalog(path, report)
		if err != nil {
			return nil, fmt.Errorf("read model catalog: %w", err)
		}
		in.Models = models
	}
	if path := p.cfg.ConflationQCPath; path != "" {
		qc, err := csvtable.ReadConflationQC(path, report)
		if err != nil {
			return nil, fmt.Errorf("read conflation qc: %w", err)
		}
		in.QC = qc
	}
	return metadata.Enrich(owned, in, report), nil
}

func (p *Pipeline) writeVectors(ctx context.Context, features []metadata.Feature, crs raster.CRS) error {
	var prj string
	if p.cfg.CatchmentTargetProj == "" {
		prj = shapefile.ProjectionWKT(p.cfg.CatchmentsPath)
	}
	if p.cfg.WritesGPKG() {
		path := filepath.Join(p.cfg.OutputDir, OwnershipGPKG)
		if err := gpkg.Write(ctx, path, features, gpkg.EPSG(crs.EPSG, prj)); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if p.cfg.WritesShapefile() {
		path := filepath.Join(p.cfg.OutputDir, OwnershipSHP)
		if err := shapefile.WriteOwnership(path, features, prj); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

func (p *Pipeline) outputs() []string {
	out := []string{RatingCurveFile, REMFile, FeatureIDFile}
	if p.cfg.WritesGPKG() {
		out = append(out, OwnershipGPKG)
	}
	if p.cfg.WritesShapefile() {
		out = append(out, OwnershipSHP)
	}
	return append(out, ManifestFile)
}

// resetOutputDir deletes and recreates out so no file of an earlier run
// survives. It refuses an output directory that holds the input tree.
func resetOutputDir(in, out string) error {
	absIn, err := filepath.Abs(in)
	if err != nil {
		return err
	}
	absOut, err := filepath.Abs(out)
	if err != nil {
		return err
	}
	if rel, err := filepath.Rel(absOut, absIn); err == nil && !strings.HasPrefix(rel, "..") {
		return fmt.Errorf("output dir %s contains the input dir %s", out, in)
	}
	if err := os.RemoveAll(out); err != nil {
		return fmt.Errorf("clear output dir: %w", err)
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return nil
}
