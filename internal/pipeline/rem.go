package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/couchcryptid/fim-rem-etl/internal/catalog"
	"github.com/couchcryptid/fim-rem-etl/internal/domain"
	"github.com/couchcryptid/fim-rem-etl/internal/raster"
)

// REMFile is the name of the stage envelope product.
const REMFile = "rem.tif"

// REM is the result of the stage-envelope reduction.
type REM struct {
	Grid   *raster.Grid
	Layers int
	Path   string
}

// BuildREM mosaics the tiles of every stage into one layer valued with the
// stage height, then folds all layers with min so each cell holds the lowest
// stage that floods it. Every tile is checked against one reference grid, the
// first readable tile of the lowest stage, so layers always fold together.
func BuildREM(ctx context.Context, cat *catalog.Catalog, opts Options) (*REM, error) {
	stages := cat.Stages()
	if len(stages) == 0 {
		return nil, &domain.NoInputFilesError{Kind: domain.InputStageLayers, Root: cat.Root}
	}

	ref := referenceInfo(cat, stages)
	var (
		mu     sync.Mutex
		layers = make(map[int]string, len(stages))
	)
	err := forEach(ctx, opts.Workers, stages, opts.Logger, func(ctx context.Context, inc int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, err := buildStageLayer(inc, cat.ByStage[inc], ref, opts)
		if err != nil || path == "" {
			return err
		}
		mu.Lock()
		layers[inc] = path
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stage layers: %w", err)
	}
	if len(layers) == 0 {
		return nil, domain.ErrNoStageLayers
	}

	paths := make([]string, 0, len(layers))
	for _, inc := range stages {
		if p, ok := layers[inc]; ok {
			paths = append(paths, p)
		}
	}
	grid, err := foldLayers(paths, opts.NoData)
	if err != nil {
		return nil, err
	}

	out := filepath.Join(opts.OutputDir, REMFile)
	if err := raster.Write(out, grid, raster.Float32); err != nil {
		return nil, fmt.Errorf("write %s: %w", out, err)
	}
	opts.Logger.Info("rem written", "path", out, "layers", len(paths),
		"cols", grid.Cols, "rows", grid.Rows, "valid_cells", grid.ValidCount())
	return &REM{Grid: grid, Layers: len(paths), Path: out}, nil
}

// referenceInfo returns the header of the first readable tile in stage order,
// or nil when no tile header can be read.
func referenceInfo(cat *catalog.Catalog, stages []int) *raster.Info {
	for _, inc := range stages {
		for _, p := range cat.ByStage[inc] {
			if info, err := raster.ReadInfo(p); err == nil {
				return &info
			}
		}
	}
	return nil
}

// buildStageLayer writes the mosaic of one stage to scratch and returns its
// path, or "" when the stage has no usable tile. Tiles off the ref grid are
// skipped.
func buildStageLayer(inc int, paths []string, ref *raster.Info, opts Options) (string, error) {
	reader := opts.reader()
	var grids []*raster.Grid
	for _, p := range paths {
		g, err := reader.Read(p)
		if err != nil {
			opts.Report.Skip(domain.SkipTile, p, err)
			continue
		}
		if ref == nil {
			ref = &g.Info
		}
		if err := ref.AlignedWith(g.Info); err != nil {
			opts.Report.Skip(domain.SkipTile, p, err)
			continue
		}
		grids = append(grids, g)
	}
	if len(grids) == 0 {
		opts.Report.Skip(domain.SkipStage, fmt.Sprintf("stage %d", inc), fmt.Errorf("no usable tiles among %d", len(paths)))
		return "", nil
	}

	mosaic, err := raster.Mosaic(grids, opts.NoData)
	if err != nil {
		return "", fmt.Errorf("mosaic stage %d: %w", inc, err)
	}
	height := float64(inc) / 10 * opts.stageScale()
	layer := raster.Reclass(mosaic, height, opts.NoData)

	out := filepath.Join(opts.ScratchDir, fmt.Sprintf("stage_%d.tif", inc))
	if err := raster.Write(out, layer, raster.Float32); err != nil {
		return "", fmt.Errorf("write %s: %w", out, err)
	}
	opts.Metrics.StageLayersBuilt.Inc()
	opts.Logger.Info("stage layer built", "stage_increment", inc, "tiles", len(grids), "stage", height)
	return out, nil
}

// foldLayers min-merges the layers onto their union extent, removing each
// intermediate once it has been folded in.
func foldLayers(paths []string, nodata float64) (*raster.Grid, error) {
	infos := make([]raster.Info, 0, len(paths))
	for _, p := range paths {
		info, err := raster.ReadInfo(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		infos = append(infos, info)
	}
	union, err := raster.Union(infos, nodata)
	if err != nil {
		return nil, fmt.Errorf("stage extent: %w", err)
	}

	out := raster.NewGrid(union)
	for _, p := range paths {
		layer, err := raster.Read(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		if _, err := out.Fold(layer, raster.Min); err != nil {
			return nil, fmt.Errorf("fold %s: %w", p, err)
		}
		if err := os.Remove(p); err != nil {
			return nil, err
		}
	}
	return out, nil
}
