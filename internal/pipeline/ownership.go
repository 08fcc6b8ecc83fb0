package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/couchcryptid/fim-rem-etl/internal/catalog"
	"github.com/couchcryptid/fim-rem-etl/internal/domain"
	"github.com/couchcryptid/fim-rem-etl/internal/raster"
)

// FeatureIDFile is the name of the ownership raster product.
const FeatureIDFile = "feature_id.tif"

var (
	errNoCatchment = errors.New("no catchment polygon")
	errNoTiles     = errors.New("no readable tile")
	errEmptyMask   = errors.New("no flooded cell inside the catchment")
)

// Ownership is the result of the feature-ownership rasterization.
type Ownership struct {
	Grid       *raster.Grid
	Features   []domain.OwnershipFeature
	Painted    int
	Collisions int
	Path       string
}

// BuildOwnership paints, for every cataloged feature, the cells its largest
// flood footprint covers inside its catchment, merges all features onto the
// REM grid keeping the smallest id where they collide, and vectorizes the
// result into one dissolved multipolygon per feature.
func BuildOwnership(ctx context.Context, cat *catalog.Catalog, catchments map[domain.FeatureID]*domain.Catchment,
	target raster.Info, opts Options) (*Ownership, error) {
	target.NoData = opts.NoData

	var (
		mu     sync.Mutex
		layers = make(map[domain.FeatureID]string)
	)
	fids := cat.Features()
	err := forEach(ctx, opts.Workers, fids, opts.Logger, func(ctx context.Context, fid domain.FeatureID) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, err := paintFeature(fid, cat.TilesDescending(fid), catchments[fid], target, opts)
		if err != nil || path == "" {
			return err
		}
		mu.Lock()
		layers[fid] = path
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("feature layers: %w", err)
	}

	painted := make([]domain.FeatureID, 0, len(layers))
	for fid := range layers {
		painted = append(painted, fid)
	}
	slices.Sort(painted)

	grid := raster.NewGrid(target)
	collisions := 0
	for _, fid := range painted {
		p := layers[fid]
		layer, err := raster.Read(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		n, err := grid.Fold(layer, raster.Min)
		if err != nil {
			return nil, fmt.Errorf("merge feature %s: %w", fid, err)
		}
		collisions += n
		if err := os.Remove(p); err != nil {
			return nil, err
		}
	}
	if collisions > 0 {
		opts.Logger.Warn("ownership collisions resolved to the smallest feature id", "cells", collisions)
		opts.Metrics.OwnershipCollisions.Add(float64(collisions))
	}

	out := filepath.Join(opts.OutputDir, FeatureIDFile)
	if err := raster.Write(out, grid, ownershipDataType(painted, opts.NoData)); err != nil {
		return nil, fmt.Errorf("write %s: %w", out, err)
	}

	shapes := raster.Polygonize(grid)
	features := make([]domain.OwnershipFeature, 0, len(shapes))
	for _, s := range shapes {
		features = append(features, domain.OwnershipFeature{
			FeatureID: domain.FeatureID(s.Value),
			Geometry:  s.Geometry,
		})
	}
	opts.Logger.Info("ownership written", "path", out, "features", len(features), "collisions", collisions)
	return &Ownership{Grid: grid, Features: features, Painted: len(painted), Collisions: collisions, Path: out}, nil
}

// paintFeature writes the masked footprint of one feature to scratch and
// returns its path, or "" when the feature is skipped.
func paintFeature(fid domain.FeatureID, tiles []domain.TileRef, catchment *domain.Catchment,
	target raster.Info, opts Options) (string, error) {
	key := "feature " + fid.String()
	if catchment == nil {
		opts.Report.Skip(domain.SkipFeatureNoCatch, key, errNoCatchment)
		return "", nil
	}

	var footprint *raster.Grid
	reader := opts.reader()
	for _, t := range tiles {
		g, err := reader.Read(t.Path)
		if err != nil {
			opts.Report.Skip(domain.SkipTile, t.Path, err)
			continue
		}
		if err := target.AlignedWith(g.Info); err != nil {
			opts.Report.Skip(domain.SkipTile, t.Path, err)
			continue
		}
		footprint = g
		break
	}
	if footprint == nil {
		opts.Report.Skip(domain.SkipFeatureNoTiles, key, errNoTiles)
		return "", nil
	}

	masked := raster.Mask(footprint, opts.NoData, catchment.Contains)
	layer := raster.Crop(raster.Reclass(masked, float64(fid), opts.NoData))
	if layer == nil {
		opts.Report.Skip(domain.SkipFeatureEmptyMask, key, errEmptyMask)
		return "", nil
	}

	out := filepath.Join(opts.ScratchDir, fmt.Sprintf("feature_%s.tif", fid))
	if err := raster.Write(out, layer, raster.Float64); err != nil {
		return "", fmt.Errorf("write %s: %w", out, err)
	}
	opts.Metrics.FeaturesPainted.Inc()
	return out, nil
}

// ownershipDataType picks Int32 when every id and the nodata value fit.
func ownershipDataType(fids []domain.FeatureID, nodata float64) raster.DataType {
	if nodata != math.Trunc(nodata) || nodata < math.MinInt32 || nodata > math.MaxInt32 {
		return raster.Float64
	}
	for _, fid := range fids {
		if fid < math.MinInt32 || fid > math.MaxInt32 {
			return raster.Float64
		}
	}
	return raster.Int32
}
