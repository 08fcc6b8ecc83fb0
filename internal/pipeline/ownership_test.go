package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/fim-rem-etl/internal/catalog"
	"github.com/couchcryptid/fim-rem-etl/internal/domain"
	"github.com/couchcryptid/fim-rem-etl/internal/pipeline"
	"github.com/couchcryptid/fim-rem-etl/internal/raster"
	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nd = -9999.0

func info(cols, rows int, ox, oy float64) raster.Info {
	return raster.Info{
		Cols:      cols,
		Rows:      rows,
		Transform: raster.Transform{OriginX: ox, OriginY: oy, PixelWidth: 1, PixelHeight: -1},
		CRS:       raster.CRS{EPSG: 5070},
		NoData:    nd,
	}
}

func rect(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{{{X: x0, Y: y1}, {X: x1, Y: y1}, {X: x1, Y: y0}, {X: x0, Y: y0}, {X: x0, Y: y1}}}
}

// writeTile writes a fully flooded tile and registers it in cat.
func writeTile(t *testing.T, cat *catalog.Catalog, fid domain.FeatureID, inc int, in raster.Info) {
	t.Helper()
	g := raster.NewGrid(in)
	for i := range g.Data {
		g.Data[i] = 1
	}
	path := filepath.Join(cat.Root, fmt.Sprintf("%s-%d.tif", fid, inc))
	require.NoError(t, raster.Write(path, g, raster.Float32))
	cat.ByStage[inc] = append(cat.ByStage[inc], path)
	cat.ByFeature[fid] = append(cat.ByFeature[fid], domain.TileRef{FeatureID: fid, StageIncrement: inc, Path: path})
}

func newCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	return &catalog.Catalog{
		Root:      t.TempDir(),
		ByStage:   make(map[int][]string),
		ByFeature: make(map[domain.FeatureID][]domain.TileRef),
	}
}

func testOptions(t *testing.T, workers int, report *domain.Report) pipeline.Options {
	t.Helper()
	return pipeline.Options{
		Workers:    workers,
		NoData:     nd,
		ScratchDir: t.TempDir(),
		OutputDir:  t.TempDir(),
		Report:     report,
		Logger:     slog.New(slog.DiscardHandler),
		Metrics:    newTestMetrics(),
	}
}

func newReport() *domain.Report {
	return domain.NewReport(slog.New(slog.DiscardHandler), nil)
}

func TestBuildOwnership_DeterministicAcrossOrders(t *testing.T) {
	cat := newCatalog(t)
	target := info(6, 2, 0, 2)
	// both features flood the whole target and their catchments share columns 2-3
	writeTile(t, cat, 7, 10, target)
	writeTile(t, cat, 3, 10, target)
	catchments := map[domain.FeatureID]*domain.Catchment{
		7: domain.NewCatchment(7, rect(0, 0, 4, 2)),
		3: domain.NewCatchment(3, rect(2, 0, 6, 2)),
	}

	var grids [][]float64
	for _, workers := range []int{1, 2, 8} {
		own, err := pipeline.BuildOwnership(context.Background(), cat, catchments, target, testOptions(t, workers, newReport()))
		require.NoError(t, err)
		assert.Equal(t, 4, own.Collisions)
		grids = append(grids, own.Grid.Data)
	}
	for _, g := range grids[1:] {
		assert.Equal(t, grids[0], g)
	}
	assert.Equal(t, []float64{7, 7, 3, 3, 3, 3, 7, 7, 3, 3, 3, 3}, grids[0], "collisions go to the smaller id")
}

func TestBuildOwnership_DissolvesDisjointParts(t *testing.T) {
	cat := newCatalog(t)
	target := info(5, 1, 0, 1)
	writeTile(t, cat, 42, 5, target)
	// two separate pieces of one catchment
	catchments := map[domain.FeatureID]*domain.Catchment{
		42: domain.NewCatchment(42, rect(0, 0, 2, 1), rect(3, 0, 5, 1)),
	}
	opts := testOptions(t, 2, newReport())

	own, err := pipeline.BuildOwnership(context.Background(), cat, catchments, target, opts)
	require.NoError(t, err)

	require.Len(t, own.Features, 1)
	f := own.Features[0]
	assert.Equal(t, domain.FeatureID(42), f.FeatureID)
	assert.Len(t, f.Geometry, 2)
	b := f.Geometry.Bounds()
	assert.Equal(t, geom.Point{X: 0, Y: 0}, b.Min)
	assert.Equal(t, geom.Point{X: 5, Y: 1}, b.Max)
	assert.FileExists(t, own.Path)

	entries, err := os.ReadDir(opts.ScratchDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "per-feature intermediates are removed after the merge")
}

func TestBuildOwnership_SkipsFeatures(t *testing.T) {
	cat := newCatalog(t)
	target := info(4, 1, 0, 1)
	writeTile(t, cat, 1, 5, target)             // no catchment
	writeTile(t, cat, 2, 5, target)             // catchment outside the footprint
	writeTile(t, cat, 3, 5, info(2, 1, 0.5, 1)) // misaligned with target
	writeTile(t, cat, 4, 5, target)
	require.NoError(t, os.WriteFile(filepath.Join(cat.Root, "bad.tif"), []byte("garbage"), 0o644))
	// the highest stage is tried first and is unreadable
	cat.ByFeature[4] = append(cat.ByFeature[4], domain.TileRef{FeatureID: 4, StageIncrement: 9, Path: filepath.Join(cat.Root, "bad.tif")})

	catchments := map[domain.FeatureID]*domain.Catchment{
		2: domain.NewCatchment(2, rect(10, 0, 12, 1)),
		3: domain.NewCatchment(3, rect(0, 0, 4, 1)),
		4: domain.NewCatchment(4, rect(0, 0, 4, 1)),
	}
	report := newReport()

	own, err := pipeline.BuildOwnership(context.Background(), cat, catchments, target, testOptions(t, 2, report))
	require.NoError(t, err)

	require.Len(t, own.Features, 1)
	assert.Equal(t, domain.FeatureID(4), own.Features[0].FeatureID)
	assert.Equal(t, map[string]int{
		domain.SkipFeatureNoCatch:   1,
		domain.SkipFeatureEmptyMask: 1,
		domain.SkipFeatureNoTiles:   1,
		domain.SkipTile:             2,
	}, report.Counts())
}

func TestBuildREM_MinOfStages(t *testing.T) {
	cat := newCatalog(t)
	writeTile(t, cat, 1, 20, info(3, 1, 0, 1))
	writeTile(t, cat, 1, 10, info(2, 1, 0, 1))
	writeTile(t, cat, 2, 10, info(2, 1, 2, 1))
	opts := testOptions(t, 2, newReport())
	opts.StageScale = 0.5

	rem, err := pipeline.BuildREM(context.Background(), cat, opts)
	require.NoError(t, err)

	assert.Equal(t, 2, rem.Layers)
	assert.Equal(t, 4, rem.Grid.Cols)
	assert.InDeltaSlice(t, []float64{0.5, 0.5, 0.5, 0.5}, rem.Grid.Data, 1e-6)
	assert.FileExists(t, filepath.Join(opts.OutputDir, pipeline.REMFile))
	entries, err := os.ReadDir(opts.ScratchDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuildREM_NoUsableStageIsFatal(t *testing.T) {
	cat := newCatalog(t)
	bad := filepath.Join(cat.Root, "1-10.tif")
	require.NoError(t, os.WriteFile(bad, []byte("not a tiff"), 0o644))
	cat.ByStage[10] = []string{bad}
	report := newReport()

	_, err := pipeline.BuildREM(context.Background(), cat, testOptions(t, 1, report))

	require.ErrorIs(t, err, domain.ErrNoStageLayers)
	assert.True(t, domain.IsFatal(err))
	assert.Equal(t, map[string]int{domain.SkipTile: 1, domain.SkipStage: 1}, report.Counts())
}

func TestBuildREM_SkipsMismatchedTiles(t *testing.T) {
	cat := newCatalog(t)
	writeTile(t, cat, 1, 10, info(2, 1, 0, 1))
	other := info(2, 1, 5, 1)
	other.CRS = raster.CRS{EPSG: 4269}
	writeTile(t, cat, 2, 10, other)
	report := newReport()

	rem, err := pipeline.BuildREM(context.Background(), cat, testOptions(t, 1, report))
	require.NoError(t, err)

	assert.Equal(t, 2, rem.Grid.Cols)
	assert.Equal(t, map[string]int{domain.SkipTile: 1}, report.Counts())
}

func TestBuildREM_SkipsTilesOffTheSharedGrid(t *testing.T) {
	cat := newCatalog(t)
	writeTile(t, cat, 1, 10, info(2, 1, 0, 1))
	writeTile(t, cat, 1, 20, info(2, 1, 0, 1))
	writeTile(t, cat, 2, 20, info(2, 1, 5.5, 1)) // half a cell off the stage 10 grid
	report := newReport()

	rem, err := pipeline.BuildREM(context.Background(), cat, testOptions(t, 2, report))
	require.NoError(t, err)

	assert.Equal(t, 2, rem.Layers)
	assert.Equal(t, 2, rem.Grid.Cols)
	assert.InDelta(t, 0.0, rem.Grid.Transform.OriginX, 1e-9)
	assert.InDeltaSlice(t, []float64{1, 1}, rem.Grid.Data, 1e-6)
	assert.Equal(t, map[string]int{domain.SkipTile: 1}, report.Counts())
}

func TestBuildREM_EmptyCatalog(t *testing.T) {
	_, err := pipeline.BuildREM(context.Background(), newCatalog(t), testOptions(t, 1, newReport()))

	var noInput *domain.NoInputFilesError
	require.ErrorAs(t, err, &noInput)
	assert.Equal(t, domain.InputStageLayers, noInput.Kind)
}

func TestBuildREM_CanceledContext(t *testing.T) {
	cat := newCatalog(t)
	writeTile(t, cat, 1, 10, info(2, 1, 0, 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pipeline.BuildREM(ctx, cat, testOptions(t, 1, newReport()))

	require.ErrorIs(t, err, context.Canceled)
	var keyErr *pipeline.KeyError[int]
	require.True(t, errors.As(err, &keyErr))
	assert.Equal(t, 10, keyErr.Key)
}

func TestCatchmentOverlaps(t *testing.T) {
	catchments := map[domain.FeatureID]*domain.Catchment{
		1: domain.NewCatchment(1, rect(0, 0, 2, 2)),
		2: domain.NewCatchment(2, rect(2, 0, 4, 2)), // shares an edge with 1
		3: domain.NewCatchment(3, rect(3, 1, 5, 3)), // overlaps 2
		4: domain.NewCatchment(4, rect(10, 10, 11, 11)),
		5: domain.NewCatchment(5, rect(20, 2, 26, 4)),
		6: domain.NewCatchment(6, rect(22, 0, 24, 6)), // crosses 5
	}

	got := pipeline.CatchmentOverlaps(catchments)

	assert.Equal(t, []pipeline.Overlap{{A: 2, B: 3}, {A: 5, B: 6}}, got)
}

func TestCatchmentOverlaps_CrossingShapes(t *testing.T) {
	// Neither bar has a vertex inside the other; they share a 2x2 square.
	catchments := map[domain.FeatureID]*domain.Catchment{
		1: domain.NewCatchment(1, rect(0, 2, 6, 4)),
		2: domain.NewCatchment(2, rect(2, 0, 4, 6)),
	}

	got := pipeline.CatchmentOverlaps(catchments)

	assert.Equal(t, []pipeline.Overlap{{A: 1, B: 2}}, got)
}

func TestCatchmentGridMismatch(t *testing.T) {
	target := info(4, 4, 0, 4)
	inside := map[domain.FeatureID]*domain.Catchment{1: domain.NewCatchment(1, rect(1, 1, 3, 3))}
	far := map[domain.FeatureID]*domain.Catchment{1: domain.NewCatchment(1, rect(500, 500, 501, 501))}
	albers := `PROJCS["NAD83 / Conus Albers",GEOGCS["NAD83",AUTHORITY["EPSG","4269"]],AUTHORITY["EPSG","5070"]]`
	geographic := `GEOGCS["NAD83",DATUM["North_American_Datum_1983"],AUTHORITY["EPSG","4269"]]`

	tests := []struct {
		name       string
		prj        string
		catchments map[domain.FeatureID]*domain.Catchment
		want       string
	}{
		{"same epsg", albers, inside, ""},
		{"no prj", "", inside, ""},
		{"prj without authority", `PROJCS["custom"]`, inside, ""},
		{"different epsg", geographic, inside, "catchments are EPSG:4269, rasters are EPSG:5070"},
		{"disjoint extent", "", far, "no catchment intersects the raster extent"},
		{"no catchments", "", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pipeline.CatchmentGridMismatch(tt.prj, tt.catchments, target))
		})
	}
}
