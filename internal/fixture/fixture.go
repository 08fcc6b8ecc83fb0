// Package fixture generates small, fully predictable input trees: depth tiles
// per feature and stage, rating curves, catchment polygons and the optional
// attribute tables.
//
// Features sit side by side along x, each owning Width columns. Terrain only
// varies with the row: a cell d rows away from the middle row is flooded from
// stage increment max(1, d) upward. Tiles spill one column into each
// neighbour so the catchment mask decides ownership.
package fixture

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"

	"github.com/couchcryptid/fim-rem-etl/internal/domain"
	"github.com/couchcryptid/fim-rem-etl/internal/raster"
	"github.com/couchcryptid/fim-rem-etl/internal/rating"
)

// Options shapes the generated tree.
type Options struct {
	HUC      string
	Features int
	Stages   int
	Width    int
	Rows     int
	CellSize float64
	OriginX  float64
	OriginY  float64
	EPSG     int
	NoData   float64
	Units    rating.System
	// FirstID is the feature id of the left-most feature.
	FirstID domain.FeatureID
}

// DefaultOptions returns a tree of three features and five stages.
func DefaultOptions() Options {
	return Options{
		HUC:      "12090301",
		Features: 3,
		Stages:   5,
		Width:    4,
		Rows:     9,
		CellSize: 10,
		OriginX:  500000,
		OriginY:  3000000,
		EPSG:     5070,
		NoData:   -9999,
		Units:    rating.Feet,
		FirstID:  1001,
	}
}

// Layout lists the paths Generate wrote.
type Layout struct {
	InputDir         string
	CatchmentsPath   string
	ModelCatalogPath string
	ConflationQCPath string
	FeatureIDs       []domain.FeatureID
}

// Generate writes the tree under root.
func Generate(root string, o Options) (*Layout, error) {
	l := &Layout{
		InputDir:         filepath.Join(root, "inputs"),
		CatchmentsPath:   filepath.Join(root, "catchments.shp"),
		ModelCatalogPath: filepath.Join(root, "model_catalog.csv"),
		ConflationQCPath: filepath.Join(root, "conflation_qc.csv"),
	}
	hucDir := filepath.Join(l.InputDir, o.HUC+"_ras2fim", "HUC_"+o.HUC)
	for k := 0; k < o.Features; k++ {
		fid := o.FeatureID(k)
		l.FeatureIDs = append(l.FeatureIDs, fid)

		tileDir := filepath.Join(hucDir, "depth_grids", fid.String())
		if err := os.MkdirAll(tileDir, 0o755); err != nil {
			return nil, err
		}
		for inc := 1; inc <= o.Stages; inc++ {
			path := filepath.Join(tileDir, fmt.Sprintf("%s-%d.tif", fid, inc))
			if err := raster.Write(path, o.Tile(k, inc), raster.Float32); err != nil {
				return nil, err
			}
		}
		if err := writeRatingCurve(filepath.Join(hucDir, "rating_curves"), fid, k, o); err != nil {
			return nil, err
		}
	}
	if err := writeCatchments(l.CatchmentsPath, o); err != nil {
		return nil, err
	}
	if err := writeTables(l, o); err != nil {
		return nil, err
	}
	return l, nil
}

// FeatureID returns the id of the k-th feature from the left.
func (o Options) FeatureID(k int) domain.FeatureID {
	return o.FirstID + domain.FeatureID(k)
}

func (o Options) distance(row int) int {
	d := row - o.Rows/2
	if d < 0 {
		return -d
	}
	return d
}

// Tile returns the depth grid of feature k at one stage increment.
func (o Options) Tile(k, inc int) *raster.Grid {
	c0 := max(0, k*o.Width-1)
	c1 := min(o.Features*o.Width, (k+1)*o.Width+1)
	g := raster.NewGrid(raster.Info{
		Cols: c1 - c0,
		Rows: o.Rows,
		Transform: raster.Transform{
			OriginX:     o.OriginX + float64(c0)*o.CellSize,
			OriginY:     o.OriginY,
			PixelWidth:  o.CellSize,
			PixelHeight: -o.CellSize,
		},
		CRS:    raster.CRS{EPSG: o.EPSG},
		NoData: o.NoData,
	})
	for r := 0; r < o.Rows; r++ {
		d := o.distance(r)
		if d > inc {
			continue
		}
		for c := 0; c < g.Cols; c++ {
			g.Set(r, c, float64(inc-d)/10)
		}
	}
	return g
}

// ExpectedREM is the lowest flooding stage of a cell of the full grid, in
// the source units.
func (o Options) ExpectedREM(row int) (float64, bool) {
	d := o.distance(row)
	if d > o.Stages {
		return 0, false
	}
	return float64(max(1, d)) / 10, true
}

// ExpectedOwner is the feature owning a cell of the full grid.
func (o Options) ExpectedOwner(row, col int) (domain.FeatureID, bool) {
	if o.distance(row) > o.Stages {
		return 0, false
	}
	return o.FeatureID(col / o.Width), true
}

// Discharge is the rating-curve discharge of feature k at one increment.
func (o Options) Discharge(k, inc int) float64 {
	return float64(10 * inc * (k + 1))
}

func writeRatingCurve(dir string, fid domain.FeatureID, k int, o Options) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	policy := rating.UnitPolicy{Source: o.Units}
	rows := [][]string{{"", policy.SourceStageHeader(), policy.SourceDischargeHeader(), "HydroID"}}
	for inc := 1; inc <= o.Stages; inc++ {
		rows = append(rows, []string{
			strconv.Itoa(inc - 1),
			strconv.FormatFloat(float64(inc)/10, 'f', -1, 64),
			strconv.FormatFloat(o.Discharge(k, inc), 'f', -1, 64),
			fmt.Sprintf("%d%02d", fid, inc),
		})
	}
	return writeCSV(filepath.Join(dir, fmt.Sprintf("%s_rating_curve.csv", fid)), rows)
}

type catchmentRecord struct {
	geom.Polygon
	FeatureID int    `shp:"feature_id"`
	Name      string `shp:"name"`
}

func writeCatchments(path string, o Options) error {
	enc, err := shp.NewEncoder(path, catchmentRecord{})
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer enc.Close()
	top := o.OriginY
	bottom := o.OriginY - float64(o.Rows)*o.CellSize
	for k := 0; k < o.Features; k++ {
		left := o.OriginX + float64(k*o.Width)*o.CellSize
		right := left + float64(o.Width)*o.CellSize
		rec := catchmentRecord{
			Polygon: geom.Polygon{{
				{X: left, Y: top}, {X: right, Y: top}, {X: right, Y: bottom},
				{X: left, Y: bottom}, {X: left, Y: top},
			}},
			FeatureID: int(o.FeatureID(k)),
			Name:      fmt.Sprintf("reach %d", k),
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode catchment %d: %w", k, err)
		}
	}
	return nil
}

func writeTables(l *Layout, o Options) error {
	models := [][]string{{"feature_id", "source", "last_modified", "model_name"}}
	qc := [][]string{{"feature_id", "conflation_status"}}
	for k, fid := range l.FeatureIDs {
		models = append(models, []string{fid.String(), "ras2fim", strconv.Itoa(1700000000 + k*86400), fmt.Sprintf("model_%d", k)})
		qc = append(qc, []string{fid.String(), "conflated"})
	}
	if err := writeCSV(l.ModelCatalogPath, models); err != nil {
		return err
	}
	return writeCSV(l.ConflationQCPath, qc)
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
