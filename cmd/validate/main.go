// Command validate checks the integrity of one run's output directory: the
// manifest, both rasters, the rating-curve table and the ownership vector
// layer, and the consistency between them. With -mock it also compares every
// cell against what cmd/genmock generated.
//
// Usage:
//
//	go run ./cmd/validate -output data/out
//	go run ./cmd/validate -output data/out -mock -features 3 -stages 5
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/couchcryptid/fim-rem-etl/internal/adapter/gpkg"
	"github.com/couchcryptid/fim-rem-etl/internal/domain"
	"github.com/couchcryptid/fim-rem-etl/internal/fixture"
	"github.com/couchcryptid/fim-rem-etl/internal/pipeline"
	"github.com/couchcryptid/fim-rem-etl/internal/raster"
)

// maxErrors caps the detail printed per phase.
const maxErrors = 20

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// outputs holds everything loaded from the output directory.
type outputs struct {
	dir      string
	manifest domain.RunSummary
	rem      *raster.Grid
	owner    *raster.Grid
	header   []string
	rows     [][]string
	vector   *gpkg.Summary
}

func main() {
	dir := flag.String("output", "", "output directory of a finished run")
	mock := flag.Bool("mock", false, "compare cells against the genmock tree")
	o := fixture.DefaultOptions()
	flag.IntVar(&o.Features, "features", o.Features, "genmock -features")
	flag.IntVar(&o.Stages, "stages", o.Stages, "genmock -stages")
	flag.IntVar(&o.Width, "width", o.Width, "genmock -width")
	flag.IntVar(&o.Rows, "rows", o.Rows, "genmock -rows")
	flag.Parse()

	if *dir == "" {
		flag.Usage()
		os.Exit(1)
	}

	var expect *fixture.Options
	if *mock {
		expect = &o
	}
	if code := run(*dir, expect); code != 0 {
		os.Exit(code)
	}
}

func run(dir string, expect *fixture.Options) int {
	fmt.Println("=== FIM REM Output Validation ===")
	fmt.Println()

	out, err := load(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateManifest(out),
		validateRasters(out),
		validateRatingTable(out),
		validateVectorLayer(out),
	}
	if expect != nil {
		phases = append(phases, validateMock(out, *expect))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Run %s: %d features, %d rating rows, %d stage layers, %dx%d cells\n",
		out.manifest.RunID, out.manifest.Features, len(out.rows), out.manifest.StageLayers, out.rem.Cols, out.rem.Rows)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i == maxErrors {
				fmt.Printf("  ... and %d more\n", len(p.errors)-maxErrors)
				break
			}
			fmt.Printf("  %s\n", e)
		}
	}

	if !allPassed {
		return 1
	}
	fmt.Println("\nAll checks passed.")
	return 0
}

func load(dir string) (*outputs, error) {
	out := &outputs{dir: dir}
	var err error
	if out.manifest, err = pipeline.ReadManifest(dir); err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	if out.rem, err = raster.Read(filepath.Join(dir, pipeline.REMFile)); err != nil {
		return nil, fmt.Errorf("load rem: %w", err)
	}
	if out.owner, err = raster.Read(filepath.Join(dir, pipeline.FeatureIDFile)); err != nil {
		return nil, fmt.Errorf("load ownership raster: %w", err)
	}

	f, err := os.Open(filepath.Join(dir, pipeline.RatingCurveFile))
	if err != nil {
		return nil, fmt.Errorf("load rating curves: %w", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse rating curves: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("rating curves: empty file")
	}
	out.header, out.rows = records[0], records[1:]

	if slices.Contains(out.manifest.Outputs, pipeline.OwnershipGPKG) {
		s, err := gpkg.Inspect(context.Background(), filepath.Join(dir, pipeline.OwnershipGPKG))
		if err != nil {
			return nil, fmt.Errorf("load geopackage: %w", err)
		}
		out.vector = &s
	}
	return out, nil
}

func validateManifest(out *outputs) *phase {
	p := &phase{name: "Phase 1: Manifest"}
	m := out.manifest
	if m.RunID == "" {
		p.errorf("run_id is empty")
	}
	if m.FinishedAt.Before(m.StartedAt) {
		p.errorf("finished_at %s before started_at %s", m.FinishedAt, m.StartedAt)
	}
	for _, name := range m.Outputs {
		if _, err := os.Stat(filepath.Join(out.dir, name)); err != nil {
			p.errorf("listed output %s: %v", name, err)
		}
	}
	if m.StageColumn == "" || m.DischargeColumn == "" {
		p.errorf("unit columns missing")
	}
	if m.Features == 0 {
		p.errorf("no ownership features")
	}
	fmt.Printf("  manifest: run %s, %d outputs\n", m.RunID, len(m.Outputs))
	return p
}

func validateRasters(out *outputs) *phase {
	p := &phase{name: "Phase 2: REM and ownership rasters"}
	rem, own := out.rem, out.owner
	if rem.CRS.String() != out.manifest.CRS {
		p.errorf("rem CRS %s, manifest says %s", rem.CRS, out.manifest.CRS)
	}
	if rem.Cols != own.Cols || rem.Rows != own.Rows || rem.Transform != own.Transform {
		p.errorf("ownership grid %dx%d does not match rem %dx%d", own.Cols, own.Rows, rem.Cols, rem.Rows)
		return p
	}
	if !closeTo(rem.NoData, out.manifest.NoData) {
		p.errorf("rem nodata %g, manifest says %g", rem.NoData, out.manifest.NoData)
	}

	ids := make(map[float64]bool)
	for i, h := range rem.Data {
		r, c := i/rem.Cols, i%rem.Cols
		if !rem.IsNoData(h) && h <= 0 {
			p.errorf("rem cell %d,%d: non-positive stage %g", r, c, h)
		}
		v := own.Data[i]
		if own.IsNoData(v) {
			continue
		}
		ids[v] = true
		if rem.IsNoData(h) {
			p.errorf("cell %d,%d owned by %g but never flooded", r, c, v)
		}
		if v != math.Trunc(v) {
			p.errorf("cell %d,%d: fractional feature id %g", r, c, v)
		}
	}
	if len(ids) != out.manifest.Features {
		p.errorf("%d distinct owners, manifest says %d features", len(ids), out.manifest.Features)
	}
	fmt.Printf("  rasters: %d valid rem cells, %d owners\n", rem.ValidCount(), len(ids))
	return p
}

func validateRatingTable(out *outputs) *phase {
	p := &phase{name: "Phase 3: Rating curve table"}
	m := out.manifest
	want := []string{"feature_id", m.StageColumn, m.DischargeColumn,
		"hydro_id", "huc", "lake_id", "last_updated", "submitter", "obs_source"}
	if !slices.Equal(out.header, want) {
		p.errorf("header %v, want %v", out.header, want)
		return p
	}
	if len(out.rows) != m.RatingRows {
		p.errorf("%d rows, manifest says %d", len(out.rows), m.RatingRows)
	}
	for i, row := range out.rows {
		if len(row) != len(want) {
			p.errorf("row %d: %d fields", i+1, len(row))
			continue
		}
		if _, err := domain.ParseFeatureID(row[0]); err != nil {
			p.errorf("row %d: feature_id %q: %v", i+1, row[0], err)
		}
		if len(row[4]) != 8 {
			p.errorf("row %d: huc %q is not 8 digits", i+1, row[4])
		}
	}
	fmt.Printf("  rating curves: %d rows\n", len(out.rows))
	return p
}

func validateVectorLayer(out *outputs) *phase {
	p := &phase{name: "Phase 4: Ownership vector layer"}
	if out.vector == nil {
		fmt.Println("  vector: no geopackage in this run, skipped")
		return p
	}
	s := out.vector
	if !s.IsGeoPackage() {
		p.errorf("application_id 0x%08x is not a GeoPackage", s.ApplicationID)
	}
	if s.Features != out.manifest.Features {
		p.errorf("%d features, manifest says %d", s.Features, out.manifest.Features)
	}
	if out.rem.CRS.EPSG != 0 && s.SRSID != out.rem.CRS.EPSG {
		p.errorf("srs_id %d, rem is EPSG:%d", s.SRSID, out.rem.CRS.EPSG)
	}
	for _, fid := range s.FeatureIDs {
		if !slices.Contains(out.owner.Data, float64(fid)) {
			p.errorf("feature %s has no cell in the ownership raster", fid)
		}
	}
	fmt.Printf("  vector: %d features, srs %d\n", s.Features, s.SRSID)
	return p
}

func validateMock(out *outputs, o fixture.Options) *phase {
	p := &phase{name: "Phase 5: Mock expectations"}
	if out.rem.Rows != o.Rows || out.rem.Cols != o.Features*o.Width {
		p.errorf("grid %dx%d, mock is %dx%d", out.rem.Cols, out.rem.Rows, o.Features*o.Width, o.Rows)
		return p
	}
	// the mock tree is in feet; a meter run scales every stage
	scale := 1.0
	if out.manifest.UnitSystem == "meter" {
		scale = 0.3048
	}
	for r := 0; r < o.Rows; r++ {
		want, flooded := o.ExpectedREM(r)
		for c := 0; c < out.rem.Cols; c++ {
			got := out.rem.At(r, c)
			if !flooded {
				if !out.rem.IsNoData(got) {
					p.errorf("rem cell %d,%d: want nodata, got %g", r, c, got)
				}
				continue
			}
			if math.Abs(got-want*scale) > 1e-5 {
				p.errorf("rem cell %d,%d: want %g, got %g", r, c, want*scale, got)
			}
			fid, _ := o.ExpectedOwner(r, c)
			if owner := out.owner.At(r, c); owner != float64(fid) {
				p.errorf("owner cell %d,%d: want %s, got %g", r, c, fid, owner)
			}
		}
	}
	if len(out.rows) != o.Features*o.Stages {
		p.errorf("%d rating rows, mock has %d", len(out.rows), o.Features*o.Stages)
	}
	return p
}

func closeTo(a, b float64) bool {
	return a == b || math.Abs(a-b) <= 1e-9*math.Max(math.Abs(a), math.Abs(b))
}
