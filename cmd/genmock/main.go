// Command genmock writes a small, fully predictable ras2fim input tree: depth
// grids per feature and stage, rating curves, a catchment shapefile and the
// optional model catalog and conflation QC tables. The same generator backs
// the pipeline tests, so a run over its output can be checked cell by cell
// with cmd/validate.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock -features 3 -stages 5
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/couchcryptid/fim-rem-etl/internal/domain"
	"github.com/couchcryptid/fim-rem-etl/internal/fixture"
	"github.com/couchcryptid/fim-rem-etl/internal/rating"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	o := fixture.DefaultOptions()
	out := flag.String("out", "", "directory to write the tree into")
	flag.StringVar(&o.HUC, "huc", o.HUC, "HUC8 code of the generated unit")
	flag.IntVar(&o.Features, "features", o.Features, "number of features")
	flag.IntVar(&o.Stages, "stages", o.Stages, "number of stage increments per feature")
	flag.IntVar(&o.Width, "width", o.Width, "columns owned by each feature")
	flag.IntVar(&o.Rows, "rows", o.Rows, "rows of every tile")
	flag.Float64Var(&o.CellSize, "cell-size", o.CellSize, "cell size in map units")
	flag.IntVar(&o.EPSG, "epsg", o.EPSG, "EPSG code of the tiles")
	flag.Float64Var(&o.NoData, "nodata", o.NoData, "tile nodata value")
	units := flag.String("units", string(o.Units), "rating-curve units: feet or meter")
	firstID := flag.Int64("first-id", int64(o.FirstID), "feature id of the left-most feature")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	switch rating.System(*units) {
	case rating.Feet, rating.Meter:
		o.Units = rating.System(*units)
	default:
		return fmt.Errorf("invalid -units %q: want feet or meter", *units)
	}
	o.FirstID = domain.FeatureID(*firstID)
	if o.Features <= 0 || o.Stages <= 0 || o.Width <= 0 || o.Rows <= 0 {
		return fmt.Errorf("features, stages, width and rows must be positive")
	}

	l, err := fixture.Generate(*out, o)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	log.Printf("inputs: %s", l.InputDir)
	log.Printf("catchments: %s", l.CatchmentsPath)
	log.Printf("model catalog: %s", l.ModelCatalogPath)
	log.Printf("conflation qc: %s", l.ConflationQCPath)
	log.Printf("total: %d features, %d tiles, %d rating rows",
		len(l.FeatureIDs), len(l.FeatureIDs)*o.Stages, len(l.FeatureIDs)*o.Stages)
	return nil
}
