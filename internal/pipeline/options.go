package pipeline

import (
	"log/slog"

	"github.com/couchcryptid/fim-rem-etl/internal/domain"
	"github.com/couchcryptid/fim-rem-etl/internal/observability"
	"github.com/couchcryptid/fim-rem-etl/internal/raster"
)

// Options carries what the raster steps share for one run.
type Options struct {
	Workers    int
	NoData     float64
	StageScale float64
	ScratchDir string
	OutputDir  string

	// Reader loads tiles. Defaults to reading from disk without caching.
	Reader  raster.Reader
	Report  *domain.Report
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

func (o Options) reader() raster.Reader {
	if o.Reader == nil {
		return raster.FileReader{}
	}
	return o.Reader
}

func (o Options) stageScale() float64 {
	if o.StageScale == 0 {
		return 1
	}
	return o.StageScale
}
