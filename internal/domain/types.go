package domain

import (
	"strconv"

	"github.com/ctessum/geom"
)

// LakeIDNone marks a rating curve row that does not belong to a lake.
const LakeIDNone = -999

// FeatureID identifies one reach of the hydrologic network.
type FeatureID int64

func (id FeatureID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseFeatureID parses the integer-like identifier used in file names.
func ParseFeatureID(s string) (FeatureID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return FeatureID(v), nil
}

// TileRef points at one depth tile: a feature flooded at one stage increment.
type TileRef struct {
	FeatureID      FeatureID
	StageIncrement int
	Path           string
}

// Stage decodes the increment into the model's length unit (tenths).
func (t TileRef) Stage() float64 {
	return float64(t.StageIncrement) / 10.0
}

// RatingCurveFile is a per-feature rating curve table found by the catalog.
type RatingCurveFile struct {
	Path      string
	FeatureID FeatureID
	HUC       string
}

// RatingCurveRow is one stage/discharge pair of a feature, already in the
// run's canonical units.
type RatingCurveRow struct {
	FeatureID   FeatureID
	Stage       float64
	Discharge   float64
	HydroID     string
	HUC         string
	LakeID      int
	LastUpdated string
	Submitter   string
	ObsSource   string
}

// OwnershipFeature is the dissolved footprint of one feature: every cell the
// feature owns, merged into a single multi-part geometry.
type OwnershipFeature struct {
	FeatureID FeatureID
	Geometry  geom.MultiPolygon
}
