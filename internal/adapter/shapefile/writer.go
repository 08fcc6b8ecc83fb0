package shapefile

import (
	"fmt"
	"os"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"

	"github.com/couchcryptid/fim-rem-etl/internal/metadata"
)

// ownershipRecord is the attribute layout of the ownership layer. DBF field
// names are limited to ten characters.
type ownershipRecord struct {
	geom.Polygon
	FeatureID  int     `shp:"feature_id"`
	Source     string  `shp:"source"`
	LastMod    string  `shp:"last_mod"`
	ModelName  string  `shp:"model_name"`
	QCStatus   string  `shp:"qc_status"`
	ModelType  string  `shp:"model_type"`
	MatchScore float64 `shp:"match_scr"`
	XSScore    float64 `shp:"xs_score"`
	StageMin   float64 `shp:"stage_min"`
	StageMax   float64 `shp:"stage_max"`
	FlowMin    float64 `shp:"q_min"`
	FlowMax    float64 `shp:"q_max"`
	Range      string  `shp:"range"`
}

// WriteOwnership writes one polygon record per feature. Multi-part features
// become a single record holding every ring, outer rings clockwise. When
// prjWKT is not empty it is written as the .prj sidecar.
func WriteOwnership(path string, features []metadata.Feature, prjWKT string) error {
	enc, err := shp.NewEncoder(path, ownershipRecord{})
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	for _, f := range features {
		rec := ownershipRecord{
			Polygon:    flatten(f.Geometry),
			FeatureID:  int(f.FeatureID),
			Source:     f.Source,
			LastMod:    f.LastModified,
			ModelName:  f.ModelName,
			QCStatus:   f.ConflationStatus,
			ModelType:  f.ModelType,
			MatchScore: f.MatchScore,
			XSScore:    f.XSScore,
			StageMin:   f.MinStage,
			StageMax:   f.MaxStage,
			FlowMin:    f.MinDischarge,
			FlowMax:    f.MaxDischarge,
			Range:      f.Range,
		}
		if err := enc.Encode(rec); err != nil {
			enc.Close()
			return fmt.Errorf("encode feature %s: %w", f.FeatureID, err)
		}
	}
	enc.Close()

	if prjWKT != "" {
		prj := strings.TrimSuffix(path, ".shp") + ".prj"
		if err := os.WriteFile(prj, []byte(prjWKT), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", prj, err)
		}
	}
	return nil
}

func flatten(mp geom.MultiPolygon) geom.Polygon {
	var out geom.Polygon
	for _, p := range mp {
		out = append(out, p...)
	}
	return out
}
