package rating

import (
	"gonum.org/v1/gonum/floats"

	"github.com/couchcryptid/fim-rem-etl/internal/domain"
)

// Range is the span of one feature's rating curve.
type Range struct {
	MinStage     float64
	MaxStage     float64
	MinDischarge float64
	MaxDischarge float64
	Points       int
}

// Ranges returns the stage and discharge span of every feature in the table.
func (t *Table) Ranges() map[domain.FeatureID]Range {
	stages := make(map[domain.FeatureID][]float64)
	flows := make(map[domain.FeatureID][]float64)
	for _, r := range t.Rows {
		stages[r.FeatureID] = append(stages[r.FeatureID], r.Stage)
		flows[r.FeatureID] = append(flows[r.FeatureID], r.Discharge)
	}
	out := make(map[domain.FeatureID]Range, len(stages))
	for fid, s := range stages {
		q := flows[fid]
		out[fid] = Range{
			MinStage:     floats.Min(s),
			MaxStage:     floats.Max(s),
			MinDischarge: floats.Min(q),
			MaxDischarge: floats.Max(q),
			Points:       len(s),
		}
	}
	return out
}
