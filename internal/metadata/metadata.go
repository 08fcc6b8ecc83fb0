// Package metadata joins ownership polygons with the per-feature attributes
// published alongside them.
package metadata

import (
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ctessum/geom"

	"github.com/couchcryptid/fim-rem-etl/internal/domain"
	"github.com/couchcryptid/fim-rem-etl/internal/rating"
)

const (
	// Unknown fills attributes no input table provides.
	Unknown = "unknown"

	timeLayout = "2006-01-02 15:04:05"

	// Epochs above this are taken to be in milliseconds (year 5138 in seconds).
	msEpochThreshold = 1e11
)

// Placeholders for scores no upstream system produces yet.
const (
	ModelType1D     = "1D"
	ScoreNotScored  = -1.0
	RangeNotPresent = -1.0
)

// ModelRecord is one row of the model catalog.
type ModelRecord struct {
	Source       string
	LastModified string
	ModelName    string
}

// QCRecord is one row of the conflation QC table.
type QCRecord struct {
	ConflationStatus string
}

// Inputs bundles the optional tables joined onto the ownership polygons.
// Nil maps are treated as empty.
type Inputs struct {
	Models map[domain.FeatureID]ModelRecord
	QC     map[domain.FeatureID]QCRecord
	Ranges map[domain.FeatureID]rating.Range
	Policy rating.UnitPolicy
}

// Feature is one enriched row of the ownership polygon layer.
type Feature struct {
	FeatureID        domain.FeatureID
	Geometry         geom.MultiPolygon
	Source           string
	LastModified     string
	ModelName        string
	ConflationStatus string
	ModelType        string
	MatchScore       float64
	XSScore          float64
	MinStage         float64
	MaxStage         float64
	MinDischarge     float64
	MaxDischarge     float64
	Range            string
}

// Enrich left-joins every ownership feature with the model catalog, the QC
// table and its rating-curve range. The output keeps the order of features.
func Enrich(features []domain.OwnershipFeature, in Inputs, report *domain.Report) []Feature {
	out := make([]Feature, 0, len(features))
	owned := make(map[domain.FeatureID]bool, len(features))
	for _, f := range features {
		owned[f.FeatureID] = true
		row := Feature{
			FeatureID:        f.FeatureID,
			Geometry:         f.Geometry,
			Source:           Unknown,
			LastModified:     Unknown,
			ModelName:        Unknown,
			ConflationStatus: Unknown,
			ModelType:        ModelType1D,
			MatchScore:       ScoreNotScored,
			XSScore:          ScoreNotScored,
			MinStage:         RangeNotPresent,
			MaxStage:         RangeNotPresent,
			MinDischarge:     RangeNotPresent,
			MaxDischarge:     RangeNotPresent,
		}
		if m, ok := in.Models[f.FeatureID]; ok {
			row.Source = orUnknown(m.Source)
			row.ModelName = orUnknown(m.ModelName)
			row.LastModified = FormatEpoch(m.LastModified)
		}
		if q, ok := in.QC[f.FeatureID]; ok {
			row.ConflationStatus = orUnknown(q.ConflationStatus)
		}
		if r, ok := in.Ranges[f.FeatureID]; ok {
			row.MinStage, row.MaxStage = r.MinStage, r.MaxStage
			row.MinDischarge, row.MaxDischarge = r.MinDischarge, r.MaxDischarge
			row.Range = RangeString(r, in.Policy)
		} else if report != nil {
			report.Skip(domain.SkipFeatureNoCurve, f.FeatureID.String(), nil)
		}
		out = append(out, row)
	}

	if report != nil {
		orphans := make([]domain.FeatureID, 0)
		for fid := range in.Ranges {
			if !owned[fid] {
				orphans = append(orphans, fid)
			}
		}
		slices.Sort(orphans)
		for _, fid := range orphans {
			report.Skip(domain.SkipRatingNoOwnership, fid.String(), nil)
		}
	}
	return out
}

// FormatEpoch converts a last-modified epoch to "2006-01-02 15:04:05" UTC.
// Millisecond epochs are recognized by magnitude. -1, blank and unparseable
// values yield Unknown.
func FormatEpoch(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Unknown
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return Unknown
	}
	if v > msEpochThreshold {
		v /= 1000
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC().Format(timeLayout)
}

// RangeString renders a rating-curve range as
// "stage_ft:1.0-2.0;discharge_cfs:10-20".
func RangeString(r rating.Range, policy rating.UnitPolicy) string {
	return policy.StageColumn + ":" + formatStage(r.MinStage) + "-" + formatStage(r.MaxStage) +
		";" + policy.DischargeColumn + ":" + formatNumber(r.MinDischarge) + "-" + formatNumber(r.MaxDischarge)
}

func formatStage(v float64) string {
	s := formatNumber(v)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return Unknown
	}
	return s
}
