package metadata_test

import (
	"log/slog"
	"testing"

	"github.com/couchcryptid/fim-rem-etl/internal/domain"
	"github.com/couchcryptid/fim-rem-etl/internal/metadata"
	"github.com/couchcryptid/fim-rem-etl/internal/rating"
	"github.com/ctessum/geom"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var feetPolicy = rating.UnitPolicy{
	Source: rating.Feet, System: rating.Feet,
	StageColumn: "stage_ft", DischargeColumn: "discharge_cfs",
	StageScale: 1, DischargeScale: 1,
}

func square() geom.MultiPolygon {
	return geom.MultiPolygon{{{{X: 0, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 0}, {X: 0, Y: 0}, {X: 0, Y: 1}}}}
}

func TestEnrich_FullJoin(t *testing.T) {
	features := []domain.OwnershipFeature{{FeatureID: 101, Geometry: square()}}
	in := metadata.Inputs{
		Models: map[domain.FeatureID]metadata.ModelRecord{
			101: {Source: "ras2fim", LastModified: "1700000000", ModelName: "Brazos_Upper"},
		},
		QC:     map[domain.FeatureID]metadata.QCRecord{101: {ConflationStatus: "conflated"}},
		Ranges: map[domain.FeatureID]rating.Range{101: {MinStage: 1, MaxStage: 2, MinDischarge: 10, MaxDischarge: 20, Points: 2}},
		Policy: feetPolicy,
	}

	got := metadata.Enrich(features, in, nil)

	want := []metadata.Feature{{
		FeatureID:        101,
		Geometry:         square(),
		Source:           "ras2fim",
		LastModified:     "2023-11-14 22:13:20",
		ModelName:        "Brazos_Upper",
		ConflationStatus: "conflated",
		ModelType:        "1D",
		MatchScore:       -1,
		XSScore:          -1,
		MinStage:         1,
		MaxStage:         2,
		MinDischarge:     10,
		MaxDischarge:     20,
		Range:            "stage_ft:1.0-2.0;discharge_cfs:10-20",
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("enriched features mismatch (-want +got):\n%s", diff)
	}
}

func TestEnrich_MissingTables(t *testing.T) {
	features := []domain.OwnershipFeature{{FeatureID: 7}, {FeatureID: 3}}
	report := domain.NewReport(slog.New(slog.DiscardHandler), nil)
	in := metadata.Inputs{
		Ranges: map[domain.FeatureID]rating.Range{3: {MinStage: 0.5, MaxStage: 0.5}, 99: {}},
		Policy: feetPolicy,
	}

	got := metadata.Enrich(features, in, report)

	require.Len(t, got, 2)
	assert.Equal(t, domain.FeatureID(7), got[0].FeatureID, "input order is kept")
	assert.Equal(t, metadata.Unknown, got[0].Source)
	assert.Equal(t, metadata.Unknown, got[0].LastModified)
	assert.Equal(t, metadata.Unknown, got[0].ModelName)
	assert.Equal(t, metadata.Unknown, got[0].ConflationStatus)
	assert.Equal(t, -1.0, got[0].MinStage)
	assert.Empty(t, got[0].Range)
	assert.Equal(t, "stage_ft:0.5-0.5;discharge_cfs:0-0", got[1].Range)

	assert.Equal(t, map[string]int{
		domain.SkipFeatureNoCurve:    1,
		domain.SkipRatingNoOwnership: 1,
	}, report.Counts())
}

func TestEnrich_BlankModelFields(t *testing.T) {
	features := []domain.OwnershipFeature{{FeatureID: 1}}
	in := metadata.Inputs{
		Models: map[domain.FeatureID]metadata.ModelRecord{1: {Source: " ", LastModified: "-1"}},
		QC:     map[domain.FeatureID]metadata.QCRecord{1: {}},
	}

	got := metadata.Enrich(features, in, nil)

	require.Len(t, got, 1)
	assert.Equal(t, metadata.Unknown, got[0].Source)
	assert.Equal(t, metadata.Unknown, got[0].LastModified)
	assert.Equal(t, metadata.Unknown, got[0].ConflationStatus)
}

func TestFormatEpoch(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"0", "1970-01-01 00:00:00"},
		{"1700000000", "2023-11-14 22:13:20"},
		{"1700000000.0", "2023-11-14 22:13:20"},
		{"1700000000000", "2023-11-14 22:13:20"},
		{" 86400 ", "1970-01-02 00:00:00"},
		{"-1", metadata.Unknown},
		{"", metadata.Unknown},
		{"yesterday", metadata.Unknown},
		{"NaN", metadata.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, metadata.FormatEpoch(tt.raw))
		})
	}
}

func TestRangeString_Metric(t *testing.T) {
	policy := rating.UnitPolicy{StageColumn: "stage_m", DischargeColumn: "discharge_cms"}
	r := rating.Range{MinStage: 0.3048, MaxStage: 3, MinDischarge: 0.25, MaxDischarge: 12.5}

	assert.Equal(t, "stage_m:0.3048-3.0;discharge_cms:0.25-12.5", metadata.RangeString(r, policy))
}
