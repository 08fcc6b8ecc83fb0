package rating_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/fim-rem-etl/internal/domain"
	"github.com/couchcryptid/fim-rem-etl/internal/rating"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestInferUnits(t *testing.T) {
	tests := []struct {
		header   string
		system   rating.System
		stageCol string
		flowCol  string
		srcStage string
		srcFlow  string
	}{
		{",AvgDepth(ft),Flow(cfs)", rating.Feet, "stage_ft", "discharge_cfs", "AvgDepth(ft)", "Flow(cfs)"},
		{",AvgDepth(Feet),Flow(cfs)", rating.Feet, "stage_ft", "discharge_cfs", "AvgDepth(ft)", "Flow(cfs)"},
		{",Flow(cfs),AvgDepth(ft)", rating.Feet, "stage_ft", "discharge_cfs", "AvgDepth(ft)", "Flow(cfs)"},
		{",AvgDepth(m),Flow(cms)", rating.Meter, "stage_m", "discharge_cms", "AvgDepth(m)", "Flow(cms)"},
		{",AvgDepth( metres ),Flow(m3/s)", rating.Meter, "stage_m", "discharge_cms", "AvgDepth(m)", "Flow(cms)"},
		{"\ufeffid,AvgDepth(M),Flow(CMS)", rating.Meter, "stage_m", "discharge_cms", "AvgDepth(m)", "Flow(cms)"},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			p := writeCSV(t, t.TempDir(), "1_rating_curve.csv", tt.header+"\n0,1,2\n")

			policy, err := rating.InferUnits(p)
			require.NoError(t, err)

			assert.Equal(t, tt.system, policy.System)
			assert.Equal(t, tt.system, policy.Source)
			assert.Equal(t, tt.stageCol, policy.StageColumn)
			assert.Equal(t, tt.flowCol, policy.DischargeColumn)
			assert.Equal(t, tt.srcStage, policy.SourceStageHeader())
			assert.Equal(t, tt.srcFlow, policy.SourceDischargeHeader())
			assert.Equal(t, 1.0, policy.StageScale)
			assert.Equal(t, 1.0, policy.DischargeScale)
		})
	}
}

func TestInferUnits_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
		token  string
	}{
		{"unknown token", ",AvgDepth(yd),Flow(cfs)", "yd"},
		{"no token", ",AvgDepth,Flow(cfs)", ""},
		{"empty token", ",AvgDepth(),Flow(cfs)", ""},
		{"single column", "AvgDepth(ft)", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeCSV(t, t.TempDir(), "1_rating_curve.csv", tt.header+"\n")

			_, err := rating.InferUnits(p)

			var unitErr *domain.UnsupportedUnitError
			require.True(t, errors.As(err, &unitErr), "got %v", err)
			assert.Equal(t, tt.token, unitErr.Token)
			assert.True(t, domain.IsFatal(err))
		})
	}
}

func TestInferUnits_EmptyFile(t *testing.T) {
	p := writeCSV(t, t.TempDir(), "1_rating_curve.csv", "")

	_, err := rating.InferUnits(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty file")
}

func TestConvertTo(t *testing.T) {
	feet := mustPolicy(t, ",AvgDepth(ft),Flow(cfs)")
	meter := mustPolicy(t, ",AvgDepth(m),Flow(cms)")

	native, err := feet.ConvertTo("native")
	require.NoError(t, err)
	assert.Equal(t, feet, native)

	toMeter, err := feet.ConvertTo("meter")
	require.NoError(t, err)
	assert.Equal(t, rating.Feet, toMeter.Source)
	assert.Equal(t, rating.Meter, toMeter.System)
	assert.Equal(t, "stage_m", toMeter.StageColumn)
	assert.InDelta(t, 0.3048, toMeter.StageScale, 1e-12)
	assert.InDelta(t, 0.0283168466, toMeter.DischargeScale, 1e-12)

	toFeet, err := meter.ConvertTo("FEET")
	require.NoError(t, err)
	assert.Equal(t, "discharge_cfs", toFeet.DischargeColumn)
	assert.InDelta(t, 1.0, toFeet.StageScale*0.3048, 1e-12)

	same, err := meter.ConvertTo("meter")
	require.NoError(t, err)
	assert.Equal(t, meter, same)

	_, err = feet.ConvertTo("furlongs")
	assert.Error(t, err)
}

func mustPolicy(t *testing.T, header string) rating.UnitPolicy {
	t.Helper()
	p := writeCSV(t, t.TempDir(), "1_rating_curve.csv", header+"\n")
	policy, err := rating.InferUnits(p)
	require.NoError(t, err)
	return policy
}
