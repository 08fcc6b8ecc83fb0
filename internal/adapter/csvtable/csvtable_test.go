package csvtable_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/fim-rem-etl/internal/adapter/csvtable"
	"github.com/couchcryptid/fim-rem-etl/internal/domain"
	"github.com/couchcryptid/fim-rem-etl/internal/metadata"
	"github.com/couchcryptid/fim-rem-etl/internal/rating"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReport() *domain.Report {
	return domain.NewReport(slog.New(slog.DiscardHandler), nil)
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "table.csv")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestWriteRatingCurves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rating_curve.csv")
	table := &rating.Table{
		Policy: rating.UnitPolicy{StageColumn: "stage_ft", DischargeColumn: "discharge_cfs"},
		Rows: []domain.RatingCurveRow{
			{FeatureID: 101, Stage: 1, Discharge: 10.5, HUC: "12090301", LakeID: domain.LakeIDNone},
			{FeatureID: 101, Stage: 2, Discharge: 20, HydroID: "h,1", HUC: "12090301", LakeID: domain.LakeIDNone},
		},
	}

	require.NoError(t, csvtable.WriteRatingCurves(path, table))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"feature_id,stage_ft,discharge_cfs,hydro_id,huc,lake_id,last_updated,submitter,obs_source\n"+
			"101,1,10.5,,12090301,-999,,,\n"+
			"101,2,20,\"h,1\",12090301,-999,,,\n",
		string(got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must be renamed away")
}

func TestReadModelCatalog(t *testing.T) {
	p := writeFile(t, "\ufeffModel_Name,FEATURE_ID,source,last_modified\n"+
		"Brazos_Upper,101,ras2fim,1700000000\n"+
		"Dup,101,other,0\n"+
		"Bad,abc,x,1\n"+
		"Short\n"+
		"Colorado,202,,-1\n")
	report := newReport()

	got, err := csvtable.ReadModelCatalog(p, report)
	require.NoError(t, err)

	assert.Equal(t, map[domain.FeatureID]metadata.ModelRecord{
		101: {Source: "ras2fim", LastModified: "1700000000", ModelName: "Brazos_Upper"},
		202: {Source: "", LastModified: "-1", ModelName: "Colorado"},
	}, got)
	assert.Equal(t, map[string]int{domain.SkipCatalogRow: 2}, report.Counts())
}

func TestReadConflationQC(t *testing.T) {
	p := writeFile(t, "feature_id,conflation_status,notes\n7,conflated,ok\n8,unconflated\n")

	got, err := csvtable.ReadConflationQC(p, newReport())
	require.NoError(t, err)

	assert.Equal(t, map[domain.FeatureID]metadata.QCRecord{
		7: {ConflationStatus: "conflated"},
		8: {ConflationStatus: "unconflated"},
	}, got)
}

func TestReadKeyed_Errors(t *testing.T) {
	_, err := csvtable.ReadConflationQC(writeFile(t, "id,conflation_status\n1,x\n"), newReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing feature_id column")

	_, err = csvtable.ReadModelCatalog(filepath.Join(t.TempDir(), "absent.csv"), newReport())
	assert.Error(t, err)
}
