package rating_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/couchcryptid/fim-rem-etl/internal/catalog"
	"github.com/couchcryptid/fim-rem-etl/internal/domain"
	"github.com/couchcryptid/fim-rem-etl/internal/rating"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feetHeader = ",AvgDepth(ft),Flow(cfs)"

func newReport() *domain.Report {
	return domain.NewReport(slog.New(slog.DiscardHandler), nil)
}

// curveCatalog writes one rating curve per body under a HUC directory and
// returns a catalog listing them.
func curveCatalog(t *testing.T, bodies map[domain.FeatureID]string) *catalog.Catalog {
	t.Helper()
	root := t.TempDir()
	cat := &catalog.Catalog{Root: root}
	for fid, body := range bodies {
		name := fmt.Sprintf("%d_rating_curve.csv", fid)
		p := writeCSV(t, root, filepath.Join("HUC_12090301", fid.String(), name), body)
		cat.RatingCurves = append(cat.RatingCurves, domain.RatingCurveFile{Path: p, FeatureID: fid, HUC: "12090301"})
	}
	sort.Slice(cat.RatingCurves, func(i, j int) bool {
		return cat.RatingCurves[i].Path < cat.RatingCurves[j].Path
	})
	return cat
}

func feetPolicy(t *testing.T) rating.UnitPolicy {
	t.Helper()
	return mustPolicy(t, feetHeader)
}

func TestConsolidate_RoundTrip(t *testing.T) {
	const features, points = 3, 4
	bodies := map[domain.FeatureID]string{}
	for f := 1; f <= features; f++ {
		var b strings.Builder
		b.WriteString(feetHeader + "\n")
		for k := 0; k < points; k++ {
			fmt.Fprintf(&b, "%d,%g,%g\n", k, float64(k+1)*0.5, float64(f*100+k))
		}
		bodies[domain.FeatureID(f)] = b.String()
	}
	cat := curveCatalog(t, bodies)

	table, stats, err := rating.Consolidate(context.Background(), cat, feetPolicy(t), rating.Options{Workers: 2, Report: newReport()})
	require.NoError(t, err)

	require.Len(t, table.Rows, features*points)
	assert.Equal(t, rating.Stats{Files: features, Rows: features * points}, stats)
	assert.Equal(t,
		[]string{"feature_id", "stage_ft", "discharge_cfs", "hydro_id", "huc", "lake_id", "last_updated", "submitter", "obs_source"},
		table.Header())

	for i, r := range table.Rows {
		f, k := i/points+1, i%points
		want := domain.RatingCurveRow{
			FeatureID: domain.FeatureID(f),
			Stage:     float64(k+1) * 0.5,
			Discharge: float64(f*100 + k),
			HUC:       "12090301",
			LakeID:    domain.LakeIDNone,
		}
		if diff := cmp.Diff(want, r); diff != "" {
			t.Errorf("row %d mismatch (-want +got):\n%s", i, diff)
		}
	}

	assert.Equal(t, []string{"2", "1", "201", "", "12090301", "-999", "", "", ""}, table.Record(table.Rows[5]))
}

func TestConsolidate_ColumnsByPrefix(t *testing.T) {
	cat := curveCatalog(t, map[domain.FeatureID]string{
		7: "HydroID,Flow(cfs),Extra,AvgDepth(ft)\nh-1,350,x,2.5\n",
	})

	table, _, err := rating.Consolidate(context.Background(), cat, feetPolicy(t), rating.Options{Report: newReport()})
	require.NoError(t, err)

	require.Len(t, table.Rows, 1)
	assert.Equal(t, 2.5, table.Rows[0].Stage)
	assert.Equal(t, 350.0, table.Rows[0].Discharge)
	assert.Equal(t, "h-1", table.Rows[0].HydroID)
}

func TestConsolidate_MixedUnitsAreFatal(t *testing.T) {
	cat := curveCatalog(t, map[domain.FeatureID]string{
		1: feetHeader + "\n0,1,10\n",
		2: ",AvgDepth(m),Flow(cms)\n0,1,10\n",
	})

	_, _, err := rating.Consolidate(context.Background(), cat, feetPolicy(t), rating.Options{Workers: 4, Report: newReport()})

	var unitErr *domain.UnsupportedUnitError
	require.True(t, errors.As(err, &unitErr), "got %v", err)
	assert.Contains(t, unitErr.Reason, "mixed units")
	assert.True(t, domain.IsFatal(err))
}

func TestConsolidate_SkipsBadRows(t *testing.T) {
	cat := curveCatalog(t, map[domain.FeatureID]string{
		1: feetHeader + "\n0,1,10\n1,abc,20\n\n2,3\n3,4,40\n",
	})
	report := newReport()

	table, stats, err := rating.Consolidate(context.Background(), cat, feetPolicy(t), rating.Options{Report: report})
	require.NoError(t, err)

	assert.Len(t, table.Rows, 2)
	assert.Equal(t, 2, stats.SkippedRows)
	assert.Equal(t, map[string]int{domain.SkipRatingRow: 2}, report.Counts())
}

func TestConsolidate_NoRowsIsFatal(t *testing.T) {
	cat := curveCatalog(t, map[domain.FeatureID]string{1: feetHeader + "\n"})

	_, _, err := rating.Consolidate(context.Background(), cat, feetPolicy(t), rating.Options{Report: newReport()})

	var noInput *domain.NoInputFilesError
	require.True(t, errors.As(err, &noInput))
	assert.Equal(t, domain.InputRatingRows, noInput.Kind)
}

func TestConsolidate_UnreadableFileIsSkipped(t *testing.T) {
	cat := curveCatalog(t, map[domain.FeatureID]string{1: feetHeader + "\n0,1,10\n"})
	cat.RatingCurves = append(cat.RatingCurves, domain.RatingCurveFile{
		Path: filepath.Join(cat.Root, "missing", "9_rating_curve.csv"), FeatureID: 9, HUC: "12090301",
	})
	report := newReport()

	table, stats, err := rating.Consolidate(context.Background(), cat, feetPolicy(t), rating.Options{Report: report})
	require.NoError(t, err)

	assert.Len(t, table.Rows, 1)
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, 1, report.Counts()[domain.SkipRatingFile])
}

func TestConsolidate_Duplicates(t *testing.T) {
	body := feetHeader + "\n0,1,10\n1,1,11\n2,2,20\n"

	t.Run("kept by default", func(t *testing.T) {
		cat := curveCatalog(t, map[domain.FeatureID]string{1: body})
		table, stats, err := rating.Consolidate(context.Background(), cat, feetPolicy(t), rating.Options{Report: newReport()})
		require.NoError(t, err)
		assert.Len(t, table.Rows, 3)
		assert.Equal(t, 1, stats.Duplicates)
		assert.Equal(t, 0, stats.Dropped)
	})

	t.Run("dedupe keeps first", func(t *testing.T) {
		cat := curveCatalog(t, map[domain.FeatureID]string{1: body})
		table, stats, err := rating.Consolidate(context.Background(), cat, feetPolicy(t), rating.Options{Dedupe: true, Report: newReport()})
		require.NoError(t, err)
		require.Len(t, table.Rows, 2)
		assert.Equal(t, 10.0, table.Rows[0].Discharge)
		assert.Equal(t, 1, stats.Duplicates)
		assert.Equal(t, 1, stats.Dropped)
		assert.Equal(t, 2, stats.Rows)
	})
}

func TestConsolidate_ConvertsUnits(t *testing.T) {
	cat := curveCatalog(t, map[domain.FeatureID]string{1: feetHeader + "\n0,10,100\n"})
	policy, err := feetPolicy(t).ConvertTo("meter")
	require.NoError(t, err)

	table, _, err := rating.Consolidate(context.Background(), cat, policy, rating.Options{Report: newReport()})
	require.NoError(t, err)

	require.Len(t, table.Rows, 1)
	assert.InDelta(t, 3.048, table.Rows[0].Stage, 1e-9)
	assert.InDelta(t, 2.83168466, table.Rows[0].Discharge, 1e-9)
	assert.Equal(t, "stage_m", table.Header()[1])
}

func TestRanges(t *testing.T) {
	table := &rating.Table{Rows: []domain.RatingCurveRow{
		{FeatureID: 1, Stage: 2, Discharge: 30},
		{FeatureID: 1, Stage: 1, Discharge: 10},
		{FeatureID: 2, Stage: 5, Discharge: 7},
	}}

	got := table.Ranges()

	want := map[domain.FeatureID]rating.Range{
		1: {MinStage: 1, MaxStage: 2, MinDischarge: 10, MaxDischarge: 30, Points: 2},
		2: {MinStage: 5, MaxStage: 5, MinDischarge: 7, MaxDischarge: 7, Points: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ranges mismatch (-want +got):\n%s", diff)
	}
}
