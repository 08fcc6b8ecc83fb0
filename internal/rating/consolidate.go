package rating

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/fim-rem-etl/internal/catalog"
	"github.com/couchcryptid/fim-rem-etl/internal/domain"
)

// Options tunes Consolidate.
type Options struct {
	Workers int
	// Dedupe keeps only the first row of every (feature, stage) pair.
	Dedupe bool
	Report *domain.Report
}

// Stats summarizes one consolidation.
type Stats struct {
	Files       int
	Rows        int
	SkippedRows int
	Duplicates  int
	Dropped     int
}

// Table is the harmonized rating-curve table of a run.
type Table struct {
	Policy UnitPolicy
	Rows   []domain.RatingCurveRow
}

// Header returns the fixed output column order.
func (t *Table) Header() []string {
	return []string{
		"feature_id", t.Policy.StageColumn, t.Policy.DischargeColumn,
		"hydro_id", "huc", "lake_id", "last_updated", "submitter", "obs_source",
	}
}

// Record formats one row in Header order.
func (t *Table) Record(r domain.RatingCurveRow) []string {
	return []string{
		r.FeatureID.String(),
		strconv.FormatFloat(r.Stage, 'f', -1, 64),
		strconv.FormatFloat(r.Discharge, 'f', -1, 64),
		r.HydroID,
		r.HUC,
		strconv.Itoa(r.LakeID),
		r.LastUpdated,
		r.Submitter,
		r.ObsSource,
	}
}

type fileResult struct {
	rows    []domain.RatingCurveRow
	skipped int
}

// Consolidate reads every cataloged rating curve, validates its units
// against policy and concatenates the rows in catalog order. Files and rows
// that cannot be parsed are skipped; a unit that does not belong to the
// policy's family aborts the run.
func Consolidate(ctx context.Context, cat *catalog.Catalog, policy UnitPolicy, opts Options) (*Table, Stats, error) {
	files := cat.RatingCurves
	results := make([]fileResult, len(files))

	g := new(errgroup.Group)
	g.SetLimit(max(1, opts.Workers))
	for i, rc := range files {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rows, skipped, err := readCurve(rc, policy)
			var unit *domain.UnsupportedUnitError
			switch {
			case errors.As(err, &unit):
				return err
			case err != nil:
				opts.Report.Skip(domain.SkipRatingFile, rc.Path, err)
				return nil
			}
			for range skipped {
				opts.Report.Skip(domain.SkipRatingRow, rc.Path, errBadRow)
			}
			results[i] = fileResult{rows: rows, skipped: skipped}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Stats{}, err
	}

	var stats Stats
	total := 0
	for _, r := range results {
		total += len(r.rows)
	}
	rows := make([]domain.RatingCurveRow, 0, total)
	for _, r := range results {
		if r.rows != nil {
			stats.Files++
		}
		stats.SkippedRows += r.skipped
		rows = append(rows, r.rows...)
	}
	if len(rows) == 0 {
		return nil, stats, &domain.NoInputFilesError{Kind: domain.InputRatingRows, Root: cat.Root}
	}

	type key struct {
		fid   domain.FeatureID
		stage float64
	}
	seen := make(map[key]bool, len(rows))
	kept := rows[:0]
	for _, r := range rows {
		k := key{r.FeatureID, r.Stage}
		if seen[k] {
			stats.Duplicates++
			if opts.Dedupe {
				stats.Dropped++
				continue
			}
		}
		seen[k] = true
		kept = append(kept, r)
	}
	stats.Rows = len(kept)
	return &Table{Policy: policy, Rows: kept}, stats, nil
}

var errBadRow = errors.New("unparseable stage or discharge")

func readCurve(rc domain.RatingCurveFile, policy UnitPolicy) ([]domain.RatingCurveRow, int, error) {
	f, err := os.Open(rc.Path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := readHeader(r)
	if err != nil {
		return nil, 0, err
	}
	cols, err := locateColumns(header)
	if err != nil {
		return nil, 0, err
	}
	for _, i := range []int{cols.stage, cols.discharge} {
		s, token, ok := SystemOf(header[i])
		if !ok {
			return nil, 0, &domain.UnsupportedUnitError{Path: rc.Path, Header: header[i], Token: token, Reason: "unknown or missing unit token"}
		}
		if s != policy.Source {
			return nil, 0, &domain.UnsupportedUnitError{
				Path:   rc.Path,
				Header: header[i],
				Token:  token,
				Reason: fmt.Sprintf("mixed units: run uses %s", policy.Source),
			}
		}
	}

	var rows []domain.RatingCurveRow
	skipped := 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				skipped++
				continue
			}
			return nil, 0, err
		}
		if blank(rec) {
			continue
		}
		if len(rec) <= max(cols.stage, cols.discharge) {
			skipped++
			continue
		}
		stage, err1 := strconv.ParseFloat(strings.TrimSpace(rec[cols.stage]), 64)
		discharge, err2 := strconv.ParseFloat(strings.TrimSpace(rec[cols.discharge]), 64)
		if err1 != nil || err2 != nil {
			skipped++
			continue
		}
		row := domain.RatingCurveRow{
			FeatureID: rc.FeatureID,
			Stage:     stage * policy.StageScale,
			Discharge: discharge * policy.DischargeScale,
			HUC:       rc.HUC,
			LakeID:    domain.LakeIDNone,
		}
		if cols.hydroID >= 0 && cols.hydroID < len(rec) {
			row.HydroID = strings.TrimSpace(rec[cols.hydroID])
		}
		rows = append(rows, row)
	}
	if rows == nil {
		rows = []domain.RatingCurveRow{}
	}
	return rows, skipped, nil
}

type columns struct {
	stage, discharge, hydroID int
}

func locateColumns(header []string) (columns, error) {
	c := columns{stage: -1, discharge: -1, hydroID: -1}
	for i, h := range header {
		lower := strings.ToLower(h)
		switch {
		case c.stage < 0 && strings.HasPrefix(lower, "avgdepth("):
			c.stage = i
		case c.discharge < 0 && strings.HasPrefix(lower, "flow("):
			c.discharge = i
		case c.hydroID < 0 && lower == "hydroid":
			c.hydroID = i
		}
	}
	if c.stage < 0 {
		c.stage = 1
	}
	if c.discharge < 0 {
		c.discharge = 2
	}
	if c.stage >= len(header) || c.discharge >= len(header) {
		return c, fmt.Errorf("header %q has no stage/discharge columns", strings.Join(header, ","))
	}
	return c, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
