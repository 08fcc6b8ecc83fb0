// Package csvtable reads the optional attribute tables and writes the
// consolidated rating-curve table.
package csvtable

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/fim-rem-etl/internal/domain"
	"github.com/couchcryptid/fim-rem-etl/internal/metadata"
	"github.com/couchcryptid/fim-rem-etl/internal/rating"
)

// WriteRatingCurves writes the table with its fixed header. The file is
// written next to path and renamed into place.
func WriteRatingCurves(path string, table *rating.Table) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(table.Header()); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	for _, r := range table.Rows {
		if err := w.Write(table.Record(r)); err != nil {
			tmp.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadModelCatalog loads the model catalog keyed by feature id. Expected
// columns: feature_id, source, last_modified, model_name (any order, case
// insensitive). Only feature_id is required.
func ReadModelCatalog(path string, report *domain.Report) (map[domain.FeatureID]metadata.ModelRecord, error) {
	out := make(map[domain.FeatureID]metadata.ModelRecord)
	err := readKeyed(path, report, func(fid domain.FeatureID, get func(string) string) {
		if _, dup := out[fid]; dup {
			return
		}
		out[fid] = metadata.ModelRecord{
			Source:       get("source"),
			LastModified: get("last_modified"),
			ModelName:    get("model_name"),
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadConflationQC loads the conflation QC table keyed by feature id.
func ReadConflationQC(path string, report *domain.Report) (map[domain.FeatureID]metadata.QCRecord, error) {
	out := make(map[domain.FeatureID]metadata.QCRecord)
	err := readKeyed(path, report, func(fid domain.FeatureID, get func(string) string) {
		if _, dup := out[fid]; dup {
			return
		}
		out[fid] = metadata.QCRecord{ConflationStatus: get("conflation_status")}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func readKeyed(path string, report *domain.Report, emit func(domain.FeatureID, func(string) string)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("read header of %s: %w", path, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, ok := cols[h]; !ok {
			cols[h] = i
		}
	}
	idCol, ok := cols["feature_id"]
	if !ok {
		return fmt.Errorf("%s: missing feature_id column", path)
	}

	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		key := fmt.Sprintf("%s:%d", path, line)
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				report.Skip(domain.SkipCatalogRow, key, err)
				continue
			}
			return fmt.Errorf("read %s: %w", path, err)
		}
		if idCol >= len(rec) {
			report.Skip(domain.SkipCatalogRow, key, errors.New("short row"))
			continue
		}
		fid, err := domain.ParseFeatureID(strings.TrimSpace(rec[idCol]))
		if err != nil {
			report.Skip(domain.SkipCatalogRow, key, fmt.Errorf("feature id: %w", err))
			continue
		}
		emit(fid, func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		})
	}
}
