// Package gpkg writes the enriched ownership layer as an OGC GeoPackage.
package gpkg

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/ctessum/geom"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)

	"github.com/couchcryptid/fim-rem-etl/internal/domain"
	"github.com/couchcryptid/fim-rem-etl/internal/metadata"
)

const (
	// TableName is the feature table holding the ownership polygons.
	TableName = "ownership"

	applicationID = 0x47504B47 // "GPKG"
	userVersion   = 10300

	wkbMultiPolygon = 6
	wkbPolygon      = 3

	// little-endian, xy envelope
	blobFlags = 0x03
)

// SRS describes the spatial reference system the features are written in.
// ID 0 means an undefined geographic system; -1 an undefined cartesian one.
type SRS struct {
	ID         int
	Name       string
	Definition string
}

// UndefinedSRS is used when the raster carries no EPSG code.
var UndefinedSRS = SRS{ID: -1, Name: "Undefined cartesian SRS", Definition: "undefined"}

// EPSG builds the SRS entry of an EPSG code. wkt may be empty.
func EPSG(code int, wkt string) SRS {
	if code <= 0 {
		return UndefinedSRS
	}
	if wkt == "" {
		wkt = "undefined"
	}
	return SRS{ID: code, Name: fmt.Sprintf("EPSG:%d", code), Definition: wkt}
}

const schema = `
CREATE TABLE gpkg_spatial_ref_sys (
    srs_name TEXT NOT NULL,
    srs_id INTEGER PRIMARY KEY,
    organization TEXT NOT NULL,
    organization_coordsys_id INTEGER NOT NULL,
    definition TEXT NOT NULL,
    description TEXT
);
CREATE TABLE gpkg_contents (
    table_name TEXT NOT NULL PRIMARY KEY,
    data_type TEXT NOT NULL,
    identifier TEXT UNIQUE,
    description TEXT DEFAULT '',
    last_change DATETIME NOT NULL,
    min_x DOUBLE,
    min_y DOUBLE,
    max_x DOUBLE,
    max_y DOUBLE,
    srs_id INTEGER,
    CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
);
CREATE TABLE gpkg_geometry_columns (
    table_name TEXT NOT NULL,
    column_name TEXT NOT NULL,
    geometry_type_name TEXT NOT NULL,
    srs_id INTEGER NOT NULL,
    z TINYINT NOT NULL,
    m TINYINT NOT NULL,
    CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
    CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
    CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
);
CREATE TABLE ownership (
    fid INTEGER PRIMARY KEY AUTOINCREMENT,
    geom MULTIPOLYGON,
    feature_id INTEGER NOT NULL,
    source TEXT,
    last_modified TEXT,
    model_name TEXT,
    conflation_status TEXT,
    model_type TEXT,
    match_score REAL,
    xs_score REAL,
    min_stage REAL,
    max_stage REAL,
    min_discharge REAL,
    max_discharge REAL,
    "range" TEXT
);
`

// Write creates a new GeoPackage at path (replacing any existing file) with a
// single feature table of ownership polygons.
func Write(ctx context.Context, path string, features []metadata.Feature, srs SRS) (err error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if err = insertSRS(ctx, tx, srs); err != nil {
		return err
	}

	bounds := geom.NewBounds()
	for _, f := range features {
		bounds.Extend(f.Geometry.Bounds())
	}
	if len(features) == 0 {
		bounds = &geom.Bounds{}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, last_change, min_x, min_y, max_x, max_y, srs_id)
		 VALUES (?, 'features', ?, ?, ?, ?, ?, ?, ?)`,
		TableName, TableName, domain.Now().Format("2006-01-02T15:04:05.000Z"),
		bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Max.Y, srs.ID); err != nil {
		return fmt.Errorf("insert contents: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO gpkg_geometry_columns VALUES (?, 'geom', 'MULTIPOLYGON', ?, 0, 0)`,
		TableName, srs.ID); err != nil {
		return fmt.Errorf("insert geometry column: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ownership (
		geom, feature_id, source, last_modified, model_name, conflation_status, model_type,
		match_score, xs_score, min_stage, max_stage, min_discharge, max_discharge, "range"
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, f := range features {
		if _, err = stmt.ExecContext(ctx,
			EncodeGeometry(f.Geometry, srs.ID), int64(f.FeatureID),
			f.Source, f.LastModified, f.ModelName, f.ConflationStatus, f.ModelType,
			f.MatchScore, f.XSScore, f.MinStage, f.MaxStage, f.MinDischarge, f.MaxDischarge, f.Range,
		); err != nil {
			return fmt.Errorf("insert feature %s: %w", f.FeatureID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if _, err = db.ExecContext(ctx, fmt.Sprintf("PRAGMA application_id = %d", applicationID)); err != nil {
		return fmt.Errorf("set application_id: %w", err)
	}
	if _, err = db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", userVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func insertSRS(ctx context.Context, tx *sql.Tx, srs SRS) error {
	const q = `INSERT OR REPLACE INTO gpkg_spatial_ref_sys
		(srs_name, srs_id, organization, organization_coordsys_id, definition, description)
		VALUES (?, ?, ?, ?, ?, ?)`
	rows := [][]any{
		{"Undefined cartesian SRS", -1, "NONE", -1, "undefined", "undefined cartesian coordinate reference system"},
		{"Undefined geographic SRS", 0, "NONE", 0, "undefined", "undefined geographic coordinate reference system"},
		{"WGS 84 geodetic", 4326, "EPSG", 4326, wgs84WKT, "longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid"},
	}
	if srs.ID > 0 && srs.ID != 4326 {
		rows = append(rows, []any{srs.Name, srs.ID, "EPSG", srs.ID, srs.Definition, nil})
	}
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, q, r...); err != nil {
			return fmt.Errorf("insert srs %v: %w", r[1], err)
		}
	}
	return nil
}

const wgs84WKT = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`

// EncodeGeometry builds a GeoPackage geometry blob: the "GP" header with an
// xy envelope followed by little-endian WKB. Rings are reversed so outer
// rings come out counter-clockwise.
func EncodeGeometry(mp geom.MultiPolygon, srsID int) []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian
	buf.WriteString("GP")
	buf.WriteByte(0)
	buf.WriteByte(blobFlags)
	_ = binary.Write(&buf, le, int32(srsID))

	b := mp.Bounds()
	if len(mp) == 0 {
		b = &geom.Bounds{Min: geom.Point{X: math.NaN(), Y: math.NaN()}, Max: geom.Point{X: math.NaN(), Y: math.NaN()}}
	}
	_ = binary.Write(&buf, le, [4]float64{b.Min.X, b.Max.X, b.Min.Y, b.Max.Y})

	buf.WriteByte(1)
	_ = binary.Write(&buf, le, uint32(wkbMultiPolygon))
	_ = binary.Write(&buf, le, uint32(len(mp)))
	for _, poly := range mp {
		buf.WriteByte(1)
		_ = binary.Write(&buf, le, uint32(wkbPolygon))
		_ = binary.Write(&buf, le, uint32(len(poly)))
		for _, ring := range poly {
			_ = binary.Write(&buf, le, uint32(len(ring)))
			for i := len(ring) - 1; i >= 0; i-- {
				_ = binary.Write(&buf, le, [2]float64{ring[i].X, ring[i].Y})
			}
		}
	}
	return buf.Bytes()
}

// Summary describes an existing GeoPackage for output validation.
type Summary struct {
	ApplicationID int
	Features      int
	SRSID         int
	FeatureIDs    []domain.FeatureID
}

// Inspect reads back the header pragmas and feature table of a GeoPackage.
func Inspect(ctx context.Context, path string) (Summary, error) {
	if _, err := os.Stat(path); err != nil {
		return Summary{}, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return Summary{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	var s Summary
	if err := db.QueryRowContext(ctx, "PRAGMA application_id").Scan(&s.ApplicationID); err != nil {
		return Summary{}, fmt.Errorf("read application_id: %w", err)
	}
	if err := db.QueryRowContext(ctx,
		"SELECT srs_id FROM gpkg_geometry_columns WHERE table_name = ?", TableName).Scan(&s.SRSID); err != nil {
		return Summary{}, fmt.Errorf("read geometry column: %w", err)
	}
	rows, err := db.QueryContext(ctx, "SELECT feature_id FROM ownership ORDER BY fid")
	if err != nil {
		return Summary{}, fmt.Errorf("query features: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return Summary{}, err
		}
		s.FeatureIDs = append(s.FeatureIDs, domain.FeatureID(id))
	}
	if err := rows.Err(); err != nil {
		return Summary{}, err
	}
	s.Features = len(s.FeatureIDs)
	return s, nil
}

// IsGeoPackage reports whether s carries the GeoPackage application id.
func (s Summary) IsGeoPackage() bool {
	return s.ApplicationID == applicationID
}
