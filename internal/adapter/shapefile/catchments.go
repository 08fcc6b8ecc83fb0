// Package shapefile reads catchment polygons from, and writes ownership
// polygons to, ESRI shapefiles.
package shapefile

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"

	"github.com/couchcryptid/fim-rem-etl/internal/domain"
)

// ReadOptions selects the id attribute and an optional target projection.
type ReadOptions struct {
	IDField string
	// TargetProj is a PROJ4 string; empty keeps the source coordinates.
	TargetProj string
}

// ReadCatchments decodes every polygon record of a shapefile into per-feature
// catchments. Records without a usable id or polygon geometry are skipped.
// Several records with the same id are merged into one catchment.
func ReadCatchments(path string, opts ReadOptions, report *domain.Report) (map[domain.FeatureID]*domain.Catchment, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("open catchments %s: %w", path, err)
	}
	defer dec.Close()

	var trans proj.Transformer
	if opts.TargetProj != "" {
		src, err := dec.SR()
		if err != nil {
			return nil, fmt.Errorf("catchments %s: reprojection needs a .prj: %w", path, err)
		}
		dst, err := proj.Parse(opts.TargetProj)
		if err != nil {
			return nil, fmt.Errorf("parse CATCHMENT_TARGET_PROJ: %w", err)
		}
		trans, err = src.NewTransform(dst)
		if err != nil {
			return nil, fmt.Errorf("catchments %s: %w", path, err)
		}
	}

	out := make(map[domain.FeatureID]*domain.Catchment)
	for row := 0; ; row++ {
		g, fields, more := dec.DecodeRowFields(opts.IDField)
		if !more {
			break
		}
		key := fmt.Sprintf("%s#%d", path, row)
		raw, ok := fields[opts.IDField]
		if !ok {
			return nil, fmt.Errorf("catchments %s: missing attribute column %s", path, opts.IDField)
		}
		fid, err := parseID(raw)
		if err != nil {
			report.Skip(domain.SkipCatchment, key, err)
			continue
		}
		if g == nil {
			report.Skip(domain.SkipCatchment, key, errors.New("null geometry"))
			continue
		}
		if trans != nil {
			if g, err = g.Transform(trans); err != nil {
				report.Skip(domain.SkipCatchment, key, fmt.Errorf("reproject: %w", err))
				continue
			}
		}
		polys, err := polygons(g)
		if err != nil {
			report.Skip(domain.SkipCatchment, key, err)
			continue
		}
		if c, ok := out[fid]; ok {
			c.Add(polys...)
			continue
		}
		out[fid] = domain.NewCatchment(fid, polys...)
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("decode catchments %s: %w", path, err)
	}
	return out, nil
}

// parseID accepts integer attributes and the integral floats that numeric
// DBF columns often decode to.
func parseID(s string) (domain.FeatureID, error) {
	s = strings.TrimSpace(s)
	if fid, err := domain.ParseFeatureID(s); err == nil {
		return fid, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("feature id %q is not an integer", s)
	}
	return domain.FeatureID(f), nil
}

func polygons(g geom.Geom) ([]geom.Polygon, error) {
	switch t := g.(type) {
	case geom.Polygon:
		return []geom.Polygon{t}, nil
	case geom.MultiPolygon:
		return []geom.Polygon(t), nil
	}
	return nil, fmt.Errorf("geometry %T is not polygonal", g)
}

// ProjectionWKT returns the contents of the .prj next to a shapefile, or ""
// when there is none.
func ProjectionWKT(path string) string {
	b, err := os.ReadFile(strings.TrimSuffix(path, ".shp") + ".prj")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
