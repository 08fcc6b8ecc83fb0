package pipeline

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strconv"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"

	"github.com/couchcryptid/fim-rem-etl/internal/domain"
	"github.com/couchcryptid/fim-rem-etl/internal/raster"
)

// overlapTolerance is the smallest shared area, in squared map units, that
// counts as an overlap. Shared edges and sliver noise stay quiet.
const overlapTolerance = 1e-6

// Overlap is a pair of catchments whose interiors intersect, A < B.
type Overlap struct {
	A, B domain.FeatureID
}

type indexedCatchment struct {
	geom.MultiPolygon
	c *domain.Catchment
}

// CatchmentOverlaps finds catchment pairs that overlap. Candidates come from
// an R-tree over catchment bounds; a pair is confirmed when the polygons
// share a positive area.
func CatchmentOverlaps(catchments map[domain.FeatureID]*domain.Catchment) []Overlap {
	fids := make([]domain.FeatureID, 0, len(catchments))
	for fid := range catchments {
		fids = append(fids, fid)
	}
	slices.Sort(fids)

	tree := rtree.NewTree(25, 50)
	for _, fid := range fids {
		c := catchments[fid]
		tree.Insert(&indexedCatchment{MultiPolygon: geom.MultiPolygon(c.Polygons), c: c})
	}

	var out []Overlap
	for _, fid := range fids {
		a := catchments[fid]
		for _, hit := range tree.SearchIntersect(a.Bounds()) {
			b := hit.(*indexedCatchment).c
			if b.FeatureID <= a.FeatureID {
				continue
			}
			if sharedArea(a, b) > overlapTolerance {
				out = append(out, Overlap{A: a.FeatureID, B: b.FeatureID})
			}
		}
	}
	slices.SortFunc(out, func(x, y Overlap) int {
		return cmp.Or(cmp.Compare(x.A, y.A), cmp.Compare(x.B, y.B))
	})
	return out
}

func sharedArea(a, b *domain.Catchment) float64 {
	in := geom.MultiPolygon(a.Polygons).Intersection(geom.MultiPolygon(b.Polygons))
	if in == nil {
		return 0
	}
	return in.Area()
}

// rootAuthority matches an EPSG AUTHORITY closing the outermost WKT node.
var rootAuthority = regexp.MustCompile(`AUTHORITY\["EPSG",\s*"?(\d+)"?\]\s*\]\s*$`)

// prjEPSG returns the EPSG code of the outermost node of a WKT string, or 0
// when it carries none.
func prjEPSG(wkt string) int {
	m := rootAuthority.FindStringSubmatch(wkt)
	if m == nil {
		return 0
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return code
}

// CatchmentGridMismatch explains why the catchments cannot line up with the
// target grid, or returns "" when nothing is wrong. prj is the catchment
// projection WKT and may be empty.
func CatchmentGridMismatch(prj string, catchments map[domain.FeatureID]*domain.Catchment, target raster.Info) string {
	if code := prjEPSG(prj); code != 0 && target.CRS.EPSG != 0 && code != target.CRS.EPSG {
		return fmt.Sprintf("catchments are EPSG:%d, rasters are EPSG:%d", code, target.CRS.EPSG)
	}
	if len(catchments) == 0 {
		return ""
	}
	minX, minY, maxX, maxY := target.Bounds()
	for _, c := range catchments {
		b := c.Bounds()
		if b.Min.X < maxX && b.Max.X > minX && b.Min.Y < maxY && b.Max.Y > minY {
			return ""
		}
	}
	return "no catchment intersects the raster extent"
}
