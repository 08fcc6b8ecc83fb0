package domain

import (
	"github.com/ctessum/geom"
)

// Catchment is the drainage area polygon of one feature. Ownership is only
// painted inside it.
type Catchment struct {
	FeatureID FeatureID
	Polygons  []geom.Polygon
	bounds    *geom.Bounds
}

// NewCatchment builds a catchment from one or more polygons.
func NewCatchment(fid FeatureID, polys ...geom.Polygon) *Catchment {
	c := &Catchment{FeatureID: fid}
	c.Add(polys...)
	return c
}

// Add appends polygons, e.g. when a source holds several records per feature.
func (c *Catchment) Add(polys ...geom.Polygon) {
	for _, p := range polys {
		if len(p) == 0 {
			continue
		}
		c.Polygons = append(c.Polygons, p)
		b := p.Bounds()
		if c.bounds == nil {
			c.bounds = b
			continue
		}
		c.bounds.Extend(b)
	}
}

// Bounds returns the extent of every polygon. It satisfies the spatial index
// item contract.
func (c *Catchment) Bounds() *geom.Bounds {
	if c.bounds == nil {
		return geom.NewBounds()
	}
	return c.bounds
}

// Contains reports whether (x, y) lies inside the catchment or on its
// boundary. Holes are honored. A point on an edge shared by two catchments is
// contained by both, and the ownership merge settles it.
func (c *Catchment) Contains(x, y float64) bool {
	b := c.bounds
	if b == nil || x < b.Min.X || x > b.Max.X || y < b.Min.Y || y > b.Max.Y {
		return false
	}
	pt := geom.Point{X: x, Y: y}
	for _, p := range c.Polygons {
		if pt.Within(p) != geom.Outside {
			return true
		}
	}
	return false
}
