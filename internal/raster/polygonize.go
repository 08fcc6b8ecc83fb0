package raster

import (
	"math"
	"sort"

	"github.com/ctessum/geom"
)

// Shape is the dissolved footprint of every cell holding one value.
type Shape struct {
	Value    float64
	Geometry geom.MultiPolygon
}

type vertex struct{ x, y int }

// Polygonize traces the boundary of every group of equal-valued data cells
// and returns one multi-part shape per distinct value, sorted by value.
// Outer rings are clockwise and holes counter-clockwise in map coordinates
// (the shapefile convention); every ring is closed.
func Polygonize(g *Grid) []Shape {
	edges := make(map[float64]map[vertex][]vertex)
	addEdge := func(v float64, a, b vertex) {
		m, ok := edges[v]
		if !ok {
			m = make(map[vertex][]vertex)
			edges[v] = m
		}
		m[a] = append(m[a], b)
	}
	same := func(r, c int, v float64) bool {
		if r < 0 || r >= g.Rows || c < 0 || c >= g.Cols {
			return false
		}
		return g.Data[r*g.Cols+c] == v
	}

	// Edges run clockwise around each cell in index space (y down), so the
	// region is always on the right-hand side of travel.
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			v := g.Data[r*g.Cols+c]
			if g.IsNoData(v) {
				continue
			}
			if !same(r-1, c, v) {
				addEdge(v, vertex{c, r}, vertex{c + 1, r})
			}
			if !same(r, c+1, v) {
				addEdge(v, vertex{c + 1, r}, vertex{c + 1, r + 1})
			}
			if !same(r+1, c, v) {
				addEdge(v, vertex{c + 1, r + 1}, vertex{c, r + 1})
			}
			if !same(r, c-1, v) {
				addEdge(v, vertex{c, r + 1}, vertex{c, r})
			}
		}
	}

	values := make([]float64, 0, len(edges))
	for v := range edges {
		values = append(values, v)
	}
	sort.Float64s(values)

	shapes := make([]Shape, 0, len(values))
	for _, v := range values {
		rings := traceRings(edges[v])
		shapes = append(shapes, Shape{Value: v, Geometry: assemble(g.Info, rings)})
	}
	return shapes
}

// traceRings consumes the edge set and chains it into closed rings. At a
// vertex shared by two diagonal cells the sharpest right turn is taken, which
// keeps each ring simple.
func traceRings(out map[vertex][]vertex) [][]vertex {
	starts := make([]vertex, 0, len(out))
	for v := range out {
		starts = append(starts, v)
	}
	sort.Slice(starts, func(i, j int) bool {
		if starts[i].y != starts[j].y {
			return starts[i].y < starts[j].y
		}
		return starts[i].x < starts[j].x
	})

	var rings [][]vertex
	for _, s := range starts {
		for len(out[s]) > 0 {
			ring := []vertex{s}
			prev, cur := s, takeEdge(out, s, vertex{}, false)
			for cur != s && len(out[cur]) > 0 {
				ring = append(ring, cur)
				next := takeEdge(out, cur, vertex{cur.x - prev.x, cur.y - prev.y}, true)
				prev, cur = cur, next
			}
			rings = append(rings, simplifyRing(ring))
		}
	}
	return rings
}

// takeEdge removes and returns the end of one outgoing edge of v. With a
// heading, the candidate turning furthest right (clockwise on screen) wins.
func takeEdge(out map[vertex][]vertex, v, heading vertex, turn bool) vertex {
	cands := out[v]
	best := 0
	if turn && len(cands) > 1 {
		bestScore := math.Inf(-1)
		for i, c := range cands {
			d := vertex{c.x - v.x, c.y - v.y}
			cross := heading.x*d.y - heading.y*d.x
			dot := heading.x*d.x + heading.y*d.y
			score := float64(cross)*2 + float64(dot)
			if score > bestScore {
				best, bestScore = i, score
			}
		}
	}
	end := cands[best]
	cands[best] = cands[len(cands)-1]
	out[v] = cands[:len(cands)-1]
	if len(out[v]) == 0 {
		delete(out, v)
	}
	return end
}

// simplifyRing drops vertices in the middle of straight runs.
func simplifyRing(ring []vertex) []vertex {
	n := len(ring)
	out := make([]vertex, 0, n)
	for i := 0; i < n; i++ {
		p, c, q := ring[(i+n-1)%n], ring[i], ring[(i+1)%n]
		if (c.x-p.x)*(q.y-c.y)-(c.y-p.y)*(q.x-c.x) == 0 {
			continue
		}
		out = append(out, c)
	}
	return out
}

// signedArea2 is twice the shoelace area in index space. Outer rings traced
// clockwise on screen come out positive.
func signedArea2(ring []vertex) int {
	a := 0
	for i := range ring {
		j := (i + 1) % len(ring)
		a += ring[i].x*ring[j].y - ring[j].x*ring[i].y
	}
	return a
}

// insideRing is an even-odd test for a point with half-integer coordinates,
// which can never lie on a ring edge.
func insideRing(ring []vertex, px, py float64) bool {
	in := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		xi, yi := float64(ring[i].x), float64(ring[i].y)
		xj, yj := float64(ring[j].x), float64(ring[j].y)
		if (yi > py) != (yj > py) && px < (xj-xi)*(py-yi)/(yj-yi)+xi {
			in = !in
		}
	}
	return in
}

// assemble attaches each hole to the smallest outer ring containing it and
// converts index coordinates to map coordinates.
func assemble(info Info, rings [][]vertex) geom.MultiPolygon {
	type outer struct {
		ring  []vertex
		area  int
		holes [][]vertex
	}
	var outers []*outer
	var holes [][]vertex
	for _, r := range rings {
		if a := signedArea2(r); a > 0 {
			outers = append(outers, &outer{ring: r, area: a})
		} else {
			holes = append(holes, r)
		}
	}
	for _, h := range holes {
		// Probe the data cell on the right of the hole's first edge.
		a, b := h[0], h[1%len(h)]
		dx, dy := sign(b.x-a.x), sign(b.y-a.y)
		px := float64(a.x) + 0.5*float64(dx) - 0.5*float64(dy)
		py := float64(a.y) + 0.5*float64(dy) + 0.5*float64(dx)
		var owner *outer
		for _, o := range outers {
			if insideRing(o.ring, px, py) && (owner == nil || o.area < owner.area) {
				owner = o
			}
		}
		if owner != nil {
			owner.holes = append(owner.holes, h)
		}
	}

	mp := make(geom.MultiPolygon, 0, len(outers))
	for _, o := range outers {
		poly := geom.Polygon{toMap(info, o.ring)}
		for _, h := range o.holes {
			poly = append(poly, toMap(info, h))
		}
		mp = append(mp, poly)
	}
	return mp
}

func toMap(info Info, ring []vertex) []geom.Point {
	t := info.Transform
	pts := make([]geom.Point, 0, len(ring)+1)
	for _, v := range ring {
		pts = append(pts, geom.Point{
			X: t.OriginX + float64(v.x)*t.PixelWidth,
			Y: t.OriginY + float64(v.y)*t.PixelHeight,
		})
	}
	return append(pts, pts[0])
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
