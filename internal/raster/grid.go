// Package raster holds the single-band grid type used across the run together
// with its GeoTIFF codec and the cell-wise algebra (mosaic, min-merge,
// reclassification, masking and polygonization).
//
// Only north-up, unrotated grids are supported. Cell (row, col) covers
// [OriginX + col*PixelWidth, OriginX + (col+1)*PixelWidth] horizontally and
// [OriginY + (row+1)*PixelHeight, OriginY + row*PixelHeight] vertically, with
// PixelHeight negative.
package raster

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// alignTolerance is the fraction of a pixel two grids may be offset by and
// still be treated as aligned.
const alignTolerance = 1e-3

// ErrNotNorthUp is returned for rotated or south-up grids.
var ErrNotNorthUp = errors.New("raster: only north-up, unrotated grids are supported")

// Transform maps cell indices to map coordinates.
type Transform struct {
	OriginX     float64
	OriginY     float64
	PixelWidth  float64
	PixelHeight float64
}

// CRS identifies the coordinate reference system of a grid. When the EPSG
// code is unknown, the GeoTIFF key directory is kept verbatim.
type CRS struct {
	EPSG       int
	GeoKeys    []uint16
	GeoDoubles []float64
	GeoASCII   string
}

// Equal reports whether two CRS values describe the same system.
func (c CRS) Equal(o CRS) bool {
	if c.EPSG != 0 && o.EPSG != 0 {
		return c.EPSG == o.EPSG
	}
	if c.EPSG != o.EPSG {
		return false
	}
	return slices.Equal(c.GeoKeys, o.GeoKeys) &&
		slices.Equal(c.GeoDoubles, o.GeoDoubles) &&
		c.GeoASCII == o.GeoASCII
}

func (c CRS) String() string {
	if c.EPSG != 0 {
		return fmt.Sprintf("EPSG:%d", c.EPSG)
	}
	if len(c.GeoKeys) == 0 {
		return "unknown"
	}
	return "user-defined"
}

// Info describes the geometry of a grid without its cells.
type Info struct {
	Cols      int
	Rows      int
	Transform Transform
	CRS       CRS
	NoData    float64
}

// Bounds returns minX, minY, maxX, maxY.
func (i Info) Bounds() (minX, minY, maxX, maxY float64) {
	t := i.Transform
	minX = t.OriginX
	maxX = t.OriginX + float64(i.Cols)*t.PixelWidth
	maxY = t.OriginY
	minY = t.OriginY + float64(i.Rows)*t.PixelHeight
	return minX, minY, maxX, maxY
}

// CellCenter returns the map coordinates of the center of a cell.
func (i Info) CellCenter(row, col int) (x, y float64) {
	t := i.Transform
	return t.OriginX + (float64(col)+0.5)*t.PixelWidth, t.OriginY + (float64(row)+0.5)*t.PixelHeight
}

func (i Info) validate() error {
	if i.Cols <= 0 || i.Rows <= 0 {
		return fmt.Errorf("raster: invalid size %dx%d", i.Cols, i.Rows)
	}
	if i.Transform.PixelWidth <= 0 || i.Transform.PixelHeight >= 0 {
		return ErrNotNorthUp
	}
	return nil
}

// Compatible checks that two grids share CRS and cell size, which is what a
// mosaic or merge needs to line cells up.
func (i Info) Compatible(o Info) error {
	if !i.CRS.Equal(o.CRS) {
		return fmt.Errorf("raster: CRS mismatch %s vs %s", i.CRS, o.CRS)
	}
	if !closeTo(i.Transform.PixelWidth, o.Transform.PixelWidth) ||
		!closeTo(i.Transform.PixelHeight, o.Transform.PixelHeight) {
		return fmt.Errorf("raster: resolution mismatch %gx%g vs %gx%g",
			i.Transform.PixelWidth, i.Transform.PixelHeight,
			o.Transform.PixelWidth, o.Transform.PixelHeight)
	}
	return nil
}

// AlignedWith checks that o is compatible with i and that its cell corners
// fall on i's cell corners.
func (i Info) AlignedWith(o Info) error {
	if err := i.Compatible(o); err != nil {
		return err
	}
	_, _, err := o.offsetIn(i)
	return err
}

// offsetIn returns the (row, col) of this grid's upper-left cell inside dst.
func (i Info) offsetIn(dst Info) (row, col int, err error) {
	fc := (i.Transform.OriginX - dst.Transform.OriginX) / dst.Transform.PixelWidth
	fr := (i.Transform.OriginY - dst.Transform.OriginY) / dst.Transform.PixelHeight
	col, row = int(math.Round(fc)), int(math.Round(fr))
	if math.Abs(fc-float64(col)) > alignTolerance || math.Abs(fr-float64(row)) > alignTolerance {
		return 0, 0, fmt.Errorf("raster: grid origin not aligned to target (offset %.4f, %.4f px)", fr, fc)
	}
	return row, col, nil
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(math.Abs(a), math.Abs(b))
}

// Union returns the smallest grid, aligned to the first info, covering every
// input. All inputs must be compatible with the first one.
func Union(infos []Info, nodata float64) (Info, error) {
	if len(infos) == 0 {
		return Info{}, errors.New("raster: union of zero grids")
	}
	base := infos[0]
	if err := base.validate(); err != nil {
		return Info{}, err
	}
	minX, minY, maxX, maxY := base.Bounds()
	for _, in := range infos[1:] {
		if err := in.validate(); err != nil {
			return Info{}, err
		}
		if err := base.Compatible(in); err != nil {
			return Info{}, err
		}
		x0, y0, x1, y1 := in.Bounds()
		minX, minY = math.Min(minX, x0), math.Min(minY, y0)
		maxX, maxY = math.Max(maxX, x1), math.Max(maxY, y1)
	}
	t := base.Transform
	return Info{
		Cols: int(math.Round((maxX - minX) / t.PixelWidth)),
		Rows: int(math.Round((maxY - minY) / -t.PixelHeight)),
		Transform: Transform{
			OriginX:     minX,
			OriginY:     maxY,
			PixelWidth:  t.PixelWidth,
			PixelHeight: t.PixelHeight,
		},
		CRS:    base.CRS,
		NoData: nodata,
	}, nil
}

// Grid is a single-band raster held in memory, row-major.
type Grid struct {
	Info
	Data []float64
}

// NewGrid allocates a grid filled with the info's nodata value.
func NewGrid(info Info) *Grid {
	data := make([]float64, info.Cols*info.Rows)
	for i := range data {
		data[i] = info.NoData
	}
	return &Grid{Info: info, Data: data}
}

// At returns the value of a cell.
func (g *Grid) At(row, col int) float64 {
	return g.Data[row*g.Cols+col]
}

// Set writes the value of a cell.
func (g *Grid) Set(row, col int, v float64) {
	g.Data[row*g.Cols+col] = v
}

// IsNoData reports whether v is this grid's sentinel or NaN.
func (g *Grid) IsNoData(v float64) bool {
	return math.IsNaN(v) || v == g.NoData
}

// ValidCount returns the number of cells holding data.
func (g *Grid) ValidCount() int {
	n := 0
	for _, v := range g.Data {
		if !g.IsNoData(v) {
			n++
		}
	}
	return n
}

// WithNoData returns a copy of g whose sentinel is nodata, converting every
// nodata cell of g to it.
func (g *Grid) WithNoData(nodata float64) *Grid {
	out := &Grid{Info: g.Info, Data: make([]float64, len(g.Data))}
	out.NoData = nodata
	for i, v := range g.Data {
		if g.IsNoData(v) {
			out.Data[i] = nodata
			continue
		}
		out.Data[i] = v
	}
	return out
}
