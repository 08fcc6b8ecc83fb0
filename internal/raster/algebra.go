package raster

import (
	"errors"
	"math"
)

// MergeFunc resolves a cell where both the destination and the source hold
// data. It is never called when either side is nodata.
type MergeFunc func(dst, src float64) float64

// First keeps the value already in the destination.
func First(dst, _ float64) float64 { return dst }

// Min keeps the smaller value.
func Min(dst, src float64) float64 { return math.Min(dst, src) }

// Fold pastes src into g cell by cell. Cells of src outside g are ignored,
// nodata cells of src never overwrite g, and overlapping data cells are
// resolved with merge. It returns the number of overlapping data cells whose
// values differed.
func (g *Grid) Fold(src *Grid, merge MergeFunc) (int, error) {
	if err := g.Compatible(src.Info); err != nil {
		return 0, err
	}
	r0, c0, err := src.offsetIn(g.Info)
	if err != nil {
		return 0, err
	}
	collisions := 0
	for r := 0; r < src.Rows; r++ {
		dr := r + r0
		if dr < 0 || dr >= g.Rows {
			continue
		}
		for c := 0; c < src.Cols; c++ {
			dc := c + c0
			if dc < 0 || dc >= g.Cols {
				continue
			}
			v := src.Data[r*src.Cols+c]
			if src.IsNoData(v) {
				continue
			}
			i := dr*g.Cols + dc
			cur := g.Data[i]
			if g.IsNoData(cur) {
				g.Data[i] = v
				continue
			}
			if cur != v {
				collisions++
			}
			g.Data[i] = merge(cur, v)
		}
	}
	return collisions, nil
}

// Mosaic combines grids onto their union extent. Where grids overlap, the
// first grid in slice order wins.
func Mosaic(grids []*Grid, nodata float64) (*Grid, error) {
	if len(grids) == 0 {
		return nil, errors.New("raster: mosaic of zero grids")
	}
	infos := make([]Info, len(grids))
	for i, g := range grids {
		infos[i] = g.Info
	}
	union, err := Union(infos, nodata)
	if err != nil {
		return nil, err
	}
	out := NewGrid(union)
	for _, g := range grids {
		if _, err := out.Fold(g, First); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MergeMin folds every layer onto target with Min. The result is nodata only
// where no layer holds data. It also returns the total collision count.
func MergeMin(target Info, layers []*Grid) (*Grid, int, error) {
	out := NewGrid(target)
	total := 0
	for _, l := range layers {
		n, err := out.Fold(l, Min)
		if err != nil {
			return nil, 0, err
		}
		total += n
	}
	return out, total, nil
}

// Reclass returns a copy of g where every data cell is value and every other
// cell is nodata.
func Reclass(g *Grid, value, nodata float64) *Grid {
	out := &Grid{Info: g.Info, Data: make([]float64, len(g.Data))}
	out.NoData = nodata
	for i, v := range g.Data {
		if g.IsNoData(v) {
			out.Data[i] = nodata
			continue
		}
		out.Data[i] = value
	}
	return out
}

// Mask returns a copy of g keeping only the data cells whose center satisfies
// keep. Everything else becomes nodata.
func Mask(g *Grid, nodata float64, keep func(x, y float64) bool) *Grid {
	out := &Grid{Info: g.Info, Data: make([]float64, len(g.Data))}
	out.NoData = nodata
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			i := r*g.Cols + c
			v := g.Data[i]
			if g.IsNoData(v) {
				out.Data[i] = nodata
				continue
			}
			x, y := g.CellCenter(r, c)
			if !keep(x, y) {
				out.Data[i] = nodata
				continue
			}
			out.Data[i] = v
		}
	}
	return out
}

// Crop trims g to the smallest window holding every data cell. It returns nil
// when g holds no data.
func Crop(g *Grid) *Grid {
	minR, minC, maxR, maxC := g.Rows, g.Cols, -1, -1
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			if g.IsNoData(g.Data[r*g.Cols+c]) {
				continue
			}
			minR, maxR = min(minR, r), max(maxR, r)
			minC, maxC = min(minC, c), max(maxC, c)
		}
	}
	if maxR < 0 {
		return nil
	}
	info := g.Info
	info.Cols = maxC - minC + 1
	info.Rows = maxR - minR + 1
	info.Transform.OriginX = g.Transform.OriginX + float64(minC)*g.Transform.PixelWidth
	info.Transform.OriginY = g.Transform.OriginY + float64(minR)*g.Transform.PixelHeight
	out := &Grid{Info: info, Data: make([]float64, info.Cols*info.Rows)}
	for r := 0; r < info.Rows; r++ {
		copy(out.Data[r*info.Cols:(r+1)*info.Cols], g.Data[(r+minR)*g.Cols+minC:(r+minR)*g.Cols+maxC+1])
	}
	return out
}
