// Package catalog indexes the depth tiles and rating-curve files found below
// an input root.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/couchcryptid/fim-rem-etl/internal/domain"
)

var (
	tilePattern   = regexp.MustCompile(`(?i)^(\d+)-(\d+)\.tiff?$`)
	ratingPattern = regexp.MustCompile(`^(\d+)_rating_curve\.csv$`)
	hucSegment    = regexp.MustCompile(`^HUC_(\d{8})$`)
	hucFallback   = regexp.MustCompile(`^(\d{8})(?:_.*)?$`)

	errNoHUC = errors.New("no HUC8 segment in path")
)

// Catalog is the read-only index shared by every pipeline worker.
type Catalog struct {
	Root         string
	ByStage      map[int][]string
	ByFeature    map[domain.FeatureID][]domain.TileRef
	RatingCurves []domain.RatingCurveFile
}

// Build walks root and classifies every file by name. Files that match a
// pattern but cannot be used are reported through report and left out.
func Build(ctx context.Context, root string, report *domain.Report) (*Catalog, error) {
	c := &Catalog{
		Root:      root,
		ByStage:   make(map[int][]string),
		ByFeature: make(map[domain.FeatureID][]domain.TileRef),
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if m := tilePattern.FindStringSubmatch(name); m != nil {
			c.addTile(path, m[1], m[2], report)
			return nil
		}
		if m := ratingPattern.FindStringSubmatch(name); m != nil {
			c.addRatingCurve(path, m[1], report)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	for _, paths := range c.ByStage {
		sort.Strings(paths)
	}
	for _, refs := range c.ByFeature {
		sort.Slice(refs, func(i, j int) bool {
			if refs[i].StageIncrement != refs[j].StageIncrement {
				return refs[i].StageIncrement < refs[j].StageIncrement
			}
			return refs[i].Path < refs[j].Path
		})
	}
	sort.Slice(c.RatingCurves, func(i, j int) bool {
		return c.RatingCurves[i].Path < c.RatingCurves[j].Path
	})

	if len(c.ByStage) == 0 {
		return nil, &domain.NoInputFilesError{Kind: domain.InputRasterTiles, Root: root}
	}
	if len(c.RatingCurves) == 0 {
		return nil, &domain.NoInputFilesError{Kind: domain.InputRatingCurves, Root: root}
	}
	return c, nil
}

func (c *Catalog) addTile(path, fidText, incText string, report *domain.Report) {
	fid, err := domain.ParseFeatureID(fidText)
	if err != nil {
		report.Skip(domain.SkipTile, path, fmt.Errorf("feature id: %w", err))
		return
	}
	inc, err := strconv.Atoi(incText)
	if err != nil {
		report.Skip(domain.SkipTile, path, fmt.Errorf("stage increment: %w", err))
		return
	}
	c.ByStage[inc] = append(c.ByStage[inc], path)
	c.ByFeature[fid] = append(c.ByFeature[fid], domain.TileRef{FeatureID: fid, StageIncrement: inc, Path: path})
}

func (c *Catalog) addRatingCurve(path, fidText string, report *domain.Report) {
	fid, err := domain.ParseFeatureID(fidText)
	if err != nil {
		report.Skip(domain.SkipRatingFile, path, fmt.Errorf("feature id: %w", err))
		return
	}
	huc, ok := HUCFromPath(path)
	if !ok {
		report.Skip(domain.SkipRatingFile, path, errNoHUC)
		return
	}
	c.RatingCurves = append(c.RatingCurves, domain.RatingCurveFile{Path: path, FeatureID: fid, HUC: huc})
}

// HUCFromPath returns the HUC8 of the nearest ancestor directory of path.
// "HUC_<8 digits>" segments are preferred; otherwise a segment made of eight
// digits, optionally followed by "_...", is accepted.
func HUCFromPath(path string) (string, bool) {
	segs := strings.Split(filepath.ToSlash(filepath.Dir(path)), "/")
	slices.Reverse(segs)
	for _, s := range segs {
		if m := hucSegment.FindStringSubmatch(s); m != nil {
			return m[1], true
		}
	}
	for _, s := range segs {
		if m := hucFallback.FindStringSubmatch(s); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// Stages returns the stage increments in ascending order.
func (c *Catalog) Stages() []int {
	out := make([]int, 0, len(c.ByStage))
	for s := range c.ByStage {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}

// Features returns the feature ids that have at least one tile, ascending.
func (c *Catalog) Features() []domain.FeatureID {
	out := make([]domain.FeatureID, 0, len(c.ByFeature))
	for fid := range c.ByFeature {
		out = append(out, fid)
	}
	slices.Sort(out)
	return out
}

// TilesDescending returns the tiles of one feature from the highest stage
// down. The caller may modify the returned slice.
func (c *Catalog) TilesDescending(fid domain.FeatureID) []domain.TileRef {
	refs := slices.Clone(c.ByFeature[fid])
	slices.Reverse(refs)
	return refs
}

// TileCount returns the number of cataloged tiles.
func (c *Catalog) TileCount() int {
	n := 0
	for _, paths := range c.ByStage {
		n += len(paths)
	}
	return n
}
