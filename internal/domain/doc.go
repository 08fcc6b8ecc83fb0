// Package domain models the inputs and products of the flood inundation
// harmonization run: depth-grid tiles, rating curves and per-feature
// ownership.
//
// # Data Source
//
// Depth grids and rating curves are produced upstream by independent 1-D
// hydraulic model runs, one model per network feature (stream reach). Each
// model is run at a ladder of flood stages and exports one depth raster per
// stage plus one rating curve table. This package never runs a model; it only
// describes what the exported files look like.
//
// # File Naming Conventions
//
// Depth tiles:
//
//	"<feature_id>-<stage_increment>.tif"  →  e.g. "1466020-25.tif"
//	feature 1466020 flooded at stage increment 25.
//	Tiles usually live under a per-feature "Depth_Grid" folder, but any
//	location below the input root is accepted.
//
// Rating curves:
//
//	"<feature_id>_rating_curve.csv" under a path containing "HUC_<huc8>",
//	e.g. ".../HUC_12090301/1466020/1466020_rating_curve.csv".
//	Columns carry their unit in parentheses: "AvgDepth(ft)", "Flow(cfs)".
//
// # Stage Encoding
//
// Stage increments are integers in tenths of the model's length unit:
// 25 = 2.5 ft (or 2.5 m for metric models). The REM stores the decoded value,
// stage_increment / 10, scaled by the run's unit policy.
//
// # Sentinels
//
//	lake_id  = -999    the feature is not a lake
//	nodata   = -9999   default canonical raster nodata; every input tile's own
//	                   sentinel (and NaN) is converted to it on read
//	"unknown"          last-modified timestamp that could not be converted
//
// # Ownership Tie-Break
//
// Catchments are expected to be disjoint. When two painted features land on
// the same cell anyway, the lower feature id wins. The rule is independent of
// processing order so parallel runs are reproducible.
package domain
