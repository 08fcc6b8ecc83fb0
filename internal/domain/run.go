package domain

import "time"

// RunSummary is what a finished run reports: the manifest written next to the
// products and the notification published to downstream consumers.
type RunSummary struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	InputDir   string    `json:"input_dir" yaml:"input_dir"`
	OutputDir  string    `json:"output_dir" yaml:"output_dir"`

	UnitSystem      string  `json:"unit_system" yaml:"unit_system"`
	StageColumn     string  `json:"stage_column" yaml:"stage_column"`
	DischargeColumn string  `json:"discharge_column" yaml:"discharge_column"`
	NoData          float64 `json:"nodata" yaml:"nodata"`
	CRS             string  `json:"crs" yaml:"crs"`

	Tiles       int `json:"tiles" yaml:"tiles"`
	RatingFiles int `json:"rating_files" yaml:"rating_files"`
	RatingRows  int `json:"rating_rows" yaml:"rating_rows"`
	Duplicates  int `json:"duplicate_rating_rows" yaml:"duplicate_rating_rows"`
	StageLayers int `json:"stage_layers" yaml:"stage_layers"`
	Features    int `json:"features" yaml:"features"`
	Collisions  int `json:"ownership_collisions" yaml:"ownership_collisions"`
	Overlaps    int `json:"catchment_overlaps" yaml:"catchment_overlaps"`

	SkippedByKind map[string]int `json:"skipped" yaml:"skipped"`

	Outputs []string `json:"outputs" yaml:"outputs"`
}
