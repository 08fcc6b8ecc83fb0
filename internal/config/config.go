package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Vector output formats.
const (
	VectorGPKG = "gpkg"
	VectorSHP  = "shp"
	VectorBoth = "both"
)

// Config holds all run settings, populated from environment variables.
type Config struct {
	InputDir       string
	OutputDir      string
	ScratchDir     string
	CatchmentsPath string

	// CatchmentIDField names the attribute holding the feature id.
	CatchmentIDField string

	// CatchmentTargetProj is a PROJ4 string the catchments are reprojected
	// to before masking. Empty means they already match the tiles.
	CatchmentTargetProj string

	ModelCatalogPath string
	ConflationQCPath string

	Workers       int
	NoData        float64
	OutputUnits   string
	VectorFormat  string
	DedupeRatings bool
	OverlapCheck  bool
	TileCacheSize int

	HTTPAddr       string
	PushgatewayURL string
	KafkaBrokers   []string
	KafkaTopic     string
	BatchSize      int

	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
// Required paths are not checked here; call Validate after flags are applied.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	workers, err := parsePositiveInt("WORKERS", runtime.NumCPU())
	if err != nil {
		return nil, err
	}

	cacheSize, err := parseNonNegativeInt("TILE_CACHE_SIZE", 16)
	if err != nil {
		return nil, err
	}

	nodata, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("NODATA", "-9999"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid NODATA: %w", err)
	}

	dedupe, err := parseBool("DEDUPE_RATINGS", false)
	if err != nil {
		return nil, err
	}

	overlap, err := parseBool("OVERLAP_CHECK", true)
	if err != nil {
		return nil, err
	}

	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = sharedcfg.ParseBrokers(v)
	}

	cfg := &Config{
		InputDir:            os.Getenv("INPUT_DIR"),
		OutputDir:           os.Getenv("OUTPUT_DIR"),
		ScratchDir:          sharedcfg.EnvOrDefault("SCRATCH_DIR", os.TempDir()),
		CatchmentsPath:      os.Getenv("CATCHMENTS_PATH"),
		CatchmentIDField:    sharedcfg.EnvOrDefault("CATCHMENT_ID_FIELD", "feature_id"),
		CatchmentTargetProj: os.Getenv("CATCHMENT_TARGET_PROJ"),
		ModelCatalogPath:    os.Getenv("MODEL_CATALOG_PATH"),
		ConflationQCPath:    os.Getenv("CONFLATION_QC_PATH"),

		Workers:       workers,
		NoData:        nodata,
		OutputUnits:   strings.ToLower(sharedcfg.EnvOrDefault("OUTPUT_UNITS", "native")),
		VectorFormat:  strings.ToLower(sharedcfg.EnvOrDefault("VECTOR_FORMAT", VectorGPKG)),
		DedupeRatings: dedupe,
		OverlapCheck:  overlap,
		TileCacheSize: cacheSize,

		HTTPAddr:       os.Getenv("HTTP_ADDR"),
		PushgatewayURL: os.Getenv("PUSHGATEWAY_URL"),
		KafkaBrokers:   brokers,
		KafkaTopic:     sharedcfg.EnvOrDefault("KAFKA_TOPIC", "fim-rem-runs"),
		BatchSize:      batchSize,

		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	switch cfg.OutputUnits {
	case "native", "feet", "meter":
	default:
		return nil, fmt.Errorf("invalid OUTPUT_UNITS %q: want native, feet or meter", cfg.OutputUnits)
	}
	switch cfg.VectorFormat {
	case VectorGPKG, VectorSHP, VectorBoth:
	default:
		return nil, fmt.Errorf("invalid VECTOR_FORMAT %q: want gpkg, shp or both", cfg.VectorFormat)
	}

	return cfg, nil
}

// Validate checks the settings every run needs.
func (c *Config) Validate() error {
	if c.InputDir == "" {
		return errors.New("INPUT_DIR is required")
	}
	if c.OutputDir == "" {
		return errors.New("OUTPUT_DIR is required")
	}
	if c.CatchmentsPath == "" {
		return errors.New("CATCHMENTS_PATH is required")
	}
	if c.Workers <= 0 {
		return errors.New("WORKERS must be positive")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// WritesGPKG reports whether the GeoPackage sink is enabled.
func (c *Config) WritesGPKG() bool {
	return c.VectorFormat == VectorGPKG || c.VectorFormat == VectorBoth
}

// WritesShapefile reports whether the shapefile sink is enabled.
func (c *Config) WritesShapefile() bool {
	return c.VectorFormat == VectorSHP || c.VectorFormat == VectorBoth
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", key, s)
	}
	return n, nil
}

func parseNonNegativeInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", key, s)
	}
	return n, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}
