// Command etl harmonizes a tree of ras2fim depth grids and rating curves into
// a relative elevation model, a feature-ownership raster and vector layer,
// and one consolidated rating-curve table.
//
// Usage:
//
//	etl run --input ./inputs --output ./outputs --catchments ./catchments.shp
//	etl catalog --input ./inputs
//	etl units --input ./inputs --units meter
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	httpadapter "github.com/couchcryptid/fim-rem-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/fim-rem-etl/internal/adapter/kafka"
	"github.com/couchcryptid/fim-rem-etl/internal/catalog"
	"github.com/couchcryptid/fim-rem-etl/internal/config"
	"github.com/couchcryptid/fim-rem-etl/internal/domain"
	"github.com/couchcryptid/fim-rem-etl/internal/observability"
	"github.com/couchcryptid/fim-rem-etl/internal/pipeline"
)

const pushJob = "fim_rem_etl"

// app is the state shared by every subcommand once config is loaded.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "etl",
		Short: "Harmonize ras2fim depth grids and rating curves",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				slog.Error("failed to load config", "error", err)
				return err
			}
			if err := applyFlags(cmd, cfg); err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.String("input", "", "input root holding depth grids and rating curves (INPUT_DIR)")
	f.String("output", "", "output directory, recreated on every run (OUTPUT_DIR)")
	f.String("scratch", "", "parent directory for per-run intermediates (SCRATCH_DIR)")
	f.String("catchments", "", "catchment polygon shapefile (CATCHMENTS_PATH)")
	f.String("id-field", "", "catchment attribute holding the feature id (CATCHMENT_ID_FIELD)")
	f.String("model-catalog", "", "optional model catalog CSV (MODEL_CATALOG_PATH)")
	f.String("conflation-qc", "", "optional conflation QC CSV (CONFLATION_QC_PATH)")
	f.Int("workers", 0, "parallel workers (WORKERS)")
	f.String("units", "", "output units: native, feet or meter (OUTPUT_UNITS)")
	f.String("vector-format", "", "ownership vector format: gpkg, shp or both (VECTOR_FORMAT)")
	f.Bool("dedupe", false, "drop duplicate rating rows (DEDUPE_RATINGS)")
	f.String("log-level", "", "debug, info, warn or error (LOG_LEVEL)")

	root.AddCommand(a.runCmd(), a.catalogCmd(), a.unitsCmd())
	return root
}

// applyFlags overrides env settings with the flags set on the command line.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	strs := map[string]*string{
		"input":         &cfg.InputDir,
		"output":        &cfg.OutputDir,
		"scratch":       &cfg.ScratchDir,
		"catchments":    &cfg.CatchmentsPath,
		"id-field":      &cfg.CatchmentIDField,
		"model-catalog": &cfg.ModelCatalogPath,
		"conflation-qc": &cfg.ConflationQCPath,
		"units":         &cfg.OutputUnits,
		"vector-format": &cfg.VectorFormat,
		"log-level":     &cfg.LogLevel,
	}
	for name, dst := range strs {
		if !f.Changed(name) {
			continue
		}
		v, err := f.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}
	if f.Changed("workers") {
		n, err := f.GetInt("workers")
		if err != nil {
			return err
		}
		cfg.Workers = n
	}
	if f.Changed("dedupe") {
		b, err := f.GetBool("dedupe")
		if err != nil {
			return err
		}
		cfg.DedupeRatings = b
	}
	return nil
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full harmonization",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.Validate(); err != nil {
				a.logger.Error("invalid config", "error", err)
				return err
			}
			return a.run(cmd.Context())
		},
	}
}

func (a *app) run(parent context.Context) error {
	cfg, logger := a.cfg, a.logger
	metrics := observability.NewMetrics()

	var notifier pipeline.Notifier
	if len(cfg.KafkaBrokers) > 0 {
		w := kafkaadapter.NewWriter(cfg, logger)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		notifier = w
		logger.Info("kafka notification enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}

	p := pipeline.New(cfg, notifier, logger, metrics)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *httpadapter.Server
	if cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(cfg.HTTPAddr, p, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	_, runErr := p.Run(ctx)
	if runErr != nil {
		logger.Error("run failed", "error", runErr, "fatal", domain.IsFatal(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if cfg.PushgatewayURL != "" {
		if err := metrics.Push(shutdownCtx, cfg.PushgatewayURL, pushJob); err != nil {
			logger.Error("metrics push error", "error", err)
		}
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
	}
	logger.Info("shutdown complete")
	return runErr
}

func (a *app) catalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Index the input tree and print what was found",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.InputDir == "" {
				return errors.New("INPUT_DIR is required")
			}
			report := domain.NewReport(a.logger, nil)
			cat, err := catalog.Build(cmd.Context(), a.cfg.InputDir, report)
			if err != nil {
				a.logger.Error("catalog failed", "error", err)
				return err
			}
			return printJSON(cmd, map[string]any{
				"root":          cat.Root,
				"tiles":         cat.TileCount(),
				"stages":        cat.Stages(),
				"features":      cat.Features(),
				"rating_curves": len(cat.RatingCurves),
				"skipped":       report.Counts(),
			})
		},
	}
}

func (a *app) unitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "units",
		Short: "Resolve the rating-curve unit system and print the output columns",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.InputDir == "" {
				return errors.New("INPUT_DIR is required")
			}
			cat, err := catalog.Build(cmd.Context(), a.cfg.InputDir, domain.NewReport(a.logger, nil))
			if err != nil {
				a.logger.Error("catalog failed", "error", err)
				return err
			}
			policy, err := pipeline.ResolveUnits(cat, a.cfg.OutputUnits)
			if err != nil {
				a.logger.Error("units unresolved", "error", err)
				return err
			}
			return printJSON(cmd, map[string]any{
				"source":           policy.Source,
				"system":           policy.System,
				"stage_column":     policy.StageColumn,
				"discharge_column": policy.DischargeColumn,
				"stage_scale":      policy.StageScale,
				"discharge_scale":  policy.DischargeScale,
			})
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
