package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/abstractor/internal/config"
	"github.com/ehr/abstractor/internal/domain/brimcsv"
	"github.com/ehr/abstractor/internal/domain/extraction"
	"github.com/ehr/abstractor/internal/pipeline"
	"github.com/ehr/abstractor/internal/platform/db"
	"github.com/ehr/abstractor/internal/reference"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "abstractor",
		Short:        "Prepare clinical abstraction packages from the warehouse",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(packageCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(schemaCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// loadConfig reads and validates configuration and builds the logger.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid config: %w", err)
	}
	return cfg, newLogger(cfg), nil
}

// app is the wired pipeline plus the resources it holds open.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	warehouse extraction.Warehouse
	pool      *pgxpool.Pool
	pipeline  *pipeline.Pipeline
	closers   []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func openWarehouse(ctx context.Context, a *app) error {
	switch a.cfg.WarehouseDriver {
	case "sqlite":
		sdb, err := db.OpenSQLite(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { sdb.Close() })
		a.warehouse = extraction.NewWarehouseSQLite(sdb)
	default:
		pool, err := db.NewPool(ctx, a.cfg.DatabaseURL, a.cfg.WarehouseSchema, a.cfg.DBMaxConns, a.cfg.DBMinConns)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pool.Close)
		a.pool = pool
		a.warehouse = extraction.NewWarehousePG(pool)
	}
	a.logger.Info().Str("driver", a.cfg.WarehouseDriver).Msg("connected to warehouse")
	return nil
}

// newApp loads reference data and definitions and wires the pipeline.
func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	tables, err := reference.Load(cfg.ReferenceFile)
	if err != nil {
		return nil, fmt.Errorf("load reference tables: %w", err)
	}
	defs, err := brimcsv.LoadDefinitions(cfg.VariablesFile)
	if err != nil {
		return nil, fmt.Errorf("load variable definitions: %w", err)
	}
	priority, err := cfg.DiagnosisPriority()
	if err != nil {
		return nil, err
	}
	if err := openWarehouse(ctx, a); err != nil {
		a.Close()
		return nil, err
	}

	var texts extraction.TextSource
	if cfg.DocumentTextDir != "" {
		texts = extraction.NewDirTextSource(cfg.DocumentTextDir)
	}
	svc := extraction.NewService(a.warehouse, texts, tables, logger)
	a.pipeline = pipeline.New(svc, pipeline.Options{
		Tables:              tables,
		Definitions:         defs,
		TopN:                cfg.DocumentTopN,
		DiagnosisPriority:   priority,
		EncounterWindowDays: cfg.SurgeryEncounterWindowDays,
	}, logger)

	logger.Info().
		Str("reference_version", tables.Version).
		Str("definitions_version", defs.Version).
		Int("top_n", cfg.DocumentTopN).
		Msg("pipeline ready")
	return a, nil
}
