package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/ehr/abstractor/internal/domain/brimcsv"
	"github.com/ehr/abstractor/internal/domain/validation"
	"github.com/ehr/abstractor/internal/pipeline"
	"github.com/ehr/abstractor/internal/platform/brim"
	"github.com/ehr/abstractor/internal/platform/db"
	"github.com/ehr/abstractor/internal/platform/middleware"
	"github.com/ehr/abstractor/internal/reference"
)

// Engine result files written by submit and read by validate.
const (
	ExtractionResultsFile = "extraction_results.csv"
	DecisionResultsFile   = "decision_results.csv"
)

func packageCmd() *cobra.Command {
	var patientID, outDir string
	cmd := &cobra.Command{
		Use:   "package",
		Short: "Build the engine package for one patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if outDir == "" {
				if outDir, err = pipeline.PatientDir(a.cfg.OutputDir, patientID); err != nil {
					return err
				}
			}
			res, err := a.pipeline.Run(cmd.Context(), patientID)
			if err != nil {
				return err
			}
			if err := pipeline.Write(outDir, res); err != nil {
				return err
			}
			a.logger.Info().Str("patient_id", patientID).Str("dir", outDir).Msg("package written")
			return nil
		},
	}
	cmd.Flags().StringVar(&patientID, "patient", "", "patient identifier")
	cmd.Flags().StringVar(&outDir, "out", "", "output directory (default OUTPUT_DIR/<patient>)")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

func batchCmd() *cobra.Command {
	var patientsFile, outDir string
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Build engine packages for a list of patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(patientsFile)
			if err != nil {
				return fmt.Errorf("open patients file: %w", err)
			}
			ids, err := readPatientIDs(f)
			f.Close()
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if outDir == "" {
				outDir = a.cfg.OutputDir
			}

			results, err := a.pipeline.RunBatch(cmd.Context(), ids, outDir, a.cfg.BatchConcurrency)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(results); encErr != nil {
				return encErr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&patientsFile, "patients", "", "file with one patient identifier per line")
	cmd.Flags().StringVar(&outDir, "out", "", "output directory (default OUTPUT_DIR)")
	_ = cmd.MarkFlagRequired("patients")
	return cmd
}

// readPatientIDs reads one id per line. Blank lines and # comments are
// skipped and repeated ids are kept once.
func readPatientIDs(r io.Reader) ([]string, error) {
	var ids []string
	seen := make(map[string]bool)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || seen[line] {
			continue
		}
		seen[line] = true
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read patients: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("read patients: no patient identifiers")
	}
	return ids, nil
}

func submitCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a written package to the abstraction engine and store its results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateEngine(); err != nil {
				return err
			}
			pkg, err := brimcsv.ReadPackage(dir)
			if err != nil {
				return err
			}

			client := brim.NewClient(cfg.BrimBaseURL, cfg.BrimAPIKey, cfg.BrimProjectID,
				brim.WithTimeout(cfg.BrimTimeout),
				brim.WithPollInterval(cfg.BrimPollInterval),
				brim.WithMaxAttempts(cfg.BrimMaxAttempts),
				brim.WithLogger(logger),
			)
			res, err := client.Submit(cmd.Context(), enginePackage(pkg))
			if err != nil {
				if brim.IsRetryable(err) {
					logger.Error().Err(err).Msg("engine run incomplete; rerun submit to retry the whole package")
				}
				return err
			}
			for name, data := range map[string][]byte{
				ExtractionResultsFile: res.Extraction,
				DecisionResultsFile:   res.Decisions,
			} {
				if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", name, err)
				}
			}
			logger.Info().Str("job_id", res.JobID).Str("dir", dir).Msg("engine results written")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "package directory")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

func enginePackage(p *brimcsv.Package) brim.Package {
	return brim.Package{Variables: p.Variables, Decisions: p.Decisions, Project: p.Project}
}

func validateCmd() *cobra.Command {
	var dir, goldDir, patientID, label, diffFrom string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Compare engine results against the gold standard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defs, err := brimcsv.LoadDefinitions(cfg.VariablesFile)
			if err != nil {
				return err
			}
			if patientID == "" {
				if patientID, err = manifestPatient(dir); err != nil {
					return err
				}
			}

			res, err := readResults(dir, patientID)
			if err != nil {
				return err
			}
			gold, err := validation.LoadGoldStandard(goldDir, patientID)
			if err != nil {
				return err
			}
			report := validation.NewValidator(cfg.ValidationDateWindowDays, logger).Validate(defs, res, gold, label)

			store, err := validation.OpenHistory(cfg.HistoryDB)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Save(cmd.Context(), report); err != nil {
				return err
			}

			out := map[string]interface{}{"report": report}
			if diffFrom != "" {
				changes, err := store.Diff(cmd.Context(), patientID, diffFrom, label)
				if err != nil {
					return err
				}
				out["changes"] = changes
			}
			logger.Info().
				Str("patient_id", patientID).
				Str("label", label).
				Int("matched", report.Matched).
				Int("compared", report.Compared).
				Float64("accuracy", report.Accuracy).
				Msg("validation complete")

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "package directory holding engine results")
	cmd.Flags().StringVar(&goldDir, "gold", "", "gold standard directory")
	cmd.Flags().StringVar(&patientID, "patient", "", "patient identifier (default from manifest.json)")
	cmd.Flags().StringVar(&label, "label", "latest", "label stored with this report")
	cmd.Flags().StringVar(&diffFrom, "diff", "", "label of an earlier report to diff against")
	_ = cmd.MarkFlagRequired("dir")
	_ = cmd.MarkFlagRequired("gold")
	return cmd
}

func manifestPatient(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, pipeline.ManifestFile))
	if err != nil {
		return "", fmt.Errorf("read manifest (or pass --patient): %w", err)
	}
	var m pipeline.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("decode manifest: %w", err)
	}
	if m.PatientID == "" {
		return "", fmt.Errorf("manifest has no patient_id")
	}
	return m.PatientID, nil
}

func readResults(dir, patientID string) (*validation.Results, error) {
	ef, err := os.Open(filepath.Join(dir, ExtractionResultsFile))
	if err != nil {
		return nil, fmt.Errorf("open extraction results: %w", err)
	}
	defer ef.Close()
	res, err := validation.ParseExtraction(ef, patientID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ExtractionResultsFile, err)
	}

	df, err := os.Open(filepath.Join(dir, DecisionResultsFile))
	if os.IsNotExist(err) {
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open decision results: %w", err)
	}
	defer df.Close()
	if err := res.ParseDecisions(df); err != nil {
		return nil, fmt.Errorf("%s: %w", DecisionResultsFile, err)
	}
	return res, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve package builds and validation history over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	var reports pipeline.ReportLister
	if store, err := validation.OpenHistory(a.cfg.HistoryDB); err != nil {
		logger.Warn().Err(err).Msg("validation history unavailable")
	} else {
		defer store.Close()
		reports = store
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())

	var stats func() *db.PoolStats
	if a.pool != nil {
		stats = func() *db.PoolStats { return db.GetPoolStats(a.pool) }
	}
	e.GET("/health", db.HealthHandler(a.warehouse, stats))

	api := e.Group("/api/v1", middleware.RequestTimeout(a.cfg.RequestTimeout))
	pipeline.NewHandler(a.pipeline, a.cfg.OutputDir, reports).RegisterRoutes(api)

	go func() {
		addr := ":" + a.cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "schema <reference|variables>",
		Short:     "Print the JSON Schema of a reference or definitions file",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"reference", "variables"},
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schemaFor(args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(data, '\n'))
			return err
		},
	}
}

func schemaFor(kind string) ([]byte, error) {
	r := &jsonschema.Reflector{}
	var s *jsonschema.Schema
	switch kind {
	case "reference":
		s = r.Reflect(&reference.Tables{})
	case "variables":
		s = r.Reflect(&brimcsv.Definitions{})
	default:
		return nil, fmt.Errorf("unknown schema %q (want reference or variables)", kind)
	}
	return json.MarshalIndent(s, "", "  ")
}
