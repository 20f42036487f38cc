package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/abstractor/internal/domain/classify"
)

type Config struct {
	Port                       string        `mapstructure:"PORT"`
	Env                        string        `mapstructure:"ENV"`
	LogLevel                   string        `mapstructure:"LOG_LEVEL"`
	WarehouseDriver            string        `mapstructure:"WAREHOUSE_DRIVER"`
	DatabaseURL                string        `mapstructure:"DATABASE_URL"`
	DBMaxConns                 int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns                 int32         `mapstructure:"DB_MIN_CONNS"`
	WarehouseSchema            string        `mapstructure:"WAREHOUSE_SCHEMA"`
	ReferenceFile              string        `mapstructure:"REFERENCE_FILE"`
	VariablesFile              string        `mapstructure:"VARIABLES_FILE"`
	DocumentTextDir            string        `mapstructure:"DOCUMENT_TEXT_DIR"`
	DocumentTopN               int           `mapstructure:"DOCUMENT_TOP_N"`
	DiagnosisDatePriority      string        `mapstructure:"DIAGNOSIS_DATE_PRIORITY"`
	SurgeryEncounterWindowDays int           `mapstructure:"SURGERY_ENCOUNTER_WINDOW_DAYS"`
	OutputDir                  string        `mapstructure:"OUTPUT_DIR"`
	BatchConcurrency           int           `mapstructure:"BATCH_CONCURRENCY"`
	BrimBaseURL                string        `mapstructure:"BRIM_BASE_URL"`
	BrimAPIKey                 string        `mapstructure:"BRIM_API_KEY"`
	BrimProjectID              string        `mapstructure:"BRIM_PROJECT_ID"`
	BrimTimeout                time.Duration `mapstructure:"BRIM_TIMEOUT"`
	BrimPollInterval           time.Duration `mapstructure:"BRIM_POLL_INTERVAL"`
	BrimMaxAttempts            int           `mapstructure:"BRIM_MAX_ATTEMPTS"`
	ValidationDateWindowDays   int           `mapstructure:"VALIDATION_DATE_WINDOW_DAYS"`
	HistoryDB                  string        `mapstructure:"HISTORY_DB"`
	RequestTimeout             time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "WAREHOUSE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"WAREHOUSE_SCHEMA", "REFERENCE_FILE", "VARIABLES_FILE", "DOCUMENT_TEXT_DIR", "DOCUMENT_TOP_N",
	"DIAGNOSIS_DATE_PRIORITY", "SURGERY_ENCOUNTER_WINDOW_DAYS", "OUTPUT_DIR", "BATCH_CONCURRENCY",
	"BRIM_BASE_URL", "BRIM_API_KEY", "BRIM_PROJECT_ID", "BRIM_TIMEOUT", "BRIM_POLL_INTERVAL",
	"BRIM_MAX_ATTEMPTS", "VALIDATION_DATE_WINDOW_DAYS", "HISTORY_DB", "REQUEST_TIMEOUT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("WAREHOUSE_DRIVER", "postgres")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DOCUMENT_TOP_N", 50)
	v.SetDefault("DIAGNOSIS_DATE_PRIORITY", "pathology,surgery,condition_onset,condition_recorded")
	v.SetDefault("SURGERY_ENCOUNTER_WINDOW_DAYS", 0)
	v.SetDefault("OUTPUT_DIR", "out")
	v.SetDefault("BATCH_CONCURRENCY", 4)
	v.SetDefault("BRIM_TIMEOUT", "30m")
	v.SetDefault("BRIM_POLL_INTERVAL", "10s")
	v.SetDefault("BRIM_MAX_ATTEMPTS", 3)
	v.SetDefault("VALIDATION_DATE_WINDOW_DAYS", 30)
	v.SetDefault("HISTORY_DB", "validation_history.db")
	v.SetDefault("REQUEST_TIMEOUT", "10m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// DiagnosisPriority returns the parsed diagnosis date priority order.
func (c *Config) DiagnosisPriority() ([]classify.DiagnosisDateSource, error) {
	return classify.ParseDiagnosisPriority(c.DiagnosisDatePriority)
}

// Validate checks the configuration before any stage runs.
func (c *Config) Validate() error {
	switch c.WarehouseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("WAREHOUSE_DRIVER must be \"postgres\" or \"sqlite\", got %q", c.WarehouseDriver)
	}
	if c.DocumentTopN <= 0 {
		return fmt.Errorf("DOCUMENT_TOP_N must be positive, got %d", c.DocumentTopN)
	}
	if c.SurgeryEncounterWindowDays < 0 {
		return fmt.Errorf("SURGERY_ENCOUNTER_WINDOW_DAYS must not be negative, got %d", c.SurgeryEncounterWindowDays)
	}
	if c.BatchConcurrency <= 0 {
		return fmt.Errorf("BATCH_CONCURRENCY must be positive, got %d", c.BatchConcurrency)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if _, err := c.DiagnosisPriority(); err != nil {
		return fmt.Errorf("DIAGNOSIS_DATE_PRIORITY: %w", err)
	}
	if c.WarehouseSchema != "" && strings.ContainsAny(c.WarehouseSchema, " ;'\"") {
		return fmt.Errorf("WAREHOUSE_SCHEMA %q is not a valid schema name", c.WarehouseSchema)
	}
	return nil
}

// ValidateEngine checks the settings required to submit to the engine.
func (c *Config) ValidateEngine() error {
	if c.BrimBaseURL == "" {
		return fmt.Errorf("BRIM_BASE_URL is required")
	}
	if c.BrimProjectID == "" {
		return fmt.Errorf("BRIM_PROJECT_ID is required")
	}
	if c.BrimTimeout <= 0 {
		return fmt.Errorf("BRIM_TIMEOUT must be positive, got %s", c.BrimTimeout)
	}
	return nil
}
