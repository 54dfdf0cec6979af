package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
	// SCHOOL_TIMEZONE must resolve on hosts without a zoneinfo database.
	_ "time/tzdata"

	"github.com/hashicorp/go-multierror"
)

type Config struct {
	LogLevel string

	// Backend selection: memory, sqlite or postgres
	DataBackend string

	// Database
	SQLiteDBPath string
	DatabaseURL  string

	// Ledger
	SchoolTimezone       string
	AllocatorMaxAttempts int
	SummaryCacheTTL      time.Duration
	SummaryCacheSize     int
	CacheCleanupInterval time.Duration

	// AMQP; publishing is disabled when AMQPURL is empty
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets receipt register
	GoogleSpreadsheetID   string
	GoogleSheetName       string
	GoogleCredentialsFile string
	GoogleCredentialsJSON string

	// Worker
	MetricsAddr         string
	ExportBatchSize     int
	ExportConcurrency   int
	ExportRatePerSecond float64
	ExportBurst         int
	ExportMaxTries      int
	ExportSweepInterval time.Duration
}

var validBackends = []string{"memory", "sqlite", "postgres"}

func Load() *Config {
	return &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DataBackend: getEnv("DATA_BACKEND", "sqlite"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/feeledger.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		SchoolTimezone:       getEnv("SCHOOL_TIMEZONE", "UTC"),
		AllocatorMaxAttempts: getEnvInt("ALLOCATOR_MAX_ATTEMPTS", 10),
		SummaryCacheTTL:      getEnvDuration("SUMMARY_CACHE_TTL", 0),
		SummaryCacheSize:     getEnvInt("SUMMARY_CACHE_SIZE", 1024),
		CacheCleanupInterval: getEnvDuration("CACHE_CLEANUP_INTERVAL", 5*time.Minute),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "feeledger"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "payment_events"),

		GoogleSpreadsheetID:   getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:       getEnv("GOOGLE_SHEET_NAME", "Receipts"),
		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),
		GoogleCredentialsJSON: getEnv("GOOGLE_CREDENTIALS_JSON", ""),

		MetricsAddr:         getEnv("METRICS_ADDR", ":9090"),
		ExportBatchSize:     getEnvInt("EXPORT_BATCH_SIZE", 50),
		ExportConcurrency:   getEnvInt("EXPORT_CONCURRENCY", 4),
		ExportRatePerSecond: getEnvFloat("EXPORT_RATE_PER_SECOND", 1),
		ExportBurst:         getEnvInt("EXPORT_BURST", 5),
		ExportMaxTries:      getEnvInt("EXPORT_MAX_TRIES", 5),
		ExportSweepInterval: getEnvDuration("EXPORT_SWEEP_INTERVAL", time.Minute),
	}
}

// Location resolves SchoolTimezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.SchoolTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid school timezone '%s': %w", c.SchoolTimezone, err)
	}
	return loc, nil
}

// SheetsEnabled reports whether a receipt register is configured.
func (c *Config) SheetsEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	switch c.DataBackend {
	case "memory":
	case "sqlite":
		if c.SQLiteDBPath == "" {
			add("SQLite database path cannot be empty when using sqlite backend")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			add("DATABASE_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.DatabaseURL); err != nil {
			add("invalid DATABASE_URL: %v", err)
		} else if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			add("invalid DATABASE_URL scheme '%s': must be 'postgres' or 'postgresql'", u.Scheme)
		}
	default:
		add("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends)
	}

	if _, err := c.Location(); err != nil {
		result = multierror.Append(result, err)
	}
	if c.AllocatorMaxAttempts < 1 || c.AllocatorMaxAttempts > 100 {
		add("invalid allocator max attempts %d: must be between 1 and 100", c.AllocatorMaxAttempts)
	}
	if c.SummaryCacheTTL < 0 {
		add("invalid summary cache TTL %v: must not be negative", c.SummaryCacheTTL)
	}
	if c.SummaryCacheSize < 1 {
		add("invalid summary cache size %d: must be at least 1", c.SummaryCacheSize)
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			add("invalid AMQP URL '%s': %v", c.AMQPURL, err)
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			add("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme)
		}
		if c.AMQPExchange == "" {
			add("AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			add("AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.SheetsEnabled() {
		if c.GoogleSheetName == "" {
			add("Google Sheet name is required when a spreadsheet is configured")
		}
		if c.GoogleCredentialsFile == "" && c.GoogleCredentialsJSON == "" {
			add("either GOOGLE_CREDENTIALS_FILE or GOOGLE_CREDENTIALS_JSON must be provided with GOOGLE_SPREADSHEET_ID")
		}
		if c.GoogleCredentialsFile != "" {
			if _, err := os.Stat(c.GoogleCredentialsFile); errors.Is(err, os.ErrNotExist) {
				add("Google credentials file does not exist: %s", c.GoogleCredentialsFile)
			}
		}
	}

	if c.ExportBatchSize < 1 || c.ExportBatchSize > 1000 {
		add("invalid export batch size %d: must be between 1 and 1000", c.ExportBatchSize)
	}
	if c.ExportConcurrency < 1 {
		add("invalid export concurrency %d: must be at least 1", c.ExportConcurrency)
	}
	if c.ExportRatePerSecond < 0 {
		add("invalid export rate %v: must not be negative", c.ExportRatePerSecond)
	}
	if c.ExportMaxTries < 1 {
		add("invalid export max tries %d: must be at least 1", c.ExportMaxTries)
	}
	if c.ExportSweepInterval < time.Second || c.ExportSweepInterval > 24*time.Hour {
		add("invalid export sweep interval %v: must be between 1 second and 24 hours", c.ExportSweepInterval)
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
