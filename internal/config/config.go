// Package config collects every tunable the service reads from the
// environment. Values are loaded once at startup; nothing here is
// runtime-tunable.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Document names inside the provider account. The three databases the
// original deployment runs against.
const (
	DefaultPriceDoc  = "price_db"
	DefaultReportDoc = "report_db"
	DefaultCRMDoc    = "crm_db"
)

// Config is the full runtime configuration.
type Config struct {
	ListenAddr string

	// Spreadsheet provider.
	ProviderBaseURL string
	ProviderToken   string
	PriceDoc        string
	ReportDoc       string
	CRMDoc          string
	BackupFolderID  string

	// Snapshot cache.
	CacheDir        string
	FreshnessWindow time.Duration

	// Adaptive limiter and retry budget.
	LimiterFloor     time.Duration
	LimiterCeiling   time.Duration
	LimiterThreshold int
	RetryAttempts    int

	// Login lockout.
	LockoutThreshold int
	LockoutWindow    time.Duration

	// Tokens.
	AuthSecret  string
	AccessTTL   time.Duration
	RememberTTL time.Duration

	// Outbound mail (OTP and reset notices).
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string

	// Maintenance.
	RetentionDays int
}

// Load reads configuration from the environment, honoring an optional .env
// file in the working directory.
func Load() (Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:       envString("FIELDREPORT_ADDR", ":8080"),
		ProviderBaseURL:  os.Getenv("FIELDREPORT_SHEET_URL"),
		ProviderToken:    os.Getenv("FIELDREPORT_SHEET_TOKEN"),
		PriceDoc:         envString("FIELDREPORT_PRICE_DOC", DefaultPriceDoc),
		ReportDoc:        envString("FIELDREPORT_REPORT_DOC", DefaultReportDoc),
		CRMDoc:           envString("FIELDREPORT_CRM_DOC", DefaultCRMDoc),
		BackupFolderID:   os.Getenv("FIELDREPORT_BACKUP_FOLDER"),
		CacheDir:         envString("FIELDREPORT_CACHE_DIR", "snapshots"),
		FreshnessWindow:  envDuration("FIELDREPORT_CACHE_FRESH", 24*time.Hour),
		LimiterFloor:     envDuration("FIELDREPORT_LIMITER_FLOOR", 500*time.Millisecond),
		LimiterCeiling:   envDuration("FIELDREPORT_LIMITER_CEILING", 10*time.Second),
		LimiterThreshold: envInt("FIELDREPORT_LIMITER_THRESHOLD", 50),
		RetryAttempts:    envInt("FIELDREPORT_RETRY_ATTEMPTS", 3),
		LockoutThreshold: envInt("FIELDREPORT_LOCKOUT_THRESHOLD", 3),
		LockoutWindow:    envDuration("FIELDREPORT_LOCKOUT_WINDOW", 5*time.Minute),
		AuthSecret:       os.Getenv("FIELDREPORT_AUTH_SECRET"),
		AccessTTL:        envDuration("FIELDREPORT_ACCESS_TTL", 15*time.Minute),
		RememberTTL:      envDuration("FIELDREPORT_REMEMBER_TTL", 30*24*time.Hour),
		SMTPHost:         envString("FIELDREPORT_SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:         envInt("FIELDREPORT_SMTP_PORT", 465),
		SMTPUser:         os.Getenv("FIELDREPORT_SMTP_USER"),
		SMTPPassword:     os.Getenv("FIELDREPORT_SMTP_PASSWORD"),
		RetentionDays:    envInt("FIELDREPORT_RETENTION_DAYS", 62),
	}
	return cfg, cfg.validate()
}

// validate covers the fatal-configuration class: a missing provider target
// or auth secret is surfaced immediately, never retried.
func (c Config) validate() error {
	var missing []string
	if strings.TrimSpace(c.ProviderBaseURL) == "" {
		missing = append(missing, "FIELDREPORT_SHEET_URL")
	}
	if strings.TrimSpace(c.AuthSecret) == "" {
		missing = append(missing, "FIELDREPORT_AUTH_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: required settings missing: %s", strings.Join(missing, ", "))
	}
	if c.LimiterFloor <= 0 || c.LimiterCeiling < c.LimiterFloor {
		return errors.New("config: limiter floor/ceiling out of order")
	}
	return nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
