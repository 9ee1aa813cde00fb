package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	BackendRemote = "remote"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

type Config struct {
	// HTTP Server
	Port               string `env:"PORT" envDefault:"8081"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
	RateLimitPerMinute int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`

	// Record source selection
	DataBackend   string `env:"DATA_BACKEND" envDefault:"memory"`
	DataDirectory string `env:"DATA_DIR" envDefault:"data"`

	// Token signing for the sqlite and memory backends
	LocalAuthSecret string `env:"LOCAL_AUTH_SECRET" envDefault:"allowance-dev-secret"`

	// Upstream REST API
	UpstreamAPIURL  string        `env:"UPSTREAM_API_URL"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`
	UpstreamRetries int           `env:"UPSTREAM_RETRIES" envDefault:"3"`

	// Database
	SQLiteDBPath string `env:"SQLITE_DB_PATH" envDefault:"./data/allowance.db"`

	// AMQP
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"allowance"`
	AMQPQueue    string `env:"AMQP_QUEUE" envDefault:"monthly_reports"`

	// Sessions
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"12h"`
	SessionMax int           `env:"SESSION_MAX" envDefault:"1000"`

	// Aggregation
	FanOutLimit  int `env:"FAN_OUT_LIMIT" envDefault:"8"`
	SeriesMonths int `env:"SERIES_MONTHS" envDefault:"12"`

	// Google Sheets report export
	GoogleSpreadsheetID string        `env:"GOOGLE_SPREADSHEET_ID"`
	GoogleReportSheet   string        `env:"GOOGLE_REPORT_SHEET" envDefault:"Reports"`
	GoogleCredentials   string        `env:"GOOGLE_SERVICE_ACCOUNT_JSON"`
	GoogleCredsFile     string        `env:"GOOGLE_SERVICE_ACCOUNT_FILE"`
	ReportSweepInterval time.Duration `env:"REPORT_SWEEP_INTERVAL" envDefault:"10m"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validBackends := []string{BackendRemote, BackendSQLite, BackendMemory}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == BackendRemote {
		if c.UpstreamAPIURL == "" {
			errors = append(errors, "upstream API URL is required when using remote backend")
		} else if u, err := url.Parse(c.UpstreamAPIURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid upstream API URL '%s': %v", c.UpstreamAPIURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid upstream API URL scheme '%s': must be 'http' or 'https'", u.Scheme))
		}
	}
	if c.DataBackend != BackendRemote && len(c.LocalAuthSecret) < 16 {
		errors = append(errors, "local auth secret must be at least 16 characters for local backends")
	}
	if c.UpstreamTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid upstream timeout %v: must be positive", c.UpstreamTimeout))
	}
	if c.UpstreamRetries < 0 || c.UpstreamRetries > 10 {
		errors = append(errors, fmt.Sprintf("invalid upstream retries %d: must be between 0 and 10", c.UpstreamRetries))
	}

	if c.DataBackend == BackendSQLite {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.SessionTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}
	if c.SessionMax < 1 {
		errors = append(errors, fmt.Sprintf("invalid session max %d: must be at least 1", c.SessionMax))
	}

	if c.FanOutLimit < 1 || c.FanOutLimit > 64 {
		errors = append(errors, fmt.Sprintf("invalid fan-out limit %d: must be between 1 and 64", c.FanOutLimit))
	}
	if c.SeriesMonths < 1 || c.SeriesMonths > 24 {
		errors = append(errors, fmt.Sprintf("invalid series months %d: must be between 1 and 24", c.SeriesMonths))
	}
	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimitPerMinute))
	}

	if c.GoogleSpreadsheetID != "" && strings.TrimSpace(c.GoogleReportSheet) == "" {
		errors = append(errors, "Google report sheet name is required when a spreadsheet ID is set")
	}
	if c.ReportSweepInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid report sweep interval %v: must be at least 1 second", c.ReportSweepInterval))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}
