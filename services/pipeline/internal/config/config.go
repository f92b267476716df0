package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultNATSURL        = "nats://127.0.0.1:4222"
	defaultStream         = "FUEL"
	defaultTokenURL       = "https://api.onegov.nsw.gov.au/oauth/client_credential/accesstoken"
	defaultPricesURL      = "https://api.onegov.nsw.gov.au/FuelPriceCheck/v1/fuel/prices"
	defaultFetchSchedule  = "@every 1h"
	defaultRecencyWindow  = 30 * 24 * time.Hour
	defaultRequestTimeout = 60 * time.Second
	defaultRateLimit      = 1.0
	defaultHealthAddr     = ":9102"
	defaultDrainTimeout   = 10 * time.Second
	defaultRetryAttempts  = 5
	defaultRetryDelay     = 200 * time.Millisecond
	defaultRetryMaxDelay  = 5 * time.Second
)

// Config holds runtime configuration for the pipeline service.
type Config struct {
	DatabaseURL string `yaml:"-"`
	DryRun      bool   `yaml:"dry_run"`

	NATSURL    string `yaml:"nats_url"`
	Stream     string `yaml:"stream"`
	ClientName string `yaml:"client_name"`

	APIKey         string        `yaml:"-"`
	APISecret      string        `yaml:"-"`
	TokenURL       string        `yaml:"token_url"`
	PricesURL      string        `yaml:"prices_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimit      float64       `yaml:"rate_limit"`

	FetchSchedule string        `yaml:"fetch_schedule"`
	RecencyWindow time.Duration `yaml:"recency_window"`

	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	RetryMaxDelay time.Duration `yaml:"retry_max_delay"`
	DrainTimeout  time.Duration `yaml:"drain_timeout"`

	HealthAddr string `yaml:"health_addr"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		NATSURL:        defaultNATSURL,
		Stream:         defaultStream,
		ClientName:     "fuel-pipeline",
		TokenURL:       defaultTokenURL,
		PricesURL:      defaultPricesURL,
		RequestTimeout: defaultRequestTimeout,
		RateLimit:      defaultRateLimit,
		FetchSchedule:  defaultFetchSchedule,
		RecencyWindow:  defaultRecencyWindow,
		RetryAttempts:  defaultRetryAttempts,
		RetryDelay:     defaultRetryDelay,
		RetryMaxDelay:  defaultRetryMaxDelay,
		DrainTimeout:   defaultDrainTimeout,
		HealthAddr:     defaultHealthAddr,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Load reads configuration from an optional YAML file, then environment
// variables (optionally .env). Environment values win.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("PIPELINE_CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.NATSURL, "NATS_URL")
	setString(&cfg.Stream, "NATS_STREAM")
	setString(&cfg.ClientName, "NATS_CLIENT_NAME")
	setString(&cfg.APIKey, "FUELAPI_KEY")
	setString(&cfg.APISecret, "FUELAPI_SECRET")
	setString(&cfg.TokenURL, "FUELAPI_TOKEN_URL")
	setString(&cfg.PricesURL, "FUELAPI_PRICES_URL")
	setString(&cfg.FetchSchedule, "FETCH_SCHEDULE")
	setString(&cfg.HealthAddr, "HEALTH_ADDR")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"FUELAPI_REQUEST_TIMEOUT", &cfg.RequestTimeout},
		{"RECENCY_WINDOW", &cfg.RecencyWindow},
		{"RETRY_DELAY", &cfg.RetryDelay},
		{"RETRY_MAX_DELAY", &cfg.RetryMaxDelay},
		{"DRAIN_TIMEOUT", &cfg.DrainTimeout},
	}
	for _, d := range durations {
		if v := strings.TrimSpace(os.Getenv(d.key)); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", d.key, err)
			}
			*d.dst = parsed
		}
	}

	if v := strings.TrimSpace(os.Getenv("FUELAPI_RATE_LIMIT")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid FUELAPI_RATE_LIMIT: %w", err)
		}
		cfg.RateLimit = f
	}

	if v := strings.TrimSpace(os.Getenv("RETRY_ATTEMPTS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RETRY_ATTEMPTS: %w", err)
		}
		cfg.RetryAttempts = n
	}

	if v := strings.TrimSpace(os.Getenv("DRY_RUN")); v != "" {
		cfg.DryRun = v == "1" || strings.EqualFold(v, "true")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// Validate checks required settings.
func (c Config) Validate() error {
	if c.DatabaseURL == "" && !c.DryRun {
		return errors.New("DATABASE_URL is required")
	}
	if c.APIKey == "" || c.APISecret == "" {
		return errors.New("FUELAPI_KEY and FUELAPI_SECRET are required")
	}
	if c.NATSURL == "" {
		return errors.New("NATS_URL is required")
	}
	if c.RecencyWindow <= 0 {
		return fmt.Errorf("invalid recency window %s", c.RecencyWindow)
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("invalid retry attempts %d", c.RetryAttempts)
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("invalid rate limit %v", c.RateLimit)
	}
	return nil
}
