package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/i474232898/data-aggregator/internal/common"
	"github.com/i474232898/data-aggregator/internal/data/adapters"
)

const (
	// EnvPrefix prefixes every environment override, e.g. AGGREGATOR_PORT.
	EnvPrefix = "AGGREGATOR_"
	// FileEnv names the variable holding the optional YAML config path.
	FileEnv = EnvPrefix + "CONFIG"
)

var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)

// AppConfig is the process configuration.
type AppConfig struct {
	LogLevel  string `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	Port      string `koanf:"port" validate:"required"`
	APIPrefix string `koanf:"api_prefix" validate:"omitempty,startswith=/"`
	// CORSOrigins is a comma separated allow list.
	CORSOrigins string `koanf:"cors_origins"`

	// DatabaseURL selects PostgreSQL; empty keeps everything in memory.
	DatabaseURL string `koanf:"database_url"`

	HTTPTimeout       time.Duration `koanf:"http_timeout" validate:"gt=0"`
	FetchInterval     time.Duration `koanf:"fetch_interval" validate:"gt=0"`
	FetchOnStartup    bool          `koanf:"fetch_on_startup"`
	RetentionMaxAge   time.Duration `koanf:"retention_max_age" validate:"gte=0"`
	RetentionInterval time.Duration `koanf:"retention_interval" validate:"gte=0"`

	GeocoderAPIKey string `koanf:"geocoder_api_key"`

	Sources []SourceConfig `koanf:"sources" validate:"dive"`
}

// SourceConfig declares one polled source.
type SourceConfig struct {
	Name    string `koanf:"name" validate:"required"`
	Adapter string `koanf:"adapter" validate:"required"`
	Enabled *bool  `koanf:"enabled"`
	// Interval overrides the global fetch interval.
	Interval time.Duration `koanf:"interval" validate:"gte=0"`

	Settings adapters.Config `koanf:",squash"`
}

// IsEnabled reports whether the source should be built; sources are enabled unless switched off.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// IntervalOr returns the source interval or def when none is set.
func (s SourceConfig) IntervalOr(def time.Duration) time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	return def
}

// New returns the defaults.
func New() *AppConfig {
	return &AppConfig{
		LogLevel:          "info",
		LogFormat:         "text",
		Port:              "8080",
		APIPrefix:         "/api",
		CORSOrigins:       "http://localhost:5173,http://localhost:5174,http://localhost",
		HTTPTimeout:       adapters.DefaultTimeout,
		FetchInterval:     3 * time.Hour,
		RetentionInterval: time.Hour,
	}
}

// DefaultSources is used when no source is configured.
func DefaultSources() []SourceConfig {
	return []SourceConfig{
		{
			Name:    "openmeteo",
			Adapter: adapters.OpenMeteoClass,
			Settings: adapters.Config{
				BaseURL:     "https://api.open-meteo.com/v1/forecast",
				Description: "Open-Meteo Weather API - Hourly forecast data",
				Params: map[string]string{
					"latitude":  "48.2081",
					"longitude": "16.3713",
					"hourly":    "temperature_2m,precipitation,wind_speed_10m",
					"timezone":  "UTC",
				},
				FieldMapping: map[string]string{
					"temperature_2m": "temperature",
					"wind_speed_10m": "wind_speed",
				},
				NumericFields:  []string{"temperature", "precipitation", "wind_speed"},
				Location:       "Vienna, Austria",
				LocationCoords: "48.2081°N, 16.3713°E",
			},
		},
		{
			Name:    "coincap",
			Adapter: adapters.CoinCapClass,
			Settings: adapters.Config{
				BaseURL:     "https://api.coincap.io/v2/assets",
				Description: "CoinCap API - Cryptocurrency prices",
				Params:      map[string]string{"limit": "5"},
				FieldMapping: map[string]string{
					"priceUsd":          "price_usd",
					"changePercent24Hr": "change_24h",
					"marketCapUsd":      "market_cap_usd",
				},
				NumericFields: []string{"price_usd", "change_24h", "market_cap_usd"},
				UniqueKey:     "asset_id,timestamp",
			},
		},
	}
}

// Load builds the configuration by layering, from low to high precedence:
//  1. defaults (New)
//  2. a YAML file if AGGREGATOR_CONFIG is set
//  3. environment variables prefixed AGGREGATOR_
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if path := os.Getenv(FileEnv); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
		}
	}

	// AGGREGATOR_FETCH_INTERVAL -> fetch_interval. Underscores are kept to match the koanf tags.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %v", ErrLoadConfig, err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = DefaultSources()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and source name uniqueness.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for _, s := range c.Sources {
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("%w: duplicate source %q", ErrInvalidConfig, s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

// Origins splits CORSOrigins into its entries.
func (c *AppConfig) Origins() []string {
	return common.SplitList(c.CORSOrigins, ",")
}
