// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the geocoding service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Provider names, in the order they are reported.
const (
	ProviderGoogle    = "google"
	ProviderYandex    = "yandex"
	ProviderNominatim = "nominatim"
	ProviderMapbox    = "mapbox"
)

// ProviderNames lists every known provider.
var ProviderNames = []string{ProviderGoogle, ProviderYandex, ProviderNominatim, ProviderMapbox}

// Default upstream endpoints.
const (
	DefaultGoogleBaseURL    = "https://maps.googleapis.com/maps/api/geocode/json"
	DefaultYandexBaseURL    = "https://geocode-maps.yandex.ru/1.x"
	DefaultNominatimBaseURL = "https://nominatim.openstreetmap.org"
	DefaultMapboxBaseURL    = "https://api.mapbox.com/geocoding/v5"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR,default=localhost:8080"`
	DBDriver  string `env:"DB_DRIVER,default=duckdb"`
	DBDSN     string `env:"DB_DSN,default=geocoding.duckdb"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`

	GoogleMapsAPIKey     string `env:"GOOGLE_MAPS_API_KEY"`
	GoogleMapsKeyFromADC bool   `env:"GOOGLE_MAPS_KEY_FROM_ADC,default=false"`
	GoogleCloudProject   string `env:"GOOGLE_CLOUD_PROJECT"`
	GoogleMapsKeyName    string `env:"GOOGLE_MAPS_KEY_NAME,default=Geocoding Key"`
	YandexMapsAPIKey     string `env:"YANDEX_MAPS_API_KEY"`
	MapboxAPIKey         string `env:"MAPBOX_API_KEY"`
	NominatimUserAgent   string `env:"NOMINATIM_USER_AGENT,default=BackofficeGeocoder/1.0"`

	GoogleBaseURL    string `env:"GOOGLE_BASE_URL"`
	YandexBaseURL    string `env:"YANDEX_BASE_URL"`
	NominatimBaseURL string `env:"NOMINATIM_BASE_URL"`
	MapboxBaseURL    string `env:"MAPBOX_BASE_URL"`

	DefaultProvider string `env:"DEFAULT_GEOCODING_PROVIDER,default=google"`
	// Seconds a successful result stays eligible for cache lookups.
	CacheTTL int `env:"GEOCODING_CACHE_TTL,default=86400"`
	// Per client requests allowed every RatePeriod seconds on the HTTP API.
	RateLimit  int `env:"GEOCODING_RATE_LIMIT,default=100"`
	RatePeriod int `env:"GEOCODING_RATE_PERIOD,default=3600"`
	// Seconds before an upstream provider call is abandoned.
	Timeout int `env:"GEOCODING_TIMEOUT,default=10"`
	// Parsed for compatibility; no code path retries provider calls.
	MaxRetries   int  `env:"GEOCODING_MAX_RETRIES,default=3"`
	ReverseCache bool `env:"GEOCODING_REVERSE_CACHE,default=false"`

	KafkaBrokers     string `env:"KAFKA_BROKERS"`
	KafkaTopicPrefix string `env:"KAFKA_TOPIC_PREFIX"`
	KafkaTopic       string `env:"KAFKA_GEOCODING_TOPIC,default=geocoding.results"`

	TracingEnabled     bool    `env:"TRACING_ENABLED,default=false"`
	TracingExporter    string  `env:"TRACING_EXPORTER,default=stdout"`
	TracingEndpoint    string  `env:"TRACING_ENDPOINT"`
	TracingSampleRatio float64 `env:"TRACING_SAMPLE_RATIO,default=1"`

	CacheStatsSchedule string `env:"CACHE_STATS_SCHEDULE,default=@every 1m"`
}

// ProviderConfig is the resolved configuration of a single upstream provider.
type ProviderConfig struct {
	Name       string
	Enabled    bool
	APIKey     string
	BaseURL    string
	UserAgent  string
	RateLimit  int
	RatePeriod time.Duration
	Timeout    time.Duration
}

// Load reads an optional .env file and decodes the environment into a Config.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading env file: %w", err)
	}

	cfg := &Config{}
	if err := envdecode.StrictDecode(cfg); err != nil {
		return nil, fmt.Errorf("decoding environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks ranges and enumerations, naming the offending variable.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "duckdb", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be duckdb or postgres, got %q", c.DBDriver)
	}

	if c.CacheTTL <= 0 {
		return errors.New("GEOCODING_CACHE_TTL must be positive")
	}

	if c.RateLimit < 0 {
		return errors.New("GEOCODING_RATE_LIMIT can't be negative")
	}

	if c.RatePeriod <= 0 {
		return errors.New("GEOCODING_RATE_PERIOD must be positive")
	}

	if c.Timeout <= 0 {
		return errors.New("GEOCODING_TIMEOUT must be positive")
	}

	if !slices.Contains(ProviderNames, c.DefaultProvider) {
		return fmt.Errorf("DEFAULT_GEOCODING_PROVIDER %q is not a known provider", c.DefaultProvider)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}

	switch c.TracingExporter {
	case "stdout", "otlp":
	default:
		return fmt.Errorf("TRACING_EXPORTER must be stdout or otlp, got %q", c.TracingExporter)
	}

	if c.TracingSampleRatio < 0 || c.TracingSampleRatio > 1 {
		return errors.New("TRACING_SAMPLE_RATIO must be between 0 and 1")
	}

	return nil
}

// CacheTTLDuration returns GEOCODING_CACHE_TTL as a duration.
func (c *Config) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// TimeoutDuration returns GEOCODING_TIMEOUT as a duration.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// RatePeriodDuration returns GEOCODING_RATE_PERIOD as a duration.
func (c *Config) RatePeriodDuration() time.Duration {
	return time.Duration(c.RatePeriod) * time.Second
}

// Brokers splits KAFKA_BROKERS on commas. An empty result disables publishing.
func (c *Config) Brokers() []string {
	var brokers []string

	for b := range strings.SplitSeq(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}

	return brokers
}

// Topic returns the results topic with the optional prefix applied.
func (c *Config) Topic() string {
	if c.KafkaTopicPrefix == "" {
		return c.KafkaTopic
	}

	return c.KafkaTopicPrefix + "." + c.KafkaTopic
}

// Providers resolves the per provider settings. Key based providers are
// enabled only when their key is present; nominatim is always enabled.
func (c *Config) Providers() map[string]ProviderConfig {
	const day = 24 * time.Hour

	timeout := c.TimeoutDuration()

	return map[string]ProviderConfig{
		ProviderGoogle: {
			Name:       ProviderGoogle,
			Enabled:    c.GoogleMapsAPIKey != "",
			APIKey:     c.GoogleMapsAPIKey,
			BaseURL:    orDefault(c.GoogleBaseURL, DefaultGoogleBaseURL),
			RateLimit:  2500,
			RatePeriod: day,
			Timeout:    timeout,
		},
		ProviderYandex: {
			Name:       ProviderYandex,
			Enabled:    c.YandexMapsAPIKey != "",
			APIKey:     c.YandexMapsAPIKey,
			BaseURL:    orDefault(c.YandexBaseURL, DefaultYandexBaseURL),
			RateLimit:  1000,
			RatePeriod: day,
			Timeout:    timeout,
		},
		ProviderNominatim: {
			Name:       ProviderNominatim,
			Enabled:    true,
			BaseURL:    orDefault(c.NominatimBaseURL, DefaultNominatimBaseURL),
			UserAgent:  c.NominatimUserAgent,
			RateLimit:  1,
			RatePeriod: time.Second,
			Timeout:    timeout,
		},
		ProviderMapbox: {
			Name:       ProviderMapbox,
			Enabled:    c.MapboxAPIKey != "",
			APIKey:     c.MapboxAPIKey,
			BaseURL:    orDefault(c.MapboxBaseURL, DefaultMapboxBaseURL),
			RateLimit:  100000,
			RatePeriod: 30 * day,
			Timeout:    timeout,
		},
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}

	return v
}
