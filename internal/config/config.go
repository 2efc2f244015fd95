// Package config loads process configuration: defaults, then an optional YAML file
// named by WEATHER_CONFIG, then WEATHER_* environment variables (highest precedence).
package config

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/i474232898/weather-quilt/internal/common"
)

const (
	envPrefix  = "WEATHER_"
	envFileVar = "WEATHER_CONFIG"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

type AppConfig struct {
	AppEnv   string     `koanf:"app_env" validate:"oneof=dev prod"`
	LogLevel string     `koanf:"log_level"`
	Level    slog.Level `koanf:"-"`

	HTTPAddr string `koanf:"http_addr" validate:"required"`
	// StaticDir holds the built frontend; it is served only when the directory exists.
	StaticDir   string `koanf:"static_dir"`
	CORSOrigins string `koanf:"cors_origins"`

	StoreDriver        string `koanf:"store_driver" validate:"oneof=sqlite3 memory"`
	SQLitePath         string `koanf:"sqlite_path" validate:"required_if=StoreDriver sqlite3"`
	SQLiteMaxOpenConns int    `koanf:"sqlite_max_open_conns" validate:"gte=0"`

	ACISBaseURL        string        `koanf:"acis_base_url" validate:"required,url"`
	DataTimeout        time.Duration `koanf:"data_timeout" validate:"gt=0"`
	MetaTimeout        time.Duration `koanf:"meta_timeout" validate:"gt=0"`
	UpstreamMaxRetries int           `koanf:"upstream_max_retries" validate:"gte=0,lte=10"`

	EpochStart     string `koanf:"epoch_start" validate:"required,datetime=2006-01-02"`
	DefaultCity    string `koanf:"default_city" validate:"required"`
	DefaultStation string `koanf:"default_station"`
	SnapshotPath   string `koanf:"snapshot_path"`
	// RegistryPath replaces the built-in capitals list when set.
	RegistryPath string `koanf:"registry_path"`

	SchedulerEnabled bool          `koanf:"scheduler_enabled"`
	FetchInterval    time.Duration `koanf:"fetch_interval" validate:"gt=0"`
	SyncOnStartup    bool          `koanf:"sync_on_startup"`
	// ScheduledCities is a ';'-separated list of city labels ("Anchorage, AK; Juneau, AK").
	ScheduledCities string `koanf:"scheduled_cities"`

	MQTTBroker   string `koanf:"mqtt_broker"`
	MQTTTopic    string `koanf:"mqtt_topic" validate:"required_with=MQTTBroker"`
	MQTTClientID string `koanf:"mqtt_client_id"`

	GeocoderAPIKey string `koanf:"geocoder_api_key"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *AppConfig {
	return &AppConfig{
		AppEnv:             "prod",
		LogLevel:           "info",
		HTTPAddr:           ":8000",
		StaticDir:          "client/build",
		CORSOrigins:        "http://localhost:3000",
		StoreDriver:        "sqlite3",
		SQLitePath:         "data/weather.db",
		SQLiteMaxOpenConns: 1,
		ACISBaseURL:        "https://data.rcc-acis.org",
		DataTimeout:        60 * time.Second,
		MetaTimeout:        30 * time.Second,
		EpochStart:         "2000-01-01",
		DefaultCity:        "Anchorage, AK",
		DefaultStation:     "ANCthr 9",
		SnapshotPath:       "data/noaa_anchorage.json",
		SchedulerEnabled:   true,
		FetchInterval:      24 * time.Hour,
		ScheduledCities:    "Anchorage, AK",
		MQTTTopic:          "weather/sync",
		MQTTClientID:       "weather-quilt",
	}
}

var validate = validator.New()

// Load reads configuration from an optional .env file, an optional YAML file and
// the environment, then validates the result.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	k := koanf.New(".")

	if path := os.Getenv(envFileVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	// WEATHER_HTTP_ADDR -> http_addr
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := *Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and derives Level.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	level, err := parseLogLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.Level = level
	return nil
}

// IsDev reports whether the process runs in the development environment.
func (c *AppConfig) IsDev() bool {
	return c.AppEnv == "dev"
}

// Epoch returns the parsed EpochStart.
func (c *AppConfig) Epoch() time.Time {
	t, err := common.ParseDay(c.EpochStart)
	if err != nil {
		return time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// Cities returns the scheduled city labels.
func (c *AppConfig) Cities() []string {
	return splitList(c.ScheduledCities, ";")
}

// Origins returns the allowed CORS origins.
func (c *AppConfig) Origins() []string {
	return splitList(c.CORSOrigins, ",")
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
