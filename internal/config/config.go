package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the application configuration. Endpoints and tuning live in the
// YAML file; credentials come from the environment (optionally a .env file)
// so the file can be committed without secrets.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Sources  SourcesConfig  `yaml:"sources"`
}

type ServerConfig struct {
	Port            int `yaml:"port" validate:"gt=0,lte=65535"`
	RequestsPerMin  int `yaml:"requestsPerMin" validate:"gte=0"`
	SnapshotEveryHr int `yaml:"snapshotEveryHr" validate:"gte=0"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type SourcesConfig struct {
	NSW SourceConfig `yaml:"nsw"`
	QLD SourceConfig `yaml:"qld"`
	WA  SourceConfig `yaml:"wa"`
	VIC SourceConfig `yaml:"vic"`
	TAS SourceConfig `yaml:"tas"`
}

// SourceConfig tunes a single upstream feed. Zero values defer to the
// adapter's own defaults. ProxyURL distinguishes unset (nil, use the default
// relay) from explicitly empty (direct requests).
type SourceConfig struct {
	BaseURL         string  `yaml:"baseURL" validate:"omitempty,url"`
	APIKey          string  `yaml:"-"`
	ProxyURL        *string `yaml:"proxyURL"`
	TimeoutSeconds  int     `yaml:"timeoutSeconds" validate:"gte=0"`
	CacheTTLMinutes int     `yaml:"cacheTTLMinutes" validate:"gte=0"`
}

func (s SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (s SourceConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLMinutes) * time.Minute
}

const (
	defaultPort         = 8080
	defaultDatabasePath = "fuel.db"
	defaultSnapshotHr   = 6
)

// Load reads the YAML file at path (skipped when path is empty or missing),
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg := &Config{
		Server:   ServerConfig{Port: defaultPort, SnapshotEveryHr: defaultSnapshotHr},
		Database: DatabaseConfig{Path: defaultDatabasePath},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	applyEnv(cfg)

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Sources.NSW.APIKey = getEnv("NSW_API_KEY", cfg.Sources.NSW.APIKey)
	cfg.Sources.QLD.APIKey = getEnv("QLD_SUBSCRIBER_TOKEN", cfg.Sources.QLD.APIKey)
	cfg.Sources.TAS.APIKey = getEnv("TAS_API_KEY", cfg.Sources.TAS.APIKey)

	cfg.Server.Port = getEnvInt("PORT", cfg.Server.Port)
	cfg.Database.Path = getEnv("DATABASE_PATH", cfg.Database.Path)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}
