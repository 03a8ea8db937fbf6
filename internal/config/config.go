// Package config provides unified configuration loading for the fashion engine.
// Supports YAML files, .env files, and environment variables.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/catalog"
)

// MaxTopK is the largest number of matches a request may return.
const MaxTopK = 9

// Config holds all configuration for the fashion engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Extractor     ExtractorConfig     `yaml:"extractor"`
	Matching      MatchingConfig      `yaml:"matching"`
	Backfill      BackfillConfig      `yaml:"backfill"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CatalogConfig holds the retailer source settings.
type CatalogConfig struct {
	Sources         []string `yaml:"sources"`
	ConcurrentFetch bool     `yaml:"concurrent_fetch"`
}

// ExtractorConfig holds feature-extraction service settings.
type ExtractorConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Path      string        `yaml:"path"`
	Field     string        `yaml:"field"`
	Timeout   time.Duration `yaml:"timeout"`
	Dimension int           `yaml:"dimension"`
}

// MatchingConfig holds image matching settings.
type MatchingConfig struct {
	TopK int `yaml:"top_k"`
}

// BackfillConfig holds vector backfill settings.
type BackfillConfig struct {
	Workers         int           `yaml:"workers"`
	BatchSize       int           `yaml:"batch_size"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies .env and environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	_ = godotenv.Load() // Ignore error if .env doesn't exist
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             3001,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
			RequestTimeout:   60 * time.Second,
			MaxUploadBytes:   10 << 20,
			AllowedOrigins:   []string{"*"},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/fashion-engine.db",
				MaxOpenConns: 4,
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Catalog: CatalogConfig{
			Sources:         append([]string(nil), catalog.DefaultSources...),
			ConcurrentFetch: true,
		},
		Extractor: ExtractorConfig{
			BaseURL: "http://127.0.0.1:8000",
			Path:    "/analyze",
			Field:   "file",
			Timeout: 15 * time.Second,
		},
		Matching: MatchingConfig{
			TopK: MaxTopK,
		},
		Backfill: BackfillConfig{
			Workers:         16,
			BatchSize:       64,
			DownloadTimeout: 20 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "fashion-engine",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}

	// A zero request timeout would cancel every request on arrival.
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server request_timeout must be positive")
	}

	if c.Server.GracefulShutdown <= 0 {
		return fmt.Errorf("server graceful_shutdown must be positive")
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		return fmt.Errorf("postgres driver requires a dsn")
	}

	if len(c.Catalog.Sources) == 0 {
		return fmt.Errorf("catalog.sources must not be empty")
	}
	for _, s := range c.Catalog.Sources {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("catalog.sources contains an empty name")
		}
	}

	if _, err := url.ParseRequestURI(c.Extractor.BaseURL); err != nil {
		return fmt.Errorf("invalid extractor base_url: %w", err)
	}

	if c.Extractor.Dimension < 0 {
		return fmt.Errorf("extractor dimension must not be negative")
	}

	if c.Extractor.Timeout <= 0 {
		return fmt.Errorf("extractor timeout must be positive")
	}

	if c.Matching.TopK < 1 || c.Matching.TopK > MaxTopK {
		return fmt.Errorf("top_k must be between 1 and %d", MaxTopK)
	}

	if c.Backfill.Workers < 1 {
		return fmt.Errorf("backfill workers must be at least 1")
	}

	if c.Backfill.BatchSize < 1 {
		return fmt.Errorf("backfill batch_size must be at least 1")
	}

	if c.Backfill.DownloadTimeout <= 0 {
		return fmt.Errorf("backfill download_timeout must be positive")
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if dsn := postgresDSNFromParts(); dsn != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.Postgres.DSN = dsn
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("EXTRACTOR_URL"); v != "" {
		cfg.Extractor.BaseURL = strings.TrimRight(v, "/")
	}

	if v := os.Getenv("CATALOG_SOURCES"); v != "" {
		cfg.Catalog.Sources = catalog.SplitSources(v)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// postgresDSNFromParts assembles a postgres URL from DB_HOST, DB_PORT,
// DB_USER, DB_PASSWORD and DB_NAME. It returns "" unless DB_HOST is set.
func postgresDSNFromParts() string {
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "5432"
	}
	name := os.Getenv("DB_NAME")
	if name == "" {
		name = "clothing_data"
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + name,
		RawQuery: "sslmode=disable",
	}
	if user := os.Getenv("DB_USER"); user != "" {
		if pw, ok := os.LookupEnv("DB_PASSWORD"); ok {
			u.User = url.UserPassword(user, pw)
		} else {
			u.User = url.User(user)
		}
	}
	return u.String()
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
