// Package config loads baroque configuration from a YAML file, an optional
// .env file, and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Listen      string            `yaml:"listen"`
	FrontendURL string            `yaml:"frontend_url"`
	Database    DatabaseConfig    `yaml:"database"`
	UsageSource UsageSourceConfig `yaml:"usage_source"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Admin       AdminConfig       `yaml:"admin"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// DatabaseConfig selects and configures the snapshot storage backend.
type DatabaseConfig struct {
	// Type is "sqlite" (default) or "postgres".
	Type     string `yaml:"type"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	// DSN overrides the discrete postgres fields when set.
	DSN string `yaml:"dsn"`
}

// UsageSourceConfig configures the Anthropic Admin usage-report client.
type UsageSourceConfig struct {
	BaseURL          string        `yaml:"base_url"`
	AdminAPIKey      string        `yaml:"admin_api_key"`
	AnthropicVersion string        `yaml:"anthropic_version"`
	Timeout          time.Duration `yaml:"timeout"`
}

// IngestConfig controls the periodic sweep.
type IngestConfig struct {
	FetchInterval time.Duration `yaml:"fetch_interval"`
	LookbackDays  int           `yaml:"lookback_days"`
	RunOnStart    *bool         `yaml:"run_on_start"`
	// RetentionDays deactivates snapshots older than this many days. 0 disables it.
	RetentionDays int `yaml:"retention_days"`
}

// AdminConfig guards the admin endpoints.
type AdminConfig struct {
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	AllowRemote bool   `yaml:"allow_remote"`
}

// LoggingConfig controls log level and optional file output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	JSON       bool   `yaml:"json"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

const (
	DefaultListen           = ":8000"
	DefaultFrontendURL      = "http://localhost:5173"
	DefaultSQLitePath       = "./data/baroque.db"
	DefaultBaseURL          = "https://api.anthropic.com/v1"
	DefaultAnthropicVersion = "2023-06-01"
	DefaultTimeout          = 30 * time.Second
	DefaultFetchInterval    = 5 * time.Minute
	DefaultLookbackDays     = 7
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the YAML file at path (missing file is not an error), then the
// .env file in the working directory, then environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// godotenv never overrides variables already present in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setString(&c.Listen, "BAROQUE_LISTEN")
	setString(&c.FrontendURL, "FRONTEND_URL")
	setString(&c.UsageSource.AdminAPIKey, "ANTHROPIC_ADMIN_API_KEY")
	setString(&c.UsageSource.BaseURL, "ANTHROPIC_BASE_URL")
	setString(&c.Database.Type, "DATABASE_TYPE")
	setString(&c.Database.Path, "DATABASE_PATH")
	setString(&c.Database.Host, "DATABASE_HOST")
	setString(&c.Database.User, "DATABASE_USER")
	setString(&c.Database.Password, "DATABASE_PASSWORD")
	setString(&c.Database.Name, "DATABASE_NAME")
	setString(&c.Database.DSN, "DATABASE_URL")
	setString(&c.Logging.Level, "LOG_LEVEL")

	if v, ok := os.LookupEnv("DATABASE_PORT"); ok {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid DATABASE_PORT %q: %w", v, err)
		}
		c.Database.Port = port
	}
	if v, ok := os.LookupEnv("FETCH_INTERVAL_MINUTES"); ok {
		minutes, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid FETCH_INTERVAL_MINUTES %q: %w", v, err)
		}
		c.Ingest.FetchInterval = time.Duration(minutes) * time.Minute
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.FrontendURL == "" {
		c.FrontendURL = DefaultFrontendURL
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultSQLitePath
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.User == "" {
		c.Database.User = "postgres"
	}
	if c.Database.Name == "" {
		c.Database.Name = "baroque"
	}
	if c.UsageSource.BaseURL == "" {
		c.UsageSource.BaseURL = DefaultBaseURL
	}
	if c.UsageSource.AnthropicVersion == "" {
		c.UsageSource.AnthropicVersion = DefaultAnthropicVersion
	}
	if c.UsageSource.Timeout <= 0 {
		c.UsageSource.Timeout = DefaultTimeout
	}
	if c.Ingest.FetchInterval <= 0 {
		c.Ingest.FetchInterval = DefaultFetchInterval
	}
	if c.Ingest.LookbackDays <= 0 {
		c.Ingest.LookbackDays = DefaultLookbackDays
	}
	if c.Ingest.RunOnStart == nil {
		runOnStart := true
		c.Ingest.RunOnStart = &runOnStart
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 50
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays <= 0 {
		c.Logging.MaxAgeDays = 30
	}
}

// Validate reports configuration that cannot be used.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database type: %s", c.Database.Type)
	}
	if c.Ingest.RetentionDays < 0 {
		return fmt.Errorf("retention_days must not be negative")
	}
	if c.Ingest.RetentionDays > 0 && c.Ingest.RetentionDays <= c.Ingest.LookbackDays {
		return fmt.Errorf("retention_days (%d) must exceed lookback_days (%d)", c.Ingest.RetentionDays, c.Ingest.LookbackDays)
	}
	return nil
}

// ShouldRunOnStart reports whether a sweep runs immediately at startup.
func (c *Config) ShouldRunOnStart() bool {
	return c.Ingest.RunOnStart == nil || *c.Ingest.RunOnStart
}

// PostgresDSN returns the connection string for the postgres backend.
func (d DatabaseConfig) PostgresDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	return u.String()
}
