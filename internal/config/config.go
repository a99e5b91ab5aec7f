// Package config reads process settings from the environment, after loading
// an optional .env file.
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

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBigQuery = "bigquery"
)

// Completion providers.
const (
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
)

// Config holds every setting of the API server and the CLI tools.
type Config struct {
	Port string

	StoreBackend    string
	DatabaseURL     string
	BigQueryProject string
	BigQueryDataset string

	CompletionProvider string
	GeminiAPIKey       string
	OpenRouterAPIKey   string
	CompletionModel    string
	CompletionTimeout  time.Duration
	ContextWindow      int

	Timezone           string
	ArchiveBucket      string
	NotionToken        string
	NotionDatabaseID   string
	LogLevel           string
	SessionIdleTimeout time.Duration
}

// Load reads .env files (missing files are fine) and then the environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("Load: reading env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function such as os.Getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Port:               get("PORT", "8080"),
		StoreBackend:       strings.ToLower(get("STORE_BACKEND", BackendMemory)),
		DatabaseURL:        get("DATABASE_URL", ""),
		BigQueryProject:    get("BIGQUERY_PROJECT", ""),
		BigQueryDataset:    get("BIGQUERY_DATASET", "financinha"),
		CompletionProvider: strings.ToLower(get("COMPLETION_PROVIDER", ProviderOpenRouter)),
		GeminiAPIKey:       get("GEMINI_API_KEY", ""),
		OpenRouterAPIKey:   get("OPENROUTER_API_KEY", ""),
		CompletionModel:    get("COMPLETION_MODEL", ""),
		Timezone:           get("TIMEZONE", "America/Sao_Paulo"),
		ArchiveBucket:      get("ARCHIVE_BUCKET", ""),
		NotionToken:        get("NOTION_TOKEN", ""),
		NotionDatabaseID:   get("NOTION_DATABASE_ID", ""),
		LogLevel:           strings.ToLower(get("LOG_LEVEL", "info")),
	}

	var err error
	if cfg.CompletionTimeout, err = parseDuration("COMPLETION_TIMEOUT", get("COMPLETION_TIMEOUT", "30s")); err != nil {
		return nil, err
	}
	if cfg.SessionIdleTimeout, err = parseDuration("SESSION_IDLE_TIMEOUT", get("SESSION_IDLE_TIMEOUT", "30m")); err != nil {
		return nil, err
	}
	if cfg.ContextWindow, err = strconv.Atoi(get("CONTEXT_WINDOW", "4")); err != nil || cfg.ContextWindow < 1 {
		return nil, fmt.Errorf("FromEnv: CONTEXT_WINDOW must be a positive integer")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseDuration(key, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("FromEnv: %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("FromEnv: %s must be positive", key)
	}
	return d, nil
}

// Validate checks that the chosen backends have what they need. Missing
// completion keys are not an error here: requests fail with a configuration
// error instead.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("Validate: DATABASE_URL is required for the postgres backend")
		}
	case BackendBigQuery:
		if c.BigQueryProject == "" {
			return fmt.Errorf("Validate: BIGQUERY_PROJECT is required for the bigquery backend")
		}
	default:
		return fmt.Errorf("Validate: unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.CompletionProvider {
	case ProviderGemini, ProviderOpenRouter:
	default:
		return fmt.Errorf("Validate: unknown COMPLETION_PROVIDER %q", c.CompletionProvider)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("Validate: TIMEZONE: %w", err)
	}
	if (c.NotionToken == "") != (c.NotionDatabaseID == "") {
		return fmt.Errorf("Validate: NOTION_TOKEN and NOTION_DATABASE_ID must be set together")
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NotionEnabled reports whether the Notion mirror is configured.
func (c *Config) NotionEnabled() bool {
	return c.NotionToken != "" && c.NotionDatabaseID != ""
}
