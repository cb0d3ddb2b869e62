// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml)
//  2. Environment variables (fallback)
//
// Example usage:
//
//	cfg := config.LoadOrEnv()
//	dbPath := cfg.Storage.DatabasePath
//	provider := cfg.Enrichment.Provider
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kaihaan/spendmatch/internal/providers"
)

// Config represents the entire application configuration
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Matching      MatchingConfig      `yaml:"matching"`
	Enrichment    EnrichmentConfig    `yaml:"enrichment"`
	OpenAI        OpenAIConfig        `yaml:"openai"`
	Gemini        GeminiConfig        `yaml:"gemini"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// MatchingConfig holds matcher settings
type MatchingConfig struct {
	// Workers sets worker-pool concurrency; 0 selects the runner default.
	Workers int `yaml:"workers"`

	// Sources limits matching to specific source types (amazon,
	// amazon_business, apple, returns); empty means all.
	Sources []string `yaml:"sources"`
}

// EnrichmentConfig selects and tunes the classification backend
type EnrichmentConfig struct {
	// Provider is the backend name: "openai" or "gemini".
	Provider string `yaml:"provider"`

	// BatchSize caps transactions per provider call; 0 uses the
	// provider's maximum.
	BatchSize int `yaml:"batch_size"`

	// MaxRetries bounds attempts per provider call; 0 selects the
	// orchestrator default.
	MaxRetries int `yaml:"max_retries"`

	// DisableCache turns off enrichment cache reads and writes.
	DisableCache bool `yaml:"disable_cache"`
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// GeminiConfig holds Gemini API configuration
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${OPENAI_API_KEY})
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	return &Config{
		Storage: StorageConfig{
			DatabasePath: getEnv("SPENDMATCH_DB_PATH", "spendmatch.db"),
		},
		Matching: MatchingConfig{
			Workers: getEnvInt("MATCH_WORKERS", 0),
		},
		Enrichment: EnrichmentConfig{
			Provider:     getEnv("ENRICH_PROVIDER", "openai"),
			BatchSize:    getEnvInt("ENRICH_BATCH_SIZE", 0),
			MaxRetries:   getEnvInt("ENRICH_MAX_RETRIES", 0),
			DisableCache: getEnv("ENRICH_DISABLE_CACHE", "") == "true",
		},
		OpenAI: OpenAIConfig{
			APIKey: os.Getenv("OPENAI_API_KEY"),
			Model:  getEnv("OPENAI_MODEL", ""),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
			Model:  getEnv("GEMINI_MODEL", ""),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "text"),
			},
		},
	}
}

// LoadOrEnv tries to load from config.yaml, falls back to environment variables
func LoadOrEnv() *Config {
	return LoadOrEnvWithPath("config.yaml")
}

// LoadOrEnvWithPath tries to load from the specified path, falls back to
// environment variables
func LoadOrEnvWithPath(path string) *Config {
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

// ProviderConfig resolves the selected backend into a provider config.
// Missing credentials surface later as a fatal validation error from the
// provider factory, not here.
func (c *Config) ProviderConfig() providers.Config {
	switch strings.ToLower(c.Enrichment.Provider) {
	case "gemini":
		return providers.Config{
			Name:   "gemini",
			APIKey: c.GetAPIKey(c.Gemini.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY"),
			Model:  c.Gemini.Model,
		}
	default:
		return providers.Config{
			Name:   c.Enrichment.Provider,
			APIKey: c.GetAPIKey(c.OpenAI.APIKey, "OPENAI_API_KEY"),
			Model:  c.OpenAI.Model,
		}
	}
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback default
func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil {
			return result
		}
	}
	return fallback
}

// GetAPIKey retrieves an API key from config first, then tries multiple
// environment variable names.
// Usage: GetAPIKey(cfg.OpenAI.APIKey, "OPENAI_API_KEY")
func (c *Config) GetAPIKey(configValue string, envVarNames ...string) string {
	// First, try the config value
	if configValue != "" {
		return configValue
	}

	// Then try each environment variable in order
	for _, envVar := range envVarNames {
		if val := os.Getenv(envVar); val != "" {
			return val
		}
	}

	return ""
}
