// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Model artifact and training data
	Model ModelConfig `yaml:"model"`

	// Artifact persistence backend
	Artifact ArtifactConfig `yaml:"artifact"`

	// Training run journal
	History HistoryConfig `yaml:"history"`

	// Lifecycle event bus
	Bus BusConfig `yaml:"bus"`

	// Retrain triggers
	Watch    WatchConfig    `yaml:"watch"`
	Schedule ScheduleConfig `yaml:"schedule"`

	// Loaded model cache
	Cache CacheConfig `yaml:"cache"`

	// Logging configuration
	Log LogConfig `yaml:"log"`
}

// ModelConfig fixes where the artifact lives and how models are built.
type ModelConfig struct {
	Path           string   `envconfig:"RICE_NLU_MODEL_PATH" yaml:"path"`
	TrainingData   string   `envconfig:"RICE_NLU_TRAINING_DATA" yaml:"training_data"`
	Languages      []string `envconfig:"RICE_NLU_LANGUAGES" yaml:"languages"`
	StrictEntities bool     `envconfig:"RICE_NLU_STRICT_ENTITIES" yaml:"strict_entities"`
	ForceRetrain   bool     `envconfig:"RICE_NLU_FORCE_RETRAIN" yaml:"force_retrain"`
}

// ArtifactConfig selects the artifact store.
type ArtifactConfig struct {
	Type      string `envconfig:"RICE_NLU_ARTIFACT_TYPE" yaml:"type"`
	RedisURL  string `envconfig:"RICE_NLU_REDIS_URL" yaml:"redis_url"`
	KeyPrefix string `envconfig:"RICE_NLU_REDIS_KEY_PREFIX" yaml:"key_prefix"`
}

// HistoryConfig holds the SQLite training journal settings.
type HistoryConfig struct {
	Enabled bool   `envconfig:"RICE_NLU_HISTORY_ENABLED" yaml:"enabled"`
	Path    string `envconfig:"RICE_NLU_HISTORY_PATH" yaml:"path"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"RICE_NLU_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"RICE_NLU_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup   string `envconfig:"RICE_NLU_KAFKA_GROUP" yaml:"kafka_group"`

	// KafkaTopicPrefix namespaces lifecycle topics on a shared cluster.
	KafkaTopicPrefix string `envconfig:"RICE_NLU_KAFKA_TOPIC_PREFIX" yaml:"kafka_topic_prefix"`
}

// WatchConfig controls retraining when the training data file changes.
type WatchConfig struct {
	Enabled     bool          `envconfig:"RICE_NLU_WATCH_ENABLED" yaml:"enabled"`
	Debounce    time.Duration `envconfig:"RICE_NLU_WATCH_DEBOUNCE" yaml:"debounce"`
	MinInterval time.Duration `envconfig:"RICE_NLU_WATCH_MIN_INTERVAL" yaml:"min_interval"`
}

// ScheduleConfig holds an optional cron expression for periodic retraining.
type ScheduleConfig struct {
	Cron string `envconfig:"RICE_NLU_RETRAIN_CRON" yaml:"cron"`
}

// CacheConfig holds loaded model cache settings.
type CacheConfig struct {
	Size int `envconfig:"RICE_NLU_CACHE_SIZE" yaml:"size"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `envconfig:"RICE_NLU_LOG_LEVEL" yaml:"level"`
	Format     string `envconfig:"RICE_NLU_LOG_FORMAT" yaml:"format"`
	File       string `envconfig:"RICE_NLU_LOG_FILE" yaml:"file"`
	MaxSizeMB  int    `envconfig:"RICE_NLU_LOG_MAX_SIZE_MB" yaml:"max_size_mb"`
	MaxBackups int    `envconfig:"RICE_NLU_LOG_MAX_BACKUPS" yaml:"max_backups"`
	MaxAgeDays int    `envconfig:"RICE_NLU_LOG_MAX_AGE_DAYS" yaml:"max_age_days"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Model = ModelConfig{
		Path:           "./model.nlp",
		TrainingData:   "./training-data.json",
		Languages:      []string{"en"},
		StrictEntities: true,
	}

	cfg.Artifact = ArtifactConfig{
		Type:      "file",
		RedisURL:  "redis://localhost:6379",
		KeyPrefix: "rice:nlu:artifact:",
	}

	cfg.History = HistoryConfig{
		Enabled: false,
		Path:    "./data/training-history.db",
	}

	cfg.Bus = BusConfig{
		Type:       "memory",
		KafkaGroup: "rice-nlu",
	}

	cfg.Watch = WatchConfig{
		Enabled:     true,
		Debounce:    500 * time.Millisecond,
		MinInterval: 30 * time.Second,
	}

	cfg.Cache = CacheConfig{
		Size: 8,
	}

	cfg.Log = LogConfig{
		Level:      "info",
		Format:     "text",
		MaxSizeMB:  50,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Model.Path) == "" {
		errs = append(errs, "model.path is required")
	}

	if len(c.Model.Languages) == 0 {
		errs = append(errs, "model.languages must list at least one language")
	}
	for _, lang := range c.Model.Languages {
		if strings.TrimSpace(lang) == "" {
			errs = append(errs, "model.languages must not contain empty entries")
			break
		}
	}

	validArtifactTypes := map[string]bool{"file": true, "redis": true}
	if !validArtifactTypes[c.Artifact.Type] {
		errs = append(errs, fmt.Sprintf("invalid artifact type: %s (must be file or redis)", c.Artifact.Type))
	}
	if c.Artifact.Type == "redis" && c.Artifact.RedisURL == "" {
		errs = append(errs, "artifact.redis_url is required for redis artifacts")
	}

	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}

	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}

	if c.Watch.Debounce < 0 {
		errs = append(errs, "watch.debounce must not be negative")
	}
	if c.Watch.MinInterval < 0 {
		errs = append(errs, "watch.min_interval must not be negative")
	}

	if c.Cache.Size < 1 {
		errs = append(errs, "cache.size must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// DefaultLanguage returns the language training documents are registered under.
func (c *Config) DefaultLanguage() string {
	if len(c.Model.Languages) == 0 {
		return ""
	}
	return c.Model.Languages[0]
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Log.Level == "debug"
}
