package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the application
type Config struct {
	// Content configuration
	Content ContentConfig `json:"content"`

	// Database configuration
	Database DatabaseConfig `json:"database"`

	// Narrative rules configuration
	Narrative NarrativeConfig `json:"narrative"`

	// Consequence delivery configuration
	Delivery DeliveryConfig `json:"delivery"`

	// Server configuration
	Server ServerConfig `json:"server"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`
}

// ContentConfig holds where quest and dialogue definitions live
type ContentConfig struct {
	// Directory scanned for *.yaml and *.yml content files
	Dir string `json:"dir" env:"NARRATIVE_CONTENT_DIR"`
}

// DatabaseConfig holds database specific configuration
type DatabaseConfig struct {
	// Database driver (sqlite, postgres, file, memory)
	Driver string `json:"driver" env:"NARRATIVE_DB_DRIVER"`

	// Database connection string, or a directory for the file driver
	DSN string `json:"dsn" env:"NARRATIVE_DB_DSN"`
}

// NarrativeConfig holds the tunable rules of the engine
type NarrativeConfig struct {
	// Sides of the skill check die
	SkillCheckDie int `json:"skill_check_die" env:"NARRATIVE_SKILL_CHECK_DIE"`

	// Natural roll flagged as a critical success
	CriticalSuccess int `json:"critical_success" env:"NARRATIVE_CRITICAL_SUCCESS"`

	// Natural roll flagged as a critical failure
	CriticalFailure int `json:"critical_failure" env:"NARRATIVE_CRITICAL_FAILURE"`

	// Sanity a new record starts with
	DefaultSanity int `json:"default_sanity" env:"NARRATIVE_DEFAULT_SANITY"`

	// Lower bounds of the sanity bands; anything below Critical is insane
	SanityStable   int `json:"sanity_stable" env:"NARRATIVE_SANITY_STABLE"`
	SanityUnstable int `json:"sanity_unstable" env:"NARRATIVE_SANITY_UNSTABLE"`
	SanityCritical int `json:"sanity_critical" env:"NARRATIVE_SANITY_CRITICAL"`

	// Highest accepted anomaly severity
	MaxAnomalySeverity int `json:"max_anomaly_severity" env:"NARRATIVE_MAX_ANOMALY_SEVERITY"`
}

// DeliveryConfig holds downstream delivery configuration
type DeliveryConfig struct {
	// Per-call timeout in milliseconds
	TimeoutMillis int `json:"timeout_millis" env:"NARRATIVE_DELIVERY_TIMEOUT_MS"`

	// Maximum deliveries in flight per flush
	Concurrency int `json:"concurrency" env:"NARRATIVE_DELIVERY_CONCURRENCY"`

	// Seconds between retry sweeps
	RetryInterval int `json:"retry_interval" env:"NARRATIVE_DELIVERY_RETRY_INTERVAL"`

	// Number of delivered keys remembered for replay detection
	DedupeCacheSize int `json:"dedupe_cache_size" env:"NARRATIVE_DELIVERY_DEDUPE_SIZE"`

	// Flush a character's queue right after each committed mutation
	FlushOnCommit bool `json:"flush_on_commit" env:"NARRATIVE_DELIVERY_FLUSH_ON_COMMIT"`
}

// ServerConfig holds server specific configuration
type ServerConfig struct {
	// Server port
	Port string `json:"port" env:"NARRATIVE_PORT"`

	// Request timeout in seconds
	RequestTimeout int `json:"request_timeout" env:"NARRATIVE_REQUEST_TIMEOUT"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `json:"level" env:"NARRATIVE_LOG_LEVEL"`

	// Optional rotating log file; empty logs to stdout only
	File string `json:"file" env:"NARRATIVE_LOG_FILE"`

	MaxSizeMB  int  `json:"max_size_mb" env:"NARRATIVE_LOG_MAX_SIZE_MB"`
	MaxBackups int  `json:"max_backups" env:"NARRATIVE_LOG_MAX_BACKUPS"`
	MaxAgeDays int  `json:"max_age_days" env:"NARRATIVE_LOG_MAX_AGE_DAYS"`
	Compress   bool `json:"compress" env:"NARRATIVE_LOG_COMPRESS"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Content: ContentConfig{
			Dir: "./content",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "./data/narrative.db",
		},
		Narrative: NarrativeConfig{
			SkillCheckDie:      20,
			CriticalSuccess:    20,
			CriticalFailure:    1,
			DefaultSanity:      100,
			SanityStable:       70,
			SanityUnstable:     40,
			SanityCritical:     15,
			MaxAnomalySeverity: 10,
		},
		Delivery: DeliveryConfig{
			TimeoutMillis:   2000,
			Concurrency:     4,
			RetryInterval:   30,
			DedupeCacheSize: 4096,
			FlushOnCommit:   true,
		},
		Server: ServerConfig{
			Port:           "8080",
			RequestTimeout: 60,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
	}
}

// DeliveryTimeout returns the per-call delivery timeout
func (c DeliveryConfig) DeliveryTimeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

// RetryEvery returns the interval between retry sweeps
func (c DeliveryConfig) RetryEvery() time.Duration {
	return time.Duration(c.RetryInterval) * time.Second
}

// LoadConfig loads configuration from a file
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return config, err
	}

	// Write defaults when the file is missing
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := SaveConfig(config, path); err != nil {
			return config, err
		}
		return config, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return config, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return config, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides fields whose environment variable is set
func ApplyEnv(config *Config) error {
	if err := env.Parse(config); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate rejects values the engine cannot run with
func (c Config) Validate() error {
	n := c.Narrative
	if n.SkillCheckDie < 2 {
		return fmt.Errorf("skill_check_die must be at least 2, got %d", n.SkillCheckDie)
	}
	if n.DefaultSanity < 0 || n.DefaultSanity > 100 {
		return fmt.Errorf("default_sanity must be within [0,100], got %d", n.DefaultSanity)
	}
	if !(n.SanityStable > n.SanityUnstable && n.SanityUnstable > n.SanityCritical && n.SanityCritical >= 0) {
		return fmt.Errorf("sanity bands must be strictly descending: %d/%d/%d",
			n.SanityStable, n.SanityUnstable, n.SanityCritical)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "file", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Delivery.Concurrency < 1 {
		return fmt.Errorf("delivery concurrency must be positive, got %d", c.Delivery.Concurrency)
	}
	return nil
}

// SaveConfig saves configuration to a file
func SaveConfig(config Config, path string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Create or truncate file
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	// Write config to file
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return err
	}

	return nil
}
