// Package config provides configuration loading for memoryd.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
)

// Config is the root memoryd configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Storage     StorageConfig     `koanf:"storage"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Retention   RetentionConfig   `koanf:"retention"`
	Workspace   WorkspaceConfig   `koanf:"workspace"`
	Logging     logging.Config    `koanf:"logging"`
}

// ServerConfig controls the HTTP API listener.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StorageConfig selects and configures the node store.
type StorageConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `koanf:"driver"`
	// DSN is the SQLite path, ":memory:" for ephemeral.
	DSN string `koanf:"dsn"`
}

// VectorStoreConfig configures the embedded chromem index.
type VectorStoreConfig struct {
	Enabled bool `koanf:"enabled"`
	// Path for persistence; empty keeps the index in memory.
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	VectorSize int    `koanf:"vector_size"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "none", "fastembed", or "tei".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	CacheDir string `koanf:"cache_dir"`
}

// RetentionConfig bounds each user's live memory set.
type RetentionConfig struct {
	Capacity          int     `koanf:"capacity"`
	MinRetentionScore float64 `koanf:"min_retention_score"`
	HalfLifeDays      float64 `koanf:"half_life_days"`
}

// WorkspaceConfig controls session-scoped working memory expiry.
type WorkspaceConfig struct {
	TTL Duration `koanf:"ttl"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9030
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "~/.config/memoryd/memoryd.db"
	}

	if cfg.VectorStore.VectorSize == 0 {
		cfg.VectorStore.VectorSize = 384 // bge-small-en-v1.5 dimensions
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "none"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}

	if cfg.Retention.Capacity == 0 {
		cfg.Retention.Capacity = 500
	}
	if cfg.Retention.MinRetentionScore == 0 {
		cfg.Retention.MinRetentionScore = 0.25
	}
	if cfg.Retention.HalfLifeDays == 0 {
		cfg.Retention.HalfLifeDays = 21
	}

	if cfg.Workspace.TTL == 0 {
		cfg.Workspace.TTL = Duration(24 * time.Hour)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging = *logging.NewDefaultConfig()
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be 1-65535, got %d", c.Server.Port)
	}

	switch c.Storage.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("storage driver must be 'sqlite' or 'memory', got %q", c.Storage.Driver)
	}

	switch c.Embeddings.Provider {
	case "none", "fastembed", "tei":
	default:
		return fmt.Errorf("embeddings provider must be 'none', 'fastembed', or 'tei', got %q", c.Embeddings.Provider)
	}
	if c.VectorStore.Enabled && c.Embeddings.Provider == "none" {
		return fmt.Errorf("vectorstore requires an embeddings provider")
	}

	if c.Retention.Capacity < 1 {
		return fmt.Errorf("retention capacity must be >= 1, got %d", c.Retention.Capacity)
	}
	if c.Retention.MinRetentionScore < 0 || c.Retention.MinRetentionScore > 1 {
		return fmt.Errorf("retention min_retention_score must be in [0,1], got %v", c.Retention.MinRetentionScore)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}
