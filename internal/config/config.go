// Package config provides configuration loading for ragkit.
//
// Configuration is read from an optional YAML file and overridden by
// RAGKIT_* environment variables. Missing values fall back to a local
// all-MiniLM-L6-v2 embedding model and an embedded chromem store persisted
// under the working directory. Telemetry is off unless enabled.
package config

import (
	"errors"
	"fmt"
	"regexp"
)

// Config holds the complete ragkit configuration.
type Config struct {
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of "fastembed" (default), "tei" or "openai".
	Provider string `koanf:"provider"`

	// Model is the embedding model name.
	// Default: sentence-transformers/all-MiniLM-L6-v2
	Model string `koanf:"model"`

	// CacheDir is where fastembed stores downloaded model files.
	CacheDir string `koanf:"cache_dir"`

	// BaseURL is the TEI server URL or an OpenAI-compatible API base.
	BaseURL string `koanf:"base_url"`

	// APIKey authenticates against the OpenAI API.
	APIKey Secret `koanf:"api_key"`

	// RateLimit caps remote embedding requests per second (tei, openai).
	RateLimit float64 `koanf:"rate_limit"`
}

// VectorStoreConfig selects and configures the document store backend.
type VectorStoreConfig struct {
	// Provider is "chromem" (default, embedded) or "qdrant".
	Provider string `koanf:"provider"`

	// Distance is the reported distance metric: "l2" (default), "cosine" or "ip".
	Distance string `koanf:"distance"`

	// Collection is the collection used by CLI commands when none is given.
	Collection string `koanf:"collection"`

	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem-go database.
type ChromemConfig struct {
	// Path is the persistence directory.
	Path string `koanf:"path"`

	// Compress enables gzip compression of persisted documents.
	Compress bool `koanf:"compress"`
}

// QdrantConfig configures the Qdrant gRPC connection.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
	APIKey Secret `koanf:"api_key"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	// Level is trace, debug, info, warn or error.
	Level string `koanf:"level"`

	// Format is "console" or "json".
	Format string `koanf:"format"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	Protocol    string `koanf:"protocol"`
	ServiceName string `koanf:"service_name"`
	Insecure    bool   `koanf:"insecure"`
}

// Default values.
const (
	DefaultEmbeddingProvider = "fastembed"
	DefaultEmbeddingModel    = "sentence-transformers/all-MiniLM-L6-v2"
	DefaultModelCacheDir     = "~/.cache/ragkit/models"
	DefaultRateLimit         = 5.0
	DefaultStoreProvider     = "chromem"
	DefaultDistance          = "l2"
	DefaultCollection        = "ragkit_default"
	DefaultChromemPath       = ".ragkit"
	DefaultQdrantHost        = "localhost"
	DefaultQdrantPort        = 6334
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "console"
	DefaultTelemetryEndpoint = "localhost:4317"
	DefaultServiceName       = "ragkit"
)

// ErrInvalidConfig indicates a configuration value failed validation.
var ErrInvalidConfig = errors.New("invalid configuration")

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_-]{3,63}$`)

// Default returns a Config populated with defaults.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = DefaultEmbeddingProvider
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = DefaultEmbeddingModel
	}
	if cfg.Embeddings.CacheDir == "" {
		cfg.Embeddings.CacheDir = DefaultModelCacheDir
	}
	if cfg.Embeddings.RateLimit == 0 {
		cfg.Embeddings.RateLimit = DefaultRateLimit
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = DefaultStoreProvider
	}
	if cfg.VectorStore.Distance == "" {
		cfg.VectorStore.Distance = DefaultDistance
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = DefaultCollection
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = DefaultChromemPath
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = DefaultQdrantHost
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = DefaultQdrantPort
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = DefaultTelemetryEndpoint
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Embeddings.Provider {
	case "fastembed", "tei", "openai":
	default:
		return fmt.Errorf("%w: unknown embeddings provider %q (supported: fastembed, tei, openai)", ErrInvalidConfig, c.Embeddings.Provider)
	}
	if c.Embeddings.Provider == "tei" && c.Embeddings.BaseURL == "" {
		return fmt.Errorf("%w: embeddings.base_url required for tei provider", ErrInvalidConfig)
	}
	if c.Embeddings.Provider == "openai" && !c.Embeddings.APIKey.IsSet() {
		return fmt.Errorf("%w: embeddings.api_key required for openai provider", ErrInvalidConfig)
	}
	if c.Embeddings.RateLimit < 0 {
		return fmt.Errorf("%w: embeddings.rate_limit must not be negative", ErrInvalidConfig)
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("%w: unknown vectorstore provider %q (supported: chromem, qdrant)", ErrInvalidConfig, c.VectorStore.Provider)
	}
	switch c.VectorStore.Distance {
	case "l2", "cosine", "ip":
	default:
		return fmt.Errorf("%w: unknown distance %q (supported: l2, cosine, ip)", ErrInvalidConfig, c.VectorStore.Distance)
	}
	if !collectionNamePattern.MatchString(c.VectorStore.Collection) {
		return fmt.Errorf("%w: collection name %q must match %s", ErrInvalidConfig, c.VectorStore.Collection, collectionNamePattern)
	}
	if c.VectorStore.Qdrant.Port < 1 || c.VectorStore.Qdrant.Port > 65535 {
		return fmt.Errorf("%w: invalid qdrant port: %d (must be 1-65535)", ErrInvalidConfig, c.VectorStore.Qdrant.Port)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("%w: logging.format must be 'json' or 'console', got %q", ErrInvalidConfig, c.Logging.Format)
	}

	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return fmt.Errorf("%w: service name required when telemetry is enabled", ErrInvalidConfig)
	}

	return nil
}
