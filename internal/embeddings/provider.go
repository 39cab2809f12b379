package embeddings

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/fyrsmithlabs/ragkit/internal/config"
	"github.com/fyrsmithlabs/ragkit/internal/vectorstore"
	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrDimensionMismatch indicates a provider returned the wrong number
	// of vectors or vectors of the wrong size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Embedder maps texts to vectors, one per text, in input order.
type Embedder = vectorstore.Embedder

// Provider is an Embedder backed by a concrete model.
type Provider interface {
	Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Model returns the model name.
	Model() string
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is "fastembed", "tei" or "openai".
	Provider string
	// Model is the embedding model name.
	Model string
	// BaseURL is the TEI URL or an OpenAI-compatible API base.
	BaseURL string
	// APIKey authenticates OpenAI requests.
	APIKey config.Secret
	// CacheDir is the model cache directory (FastEmbed only).
	CacheDir string
	// RateLimit caps requests per second for remote providers.
	RateLimit float64
	// Logger receives provider diagnostics. Nil disables logging.
	Logger *zap.Logger
}

// FromAppConfig builds a ProviderConfig from the application config section.
func FromAppConfig(app config.EmbeddingsConfig, logger *zap.Logger) ProviderConfig {
	return ProviderConfig{
		Provider:  app.Provider,
		Model:     app.Model,
		BaseURL:   app.BaseURL,
		APIKey:    app.APIKey,
		CacheDir:  app.CacheDir,
		RateLimit: app.RateLimit,
		Logger:    logger,
	}
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	switch cfg.Provider {
	case "fastembed", "":
		p, err := NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
			Logger:   cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "tei":
		p, err := NewTEIProvider(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			RateLimit: cfg.RateLimit,
			Logger:    cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "openai":
		model := cfg.Model
		if model == config.DefaultEmbeddingModel {
			// The local default is meaningless to OpenAI.
			model = ""
		}
		p, err := NewOpenAIProvider(OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     model,
			RateLimit: cfg.RateLimit,
			Logger:    cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// knownDimension returns the embedding dimension for a model name, or 0 when
// the model is unknown and the dimension must be learned from a response.
func knownDimension(model string) int {
	return knownModelDimensions[model]
}

// dimensionTracker holds a dimension that is either configured up front or
// fixed by the first successful response.
type dimensionTracker struct {
	dim atomic.Int64
}

func newDimensionTracker(dim int) *dimensionTracker {
	t := &dimensionTracker{}
	t.dim.Store(int64(dim))
	return t
}

func (t *dimensionTracker) get() int {
	return int(t.dim.Load())
}

// check validates vectors against the tracked dimension, adopting the size
// of the first vector when none is known yet.
func (t *dimensionTracker) check(vectors [][]float32, n int) error {
	dim := t.get()
	if dim == 0 && len(vectors) > 0 {
		t.dim.CompareAndSwap(0, int64(len(vectors[0])))
		dim = t.get()
	}
	return checkVectors(vectors, n, dim)
}

// knownModelDimensions lists output sizes of models ragkit is commonly
// pointed at, independent of provider.
var knownModelDimensions = map[string]int{
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"sentence-transformers/all-mpnet-base-v2": 768,
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"text-embedding-ada-002":                 1536,
	"text-embedding-3-small":                 1536,
	"text-embedding-3-large":                 3072,
}

// checkVectors verifies a provider response: one vector per input, each of
// the expected size. dim <= 0 skips the size check.
func checkVectors(vectors [][]float32, n, dim int) error {
	if len(vectors) != n {
		return fmt.Errorf("%w: got %d vectors for %d texts", ErrDimensionMismatch, len(vectors), n)
	}
	if dim <= 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return nil
}

// validateTexts rejects an empty batch.
func validateTexts(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	return nil
}
