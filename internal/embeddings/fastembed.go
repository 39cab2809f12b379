//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	fastembed "github.com/anush008/fastembed-go"
	"go.uber.org/zap"
)

// FastEmbedConfig holds configuration for the FastEmbed provider.
type FastEmbedConfig struct {
	// Model is the embedding model to use.
	// Default: sentence-transformers/all-MiniLM-L6-v2
	Model string

	// CacheDir is the directory to cache model files. "~/" is expanded.
	CacheDir string

	// MaxLength is the maximum input sequence length. Defaults to 512.
	MaxLength int

	// BatchSize is the number of texts per ONNX inference call. Defaults to 256.
	BatchSize int

	// ShowProgress enables the download progress bar on first use.
	ShowProgress bool

	Logger *zap.Logger
}

// FastEmbedProvider generates embeddings with a local ONNX model.
//
// The model is loaded on the first Embed call, so constructing a provider
// is cheap and does not touch the network or the model cache.
type FastEmbedProvider struct {
	cfg       FastEmbedConfig
	model     fastembed.EmbeddingModel
	dimension int
	metrics   *Metrics

	mu   sync.RWMutex
	flag *fastembed.FlagEmbedding
}

// modelMapping maps friendly model names to fastembed model constants.
var modelMapping = map[string]fastembed.EmbeddingModel{
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	// Short sentence-transformers name.
	"all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// modelDimensions maps fastembed models to their embedding dimensions.
var modelDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.AllMiniLML6V2: 384,
	fastembed.BGESmallENV15: 384,
	fastembed.BGESmallEN:    384,
	fastembed.BGEBaseENV15:  768,
	fastembed.BGEBaseEN:     768,
	fastembed.BGESmallZH:    512,
}

// resolveFastEmbedModel maps a configured name to a fastembed model.
func resolveFastEmbedModel(name string) (fastembed.EmbeddingModel, error) {
	if name == "" {
		return fastembed.AllMiniLML6V2, nil
	}
	if m, ok := modelMapping[name]; ok {
		return m, nil
	}
	// Direct fastembed names such as "fast-all-MiniLM-L6-v2".
	m := fastembed.EmbeddingModel(name)
	if _, ok := modelDimensions[m]; ok {
		return m, nil
	}
	return "", fmt.Errorf("%w: unsupported model %q (supported: sentence-transformers/all-MiniLM-L6-v2, BAAI/bge-small-en-v1.5, BAAI/bge-base-en-v1.5)", ErrInvalidConfig, name)
}

// NewFastEmbedProvider creates a FastEmbed provider. The model is not loaded
// until the first Embed call.
func NewFastEmbedProvider(cfg FastEmbedConfig) (*FastEmbedProvider, error) {
	model, err := resolveFastEmbedModel(cfg.Model)
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = 512
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.CacheDir = expandHome(cfg.CacheDir)
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(".", "local_cache")
	}

	return &FastEmbedProvider{
		cfg:       cfg,
		model:     model,
		dimension: modelDimensions[model],
		metrics:   NewMetrics(cfg.Logger),
	}, nil
}

// load initializes the ONNX model once.
func (p *FastEmbedProvider) load() error {
	p.mu.RLock()
	loaded := p.flag != nil
	p.mu.RUnlock()
	if loaded {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flag != nil {
		return nil
	}

	if err := os.MkdirAll(p.cfg.CacheDir, 0o755); err != nil {
		return fmt.Errorf("creating model cache dir: %w", err)
	}

	start := time.Now()
	showProgress := p.cfg.ShowProgress
	flag, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                p.model,
		CacheDir:             p.cfg.CacheDir,
		MaxLength:            p.cfg.MaxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return fmt.Errorf("%w: initializing FastEmbed model %s: %v", ErrEmbeddingFailed, p.cfg.Model, err)
	}
	p.flag = flag

	p.cfg.Logger.Debug("fastembed model loaded",
		zap.String("model", p.cfg.Model),
		zap.String("cache_dir", p.cfg.CacheDir),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Embed generates one vector per text. Documents and queries are embedded
// identically (no passage/query prefixes).
func (p *FastEmbedProvider) Embed(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordGeneration(ctx, "fastembed", p.cfg.Model, time.Since(start), len(texts), err)
	}()

	if err := validateTexts(texts); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.load(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	vectors, err = p.flag.Embed(texts, p.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if err := checkVectors(vectors, len(texts), p.dimension); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Dimension returns the embedding dimension for the current model.
func (p *FastEmbedProvider) Dimension() int {
	return p.dimension
}

// Model returns the configured model name.
func (p *FastEmbedProvider) Model() string {
	return p.cfg.Model
}

// Close releases the ONNX session if one was loaded.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.flag == nil {
		return nil
	}
	err := p.flag.Destroy()
	p.flag = nil
	return err
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
