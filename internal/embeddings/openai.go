package embeddings

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fyrsmithlabs/ragkit/internal/config"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OpenAIConfig configures the OpenAI embeddings provider.
type OpenAIConfig struct {
	APIKey config.Secret

	// BaseURL overrides the API base for OpenAI-compatible servers.
	BaseURL string

	// Model defaults to text-embedding-ada-002.
	Model string

	// Dimension fixes the expected vector size. When zero, it is looked up
	// from Model or learned from the first response.
	Dimension int

	// RateLimit caps requests per second. Zero disables limiting.
	RateLimit float64

	Logger *zap.Logger
}

// embeddingsClient is the subset of the go-openai client used here.
type embeddingsClient interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIProvider generates embeddings through the OpenAI embeddings API.
type OpenAIProvider struct {
	client    embeddingsClient
	model     string
	dimension *dimensionTracker
	limiter   *rate.Limiter
	logger    *zap.Logger
	metrics   *Metrics
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("%w: OpenAI API key required", ErrInvalidConfig)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey.Value())
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return newOpenAIProvider(cfg, openai.NewClientWithConfig(clientCfg))
}

func newOpenAIProvider(cfg OpenAIConfig, client embeddingsClient) (*OpenAIProvider, error) {
	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("%w: rate limit must not be negative", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.AdaEmbeddingV2)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	dim := cfg.Dimension
	if dim == 0 {
		dim = knownDimension(cfg.Model)
	}

	return &OpenAIProvider{
		client:    client,
		model:     cfg.Model,
		dimension: newDimensionTracker(dim),
		limiter:   newLimiter(cfg.RateLimit),
		logger:    cfg.Logger,
		metrics:   NewMetrics(cfg.Logger),
	}, nil
}

// Embed generates one vector per text in a single API request.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordGeneration(ctx, "openai", p.model, time.Since(start), len(texts), err)
	}()

	if err := validateTexts(texts); err != nil {
		return nil, err
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	// The API reports an index per item; do not rely on response order.
	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors = make([][]float32, len(data))
	for i, d := range data {
		vectors[i] = d.Embedding
	}
	if err := p.dimension.check(vectors, len(texts)); err != nil {
		return nil, err
	}

	p.logger.Debug("openai embeddings created",
		zap.String("model", p.model),
		zap.Int("texts", len(texts)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
	)
	return vectors, nil
}

// Dimension returns the embedding dimension.
func (p *OpenAIProvider) Dimension() int {
	return p.dimension.get()
}

// Model returns the model name.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Close is a no-op; the HTTP client holds no resources.
func (p *OpenAIProvider) Close() error {
	return nil
}
