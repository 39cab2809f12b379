package embeddings

import (
	"context"
	"errors"
	"testing"

	"github.com/fyrsmithlabs/ragkit/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name      string
		cfg       ProviderConfig
		wantErr   error
		wantModel string
		wantDim   int
	}{
		{
			name:      "tei with known model",
			cfg:       ProviderConfig{Provider: "tei", BaseURL: "http://localhost:8080", Model: "BAAI/bge-base-en-v1.5"},
			wantModel: "BAAI/bge-base-en-v1.5",
			wantDim:   768,
		},
		{
			name:    "tei without url",
			cfg:     ProviderConfig{Provider: "tei"},
			wantErr: ErrInvalidConfig,
		},
		{
			name:      "openai replaces local default model",
			cfg:       ProviderConfig{Provider: "openai", APIKey: "sk-test", Model: config.DefaultEmbeddingModel},
			wantModel: "text-embedding-ada-002",
			wantDim:   1536,
		},
		{
			name:      "openai explicit model",
			cfg:       ProviderConfig{Provider: "openai", APIKey: "sk-test", Model: "text-embedding-3-large"},
			wantModel: "text-embedding-3-large",
			wantDim:   3072,
		},
		{
			name:    "openai without key",
			cfg:     ProviderConfig{Provider: "openai"},
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "unknown provider",
			cfg:     ProviderConfig{Provider: "word2vec"},
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			defer p.Close()
			assert.Equal(t, tt.wantModel, p.Model())
			assert.Equal(t, tt.wantDim, p.Dimension())
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	app := config.Default().Embeddings
	app.APIKey = "sk-abc"

	cfg := FromAppConfig(app, nil)
	assert.Equal(t, "fastembed", cfg.Provider)
	assert.Equal(t, config.DefaultEmbeddingModel, cfg.Model)
	assert.Equal(t, config.Secret("sk-abc"), cfg.APIKey)
	assert.Equal(t, config.DefaultRateLimit, cfg.RateLimit)
}

func TestCheckVectors(t *testing.T) {
	vecs := [][]float32{{1, 0}, {0, 1}}

	assert.NoError(t, checkVectors(vecs, 2, 2))
	assert.NoError(t, checkVectors(vecs, 2, 0))
	assert.ErrorIs(t, checkVectors(vecs, 3, 2), ErrDimensionMismatch)
	assert.ErrorIs(t, checkVectors(vecs, 2, 3), ErrDimensionMismatch)
}

func TestDimensionTracker_LearnsFromFirstResponse(t *testing.T) {
	tr := newDimensionTracker(0)
	assert.Equal(t, 0, tr.get())

	require.NoError(t, tr.check([][]float32{{1, 2, 3}}, 1))
	assert.Equal(t, 3, tr.get())

	err := tr.check([][]float32{{1, 2}}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFunc(t *testing.T) {
	var got []string
	f := Func(func(_ context.Context, texts []string) ([][]float32, error) {
		got = texts
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{float32(i)}
		}
		return out, nil
	})

	var e Embedder = f
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, [][]float32{{0}, {1}}, vecs)

	failing := Func(func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("model offline")
	})
	_, err = failing.Embed(context.Background(), []string{"a"})
	assert.EqualError(t, err, "model offline")
}
