package vectorstore

import (
	"fmt"

	"github.com/fyrsmithlabs/ragkit/internal/config"
	"go.uber.org/zap"
)

// NewStore creates a new Store based on the configuration.
//
// This factory function examines the VectorStoreConfig.Provider field and
// creates the appropriate store implementation:
//   - "chromem" (default): Creates an embedded ChromemStore (no external deps)
//   - "qdrant": Creates a QdrantStore (requires external Qdrant server)
//
// Example usage:
//
//	cfg, _ := config.Load("")
//	store, err := vectorstore.NewStore(&cfg.VectorStore, embedder, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func NewStore(cfg *config.VectorStoreConfig, embedder Embedder, logger *zap.Logger) (Store, error) {
	distance, err := ParseDistance(cfg.Distance)
	if err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "chromem", "":
		store, err := NewChromemStore(ChromemConfig{
			Path:     cfg.Chromem.Path,
			Compress: cfg.Chromem.Compress,
			Distance: distance,
		}, embedder, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	case "qdrant":
		store, err := NewQdrantStore(QdrantConfig{
			Host:     cfg.Qdrant.Host,
			Port:     cfg.Qdrant.Port,
			APIKey:   cfg.Qdrant.APIKey.Value(),
			UseTLS:   cfg.Qdrant.UseTLS,
			Distance: distance,
		}, embedder, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider: %s (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
