package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fyrsmithlabs/ragkit/internal/config"
	"github.com/fyrsmithlabs/ragkit/internal/embeddings"
	"github.com/fyrsmithlabs/ragkit/internal/logging"
	"github.com/fyrsmithlabs/ragkit/internal/telemetry"
	"github.com/fyrsmithlabs/ragkit/internal/vectorstore"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app holds the components built from configuration for one invocation.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	embedder  embeddings.Embedder
	store     vectorstore.Store
}

// ensureONNXRuntime is replaced in tests.
var ensureONNXRuntime = embeddings.EnsureONNXRuntime

// newEmbedder builds the configured embedding provider. Tests replace it.
var newEmbedder = func(ctx context.Context, cfg config.EmbeddingsConfig, logger *zap.Logger) (embeddings.Embedder, error) {
	// An empty provider selects fastembed too.
	if cfg.Provider == "fastembed" || cfg.Provider == "" {
		if _, err := ensureONNXRuntime(ctx); err != nil {
			return nil, err
		}
	}
	p, err := embeddings.NewProvider(embeddings.FromAppConfig(cfg, logger))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// loadConfig reads the config file and applies global flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if collectionName != "" {
		cfg.VectorStore.Collection = collectionName
	}
	return cfg, nil
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, err
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging, tel.IsEnabled())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, telemetry: tel}

	a.embedder, err = newEmbedder(ctx, cfg.Embeddings, logger.Component("embeddings").Scoped(ctx))
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	a.store, err = vectorstore.NewStore(&cfg.VectorStore, a.embedder, logger.Component("vectorstore").Scoped(ctx))
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("opening vector store: %w", err)
	}

	logger.Debug(ctx, "ragkit initialized",
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("distance", cfg.VectorStore.Distance),
	)
	return a, nil
}

// close releases everything newApp opened. Errors are logged.
func (a *app) close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn(ctx, "closing vector store", zap.Error(err))
		}
	}
	if c, ok := a.embedder.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn(ctx, "closing embedder", zap.Error(err))
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// collection returns the name selected by --collection or the config.
func (a *app) collection() string { return a.cfg.VectorStore.Collection }

// withApp runs fn with a fully built app and tears it down afterwards. The
// metrics file is written even when fn fails.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.WithInvocationID(ctx, uuid.NewString())

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	ctx = logging.WithLogger(ctx, a.logger)
	defer a.close(ctx)

	start := time.Now()
	defer func() { a.logger.Finish(ctx, cmd.CommandPath(), start, err) }()

	defer func() {
		if metricsFile == "" {
			return
		}
		if werr := vectorstore.WriteMetrics(metricsFile); werr != nil {
			err = errors.Join(err, werr)
		}
	}()

	return fn(ctx, a)
}
