// Package rag retrieves context from a document collection and assembles
// prompts for a language model. It does not call a model.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/ragkit/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// DefaultNResults is used when a caller passes n <= 0.
const DefaultNResults = 3

var tracer = otel.Tracer("ragkit.rag")

var (
	// ErrNilCollection is returned by NewOrchestrator without a collection.
	ErrNilCollection = errors.New("collection cannot be nil")

	// ErrEmptyQuery is returned for a blank query.
	ErrEmptyQuery = errors.New("query cannot be empty")
)

// Orchestrator answers retrieval requests against one collection.
type Orchestrator struct {
	collection vectorstore.Collection
	logger     *zap.Logger
}

// NewOrchestrator creates an Orchestrator over collection.
func NewOrchestrator(collection vectorstore.Collection, logger *zap.Logger) (*Orchestrator, error) {
	if collection == nil {
		return nil, ErrNilCollection
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		collection: collection,
		logger:     logger,
	}, nil
}

// Collection returns the collection queried by the orchestrator.
func (o *Orchestrator) Collection() vectorstore.Collection { return o.collection }

// Retrieve returns up to n documents closest to query, restricted by where,
// ordered by ascending distance.
func (o *Orchestrator) Retrieve(ctx context.Context, query string, where vectorstore.Where, n int) ([]vectorstore.Match, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.Retrieve")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		span.SetStatus(codes.Error, ErrEmptyQuery.Error())
		return nil, ErrEmptyQuery
	}
	if n <= 0 {
		n = DefaultNResults
	}
	span.SetAttributes(
		attribute.String("collection", o.collection.Name()),
		attribute.Int("n_results", n),
		attribute.Int("where_keys", len(where)),
	)

	res, err := o.collection.Query(ctx, vectorstore.QueryRequest{
		Texts:    []string{query},
		Where:    where,
		NResults: n,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("retrieving from %s: %w", o.collection.Name(), err)
	}

	matches := res.Matches(0)
	if matches == nil {
		matches = []vectorstore.Match{}
	}
	span.SetAttributes(attribute.Int("result_count", len(matches)))

	o.logger.Debug("retrieved context",
		zap.String("collection", o.collection.Name()),
		zap.Int("n", n),
		zap.Int("results", len(matches)),
	)
	return matches, nil
}

// Prompt retrieves context for query and renders it with BuildPrompt.
// The matches used are returned alongside the prompt.
func (o *Orchestrator) Prompt(ctx context.Context, query string, where vectorstore.Where, n int) (string, []vectorstore.Match, error) {
	matches, err := o.Retrieve(ctx, query, where, n)
	if err != nil {
		return "", nil, err
	}
	return BuildPrompt(query, vectorstore.Texts(matches)), matches, nil
}
