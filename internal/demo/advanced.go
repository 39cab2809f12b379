package demo

import (
	"context"
	"fmt"
	"io"

	"github.com/fyrsmithlabs/ragkit/internal/corpus"
	"github.com/fyrsmithlabs/ragkit/internal/rag"
	"github.com/fyrsmithlabs/ragkit/internal/vectorstore"
	"go.uber.org/zap"
)

// Queries used by the advanced demo.
const (
	AdvancedQuery = "What are the recent developments in quantum physics?"
	ClimateQuery  = "How urgent is climate change?"
)

// Advanced loads the topic/category corpus into "advanced_docs" and walks
// through metadata filtering, prompt construction and a metadata update.
func Advanced(ctx context.Context, store vectorstore.Store, w io.Writer, opts Options) error {
	col, err := load(ctx, store, corpus.Advanced(), opts)
	if err != nil {
		return err
	}

	o, err := rag.NewOrchestrator(col, opts.Logger)
	if err != nil {
		return err
	}

	// Filtered retrieval.
	filtered, err := o.Retrieve(ctx, AdvancedQuery, vectorstore.Where{"topic": "quantum"}, 2)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Filtered Query Results (topic 'quantum'):")
	for _, m := range filtered {
		fmt.Fprintf(w, " - %s (distance: %.4f)\n", m.Text, m.Distance)
	}

	// Multi-document prompt.
	prompt, _, err := o.Prompt(ctx, AdvancedQuery, nil, 3)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "\nConstructed RAG Prompt:")
	fmt.Fprintln(w, prompt)

	// Metadata update.
	fmt.Fprintln(w, "\nBefore metadata update:")
	if err := printClosest(ctx, w, o); err != nil {
		return err
	}

	update := map[string]string{"topic": "climate", "category": "science"}
	if err := col.Update(ctx, []string{"doc3"}, []map[string]string{update}); err != nil {
		return fmt.Errorf("updating doc3: %w", err)
	}
	opts.logger().Debug("updated metadata", zap.String("id", "doc3"), zap.Any("metadata", update))

	fmt.Fprintln(w, "\nAfter metadata update:")
	return printClosest(ctx, w, o)
}

func printClosest(ctx context.Context, w io.Writer, o *rag.Orchestrator) error {
	matches, err := o.Retrieve(ctx, ClimateQuery, nil, 1)
	if err != nil {
		return err
	}
	best, err := first(matches, ClimateQuery)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Retrieved document:", best.Text)
	return nil
}
