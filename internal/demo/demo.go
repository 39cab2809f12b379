// Package demo runs the basic and advanced retrieval walkthroughs against a
// vector store, printing their progress to a writer.
package demo

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/ragkit/internal/corpus"
	"github.com/fyrsmithlabs/ragkit/internal/vectorstore"
	"go.uber.org/zap"
)

// ErrNoResults is returned when a step that needs a match retrieves nothing.
var ErrNoResults = errors.New("no documents retrieved")

// Options control a demo run.
type Options struct {
	// Reset deletes the demo collection before creating it. Without it a
	// second run against the same store fails with
	// vectorstore.ErrCollectionExists.
	Reset bool

	// Logger receives progress at debug level. Nil disables logging.
	Logger *zap.Logger
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// load creates the corpus collection and adds its documents.
func load(ctx context.Context, store vectorstore.Store, c *corpus.Corpus, opts Options) (vectorstore.Collection, error) {
	log := opts.logger()

	if opts.Reset {
		err := store.DeleteCollection(ctx, c.Collection)
		switch {
		case err == nil:
			log.Debug("reset demo collection", zap.String("collection", c.Collection))
		case errors.Is(err, vectorstore.ErrCollectionNotFound):
		default:
			return nil, fmt.Errorf("resetting collection %s: %w", c.Collection, err)
		}
	}

	col, err := store.CreateCollection(ctx, c.Collection)
	if err != nil {
		return nil, err
	}

	ids, texts, metas := c.Columns()
	if err := col.Add(ctx, ids, texts, metas); err != nil {
		return nil, fmt.Errorf("adding documents to %s: %w", c.Collection, err)
	}

	log.Debug("loaded demo corpus",
		zap.String("collection", c.Collection),
		zap.Int("documents", len(ids)),
	)
	return col, nil
}

// first returns the best match or ErrNoResults.
func first(matches []vectorstore.Match, query string) (vectorstore.Match, error) {
	if len(matches) == 0 {
		return vectorstore.Match{}, fmt.Errorf("%w for %q", ErrNoResults, query)
	}
	return matches[0], nil
}
