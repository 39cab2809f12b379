package demo

import (
	"context"
	"fmt"
	"io"

	"github.com/fyrsmithlabs/ragkit/internal/corpus"
	"github.com/fyrsmithlabs/ragkit/internal/rag"
	"github.com/fyrsmithlabs/ragkit/internal/vectorstore"
)

// BasicQuery is the question asked by the basic demo.
const BasicQuery = "What should I do today?"

// Basic loads the three example documents into "real_docs" and prints the
// single closest document to BasicQuery:
//
//	Query: What should I do today?
//	Retrieved Document: ...
//	Distance: ...
func Basic(ctx context.Context, store vectorstore.Store, w io.Writer, opts Options) error {
	col, err := load(ctx, store, corpus.Basic(), opts)
	if err != nil {
		return err
	}

	o, err := rag.NewOrchestrator(col, opts.Logger)
	if err != nil {
		return err
	}
	matches, err := o.Retrieve(ctx, BasicQuery, nil, 1)
	if err != nil {
		return err
	}
	best, err := first(matches, BasicQuery)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "Query:", BasicQuery)
	fmt.Fprintln(w, "Retrieved Document:", best.Text)
	fmt.Fprintln(w, "Distance:", best.Distance)
	return nil
}
