// Package vectorstore stores documents with their embeddings and answers
// similarity queries.
//
// A Store hands out Collection handles. A Collection holds documents
// (id, text, flat string metadata), embeds text through an Embedder on Add,
// and answers Query with the closest documents by ascending distance,
// optionally restricted by exact metadata equality.
//
// # Backends
//
//   - ChromemStore: embedded chromem-go persisted to a local directory (default)
//   - QdrantStore: external Qdrant over gRPC
//
// Both backends score by cosine similarity on unit vectors and report
// distance in the configured metric (see Distance).
//
// # Usage
//
//	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
//	    Path: ".ragkit",
//	}, embedder, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	col, err := store.CreateCollection(ctx, "real_docs")
//	if err != nil {
//	    return err
//	}
//	err = col.Add(ctx,
//	    []string{"doc1", "doc2"},
//	    []string{"The sky is blue.", "Artificial intelligence is fun."},
//	    []map[string]string{{"source": "example"}, {"source": "example"}},
//	)
//
//	res, err := col.Query(ctx, vectorstore.QueryRequest{
//	    Texts:    []string{"What should I do today?"},
//	    Where:    vectorstore.Where{"source": "example"},
//	    NResults: 1,
//	})
//	for _, m := range res.Matches(0) {
//	    fmt.Println(m.Text, m.Distance)
//	}
//
// # Observability
//
// Every collection operation opens an OpenTelemetry span and updates the
// Prometheus counters in metrics.go. WriteMetrics dumps them for the
// node-exporter textfile collector.
package vectorstore
