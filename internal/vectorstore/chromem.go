package vectorstore

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("ragkit.vectorstore.chromem")

// ChromemConfig holds configuration for chromem-go embedded vector database.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: ".ragkit"
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Distance is the metric reported in query results.
	// Default: l2
	Distance Distance
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = ".ragkit"
	}
	if c.Distance == "" {
		c.Distance = DistanceL2
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	d, err := ParseDistance(string(c.Distance))
	if err != nil {
		return err
	}
	c.Distance = d
	return nil
}

// ChromemStore implements the Store interface using chromem-go.
//
// chromem-go keeps every collection in memory and writes each document to
// its own gob file under Path, so a store reopened on the same directory
// sees everything added before. Queries are exact (no ANN index).
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *zap.Logger

	// mu serialises collection create and delete.
	mu sync.Mutex

	// locks holds one *sync.RWMutex per collection name. Collection
	// operations hold it while they run and DeleteCollection takes it for
	// writing, so a handle never writes into a deleted collection.
	locks sync.Map
}

// NewChromemStore creates a new ChromemStore with the given configuration.
func NewChromemStore(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	expandedPath, err := expandChromemPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(expandedPath, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
	}

	db, err := chromem.NewPersistentDB(expandedPath, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	logger.Debug("ChromemStore initialized",
		zap.String("path", expandedPath),
		zap.Bool("compress", config.Compress),
		zap.String("distance", string(config.Distance)),
	)

	return &ChromemStore{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}, nil
}

// expandChromemPath expands ~ to home directory.
func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// embeddingFunc adapts the Embedder to chromem. It must never be nil:
// chromem falls back to the OpenAI API when a collection has no function.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vectors, err := embedTexts(ctx, s.embedder, []string{text})
		if err != nil {
			return nil, err
		}
		return vectors[0], nil
	}
}

func (s *ChromemStore) nameLock(name string) *sync.RWMutex {
	lock, _ := s.locks.LoadOrStore(name, &sync.RWMutex{})
	return lock.(*sync.RWMutex)
}

func (s *ChromemStore) handle(name string, col *chromem.Collection) *chromemCollection {
	return &chromemCollection{
		store: s,
		name:  name,
		col:   col,
		mu:    s.nameLock(name),
	}
}

// CreateCollection creates a new, empty collection.
func (s *ChromemStore) CreateCollection(ctx context.Context, name string) (_ Collection, err error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.CreateCollection")
	defer span.End()
	start := time.Now()
	defer func() {
		recordOperation(backendChromem, "create", start, err)
		endSpan(span, err)
	}()

	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// chromem's CreateCollection silently replaces an existing one.
	if s.db.GetCollection(name, s.embeddingFunc()) != nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}

	col, err := s.db.CreateCollection(name, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", name, err)
	}

	s.logger.Info("created chromem collection", zap.String("collection", name))
	return s.handle(name, col), nil
}

// GetCollection opens an existing collection.
func (s *ChromemStore) GetCollection(ctx context.Context, name string) (Collection, error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.GetCollection")
	defer span.End()

	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		endSpan(span, err)
		return nil, err
	}

	col := s.db.GetCollection(name, s.embeddingFunc())
	if col == nil {
		err := fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		endSpan(span, err)
		return nil, err
	}

	endSpan(span, nil)
	return s.handle(name, col), nil
}

// GetOrCreateCollection opens the collection, creating it when missing.
func (s *ChromemStore) GetOrCreateCollection(ctx context.Context, name string) (Collection, error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.GetOrCreateCollection")
	defer span.End()

	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		endSpan(span, err)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc())
	if err != nil {
		err = fmt.Errorf("getting/creating collection %s: %w", name, err)
		endSpan(span, err)
		return nil, err
	}

	endSpan(span, nil)
	return s.handle(name, col), nil
}

// DeleteCollection deletes a collection and all its documents.
func (s *ChromemStore) DeleteCollection(ctx context.Context, name string) (err error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.DeleteCollection")
	defer span.End()
	start := time.Now()
	defer func() {
		recordOperation(backendChromem, "delete", start, err)
		endSpan(span, err)
	}()

	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lock := s.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	if s.db.GetCollection(name, s.embeddingFunc()) == nil {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}

	s.logger.Info("deleted chromem collection", zap.String("collection", name))
	return nil
}

// ListCollections returns collection names in lexical order.
func (s *ChromemStore) ListCollections(ctx context.Context) ([]string, error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.ListCollections")
	defer span.End()

	collections := s.db.ListCollections()
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	sort.Strings(names)

	span.SetAttributes(attribute.Int("collection_count", len(names)))
	endSpan(span, nil)
	return names, nil
}

// Close closes the ChromemStore.
// chromem-go writes on every change, so there is nothing to flush.
func (s *ChromemStore) Close() error {
	s.logger.Debug("chromem store closed")
	return nil
}

// chromemCollection is a Collection backed by a chromem collection.
type chromemCollection struct {
	store *ChromemStore
	name  string
	col   *chromem.Collection
	mu    *sync.RWMutex
}

func (c *chromemCollection) Name() string { return c.name }

// checkLive fails when the collection this handle was opened on has been
// deleted, or deleted and created again. Callers hold c.mu.
func (c *chromemCollection) checkLive() error {
	if c.store.db.GetCollection(c.name, c.store.embeddingFunc()) != c.col {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, c.name)
	}
	return nil
}

// Add embeds texts and stores the documents.
func (c *chromemCollection) Add(ctx context.Context, ids, texts []string, metadatas []map[string]string) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Add")
	defer span.End()
	start := time.Now()
	defer func() {
		recordOperation(backendChromem, "add", start, err)
		endSpan(span, err)
	}()

	span.SetAttributes(
		attribute.String("collection", c.name),
		attribute.Int("document_count", len(ids)),
	)

	metas, err := validateAdd(ids, texts, metadatas)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkLive(); err != nil {
		return err
	}

	var existing []string
	for _, id := range ids {
		if _, err := c.col.GetByID(ctx, id); err == nil {
			existing = append(existing, id)
		}
	}
	if len(existing) > 0 {
		return fmt.Errorf("%w: %s already in collection %s", ErrDuplicateID, quoteAll(existing), c.name)
	}

	vectors, err := embedTexts(ctx, c.store.embedder, texts)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(ids))
	for i := range ids {
		docs[i] = chromem.Document{
			ID:        ids[i],
			Metadata:  metas[i],
			Embedding: vectors[i],
			Content:   texts[i],
		}
	}

	// Concurrency of 1 since embeddings are already computed.
	if err := c.col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding documents to %s: %w", c.name, err)
	}

	DocumentsAdded.WithLabelValues(backendChromem).Add(float64(len(docs)))
	c.store.logger.Debug("added documents to chromem",
		zap.String("collection", c.name),
		zap.Int("count", len(docs)),
	)
	return nil
}

// Update replaces metadata, keeping the stored text and embedding.
func (c *chromemCollection) Update(ctx context.Context, ids []string, metadatas []map[string]string) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Update")
	defer span.End()
	start := time.Now()
	defer func() {
		recordOperation(backendChromem, "update", start, err)
		endSpan(span, err)
	}()

	span.SetAttributes(
		attribute.String("collection", c.name),
		attribute.Int("document_count", len(ids)),
	)

	metas, err := validateUpdate(ids, metadatas)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkLive(); err != nil {
		return err
	}

	originals := make([]chromem.Document, len(ids))
	var missing []string
	for i, id := range ids {
		doc, err := c.col.GetByID(ctx, id)
		if err != nil {
			missing = append(missing, id)
			continue
		}
		originals[i] = doc
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s in collection %s", ErrDocumentNotFound, quoteAll(missing), c.name)
	}

	// AddDocument overwrites an existing id in memory and on disk. The stored
	// embedding is passed along so nothing is re-embedded.
	for i := range originals {
		doc := originals[i]
		doc.Metadata = metas[i]
		if err := c.col.AddDocument(ctx, doc); err != nil {
			c.restore(ctx, originals[:i+1])
			return fmt.Errorf("updating document %s: %w", doc.ID, err)
		}
	}

	c.store.logger.Debug("updated chromem metadata",
		zap.String("collection", c.name),
		zap.Int("count", len(originals)),
	)
	return nil
}

// restore writes back documents after a failed update so the batch is not
// left half applied.
func (c *chromemCollection) restore(ctx context.Context, docs []chromem.Document) {
	for _, doc := range docs {
		if err := c.col.AddDocument(ctx, doc); err != nil {
			c.store.logger.Warn("restoring document after failed update",
				zap.String("collection", c.name),
				zap.String("id", doc.ID),
				zap.Error(err),
			)
		}
	}
}

// Query embeds each query text and returns the closest matches.
func (c *chromemCollection) Query(ctx context.Context, req QueryRequest) (_ *QueryResult, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Query")
	defer span.End()
	start := time.Now()
	defer func() {
		recordOperation(backendChromem, "query", start, err)
		endSpan(span, err)
	}()

	span.SetAttributes(
		attribute.String("collection", c.name),
		attribute.Int("query_count", len(req.Texts)),
		attribute.Int("n_results", req.NResults),
		attribute.Int("where_keys", len(req.Where)),
	)

	if err := validateQuery(req); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.checkLive(); err != nil {
		return nil, err
	}

	result := newQueryResult(len(req.Texts))

	// chromem requires nResults <= document count.
	count := c.col.Count()
	if count == 0 {
		return result, nil
	}
	n := capResults(req.NResults, count)

	vectors, err := embedTexts(ctx, c.store.embedder, req.Texts)
	if err != nil {
		return nil, err
	}

	for i, vec := range vectors {
		res, err := c.col.QueryEmbedding(ctx, vec, n, req.Where, nil)
		if err != nil {
			return nil, fmt.Errorf("querying collection %s: %w", c.name, err)
		}
		matches := make([]Match, len(res))
		for j, r := range res {
			matches[j] = Match{
				Document: Document{
					ID:       r.ID,
					Text:     r.Content,
					Metadata: cloneMetadata(r.Metadata),
				},
				Distance: c.store.config.Distance.FromSimilarity(r.Similarity),
			}
		}
		sortMatches(matches)
		result.setRow(i, matches)
	}

	c.store.logger.Debug("queried chromem collection",
		zap.String("collection", c.name),
		zap.Int("queries", len(req.Texts)),
		zap.Int("n", n),
	)
	return result, nil
}

// Get returns documents by id in request order.
func (c *chromemCollection) Get(ctx context.Context, ids ...string) (_ []Document, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Get")
	defer span.End()
	start := time.Now()
	defer func() {
		recordOperation(backendChromem, "get", start, err)
		endSpan(span, err)
	}()

	span.SetAttributes(
		attribute.String("collection", c.name),
		attribute.Int("id_count", len(ids)),
	)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.checkLive(); err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(ids))
	var missing []string
	for _, id := range ids {
		if id == "" {
			return nil, ErrEmptyID
		}
		doc, err := c.col.GetByID(ctx, id)
		if err != nil {
			missing = append(missing, id)
			continue
		}
		docs = append(docs, Document{ID: doc.ID, Text: doc.Content, Metadata: cloneMetadata(doc.Metadata)})
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s in collection %s", ErrDocumentNotFound, quoteAll(missing), c.name)
	}
	return docs, nil
}

// Count returns the number of stored documents.
func (c *chromemCollection) Count(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.checkLive(); err != nil {
		return 0, err
	}
	return c.col.Count(), nil
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return maps.Clone(m)
}

// Ensure ChromemStore implements Store interface.
var (
	_ Store      = (*ChromemStore)(nil)
	_ Collection = (*chromemCollection)(nil)
)
