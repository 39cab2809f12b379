package vectorstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("ragkit.vectorstore.qdrant")

// pointNamespace derives Qdrant point ids from document ids. Qdrant only
// accepts UUIDs or integers, so the document id is kept in the payload.
var pointNamespace = uuid.MustParse("6f1c2a1e-4f0b-5c7d-9a51-1d3f6b2e8c40")

// Payload keys.
const (
	payloadID       = "id"
	payloadText     = "text"
	payloadMetadata = "metadata"
)

// QdrantConfig holds configuration for Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (NOT HTTP REST port).
	// Default: 6334 (gRPC), not 6333 (HTTP)
	Port int

	// APIKey authenticates against Qdrant Cloud. Optional.
	APIKey string

	// UseTLS enables TLS encryption for gRPC connection.
	UseTLS bool

	// Distance is the metric reported in query results. Collections are
	// always created with cosine similarity.
	Distance Distance

	// MaxRetries is the maximum number of retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries.
	// Doubles on each retry (exponential backoff).
	// Default: 1 second
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int
}

// Validate validates the configuration.
func (c *QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	d, err := ParseDistance(string(c.Distance))
	if err != nil {
		return err
	}
	c.Distance = d
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.Distance == "" {
		c.Distance = DistanceL2
	}
}

// qdrantClient is the subset of *qdrant.Client the store uses.
type qdrantClient interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	ListCollections(ctx context.Context) ([]string, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Get(ctx context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	OverwritePayload(ctx context.Context, request *qdrant.SetPayloadPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Close() error
}

// IsTransientError checks if an error is transient (should retry).
// Returns true for network timeouts, temporary unavailability.
// Returns false for invalid config, not found, permission denied.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore is a Store implementation using Qdrant's native gRPC client.
//
// Each document becomes one point whose id is a UUIDv5 of the document id.
// The payload carries the original id, the text and the metadata under
// "metadata", so where filters match on "metadata.<key>".
type QdrantStore struct {
	client   qdrantClient
	embedder Embedder
	config   QdrantConfig
	logger   *zap.Logger

	// vectorSize is learned from the embedder on first collection create.
	vectorSize uint64
}

// NewQdrantStore connects to Qdrant and performs a health check.
func NewQdrantStore(config QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)",
			zap.String("host", config.Host),
			zap.Int("port", config.Port),
		)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store, err := newQdrantStore(config, client, embedder, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.healthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	return store, nil
}

func newQdrantStore(config QdrantConfig, client qdrantClient, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QdrantStore{
		client:   client,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}, nil
}

// Close closes the Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *QdrantStore) healthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.HealthCheck")
	defer span.End()

	_, err := s.client.HealthCheck(ctx)
	endSpan(span, err)
	return err
}

// retryOperation retries an operation with exponential backoff.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; ; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s: %w", operationName, err)
		}
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, s.config.MaxRetries, err)
		}

		s.logger.Debug("retrying qdrant operation",
			zap.String("operation", operationName),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// collectionVectorSize asks the embedder for its dimension, embedding a
// probe text when the embedder does not report one.
func (s *QdrantStore) collectionVectorSize(ctx context.Context) (uint64, error) {
	if s.vectorSize > 0 {
		return s.vectorSize, nil
	}
	if d, ok := s.embedder.(interface{ Dimension() int }); ok && d.Dimension() > 0 {
		s.vectorSize = uint64(d.Dimension())
		return s.vectorSize, nil
	}
	vectors, err := embedTexts(ctx, s.embedder, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	s.vectorSize = uint64(len(vectors[0]))
	return s.vectorSize, nil
}

func (s *QdrantStore) exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func() error {
		var err error
		exists, err = s.client.CollectionExists(ctx, name)
		return err
	})
	return exists, err
}

// CreateCollection creates a new, empty collection.
func (s *QdrantStore) CreateCollection(ctx context.Context, name string) (_ Collection, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.CreateCollection")
	defer span.End()
	start := time.Now()
	defer func() {
		recordOperation(backendQdrant, "create", start, err)
		endSpan(span, err)
	}()

	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}

	exists, err := s.exists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("checking collection %s: %w", name, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}

	if err := s.create(ctx, name); err != nil {
		return nil, err
	}
	return &qdrantCollection{store: s, name: name}, nil
}

func (s *QdrantStore) create(ctx context.Context, name string) error {
	size, err := s.collectionVectorSize(ctx)
	if err != nil {
		return err
	}

	err = s.retryOperation(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     size,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	s.logger.Info("created qdrant collection",
		zap.String("collection", name),
		zap.Uint64("vector_size", size),
	)
	return nil
}

// GetCollection opens an existing collection.
func (s *QdrantStore) GetCollection(ctx context.Context, name string) (_ Collection, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.GetCollection")
	defer span.End()
	defer func() { endSpan(span, err) }()

	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}

	exists, err := s.exists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return &qdrantCollection{store: s, name: name}, nil
}

// GetOrCreateCollection opens the collection, creating it when missing.
func (s *QdrantStore) GetOrCreateCollection(ctx context.Context, name string) (_ Collection, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.GetOrCreateCollection")
	defer span.End()
	defer func() { endSpan(span, err) }()

	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}

	exists, err := s.exists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		if err := s.create(ctx, name); err != nil {
			return nil, err
		}
	}
	return &qdrantCollection{store: s, name: name}, nil
}

// DeleteCollection deletes a collection and all its documents.
func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteCollection")
	defer span.End()
	start := time.Now()
	defer func() {
		recordOperation(backendQdrant, "delete", start, err)
		endSpan(span, err)
	}()

	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	exists, err := s.exists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	err = s.retryOperation(ctx, "delete_collection", func() error {
		return s.client.DeleteCollection(ctx, name)
	})
	if err != nil {
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}

	s.logger.Info("deleted qdrant collection", zap.String("collection", name))
	return nil
}

// ListCollections returns collection names in lexical order.
func (s *QdrantStore) ListCollections(ctx context.Context) (_ []string, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.ListCollections")
	defer span.End()
	defer func() { endSpan(span, err) }()

	var names []string
	err = s.retryOperation(ctx, "list_collections", func() error {
		result, err := s.client.ListCollections(ctx)
		if err != nil {
			return err
		}
		names = result
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}

	sort.Strings(names)
	span.SetAttributes(attribute.Int("collection_count", len(names)))
	return names, nil
}

// qdrantCollection is a Collection stored in one Qdrant collection.
type qdrantCollection struct {
	store *QdrantStore
	name  string
}

func (c *qdrantCollection) Name() string { return c.name }

// pointID maps a document id to its deterministic Qdrant point id.
func pointID(docID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(docID)).String())
}

func pointIDs(ids []string) []*qdrant.PointId {
	out := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		out[i] = pointID(id)
	}
	return out
}

func newPayload(id, text string, metadata map[string]string) (map[string]*qdrant.Value, error) {
	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	payload, err := qdrant.TryValueMap(map[string]any{
		payloadID:       id,
		payloadText:     text,
		payloadMetadata: meta,
	})
	if err != nil {
		return nil, fmt.Errorf("building payload for %s: %w", id, err)
	}
	return payload, nil
}

// documentFromPayload reverses newPayload. Non-string metadata values
// written by other clients are skipped.
func documentFromPayload(payload map[string]*qdrant.Value) Document {
	doc := Document{
		ID:       payload[payloadID].GetStringValue(),
		Text:     payload[payloadText].GetStringValue(),
		Metadata: map[string]string{},
	}
	for k, v := range payload[payloadMetadata].GetStructValue().GetFields() {
		if s, ok := v.GetKind().(*qdrant.Value_StringValue); ok {
			doc.Metadata[k] = s.StringValue
		}
	}
	return doc
}

// whereFilter builds a Must filter of keyword matches on metadata.<key>.
func whereFilter(where Where) *qdrant.Filter {
	if len(where) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(where))
	for _, k := range sortedKeys(where) {
		conditions = append(conditions, qdrant.NewMatch(payloadMetadata+"."+k, where[k]))
	}
	return &qdrant.Filter{Must: conditions}
}

// fetch returns the stored documents among ids, keyed by document id.
func (c *qdrantCollection) fetch(ctx context.Context, ids []string) (map[string]Document, error) {
	var points []*qdrant.RetrievedPoint
	err := c.store.retryOperation(ctx, "get", func() error {
		res, err := c.store.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: c.name,
			Ids:            pointIDs(ids),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching points from %s: %w", c.name, err)
	}

	found := make(map[string]Document, len(points))
	for _, p := range points {
		doc := documentFromPayload(p.GetPayload())
		found[doc.ID] = doc
	}
	return found, nil
}

// Add embeds texts and upserts one point per document.
func (c *qdrantCollection) Add(ctx context.Context, ids, texts []string, metadatas []map[string]string) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Add")
	defer span.End()
	start := time.Now()
	defer func() {
		recordOperation(backendQdrant, "add", start, err)
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

	stored, err := c.fetch(ctx, ids)
	if err != nil {
		return err
	}
	if len(stored) > 0 {
		existing := make([]string, 0, len(stored))
		for _, id := range ids {
			if _, ok := stored[id]; ok {
				existing = append(existing, id)
			}
		}
		return fmt.Errorf("%w: %s already in collection %s", ErrDuplicateID, quoteAll(existing), c.name)
	}

	vectors, err := embedTexts(ctx, c.store.embedder, texts)
	if err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(ids))
	for i, id := range ids {
		payload, err := newPayload(id, texts[i], metas[i])
		if err != nil {
			return err
		}
		points[i] = &qdrant.PointStruct{
			Id:      pointID(id),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payload,
		}
	}

	err = c.store.retryOperation(ctx, "upsert", func() error {
		_, err := c.store.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: c.name,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("upserting points to collection %s: %w", c.name, err)
	}

	DocumentsAdded.WithLabelValues(backendQdrant).Add(float64(len(points)))
	return nil
}

// Update overwrites the payload of existing points; vectors are untouched.
func (c *qdrantCollection) Update(ctx context.Context, ids []string, metadatas []map[string]string) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Update")
	defer span.End()
	start := time.Now()
	defer func() {
		recordOperation(backendQdrant, "update", start, err)
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

	stored, err := c.fetch(ctx, ids)
	if err != nil {
		return err
	}
	var missing []string
	for _, id := range ids {
		if _, ok := stored[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s in collection %s", ErrDocumentNotFound, quoteAll(missing), c.name)
	}

	for i, id := range ids {
		payload, err := newPayload(id, stored[id].Text, metas[i])
		if err != nil {
			return err
		}
		err = c.store.retryOperation(ctx, "overwrite_payload", func() error {
			_, err := c.store.client.OverwritePayload(ctx, &qdrant.SetPayloadPoints{
				CollectionName: c.name,
				Wait:           qdrant.PtrOf(true),
				Payload:        payload,
				PointsSelector: qdrant.NewPointsSelector(pointID(id)),
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("updating %s in collection %s: %w", id, c.name, err)
		}
	}
	return nil
}

// Query embeds each text and searches with the where filter applied.
func (c *qdrantCollection) Query(ctx context.Context, req QueryRequest) (_ *QueryResult, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Query")
	defer span.End()
	start := time.Now()
	defer func() {
		recordOperation(backendQdrant, "query", start, err)
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

	result := newQueryResult(len(req.Texts))

	count, err := c.Count(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return result, nil
	}
	n := capResults(req.NResults, count)

	vectors, err := embedTexts(ctx, c.store.embedder, req.Texts)
	if err != nil {
		return nil, err
	}
	filter := whereFilter(req.Where)

	for i, vec := range vectors {
		var points []*qdrant.ScoredPoint
		err := c.store.retryOperation(ctx, "query", func() error {
			res, err := c.store.client.Query(ctx, &qdrant.QueryPoints{
				CollectionName: c.name,
				Query:          qdrant.NewQuery(vec...),
				Limit:          qdrant.PtrOf(uint64(n)),
				Filter:         filter,
				WithPayload:    qdrant.NewWithPayload(true),
				Params: &qdrant.SearchParams{
					Exact: qdrant.PtrOf(true),
				},
			})
			if err != nil {
				return err
			}
			points = res
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("searching collection %s: %w", c.name, err)
		}

		matches := make([]Match, len(points))
		for j, p := range points {
			matches[j] = Match{
				Document: documentFromPayload(p.GetPayload()),
				Distance: c.store.config.Distance.FromSimilarity(p.GetScore()),
			}
		}
		sortMatches(matches)
		result.setRow(i, matches)
	}
	return result, nil
}

// Get returns documents by id in request order.
func (c *qdrantCollection) Get(ctx context.Context, ids ...string) (_ []Document, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Get")
	defer span.End()
	start := time.Now()
	defer func() {
		recordOperation(backendQdrant, "get", start, err)
		endSpan(span, err)
	}()

	span.SetAttributes(
		attribute.String("collection", c.name),
		attribute.Int("id_count", len(ids)),
	)

	for _, id := range ids {
		if id == "" {
			return nil, ErrEmptyID
		}
	}
	if len(ids) == 0 {
		return []Document{}, nil
	}

	stored, err := c.fetch(ctx, ids)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(ids))
	var missing []string
	for _, id := range ids {
		doc, ok := stored[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		doc.Metadata = maps.Clone(doc.Metadata)
		docs = append(docs, doc)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s in collection %s", ErrDocumentNotFound, quoteAll(missing), c.name)
	}
	return docs, nil
}

// Count returns the exact number of points.
func (c *qdrantCollection) Count(ctx context.Context) (int, error) {
	var count uint64
	err := c.store.retryOperation(ctx, "count", func() error {
		n, err := c.store.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: c.name,
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting points in %s: %w", c.name, err)
	}
	return int(count), nil
}

// Ensure QdrantStore implements Store interface.
var (
	_ Store        = (*QdrantStore)(nil)
	_ Collection   = (*qdrantCollection)(nil)
	_ qdrantClient = (*qdrant.Client)(nil)
)
