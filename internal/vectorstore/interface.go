package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCollectionExists is returned when attempting to create an existing collection.
	ErrCollectionExists = errors.New("collection already exists")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrEmptyDocuments indicates an empty add or update batch.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrLengthMismatch indicates parallel input lists of different lengths.
	ErrLengthMismatch = errors.New("input lengths do not match")

	// ErrEmptyID indicates a document without an identifier.
	ErrEmptyID = errors.New("document id is empty")

	// ErrDuplicateID indicates an id repeated within a batch or already stored.
	ErrDuplicateID = errors.New("duplicate document id")

	// ErrDocumentNotFound indicates an id that is not in the collection.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrInvalidQuery indicates a malformed query request.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to Qdrant")
)

// Embedder generates vector embeddings from text.
//
// Implementations return exactly one vector per input text, in input order,
// and the same vector for the same text. Documents and queries go through
// the same call.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store manages named collections.
//
// Implementations:
//   - ChromemStore: embedded chromem-go persisted to a local directory (default)
//   - QdrantStore: external Qdrant over gRPC
type Store interface {
	// CreateCollection creates a new, empty collection.
	// Returns ErrCollectionExists if the name is taken.
	CreateCollection(ctx context.Context, name string) (Collection, error)

	// GetCollection opens an existing collection.
	// Returns ErrCollectionNotFound if it does not exist.
	GetCollection(ctx context.Context, name string) (Collection, error)

	// GetOrCreateCollection opens the collection, creating it when missing.
	GetOrCreateCollection(ctx context.Context, name string) (Collection, error)

	// DeleteCollection removes a collection and all its documents.
	// Returns ErrCollectionNotFound if it does not exist.
	DeleteCollection(ctx context.Context, name string) error

	// ListCollections returns collection names in lexical order.
	ListCollections(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// Collection is a handle to one named set of documents.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// Add embeds texts and stores one document per id. ids, texts and
	// metadatas are parallel lists; a nil metadatas gives every document
	// empty metadata. Nothing is written if any id is empty, repeated, or
	// already stored.
	Add(ctx context.Context, ids, texts []string, metadatas []map[string]string) error

	// Update replaces the metadata of existing documents. Text and
	// embeddings are unchanged. Nothing is written if any id is missing.
	Update(ctx context.Context, ids []string, metadatas []map[string]string) error

	// Query returns, for each query text, the NResults closest documents
	// matching every Where pair, by ascending distance.
	Query(ctx context.Context, req QueryRequest) (*QueryResult, error)

	// Get returns the documents with the given ids, in the order requested.
	Get(ctx context.Context, ids ...string) ([]Document, error)

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)
}
