// internal/vectorstore/interface.go
package vectorstore

import (
	"context"
	"errors"
)

// Common errors returned by vector store implementations.
var (
	// ErrCollectionNotFound is returned when a collection doesn't exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCollectionExists is returned when creating a collection that already exists.
	ErrCollectionExists = errors.New("collection already exists")

	// ErrInvalidConfig is returned when store configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments is returned when no documents are provided.
	ErrEmptyDocuments = errors.New("no documents provided")

	// ErrConnectionFailed is returned when connection to the store fails.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrInvalidCollectionName is returned when a collection name fails validation.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// Embedder generates embeddings for text content.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// CollectionInfo describes a collection.
type CollectionInfo struct {
	Name          string
	DocumentCount int
	Dimension     int
}

// Store is the interface for vector storage backends.
//
// All document operations require scope information in the context
// (via ContextWithScope) unless the store runs with NoIsolation.
type Store interface {
	// AddDocuments stores documents with their embeddings in the default
	// collection. Documents carrying a Collection override go to that
	// collection instead. Returns the stored document IDs.
	AddDocuments(ctx context.Context, docs []Document) ([]string, error)

	// Search performs semantic similarity search in the default collection.
	Search(ctx context.Context, query string, k int) ([]SearchResult, error)

	// SearchWithFilters performs semantic search with metadata filters.
	// Scope filter keys are injected by the store; user filters naming
	// scope keys are rejected.
	SearchWithFilters(ctx context.Context, query string, k int, filters map[string]interface{}) ([]SearchResult, error)

	// SearchInCollection performs semantic search in a specific collection.
	SearchInCollection(ctx context.Context, collection, query string, k int, filters map[string]interface{}) ([]SearchResult, error)

	// DeleteDocuments removes documents by ID from the default collection.
	DeleteDocuments(ctx context.Context, ids []string) error

	// DeleteDocumentsFromCollection removes documents by ID from a specific collection.
	DeleteDocumentsFromCollection(ctx context.Context, collection string, ids []string) error

	// CreateCollection creates a new collection.
	CreateCollection(ctx context.Context, name string) error

	// DeleteCollection removes a collection and all its documents.
	DeleteCollection(ctx context.Context, name string) error

	// CollectionExists checks whether a collection exists.
	CollectionExists(ctx context.Context, name string) (bool, error)

	// ListCollections returns all collection names.
	ListCollections(ctx context.Context) ([]string, error)

	// GetCollectionInfo returns metadata about a collection.
	GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)

	// SetIsolationMode configures how scope isolation is enforced.
	SetIsolationMode(mode IsolationMode)

	// IsolationMode returns the active isolation mode.
	IsolationMode() IsolationMode

	// Close releases resources held by the store.
	Close() error
}
