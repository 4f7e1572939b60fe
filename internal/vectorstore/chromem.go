// internal/vectorstore/chromem.go
package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var chromemTracer = otel.Tracer("semanticd.vectorstore.chromem")

// timeNow is stubbed in tests.
var timeNow = time.Now

// ChromemConfig configures the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the persistence directory. Defaults to
	// ~/.config/semanticd/vectorstore.
	Path string

	// Compress enables gzip compression of persisted collections.
	Compress bool

	// DefaultCollection receives documents without an explicit collection.
	DefaultCollection string

	// Isolation selects the scope isolation mode ("scope" or "none").
	Isolation string
}

// ApplyDefaults fills in zero values.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.Path = filepath.Join(home, ".config", "semanticd", "vectorstore")
		}
	}
	if c.DefaultCollection == "" {
		c.DefaultCollection = "semanticd_memories"
	}
}

// Validate checks the configuration.
func (c *ChromemConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if err := ValidateCollectionName(c.DefaultCollection); err != nil {
		return err
	}
	return nil
}

// ChromemStore is a Store backed by embedded chromem-go persistence.
// No external service required; suitable for local single-process use.
type ChromemStore struct {
	db                *chromem.DB
	embedder          Embedder
	defaultCollection string
	isolation         IsolationMode
}

var _ Store = (*ChromemStore)(nil)

// NewChromemStore opens (or creates) a persistent chromem database.
func NewChromemStore(cfg ChromemConfig, embedder Embedder) (*ChromemStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}

	db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	isolation, err := IsolationModeFromString(cfg.Isolation)
	if err != nil {
		return nil, err
	}

	store := &ChromemStore{
		db:                db,
		embedder:          embedder,
		defaultCollection: cfg.DefaultCollection,
		isolation:         isolation,
	}

	// Ensure the default collection exists up front so first search
	// doesn't race first write.
	if _, err := store.getOrCreateCollection(cfg.DefaultCollection); err != nil {
		return nil, err
	}
	return store, nil
}

// embeddingFunc adapts the Embedder to chromem's callback signature.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *ChromemStore) getOrCreateCollection(name string) (*chromem.Collection, error) {
	col, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return col, nil
}

// getCollection returns an existing collection or ErrCollectionNotFound.
// The embedding func must always be passed: chromem falls back to an
// OpenAI default otherwise.
func (s *ChromemStore) getCollection(name string) (*chromem.Collection, error) {
	col := s.db.GetCollection(name, s.embeddingFunc())
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return col, nil
}

// AddDocuments stores documents, injecting scope metadata per document.
func (s *ChromemStore) AddDocuments(ctx context.Context, docs []Document) ([]string, error) {
	ctx, span := chromemTracer.Start(ctx, "chromem.add_documents")
	defer span.End()

	if len(docs) == 0 {
		span.SetStatus(codes.Error, "empty documents")
		return nil, ErrEmptyDocuments
	}
	span.SetAttributes(attribute.Int("documents.count", len(docs)))

	byCollection := make(map[string][]Document)
	for _, doc := range docs {
		name := doc.Collection
		if name == "" {
			name = s.defaultCollection
		}
		byCollection[name] = append(byCollection[name], doc)
	}

	ids := make([]string, 0, len(docs))
	for name, group := range byCollection {
		col, err := s.getOrCreateCollection(name)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		chromemDocs := make([]chromem.Document, 0, len(group))
		for _, doc := range group {
			metadata, err := s.isolation.InjectMetadata(ctx, doc.Metadata)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}

			id := doc.ID
			if id == "" {
				id = uuid.NewString()
			}
			chromemDocs = append(chromemDocs, chromem.Document{
				ID:       id,
				Content:  doc.Content,
				Metadata: convertMetadataToString(metadata),
			})
			ids = append(ids, id)
		}

		if err := col.AddDocuments(ctx, chromemDocs, 1); err != nil {
			err = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	span.SetStatus(codes.Ok, "")
	return ids, nil
}

// Search performs semantic search in the default collection.
func (s *ChromemStore) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	return s.SearchInCollection(ctx, s.defaultCollection, query, k, nil)
}

// SearchWithFilters performs semantic search with metadata filters in the
// default collection.
func (s *ChromemStore) SearchWithFilters(ctx context.Context, query string, k int, filters map[string]interface{}) ([]SearchResult, error) {
	return s.SearchInCollection(ctx, s.defaultCollection, query, k, filters)
}

// SearchInCollection performs semantic search in a named collection.
func (s *ChromemStore) SearchInCollection(ctx context.Context, collection, query string, k int, filters map[string]interface{}) ([]SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "chromem.search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection.name", collection),
		attribute.Int("search.k", k),
	)

	if query == "" {
		err := fmt.Errorf("%w: query cannot be empty", ErrInvalidConfig)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if k <= 0 {
		k = 10
	}

	merged, err := s.isolation.InjectFilter(ctx, filters)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	col, err := s.getCollection(collection)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// chromem errors if k exceeds the collection size.
	if count := col.Count(); k > count {
		k = count
	}
	if k == 0 {
		span.SetStatus(codes.Ok, "")
		return []SearchResult{}, nil
	}

	results, err := col.Query(ctx, query, k, convertMetadataToString(merged), nil)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Similarity,
			Metadata: convertMetadataFromString(r.Metadata),
		})
	}

	span.SetAttributes(attribute.Int("results.count", len(out)))
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// DeleteDocuments removes documents by ID from the default collection.
func (s *ChromemStore) DeleteDocuments(ctx context.Context, ids []string) error {
	return s.DeleteDocumentsFromCollection(ctx, s.defaultCollection, ids)
}

// DeleteDocumentsFromCollection removes documents by ID.
func (s *ChromemStore) DeleteDocumentsFromCollection(ctx context.Context, collection string, ids []string) error {
	ctx, span := chromemTracer.Start(ctx, "chromem.delete_documents")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection.name", collection),
		attribute.Int("documents.count", len(ids)),
	)

	if len(ids) == 0 {
		span.SetStatus(codes.Error, "empty ids")
		return ErrEmptyDocuments
	}
	if err := s.isolation.ValidateScope(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	col, err := s.getCollection(collection)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete documents: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// CreateCollection creates a new collection.
func (s *ChromemStore) CreateCollection(ctx context.Context, name string) error {
	_, span := chromemTracer.Start(ctx, "chromem.create_collection")
	defer span.End()
	span.SetAttributes(attribute.String("collection.name", name))

	if err := ValidateCollectionName(name); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if s.db.GetCollection(name, s.embeddingFunc()) != nil {
		err := fmt.Errorf("%w: %s", ErrCollectionExists, name)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if _, err := s.db.CreateCollection(name, nil, s.embeddingFunc()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("create collection: %w", err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// DeleteCollection removes a collection and its documents.
func (s *ChromemStore) DeleteCollection(ctx context.Context, name string) error {
	_, span := chromemTracer.Start(ctx, "chromem.delete_collection")
	defer span.End()
	span.SetAttributes(attribute.String("collection.name", name))

	if s.db.GetCollection(name, s.embeddingFunc()) == nil {
		err := fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := s.db.DeleteCollection(name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete collection: %w", err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// CollectionExists checks whether a collection exists.
func (s *ChromemStore) CollectionExists(_ context.Context, name string) (bool, error) {
	return s.db.GetCollection(name, s.embeddingFunc()) != nil, nil
}

// ListCollections returns all collection names.
func (s *ChromemStore) ListCollections(_ context.Context) ([]string, error) {
	collections := s.db.ListCollections()
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	return names, nil
}

// GetCollectionInfo returns collection metadata.
func (s *ChromemStore) GetCollectionInfo(_ context.Context, name string) (*CollectionInfo, error) {
	col := s.db.GetCollection(name, s.embeddingFunc())
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return &CollectionInfo{
		Name:          name,
		DocumentCount: col.Count(),
	}, nil
}

// SetIsolationMode configures scope isolation.
func (s *ChromemStore) SetIsolationMode(mode IsolationMode) {
	if mode != nil {
		s.isolation = mode
	}
}

// IsolationMode returns the active isolation mode.
func (s *ChromemStore) IsolationMode() IsolationMode { return s.isolation }

// Close is a no-op; chromem persists synchronously on write.
func (s *ChromemStore) Close() error { return nil }
