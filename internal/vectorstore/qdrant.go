// internal/vectorstore/qdrant.go
package vectorstore

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("semanticd.vectorstore.qdrant")

const (
	// maxK caps result counts to protect the server.
	maxK = 10000

	// maxQueryLength caps query text size.
	maxQueryLength = 10000

	// payload keys reserved for document identity.
	payloadContentKey = "content"
	payloadIDKey      = "id"
)

// collectionNamePattern restricts collection names to lowercase
// alphanumerics and underscores, 1-64 chars.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName checks a collection name against naming rules
// shared by all backends.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidCollectionName, name, collectionNamePattern.String())
	}
	return nil
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
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

// QdrantConfig configures the Qdrant gRPC backend.
type QdrantConfig struct {
	Host                    string
	Port                    int
	APIKey                  string
	CollectionName          string
	VectorSize              int
	UseTLS                  bool
	Distance                qdrant.Distance
	MaxRetries              int
	RetryBackoff            time.Duration
	MaxMessageSize          int
	CircuitBreakerThreshold int
	Isolation               string
}

// ApplyDefaults fills in zero values.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.CollectionName == "" {
		c.CollectionName = "semanticd_memories"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.Distance == qdrant.Distance_UnknownDistance {
		c.Distance = qdrant.Distance_Cosine
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
}

// Validate checks the configuration.
func (c *QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.CollectionName)
}

// circuitBreaker trips after consecutive failures and resets after a
// cooldown, so a dead Qdrant doesn't absorb every request's retries.
type circuitBreaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	openUntil time.Time
}

func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return timeNow().After(cb.openUntil)
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.failures >= cb.threshold {
		cb.openUntil = timeNow().Add(30 * time.Second)
		cb.failures = 0
	}
}

// QdrantStore is a Store backed by a Qdrant server over gRPC.
type QdrantStore struct {
	client    *qdrant.Client
	embedder  Embedder
	cfg       QdrantConfig
	isolation IsolationMode
	breaker   *circuitBreaker

	// collectionCache avoids a GetCollectionInfo round trip per write.
	collectionCache sync.Map
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore connects to Qdrant and verifies the connection.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, embedder Embedder) (*QdrantStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}

	clientCfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	}

	if !cfg.UseTLS && cfg.Host != "localhost" && cfg.Host != "127.0.0.1" {
		fmt.Fprintf(os.Stderr, "warning: connecting to qdrant at %s without TLS\n", cfg.Host)
	}

	client, err := qdrant.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if _, err := client.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	isolation, err := IsolationModeFromString(cfg.Isolation)
	if err != nil {
		return nil, err
	}

	store := &QdrantStore{
		client:    client,
		embedder:  embedder,
		cfg:       cfg,
		isolation: isolation,
		breaker:   &circuitBreaker{threshold: cfg.CircuitBreakerThreshold},
	}

	if err := store.ensureCollection(ctx, cfg.CollectionName); err != nil {
		return nil, err
	}
	return store, nil
}

// retryOperation runs op with exponential backoff on transient errors.
func (s *QdrantStore) retryOperation(ctx context.Context, name string, op func() error) error {
	if !s.breaker.allow() {
		return fmt.Errorf("%w: circuit breaker open for %s", ErrConnectionFailed, name)
	}

	var err error
	backoff := s.cfg.RetryBackoff
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err = op(); err == nil {
			s.breaker.recordSuccess()
			return nil
		}
		if !IsTransientError(err) {
			break
		}
	}
	s.breaker.recordFailure()
	return fmt.Errorf("%s: %w", name, err)
}

// ensureCollection creates the collection if it doesn't exist.
func (s *QdrantStore) ensureCollection(ctx context.Context, name string) error {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.cfg.VectorSize),
			Distance: s.cfg.Distance,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	s.collectionCache.Store(name, true)
	return nil
}

// buildPayload converts document metadata to a Qdrant payload, reserving
// content and id keys for the document itself.
func buildPayload(doc Document, metadata map[string]interface{}) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(metadata)+2)
	payload[payloadContentKey] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: doc.Content}}
	payload[payloadIDKey] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: doc.ID}}
	for k, v := range metadata {
		if k == payloadContentKey || k == payloadIDKey {
			continue
		}
		switch val := v.(type) {
		case string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float32:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: float64(val)}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		default:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
		}
	}
	return payload
}

// pointID returns a Qdrant point ID for a document ID. Qdrant requires
// UUID or integer IDs; non-UUID document IDs get a fresh UUID and keep
// the real ID in the payload.
func pointID(docID string) *qdrant.PointId {
	if _, err := uuid.Parse(docID); err == nil {
		return qdrant.NewIDUUID(docID)
	}
	return qdrant.NewIDUUID(uuid.NewString())
}

// AddDocuments upserts documents with embeddings.
func (s *QdrantStore) AddDocuments(ctx context.Context, docs []Document) ([]string, error) {
	ctx, span := qdrantTracer.Start(ctx, "qdrant.add_documents")
	defer span.End()

	if len(docs) == 0 {
		span.SetStatus(codes.Error, "empty documents")
		return nil, ErrEmptyDocuments
	}
	span.SetAttributes(attribute.Int("documents.count", len(docs)))

	byCollection := make(map[string][]Document)
	ids := make([]string, len(docs))
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = uuid.NewString()
		}
		ids[i] = docs[i].ID

		name := docs[i].Collection
		if name == "" {
			name = s.cfg.CollectionName
		}
		byCollection[name] = append(byCollection[name], docs[i])
	}

	for name, group := range byCollection {
		if err := s.ensureCollection(ctx, name); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		texts := make([]string, len(group))
		for i, doc := range group {
			texts[i] = doc.Content
		}
		embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		points := make([]*qdrant.PointStruct, len(group))
		for i, doc := range group {
			metadata, err := s.isolation.InjectMetadata(ctx, doc.Metadata)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			points[i] = &qdrant.PointStruct{
				Id:      pointID(doc.ID),
				Vectors: qdrant.NewVectors(embeddings[i]...),
				Payload: buildPayload(doc, metadata),
			}
		}

		err = s.retryOperation(ctx, "upsert", func() error {
			_, opErr := s.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: name,
				Points:         points,
			})
			return opErr
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	span.SetStatus(codes.Ok, "")
	return ids, nil
}

// buildFilter converts a flat metadata filter to a Qdrant must-match filter.
func buildFilter(filters map[string]interface{}) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(filters))
	for k, v := range filters {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: k,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: fmt.Sprintf("%v", v)},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}

// Search performs semantic search in the default collection.
func (s *QdrantStore) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	return s.SearchInCollection(ctx, s.cfg.CollectionName, query, k, nil)
}

// SearchWithFilters performs semantic search with metadata filters.
func (s *QdrantStore) SearchWithFilters(ctx context.Context, query string, k int, filters map[string]interface{}) ([]SearchResult, error) {
	return s.SearchInCollection(ctx, s.cfg.CollectionName, query, k, filters)
}

// SearchInCollection performs semantic search in a named collection.
func (s *QdrantStore) SearchInCollection(ctx context.Context, collection, query string, k int, filters map[string]interface{}) ([]SearchResult, error) {
	return s.search(ctx, collection, query, k, filters, false)
}

// ExactSearch bypasses the HNSW index for exact (slow) search. Useful for
// recall evaluation against the approximate index.
func (s *QdrantStore) ExactSearch(ctx context.Context, query string, k int) ([]SearchResult, error) {
	return s.search(ctx, s.cfg.CollectionName, query, k, nil, true)
}

func (s *QdrantStore) search(ctx context.Context, collection, query string, k int, filters map[string]interface{}, exact bool) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "qdrant.search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection.name", collection),
		attribute.Int("search.k", k),
		attribute.Bool("search.exact", exact),
	)

	if query == "" {
		err := fmt.Errorf("%w: query cannot be empty", ErrInvalidConfig)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(query) > maxQueryLength {
		err := fmt.Errorf("%w: query exceeds %d characters", ErrInvalidConfig, maxQueryLength)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if k <= 0 {
		k = 10
	}
	if k > maxK {
		k = maxK
	}

	merged, err := s.isolation.InjectFilter(ctx, filters)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         buildFilter(merged),
	}
	if exact {
		req.Params = &qdrant.SearchParams{Exact: qdrant.PtrOf(true)}
	}

	var points []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "query", func() error {
		var opErr error
		points, opErr = s.client.Query(ctx, req)
		return opErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		results = append(results, scoredPointToResult(p))
	}

	span.SetAttributes(attribute.Int("results.count", len(results)))
	span.SetStatus(codes.Ok, "")
	return results, nil
}

// scoredPointToResult converts a Qdrant scored point back to a SearchResult,
// pulling content and the original document ID out of the payload.
func scoredPointToResult(p *qdrant.ScoredPoint) SearchResult {
	result := SearchResult{Score: p.Score}
	if id := p.GetId(); id != nil {
		result.ID = id.GetUuid()
	}
	metadata := make(map[string]interface{}, len(p.Payload))
	for k, v := range p.Payload {
		switch k {
		case payloadContentKey:
			result.Content = v.GetStringValue()
		case payloadIDKey:
			if s := v.GetStringValue(); s != "" {
				result.ID = s
			}
		default:
			metadata[k] = payloadValueToInterface(v)
		}
	}
	if len(metadata) > 0 {
		result.Metadata = metadata
	}
	return result
}

func payloadValueToInterface(v *qdrant.Value) interface{} {
	switch kind := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return v.String()
	}
}

// DeleteDocuments removes documents by ID from the default collection.
func (s *QdrantStore) DeleteDocuments(ctx context.Context, ids []string) error {
	return s.DeleteDocumentsFromCollection(ctx, s.cfg.CollectionName, ids)
}

// DeleteDocumentsFromCollection removes documents by payload ID. Matching
// on the payload id field catches documents whose point IDs were
// regenerated as UUIDs on insert.
func (s *QdrantStore) DeleteDocumentsFromCollection(ctx context.Context, collection string, ids []string) error {
	ctx, span := qdrantTracer.Start(ctx, "qdrant.delete_documents")
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

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: payloadIDKey,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{
							Keywords: &qdrant.RepeatedStrings{Strings: ids},
						},
					},
				},
			},
		}},
	}

	err := s.retryOperation(ctx, "delete", func() error {
		_, opErr := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
			},
		})
		return opErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// CreateCollection creates a new collection.
func (s *QdrantStore) CreateCollection(ctx context.Context, name string) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}
	return s.ensureCollection(ctx, name)
}

// DeleteCollection removes a collection and all its documents.
func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	s.collectionCache.Delete(name)
	return nil
}

// CollectionExists checks whether a collection exists, with a local cache
// for the positive case.
func (s *QdrantStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	if _, ok := s.collectionCache.Load(name); ok {
		return true, nil
	}
	_, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	s.collectionCache.Store(name, true)
	return true, nil
}

// ListCollections returns all collection names.
func (s *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return names, nil
}

// GetCollectionInfo returns collection metadata.
func (s *QdrantStore) GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	count := 0
	if info.PointsCount != nil {
		count = int(*info.PointsCount)
	}
	return &CollectionInfo{
		Name:          name,
		DocumentCount: count,
		Dimension:     s.cfg.VectorSize,
	}, nil
}

// SetIsolationMode configures scope isolation.
func (s *QdrantStore) SetIsolationMode(mode IsolationMode) {
	if mode != nil {
		s.isolation = mode
	}
}

// IsolationMode returns the active isolation mode.
func (s *QdrantStore) IsolationMode() IsolationMode { return s.isolation }

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error { return s.client.Close() }
