// internal/retrieval/retriever.go

// Package retrieval ranks memories for a query by blending vector
// similarity with graph activation spread from query-matched entities,
// then applies relevance decay and an optional term-overlap rerank.
package retrieval

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semanticd/internal/graph"
	"github.com/fyrsmithlabs/semanticd/internal/memory"
	"github.com/fyrsmithlabs/semanticd/internal/reranker"
	"github.com/fyrsmithlabs/semanticd/internal/vectorstore"
)

var retrievalTracer = otel.Tracer("semanticd.retrieval")

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New("query is empty")

// Config tunes hybrid scoring.
type Config struct {
	// HybridAlpha weights vector similarity against graph activation.
	// 1.0 is pure vector search, 0 pure graph. A pointer so an explicit
	// zero is distinguishable from unset; nil defaults to 0.7.
	HybridAlpha *float64

	// MaxResults caps k.
	MaxResults int

	// ActivationMaxHops bounds activation spread from query entities.
	ActivationMaxHops int

	// ActivationDecay is the per-hop energy decay.
	ActivationDecay float64

	// CandidateMultiple oversamples the vector search so graph and
	// decay re-scoring has candidates to promote.
	CandidateMultiple int

	// RerankerEnabled applies the term-overlap rerank pass.
	RerankerEnabled bool
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.HybridAlpha == nil {
		alpha := 0.7
		c.HybridAlpha = &alpha
	}
	if c.MaxResults == 0 {
		c.MaxResults = 10
	}
	if c.ActivationMaxHops == 0 {
		c.ActivationMaxHops = 2
	}
	if c.ActivationDecay == 0 {
		c.ActivationDecay = 0.5
	}
	if c.CandidateMultiple == 0 {
		c.CandidateMultiple = 3
	}
}

// Result is one ranked memory.
type Result struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`

	// VectorScore and GraphScore are the blended components.
	VectorScore float64 `json:"vector_score"`
	GraphScore  float64 `json:"graph_score"`

	// Relevance is the decayed relevance multiplier applied.
	Relevance float64 `json:"relevance"`

	StoredAt time.Time              `json:"stored_at,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Toucher resets relevance on retrieved memories.
type Toucher interface {
	Touch(ctx context.Context, result vectorstore.SearchResult) error
}

// Retriever runs the hybrid retrieval pipeline.
type Retriever struct {
	mu       sync.RWMutex
	cfg      Config
	store    vectorstore.Store
	graph    graph.GraphStore
	reranker reranker.Reranker
	toucher  Toucher
	decay    memory.DecayParams
	logger   *zap.Logger

	now func() time.Time
}

// NewRetriever wires the pipeline. Graph, reranker, and toucher may be
// nil; the corresponding stage is skipped.
func NewRetriever(cfg Config, store vectorstore.Store, g graph.GraphStore, rr reranker.Reranker, toucher Toucher, decay memory.DecayParams, logger *zap.Logger) *Retriever {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		cfg:      cfg,
		store:    store,
		graph:    g,
		reranker: rr,
		toucher:  toucher,
		decay:    decay,
		logger:   logger,
		now:      time.Now,
	}
}

// SetConfig swaps the scoring configuration. In-flight retrievals keep
// the snapshot they started with; the next Retrieve sees the new values.
func (r *Retriever) SetConfig(cfg Config) {
	cfg.ApplyDefaults()
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
	r.logger.Info("retrieval config updated",
		zap.Float64("hybrid_alpha", *cfg.HybridAlpha),
		zap.Int("max_results", cfg.MaxResults),
		zap.Bool("reranker_enabled", cfg.RerankerEnabled),
	)
}

// config returns a snapshot of the current configuration.
func (r *Retriever) config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Retrieve returns up to k memories ranked by hybrid score, best
// first. Ties break toward the newer memory.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, filters map[string]interface{}) ([]Result, error) {
	ctx, span := retrievalTracer.Start(ctx, "retrieval.retrieve")
	defer span.End()

	cfg := r.config()

	if strings.TrimSpace(query) == "" {
		span.SetStatus(codes.Error, ErrEmptyQuery.Error())
		return nil, ErrEmptyQuery
	}
	if k <= 0 || k > cfg.MaxResults {
		k = cfg.MaxResults
	}

	candidates := k * cfg.CandidateMultiple
	hits, err := r.store.SearchWithFilters(ctx, query, candidates, filters)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(hits) == 0 {
		span.SetStatus(codes.Ok, "")
		return []Result{}, nil
	}

	activation := r.activate(ctx, query, cfg)

	alpha := *cfg.HybridAlpha
	now := r.now()
	byID := make(map[string]Result, len(hits))
	for _, hit := range hits {
		vectorScore := float64(hit.Score)
		graphScore := activation[memory.MemoryNodeID(hit.ID)]
		hybrid := alpha*vectorScore + (1-alpha)*graphScore

		base, touched := memory.RelevanceFromMetadata(hit.Metadata)
		relevance := memory.DecayedRelevance(base, touched, now, r.decay)

		result := Result{
			ID:          hit.ID,
			Content:     hit.Content,
			Score:       hybrid * relevance,
			VectorScore: vectorScore,
			GraphScore:  graphScore,
			Relevance:   relevance,
			StoredAt:    storedAt(hit.Metadata),
			Metadata:    hit.Metadata,
		}
		// Duplicate IDs keep the higher score.
		if prev, ok := byID[hit.ID]; !ok || result.Score > prev.Score {
			byID[hit.ID] = result
		}
	}

	results := make([]Result, 0, len(byID))
	for _, result := range byID {
		results = append(results, result)
	}

	if cfg.RerankerEnabled && r.reranker != nil {
		results = r.rerank(ctx, query, results)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].StoredAt.After(results[j].StoredAt)
	})
	if len(results) > k {
		results = results[:k]
	}

	r.touch(ctx, results)

	span.SetAttributes(
		attribute.Int("retrieval.candidates", len(hits)),
		attribute.Int("retrieval.results", len(results)),
	)
	span.SetStatus(codes.Ok, "")
	return results, nil
}

// activate seeds graph activation from entities matching query terms.
// Failures degrade to pure vector scoring.
func (r *Retriever) activate(ctx context.Context, query string, cfg Config) map[string]float64 {
	if r.graph == nil {
		return nil
	}
	scope, err := vectorstore.ScopeFromContext(ctx)
	if err != nil {
		return nil
	}

	seeds := make(map[string]float64)
	for _, term := range queryTerms(query) {
		id := memory.EntityNodeID(scope.Scope, term)
		if _, err := r.graph.GetNode(ctx, id); err == nil {
			seeds[id] = 1.0
		}
	}
	if len(seeds) == 0 {
		return nil
	}

	activation, err := r.graph.Activate(ctx, seeds, cfg.ActivationMaxHops, cfg.ActivationDecay)
	if err != nil {
		r.logger.Warn("graph activation failed", zap.Error(err))
		return nil
	}
	return activation
}

// rerank folds term overlap into the scores, preserving the hybrid
// score's scale.
func (r *Retriever) rerank(ctx context.Context, query string, results []Result) []Result {
	docs := make([]reranker.Document, len(results))
	index := make(map[string]int, len(results))
	for i, result := range results {
		docs[i] = reranker.Document{
			ID:      result.ID,
			Content: result.Content,
			Score:   float32(result.Score),
		}
		index[result.ID] = i
	}

	scored, err := r.reranker.Rerank(ctx, query, docs, 0)
	if err != nil {
		r.logger.Warn("rerank failed", zap.Error(err))
		return results
	}
	for _, doc := range scored {
		if i, ok := index[doc.ID]; ok {
			results[i].Score = float64(doc.Combined)
		}
	}
	return results
}

// touch resets relevance on the returned memories, best effort.
func (r *Retriever) touch(ctx context.Context, results []Result) {
	if r.toucher == nil {
		return
	}
	for _, result := range results {
		hit := vectorstore.SearchResult{
			ID:       result.ID,
			Content:  result.Content,
			Score:    float32(result.Score),
			Metadata: result.Metadata,
		}
		if err := r.toucher.Touch(ctx, hit); err != nil {
			r.logger.Warn("touch failed", zap.String("id", result.ID), zap.Error(err))
		}
	}
}

func storedAt(md map[string]interface{}) time.Time {
	s, ok := md[memory.MetaStoredAt].(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// queryTerms lowercases and splits the query, dropping short tokens.
func queryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '_' && r != '-' && r != '.'
	})
	terms := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 {
			terms = append(terms, f)
		}
	}
	return terms
}
