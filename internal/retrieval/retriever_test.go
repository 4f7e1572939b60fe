package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/semanticd/internal/graph"
	"github.com/fyrsmithlabs/semanticd/internal/memory"
	"github.com/fyrsmithlabs/semanticd/internal/reranker"
	"github.com/fyrsmithlabs/semanticd/internal/vectorstore"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// fakeStore serves canned search results.
type fakeStore struct {
	vectorstore.Store
	hits    []vectorstore.SearchResult
	touched []string
}

func (f *fakeStore) SearchWithFilters(_ context.Context, _ string, k int, _ map[string]interface{}) ([]vectorstore.SearchResult, error) {
	if k > len(f.hits) {
		k = len(f.hits)
	}
	return f.hits[:k], nil
}

func (f *fakeStore) AddDocuments(_ context.Context, docs []vectorstore.Document) ([]string, error) {
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
		f.touched = append(f.touched, doc.ID)
	}
	return ids, nil
}

func scopedCtx() context.Context {
	return vectorstore.ContextWithScope(context.Background(), vectorstore.ScopeInfo{Scope: "agent-a"})
}

func freshMetadata() map[string]interface{} {
	return map[string]interface{}{
		memory.MetaTouchedAt: testNow.Format(time.RFC3339),
		memory.MetaStoredAt:  testNow.Format(time.RFC3339),
		memory.MetaRelevance: "1",
	}
}

func newRetriever(t *testing.T, store vectorstore.Store, g graph.GraphStore, cfg Config) *Retriever {
	t.Helper()
	r := NewRetriever(cfg, store, g, reranker.NewTermOverlap(), nil,
		memory.DecayParams{HalfLife: 90 * 24 * time.Hour, Floor: 0.1}, nil)
	r.now = func() time.Time { return testNow }
	return r
}

func newTestGraph(t *testing.T) *graph.MemoryStore {
	t.Helper()
	g, err := graph.NewMemoryStore(graph.Config{Path: t.TempDir() + "/graph.gob"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestRetrieveBlendsGraphActivation(t *testing.T) {
	g := newTestGraph(t)
	ctx := scopedCtx()
	entityID := memory.EntityNodeID("agent-a", "qdrant")
	require.NoError(t, g.UpsertNode(ctx, &graph.Node{ID: entityID, Type: graph.NodeEntity, Label: "qdrant", Scope: "agent-a"}))
	require.NoError(t, g.UpsertNode(ctx, &graph.Node{ID: memory.MemoryNodeID("A"), Type: graph.NodeMemory, Scope: "agent-a"}))
	require.NoError(t, g.UpsertEdge(ctx, &graph.Edge{
		From: memory.MemoryNodeID("A"), To: entityID, Type: graph.EdgeMentions, Weight: 1.0,
	}))

	store := &fakeStore{hits: []vectorstore.SearchResult{
		{ID: "B", Content: "unconnected memory", Score: 0.5, Metadata: freshMetadata()},
		{ID: "A", Content: "connected memory", Score: 0.5, Metadata: freshMetadata()},
	}}

	r := newRetriever(t, store, g, Config{})
	results, err := r.Retrieve(ctx, "qdrant", 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// A: 0.7*0.5 + 0.3*0.5 = 0.50, B: 0.7*0.5 = 0.35
	assert.Equal(t, "A", results[0].ID)
	assert.InDelta(t, 0.5, results[0].GraphScore, 1e-9)
	assert.InDelta(t, 0.50, results[0].Score, 1e-9)
	assert.InDelta(t, 0.35, results[1].Score, 1e-9)
}

func alphaPtr(a float64) *float64 { return &a }

func TestRetrieveAlphaZeroScoresByGraphOnly(t *testing.T) {
	g := newTestGraph(t)
	ctx := scopedCtx()
	entityID := memory.EntityNodeID("agent-a", "qdrant")
	require.NoError(t, g.UpsertNode(ctx, &graph.Node{ID: entityID, Type: graph.NodeEntity, Label: "qdrant", Scope: "agent-a"}))
	require.NoError(t, g.UpsertNode(ctx, &graph.Node{ID: memory.MemoryNodeID("A"), Type: graph.NodeMemory, Scope: "agent-a"}))
	require.NoError(t, g.UpsertEdge(ctx, &graph.Edge{
		From: memory.MemoryNodeID("A"), To: entityID, Type: graph.EdgeMentions, Weight: 1.0,
	}))

	store := &fakeStore{hits: []vectorstore.SearchResult{
		{ID: "B", Content: "unconnected memory", Score: 0.9, Metadata: freshMetadata()},
		{ID: "A", Content: "connected memory", Score: 0.1, Metadata: freshMetadata()},
	}}

	// An explicit zero alpha ignores vector similarity entirely.
	r := newRetriever(t, store, g, Config{HybridAlpha: alphaPtr(0)})
	results, err := r.Retrieve(ctx, "qdrant", 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "A", results[0].ID)
	assert.InDelta(t, 0.5, results[0].Score, 1e-9)
	assert.InDelta(t, 0.0, results[1].Score, 1e-9)
}

func TestSetConfigAppliesToNextRetrieve(t *testing.T) {
	store := &fakeStore{hits: []vectorstore.SearchResult{
		{ID: "a", Content: "x", Score: 0.5, Metadata: freshMetadata()},
	}}

	r := newRetriever(t, store, nil, Config{})
	results, err := r.Retrieve(scopedCtx(), "query", 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.35, results[0].Score, 1e-9)

	r.SetConfig(Config{HybridAlpha: alphaPtr(1.0)})
	results, err = r.Retrieve(scopedCtx(), "query", 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.5, results[0].Score, 1e-9)
}

func TestRetrieveAppliesDecay(t *testing.T) {
	old := map[string]interface{}{
		memory.MetaTouchedAt: testNow.Add(-90 * 24 * time.Hour).Format(time.RFC3339),
		memory.MetaStoredAt:  testNow.Add(-90 * 24 * time.Hour).Format(time.RFC3339),
		memory.MetaRelevance: "1",
	}
	store := &fakeStore{hits: []vectorstore.SearchResult{
		{ID: "old", Content: "stale", Score: 0.8, Metadata: old},
		{ID: "fresh", Content: "recent", Score: 0.8, Metadata: freshMetadata()},
	}}

	r := newRetriever(t, store, nil, Config{})
	results, err := r.Retrieve(scopedCtx(), "query", 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "fresh", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Relevance, 1e-9)
	assert.InDelta(t, 0.5, results[1].Relevance, 1e-9)
	// 0.7*0.8*0.5 = 0.28 (float32 rounding in the hit score)
	assert.InDelta(t, 0.28, results[1].Score, 1e-6)
}

func TestRetrieveTieBreaksNewer(t *testing.T) {
	older := freshMetadata()
	older[memory.MetaStoredAt] = testNow.Add(-time.Hour).Format(time.RFC3339)
	store := &fakeStore{hits: []vectorstore.SearchResult{
		{ID: "older", Content: "a", Score: 0.6, Metadata: older},
		{ID: "newer", Content: "b", Score: 0.6, Metadata: freshMetadata()},
	}}

	r := newRetriever(t, store, nil, Config{})
	results, err := r.Retrieve(scopedCtx(), "query", 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "newer", results[0].ID)
}

func TestRetrieveDeduplicates(t *testing.T) {
	store := &fakeStore{hits: []vectorstore.SearchResult{
		{ID: "dup", Content: "a", Score: 0.4, Metadata: freshMetadata()},
		{ID: "dup", Content: "a", Score: 0.9, Metadata: freshMetadata()},
	}}

	r := newRetriever(t, store, nil, Config{})
	results, err := r.Retrieve(scopedCtx(), "query", 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	// Max wins: 0.7*0.9 = 0.63 (float32 rounding in the hit score)
	assert.InDelta(t, 0.63, results[0].Score, 1e-6)
}

func TestRetrieveCapsK(t *testing.T) {
	hits := make([]vectorstore.SearchResult, 30)
	for i := range hits {
		hits[i] = vectorstore.SearchResult{
			ID: string(rune('a' + i)), Content: "x", Score: 0.5, Metadata: freshMetadata(),
		}
	}
	store := &fakeStore{hits: hits}

	r := newRetriever(t, store, nil, Config{MaxResults: 5})
	results, err := r.Retrieve(scopedCtx(), "query", 100, nil)
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestRetrieveEmptyQuery(t *testing.T) {
	r := newRetriever(t, &fakeStore{}, nil, Config{})
	_, err := r.Retrieve(scopedCtx(), "   ", 5, nil)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestRetrieveNoHits(t *testing.T) {
	r := newRetriever(t, &fakeStore{}, nil, Config{})
	results, err := r.Retrieve(scopedCtx(), "query", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveRerankPromotesOverlap(t *testing.T) {
	store := &fakeStore{hits: []vectorstore.SearchResult{
		{ID: "vague", Content: "gardening tips for spring tulips", Score: 0.9, Metadata: freshMetadata()},
		{ID: "literal", Content: "postgres connection pool exhausted", Score: 0.6, Metadata: freshMetadata()},
	}}

	r := newRetriever(t, store, nil, Config{RerankerEnabled: true})
	results, err := r.Retrieve(scopedCtx(), "postgres connection pool", 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "literal", results[0].ID)
}

type recordingToucher struct{ ids []string }

func (r *recordingToucher) Touch(_ context.Context, hit vectorstore.SearchResult) error {
	r.ids = append(r.ids, hit.ID)
	return nil
}

func TestRetrieveTouchesResults(t *testing.T) {
	store := &fakeStore{hits: []vectorstore.SearchResult{
		{ID: "a", Content: "x", Score: 0.5, Metadata: freshMetadata()},
		{ID: "b", Content: "y", Score: 0.4, Metadata: freshMetadata()},
	}}
	toucher := &recordingToucher{}

	r := NewRetriever(Config{}, store, nil, nil, toucher,
		memory.DecayParams{HalfLife: 90 * 24 * time.Hour, Floor: 0.1}, nil)
	r.now = func() time.Time { return testNow }

	results, err := r.Retrieve(scopedCtx(), "query", 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, toucher.ids)
}
