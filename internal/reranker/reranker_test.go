package reranker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRerankBoostsTermOverlap(t *testing.T) {
	r := NewTermOverlap()
	docs := []Document{
		{ID: "semantic", Content: "unrelated text about gardening tulips", Score: 0.9},
		{ID: "literal", Content: "postgres connection pool exhausted", Score: 0.6},
	}

	results, err := r.Rerank(context.Background(), "postgres connection pool", docs, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// 0.5*0.6 + 0.5*1.0 = 0.8 beats 0.5*0.9 + 0 = 0.45
	assert.Equal(t, "literal", results[0].ID)
	assert.Equal(t, float32(1.0), results[0].Overlap)
	assert.InDelta(t, 0.8, float64(results[0].Combined), 1e-6)
	assert.Equal(t, 1, results[0].OriginalRank)
}

func TestRerankEmptyQueryFallsBack(t *testing.T) {
	r := NewTermOverlap()
	docs := []Document{
		{ID: "low", Content: "x", Score: 0.2},
		{ID: "high", Content: "y", Score: 0.9},
	}

	results, err := r.Rerank(context.Background(), "the of and", docs, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "high", results[0].ID)
	assert.Equal(t, float32(0.9), results[0].Combined)
}

func TestRerankTopK(t *testing.T) {
	r := NewTermOverlap()
	docs := []Document{
		{ID: "a", Content: "alpha beta", Score: 0.5},
		{ID: "b", Content: "alpha beta gamma", Score: 0.5},
		{ID: "c", Content: "unrelated", Score: 0.5},
	}

	results, err := r.Rerank(context.Background(), "alpha beta gamma", docs, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].ID)
}

func TestRerankEmptyDocs(t *testing.T) {
	r := NewTermOverlap()
	results, err := r.Rerank(context.Background(), "query", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRerankDescendingOrder(t *testing.T) {
	r := NewTermOverlap()
	docs := []Document{
		{ID: "a", Content: "kubernetes ingress routing", Score: 0.3},
		{ID: "b", Content: "kubernetes deployment", Score: 0.7},
		{ID: "c", Content: "nothing relevant here", Score: 0.5},
	}

	results, err := r.Rerank(context.Background(), "kubernetes ingress", docs, 0)
	require.NoError(t, err)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Combined, results[i].Combined)
	}
}

func TestTokenize(t *testing.T) {
	terms := tokenize("The Postgres-Connection POOL, is it exhausted?")
	assert.Equal(t, []string{"postgres", "connection", "pool", "exhausted"}, terms)
}

func TestTermOverlapDuplicateQueryTerms(t *testing.T) {
	overlap := termOverlap([]string{"pool", "pool", "postgres"}, []string{"pool"})
	assert.InDelta(t, 0.5, float64(overlap), 1e-6, "duplicates count once")
}
