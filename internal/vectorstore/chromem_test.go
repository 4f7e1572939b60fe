package vectorstore

import (
	"context"
	"hash/fnv"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hashEmbedder produces deterministic unit-length vectors from text so
// store tests run without a real model.
type hashEmbedder struct{ dim int }

func (e *hashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	state := h.Sum64()

	vec := make([]float32, e.dim)
	var norm float64
	for i := range vec {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		v := float64(int64(state)) / float64(math.MaxInt64)
		vec[i] = float32(v)
		norm += v * v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}

func (e *hashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func newTestChromemStore(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(ChromemConfig{
		Path:              t.TempDir(),
		DefaultCollection: "test_memories",
	}, &hashEmbedder{dim: 32})
	require.NoError(t, err)
	return store
}

func TestChromemStore_AddAndSearch(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := scopedContext("agent-1")

	ids, err := store.AddDocuments(ctx, []Document{
		{Content: "postgres connection pooling configuration"},
		{Content: "kubernetes ingress routing rules"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEmpty(t, ids[0])

	results, err := store.Search(ctx, "postgres connection pooling configuration", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "postgres connection pooling configuration", results[0].Content)
	assert.Equal(t, "agent-1", results[0].Metadata["scope"])

	// Results ordered by descending similarity.
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestChromemStore_ScopeIsolation(t *testing.T) {
	store := newTestChromemStore(t)

	_, err := store.AddDocuments(scopedContext("agent-1"), []Document{{Content: "agent one secret plan"}})
	require.NoError(t, err)
	_, err = store.AddDocuments(scopedContext("agent-2"), []Document{{Content: "agent two other topic"}})
	require.NoError(t, err)

	results, err := store.Search(scopedContext("agent-2"), "agent one secret plan", 10)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "agent-2", r.Metadata["scope"], "scope leak: %q", r.Content)
	}
}

func TestChromemStore_FailsClosedWithoutScope(t *testing.T) {
	store := newTestChromemStore(t)

	_, err := store.AddDocuments(context.Background(), []Document{{Content: "x"}})
	assert.ErrorIs(t, err, ErrMissingScope)

	_, err = store.Search(context.Background(), "x", 5)
	assert.ErrorIs(t, err, ErrMissingScope)

	err = store.DeleteDocuments(context.Background(), []string{"id"})
	assert.ErrorIs(t, err, ErrMissingScope)
}

func TestChromemStore_SearchWithFilters(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := scopedContext("agent-1")

	_, err := store.AddDocuments(ctx, []Document{
		{Content: "deploy process notes", Metadata: map[string]interface{}{"kind": "procedure"}},
		{Content: "deploy outage postmortem", Metadata: map[string]interface{}{"kind": "episode"}},
	})
	require.NoError(t, err)

	results, err := store.SearchWithFilters(ctx, "deploy", 10, map[string]interface{}{"kind": "procedure"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "deploy process notes", results[0].Content)

	_, err = store.SearchWithFilters(ctx, "deploy", 10, map[string]interface{}{"scope": "agent-2"})
	assert.ErrorIs(t, err, ErrScopeFilterInUserFilters)
}

func TestChromemStore_DeleteDocuments(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := scopedContext("agent-1")

	ids, err := store.AddDocuments(ctx, []Document{{Content: "ephemeral note"}})
	require.NoError(t, err)

	require.NoError(t, store.DeleteDocuments(ctx, ids))

	results, err := store.Search(ctx, "ephemeral note", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.ErrorIs(t, store.DeleteDocuments(ctx, nil), ErrEmptyDocuments)
}

func TestChromemStore_Collections(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCollection(ctx, "test_decisions"))
	assert.ErrorIs(t, store.CreateCollection(ctx, "test_decisions"), ErrCollectionExists)
	assert.ErrorIs(t, store.CreateCollection(ctx, "Bad-Name"), ErrInvalidCollectionName)

	exists, err := store.CollectionExists(ctx, "test_decisions")
	require.NoError(t, err)
	assert.True(t, exists)

	names, err := store.ListCollections(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "test_decisions")
	assert.Contains(t, names, "test_memories")

	info, err := store.GetCollectionInfo(ctx, "test_decisions")
	require.NoError(t, err)
	assert.Equal(t, 0, info.DocumentCount)

	require.NoError(t, store.DeleteCollection(ctx, "test_decisions"))
	assert.ErrorIs(t, store.DeleteCollection(ctx, "test_decisions"), ErrCollectionNotFound)

	_, err = store.GetCollectionInfo(ctx, "missing")
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestChromemStore_DocumentCollectionOverride(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := scopedContext("agent-1")

	_, err := store.AddDocuments(ctx, []Document{
		{Content: "a past decision", Collection: "test_decisions"},
	})
	require.NoError(t, err)

	results, err := store.SearchInCollection(ctx, "test_decisions", "a past decision", 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// Default collection untouched.
	results, err = store.Search(ctx, "a past decision", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemStore_KLargerThanCollection(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := scopedContext("agent-1")

	_, err := store.AddDocuments(ctx, []Document{{Content: "only one"}})
	require.NoError(t, err)

	results, err := store.Search(ctx, "only one", 100)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestChromemStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	embedder := &hashEmbedder{dim: 32}
	ctx := scopedContext("agent-1")

	store, err := NewChromemStore(ChromemConfig{Path: dir, DefaultCollection: "test_memories"}, embedder)
	require.NoError(t, err)
	_, err = store.AddDocuments(ctx, []Document{{Content: "durable fact"}})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewChromemStore(ChromemConfig{Path: dir, DefaultCollection: "test_memories"}, embedder)
	require.NoError(t, err)
	results, err := reopened.Search(ctx, "durable fact", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "durable fact", results[0].Content)
}
