package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/semanticd/internal/agentctx"
	"github.com/fyrsmithlabs/semanticd/internal/decision"
	"github.com/fyrsmithlabs/semanticd/internal/embeddings"
	"github.com/fyrsmithlabs/semanticd/internal/extraction"
	"github.com/fyrsmithlabs/semanticd/internal/graph"
	"github.com/fyrsmithlabs/semanticd/internal/memory"
	"github.com/fyrsmithlabs/semanticd/internal/reranker"
	"github.com/fyrsmithlabs/semanticd/internal/retrieval"
	"github.com/fyrsmithlabs/semanticd/internal/secrets"
	"github.com/fyrsmithlabs/semanticd/internal/vectorstore"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path: t.TempDir(),
	}, embeddings.NewMockProvider(64))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	g, err := graph.NewMemoryStore(graph.Config{Path: t.TempDir() + "/graph.gob"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	extractor, err := extraction.NewExtractor(extraction.Config{}, nil)
	require.NoError(t, err)

	mem := memory.NewManager(memory.Config{}, store, g, extractor,
		secrets.MustNew(&secrets.Config{Enabled: true}), nil, nil)
	retriever := retrieval.NewRetriever(retrieval.Config{}, store, g,
		reranker.NewTermOverlap(), mem, mem.DecayParams(), nil)
	tracker := decision.NewTracker(decision.Config{}, store, g, nil, nil)

	agent := agentctx.New(mem, retriever, tracker, nil, g, nil)

	srv, err := NewServer(nil, agent)
	require.NoError(t, err)
	return srv
}

func TestNewServerRequiresAgent(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.Error(t, err)
}

func TestContextStoreAndRetrieve(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	out, summary, err := srv.handleContextStore(ctx, contextStoreInput{
		Scope:   "agent-a",
		Content: "the billing service runs on kubernetes",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.ID)
	assert.Contains(t, summary, out.ID)

	retrieved, _, err := srv.handleContextRetrieve(ctx, contextRetrieveInput{
		Scope: "agent-a",
		Query: "billing kubernetes",
		K:     5,
	})
	require.NoError(t, err)
	assert.Positive(t, retrieved.Count)
}

func TestContextStoreRequiresScope(t *testing.T) {
	srv := newTestServer(t)
	_, _, err := srv.handleContextStore(context.Background(), contextStoreInput{
		Content: "no scope provided",
	})
	assert.Error(t, err)
}

func TestMemoryConsolidateTool(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, _, err := srv.handleContextStore(ctx, contextStoreInput{
		Scope: "agent-a", ConversationID: "conv-1", Content: "first turn",
	})
	require.NoError(t, err)
	_, _, err = srv.handleContextStore(ctx, contextStoreInput{
		Scope: "agent-a", ConversationID: "conv-1", Content: "second turn",
	})
	require.NoError(t, err)

	out, _, err := srv.handleMemoryConsolidate(ctx, memoryConsolidateInput{
		Scope: "agent-a", ConversationID: "conv-1",
	})
	require.NoError(t, err)
	assert.Equal(t, memory.KindEpisode, out.Kind)
}

func TestGraphTools(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	stored, _, err := srv.handleContextStore(ctx, contextStoreInput{
		Scope:   "agent-a",
		Content: "semanticd depends on qdrant",
	})
	require.NoError(t, err)

	stats, _, err := srv.handleGraphStats(ctx, graphStatsInput{Scope: "agent-a"})
	require.NoError(t, err)
	assert.Positive(t, stats.Nodes)

	neighbors, _, err := srv.handleGraphNeighbors(ctx, graphNeighborsInput{
		Scope:  "agent-a",
		NodeID: memory.MemoryNodeID(stored.ID),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, neighbors.Nodes)
}

func TestDecisionTools(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	recorded, _, err := srv.handleDecisionRecord(ctx, decisionRecordInput{
		Scope:      "agent-a",
		Action:     "run database migration",
		Reasoning:  "schema change for billing",
		Confidence: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "pending", recorded.Outcome)
	assert.Equal(t, "allow", recorded.Effect)

	resolved, _, err := srv.handleDecisionOutcome(ctx, decisionOutcomeInput{
		Scope: "agent-a", ID: recorded.ID, Outcome: "success",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", resolved.Outcome)

	precedents, _, err := srv.handleDecisionPrecedents(ctx, decisionPrecedentsInput{
		Scope: "agent-a", Action: "run database migration",
	})
	require.NoError(t, err)
	assert.Positive(t, precedents.Count)
}

func TestDecisionOutcomeInvalid(t *testing.T) {
	srv := newTestServer(t)
	_, _, err := srv.handleDecisionOutcome(context.Background(), decisionOutcomeInput{
		Scope: "agent-a", ID: "whatever", Outcome: "shrug",
	})
	assert.ErrorIs(t, err, decision.ErrInvalidOutcome)
}
