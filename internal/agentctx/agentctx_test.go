package agentctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func newFacade(t *testing.T, policy *decision.PolicyEngine) *AgentContext {
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
	retriever := retrieval.NewRetriever(retrieval.Config{RerankerEnabled: true},
		store, g, reranker.NewTermOverlap(), mem, mem.DecayParams(), nil)
	tracker := decision.NewTracker(decision.Config{}, store, g, nil, nil)

	return New(mem, retriever, tracker, policy, g, nil)
}

func TestWithScopeValidates(t *testing.T) {
	facade := newFacade(t, nil)

	_, err := facade.WithScope(context.Background(), "", "")
	assert.Error(t, err)

	ctx, err := facade.WithScope(context.Background(), "agent-a", "conv-1")
	require.NoError(t, err)
	assert.NotNil(t, ctx)
}

func TestStoreAndRetrieveRoundTrip(t *testing.T) {
	facade := newFacade(t, nil)
	ctx, err := facade.WithScope(context.Background(), "agent-a", "")
	require.NoError(t, err)

	stored, err := facade.Store(ctx, "the billing service runs on kubernetes", memory.StoreOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, stored.ID)

	results, err := facade.Retrieve(ctx, "billing service kubernetes", 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	found := false
	for _, r := range results {
		if r.ID == stored.ID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRetrieveIsScoped(t *testing.T) {
	facade := newFacade(t, nil)

	ctxA, err := facade.WithScope(context.Background(), "agent-a", "")
	require.NoError(t, err)
	_, err = facade.Store(ctxA, "private note about the incident", memory.StoreOptions{})
	require.NoError(t, err)

	ctxB, err := facade.WithScope(context.Background(), "agent-b", "")
	require.NoError(t, err)
	results, err := facade.Retrieve(ctxB, "private note incident", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results, "other scopes must not see the memory")
}

func TestConsolidateThroughFacade(t *testing.T) {
	facade := newFacade(t, nil)
	ctx, err := facade.WithScope(context.Background(), "agent-a", "conv-1")
	require.NoError(t, err)

	_, err = facade.Store(ctx, "first turn", memory.StoreOptions{ConversationID: "conv-1"})
	require.NoError(t, err)
	_, err = facade.Store(ctx, "second turn", memory.StoreOptions{ConversationID: "conv-1"})
	require.NoError(t, err)

	episode, err := facade.Consolidate(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, memory.KindEpisode, episode.Kind)
}

func TestRecordDecisionAllowed(t *testing.T) {
	facade := newFacade(t, nil)
	ctx, err := facade.WithScope(context.Background(), "agent-a", "")
	require.NoError(t, err)

	d, verdict, err := facade.RecordDecision(ctx, "deploy.staging", "tests pass", 0.8, nil)
	require.NoError(t, err)
	assert.Equal(t, decision.EffectAllow, verdict.Effect)
	assert.Equal(t, decision.OutcomePending, d.Outcome)

	resolved, err := facade.ResolveDecision(ctx, d.ID, decision.OutcomeSuccess)
	require.NoError(t, err)
	assert.Equal(t, decision.OutcomeSuccess, resolved.Outcome)
}

func TestRecordDecisionDenied(t *testing.T) {
	policy, err := decision.NewPolicyEngine(false, []decision.Rule{
		{Name: "no-prod", Actions: []string{"deploy.production"}, Effect: decision.EffectDeny, Reason: "frozen"},
	}, nil, nil)
	require.NoError(t, err)

	facade := newFacade(t, policy)
	ctx, err := facade.WithScope(context.Background(), "agent-a", "")
	require.NoError(t, err)

	_, verdict, err := facade.RecordDecision(ctx, "deploy.production", "", 0.9, nil)
	assert.ErrorIs(t, err, ErrActionDenied)
	assert.Equal(t, decision.EffectDeny, verdict.Effect)

	// Denied decisions leave no trace.
	precedents, err := facade.Precedents(ctx, "deploy.production", 5)
	require.NoError(t, err)
	assert.Empty(t, precedents)
}

func TestRecordDecisionRequiresApproval(t *testing.T) {
	policy, err := decision.NewPolicyEngine(false, []decision.Rule{
		{Name: "approvals", Actions: []string{"deploy.*"}, Effect: decision.EffectRequireApproval},
	}, nil, nil)
	require.NoError(t, err)

	facade := newFacade(t, policy)
	ctx, err := facade.WithScope(context.Background(), "agent-a", "")
	require.NoError(t, err)

	d, verdict, err := facade.RecordDecision(ctx, "deploy.staging", "", 0.7, nil)
	require.NoError(t, err, "approval requirement records but flags the verdict")
	assert.Equal(t, decision.EffectRequireApproval, verdict.Effect)
	assert.NotNil(t, d)
}

func TestGraphStatsAndNeighbors(t *testing.T) {
	facade := newFacade(t, nil)
	ctx, err := facade.WithScope(context.Background(), "agent-a", "")
	require.NoError(t, err)

	stored, err := facade.Store(ctx, "semanticd depends on qdrant", memory.StoreOptions{})
	require.NoError(t, err)

	stats, err := facade.GraphStats(ctx)
	require.NoError(t, err)
	assert.Positive(t, stats.Nodes)
	assert.Positive(t, stats.Edges)

	nodes, edges, err := facade.GraphNeighbors(ctx, memory.MemoryNodeID(stored.ID), 1)
	require.NoError(t, err)
	assert.NotEmpty(t, nodes)
	assert.NotEmpty(t, edges)

	verdict := facade.EvaluateAction(ctx, "anything", nil)
	assert.Equal(t, decision.EffectAllow, verdict.Effect)
}
