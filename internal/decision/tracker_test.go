package decision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/semanticd/internal/embeddings"
	"github.com/fyrsmithlabs/semanticd/internal/graph"
	"github.com/fyrsmithlabs/semanticd/internal/vectorstore"
)

type trackerEnv struct {
	tracker *Tracker
	store   vectorstore.Store
	graph   *graph.MemoryStore
	now     time.Time
}

func newTrackerEnv(t *testing.T) *trackerEnv {
	t.Helper()

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path: t.TempDir(),
	}, embeddings.NewMockProvider(64))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	g, err := graph.NewMemoryStore(graph.Config{Path: t.TempDir() + "/graph.gob"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	env := &trackerEnv{
		store: store,
		graph: g,
		now:   time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}
	env.tracker = NewTracker(Config{}, store, g, nil, nil)
	env.tracker.now = func() time.Time { return env.now }
	return env
}

func scopedCtx() context.Context {
	return vectorstore.ContextWithScope(context.Background(), vectorstore.ScopeInfo{Scope: "agent-a"})
}

func TestRecordDecision(t *testing.T) {
	env := newTrackerEnv(t)
	ctx := scopedCtx()

	d, err := env.tracker.Record(ctx, "deploy.production", "tests green, low traffic window", 0.85, []string{"deploy"})
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, OutcomePending, d.Outcome)
	assert.Equal(t, "agent-a", d.Scope)

	node, err := env.graph.GetNode(ctx, DecisionNodeID(d.ID))
	require.NoError(t, err)
	assert.Equal(t, graph.NodeDecision, node.Type)
	assert.Equal(t, "deploy.production", node.Label)
	assert.Equal(t, "pending", node.Metadata["outcome"])
}

func TestRecordValidation(t *testing.T) {
	env := newTrackerEnv(t)
	ctx := scopedCtx()

	_, err := env.tracker.Record(ctx, "", "reason", 0.5, nil)
	assert.ErrorIs(t, err, ErrEmptyAction)

	_, err = env.tracker.Record(ctx, "act", "reason", 1.5, nil)
	assert.ErrorIs(t, err, ErrInvalidConfidence)
}

func TestRecordRequiresScope(t *testing.T) {
	env := newTrackerEnv(t)
	_, err := env.tracker.Record(context.Background(), "act", "", 0.5, nil)
	assert.ErrorIs(t, err, vectorstore.ErrMissingScope)
}

func TestRecordChainsFollows(t *testing.T) {
	env := newTrackerEnv(t)
	ctx := scopedCtx()

	first, err := env.tracker.Record(ctx, "first.action", "", 0.5, nil)
	require.NoError(t, err)
	env.now = env.now.Add(time.Minute)
	second, err := env.tracker.Record(ctx, "second.action", "", 0.5, nil)
	require.NoError(t, err)

	edge, err := env.graph.GetEdge(ctx, graph.EdgeKey{
		From: DecisionNodeID(second.ID),
		To:   DecisionNodeID(first.ID),
		Type: graph.EdgeFollows,
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, edge.Weight)
}

func TestChainRecoversFromGraph(t *testing.T) {
	env := newTrackerEnv(t)
	ctx := scopedCtx()

	first, err := env.tracker.Record(ctx, "before.restart", "", 0.5, nil)
	require.NoError(t, err)

	// Fresh tracker over the same stores, as after a daemon restart.
	restarted := NewTracker(Config{}, env.store, env.graph, nil, nil)
	restarted.now = func() time.Time { return env.now.Add(time.Hour) }

	second, err := restarted.Record(ctx, "after.restart", "", 0.5, nil)
	require.NoError(t, err)

	_, err = env.graph.GetEdge(ctx, graph.EdgeKey{
		From: DecisionNodeID(second.ID),
		To:   DecisionNodeID(first.ID),
		Type: graph.EdgeFollows,
	})
	assert.NoError(t, err)
}

func TestResolveOutcome(t *testing.T) {
	env := newTrackerEnv(t)
	ctx := scopedCtx()

	d, err := env.tracker.Record(ctx, "deploy.production", "", 0.8, nil)
	require.NoError(t, err)

	env.now = env.now.Add(time.Hour)
	resolved, err := env.tracker.Resolve(ctx, d.ID, OutcomeSuccess)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, resolved.Outcome)
	assert.False(t, resolved.ResolvedAt.IsZero())

	_, err = env.tracker.Resolve(ctx, d.ID, OutcomeFailure)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestResolveInvalidOutcome(t *testing.T) {
	env := newTrackerEnv(t)
	_, err := env.tracker.Resolve(scopedCtx(), "some-id", Outcome("shrug"))
	assert.ErrorIs(t, err, ErrInvalidOutcome)
}

func TestResolveUnknownDecision(t *testing.T) {
	env := newTrackerEnv(t)
	_, err := env.tracker.Resolve(scopedCtx(), "missing", OutcomeSuccess)
	assert.ErrorIs(t, err, ErrDecisionNotFound)
}

func TestResolveScopeMismatch(t *testing.T) {
	env := newTrackerEnv(t)

	d, err := env.tracker.Record(scopedCtx(), "private.action", "", 0.5, nil)
	require.NoError(t, err)

	other := vectorstore.ContextWithScope(context.Background(), vectorstore.ScopeInfo{Scope: "agent-b"})
	_, err = env.tracker.Resolve(other, d.ID, OutcomeSuccess)
	assert.ErrorIs(t, err, ErrDecisionNotFound)
}

func TestPrecedents(t *testing.T) {
	env := newTrackerEnv(t)
	ctx := scopedCtx()

	recorded, err := env.tracker.Record(ctx, "run database migration on staging", "schema change for billing", 0.7, nil)
	require.NoError(t, err)

	precedents, err := env.tracker.Precedents(ctx, "run database migration on staging", 5)
	require.NoError(t, err)
	require.NotEmpty(t, precedents)

	found := false
	for _, p := range precedents {
		if p.ID == recorded.ID {
			found = true
			assert.Equal(t, "run database migration on staging", p.Action)
			assert.Equal(t, OutcomePending, p.Outcome)
			assert.InDelta(t, 0.7, p.Confidence, 1e-9)
		}
	}
	assert.True(t, found)
}

func TestPrecedentsEmptyAction(t *testing.T) {
	env := newTrackerEnv(t)
	_, err := env.tracker.Precedents(scopedCtx(), "  ", 5)
	assert.ErrorIs(t, err, ErrEmptyAction)
}

func TestCalibration(t *testing.T) {
	env := newTrackerEnv(t)
	ctx := scopedCtx()

	confident, err := env.tracker.Record(ctx, "action.one", "", 0.9, nil)
	require.NoError(t, err)
	hesitant, err := env.tracker.Record(ctx, "action.two", "", 0.3, nil)
	require.NoError(t, err)
	_, err = env.tracker.Record(ctx, "action.three", "", 0.5, nil)
	require.NoError(t, err)

	_, err = env.tracker.Resolve(ctx, confident.ID, OutcomeSuccess)
	require.NoError(t, err)
	_, err = env.tracker.Resolve(ctx, hesitant.ID, OutcomeFailure)
	require.NoError(t, err)

	cal, err := env.tracker.Calibration(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cal.Resolved)
	assert.Equal(t, 1, cal.Pending)

	// 0.9 lands in [0.8, 1.0), 0.3 in [0.2, 0.4).
	top := cal.Buckets[4]
	assert.Equal(t, 1, top.Count)
	assert.Equal(t, 1.0, top.SuccessRate)
	low := cal.Buckets[1]
	assert.Equal(t, 1, low.Count)
	assert.Equal(t, 0.0, low.SuccessRate)
}
