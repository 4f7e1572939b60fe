// internal/agentctx/agentctx.go

// Package agentctx is the facade agents talk to. It bundles the memory
// pipeline, hybrid retrieval, decision tracking, and policy evaluation
// behind one scoped API; the transport layers (HTTP, MCP) call only
// this package.
package agentctx

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semanticd/internal/decision"
	"github.com/fyrsmithlabs/semanticd/internal/graph"
	"github.com/fyrsmithlabs/semanticd/internal/memory"
	"github.com/fyrsmithlabs/semanticd/internal/retrieval"
	"github.com/fyrsmithlabs/semanticd/internal/vectorstore"
)

// ErrActionDenied is returned when policy denies a decision's action.
var ErrActionDenied = errors.New("action denied by policy")

// AgentContext is the semantic-layer facade.
type AgentContext struct {
	memory    *memory.Manager
	retriever *retrieval.Retriever
	decisions *decision.Tracker
	policy    *decision.PolicyEngine
	graph     graph.GraphStore
	logger    *zap.Logger
}

// New wires the facade. Policy may be nil (everything allowed).
func New(mem *memory.Manager, retriever *retrieval.Retriever, decisions *decision.Tracker, policy *decision.PolicyEngine, g graph.GraphStore, logger *zap.Logger) *AgentContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentContext{
		memory:    mem,
		retriever: retriever,
		decisions: decisions,
		policy:    policy,
		graph:     g,
		logger:    logger,
	}
}

// WithScope attaches the caller's scope to the context. Every other
// method requires it.
func (a *AgentContext) WithScope(ctx context.Context, scope, conversationID string) (context.Context, error) {
	info := vectorstore.ScopeInfo{Scope: scope, ConversationID: conversationID}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	return vectorstore.ContextWithScope(ctx, info), nil
}

// Store persists a memory through the full pipeline.
func (a *AgentContext) Store(ctx context.Context, content string, opts memory.StoreOptions) (*memory.StoredMemory, error) {
	return a.memory.Store(ctx, content, opts)
}

// Retrieve returns up to k memories ranked by hybrid score.
func (a *AgentContext) Retrieve(ctx context.Context, query string, k int, filters map[string]interface{}) ([]retrieval.Result, error) {
	return a.retriever.Retrieve(ctx, query, k, filters)
}

// Consolidate flushes a conversation's short-term buffer into one
// long-term episode.
func (a *AgentContext) Consolidate(ctx context.Context, conversationID string) (*memory.StoredMemory, error) {
	return a.memory.Consolidate(ctx, conversationID)
}

// RecordDecision evaluates policy and, unless denied, records the
// decision. The verdict is returned either way so callers can surface
// approval requirements.
func (a *AgentContext) RecordDecision(ctx context.Context, action, reasoning string, confidence float64, tags []string) (*decision.Decision, decision.Verdict, error) {
	verdict := decision.Verdict{Effect: decision.EffectAllow}
	if a.policy != nil {
		verdict = a.policy.Evaluate(action, tags)
		if verdict.Effect == decision.EffectDeny {
			return nil, verdict, fmt.Errorf("%w: %s (%s)", ErrActionDenied, action, verdict.Reason)
		}
	}
	d, err := a.decisions.Record(ctx, action, reasoning, confidence, tags)
	if err != nil {
		return nil, verdict, err
	}
	return d, verdict, nil
}

// ResolveDecision marks a pending decision's outcome.
func (a *AgentContext) ResolveDecision(ctx context.Context, id string, outcome decision.Outcome) (*decision.Decision, error) {
	return a.decisions.Resolve(ctx, id, outcome)
}

// Precedents returns prior decisions similar to a proposed action.
func (a *AgentContext) Precedents(ctx context.Context, action string, k int) ([]decision.Precedent, error) {
	return a.decisions.Precedents(ctx, action, k)
}

// Calibration summarizes confidence versus outcomes for the caller's
// scope.
func (a *AgentContext) Calibration(ctx context.Context) (*decision.Calibration, error) {
	return a.decisions.Calibration(ctx)
}

// EvaluateAction runs policy without recording anything.
func (a *AgentContext) EvaluateAction(_ context.Context, action string, tags []string) decision.Verdict {
	if a.policy == nil {
		return decision.Verdict{Effect: decision.EffectAllow}
	}
	return a.policy.Evaluate(action, tags)
}

// GraphStats reports graph size and composition.
func (a *AgentContext) GraphStats(ctx context.Context) (graph.Stats, error) {
	return a.graph.Stats(ctx)
}

// GraphNeighbors returns a node's neighborhood up to the given hops.
func (a *AgentContext) GraphNeighbors(ctx context.Context, nodeID string, hops int) ([]*graph.Node, []*graph.Edge, error) {
	if hops <= 0 {
		hops = 1
	}
	return a.graph.Neighborhood(ctx, nodeID, hops)
}
