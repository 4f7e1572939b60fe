// internal/mcp/tools.go
package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/semanticd/internal/decision"
	"github.com/fyrsmithlabs/semanticd/internal/memory"
)

// addTool registers an instrumented tool: metrics around the handler,
// the handler's summary line as the text content.
func addTool[In, Out any](s *Server, name, description string, handler func(ctx context.Context, args In) (Out, string, error)) {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        name,
		Description: description,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, name)
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, name)
			s.metrics.RecordInvocation(ctx, name, time.Since(start), toolErr)
		}()

		out, summary, err := handler(ctx, args)
		if err != nil {
			toolErr = err
			var zero Out
			return nil, zero, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: summary},
			},
		}, out, nil
	})
}

func (s *Server) registerTools() {
	addTool(s, "context_store",
		"Store a memory in the agent's semantic context", s.handleContextStore)
	addTool(s, "context_retrieve",
		"Retrieve memories ranked by hybrid vector and graph relevance", s.handleContextRetrieve)
	addTool(s, "memory_consolidate",
		"Consolidate a conversation's short-term buffer into one episode", s.handleMemoryConsolidate)
	addTool(s, "graph_neighbors",
		"Inspect a context graph node's neighborhood", s.handleGraphNeighbors)
	addTool(s, "graph_stats",
		"Report context graph size and composition", s.handleGraphStats)
	addTool(s, "decision_record",
		"Record an agent decision after policy evaluation", s.handleDecisionRecord)
	addTool(s, "decision_outcome",
		"Resolve a pending decision's outcome", s.handleDecisionOutcome)
	addTool(s, "decision_precedents",
		"Find prior decisions similar to a proposed action", s.handleDecisionPrecedents)
}

// ===== CONTEXT TOOLS =====

type contextStoreInput struct {
	Scope          string            `json:"scope" jsonschema:"required,Agent scope identifier"`
	ConversationID string            `json:"conversation_id,omitempty" jsonschema:"Conversation to buffer the turn under"`
	Content        string            `json:"content" jsonschema:"required,Text to remember"`
	Role           string            `json:"role,omitempty" jsonschema:"Turn role (user, assistant, tool)"`
	Kind           string            `json:"kind,omitempty" jsonschema:"Memory kind (fact, episode, insight)"`
	Tags           []string          `json:"tags,omitempty" jsonschema:"Free-form labels"`
	Metadata       map[string]string `json:"metadata,omitempty" jsonschema:"Extra metadata"`
}

type contextStoreOutput struct {
	ID             string `json:"id" jsonschema:"Memory ID"`
	Kind           string `json:"kind" jsonschema:"Memory kind"`
	Entities       int    `json:"entities" jsonschema:"Entities extracted"`
	Relations      int    `json:"relations" jsonschema:"Relations extracted"`
	SecretFindings int    `json:"secret_findings" jsonschema:"Secrets redacted before storage"`
}

func (s *Server) handleContextStore(ctx context.Context, args contextStoreInput) (contextStoreOutput, string, error) {
	ctx, err := s.agent.WithScope(ctx, args.Scope, args.ConversationID)
	if err != nil {
		return contextStoreOutput{}, "", err
	}
	stored, err := s.agent.Store(ctx, args.Content, memory.StoreOptions{
		ConversationID: args.ConversationID,
		Role:           args.Role,
		Kind:           args.Kind,
		Tags:           args.Tags,
		Metadata:       args.Metadata,
	})
	if err != nil {
		return contextStoreOutput{}, "", err
	}
	return contextStoreOutput{
		ID:             stored.ID,
		Kind:           stored.Kind,
		Entities:       stored.Entities,
		Relations:      stored.Relations,
		SecretFindings: stored.SecretFindings,
	}, fmt.Sprintf("Memory stored: %s", stored.ID), nil
}

type contextRetrieveInput struct {
	Scope          string                 `json:"scope" jsonschema:"required,Agent scope identifier"`
	ConversationID string                 `json:"conversation_id,omitempty" jsonschema:"Conversation scope"`
	Query          string                 `json:"query" jsonschema:"required,What to look for"`
	K              int                    `json:"k,omitempty" jsonschema:"Maximum results"`
	Filters        map[string]interface{} `json:"filters,omitempty" jsonschema:"Metadata filters"`
}

type retrievedMemory struct {
	ID          string  `json:"id" jsonschema:"Memory ID"`
	Content     string  `json:"content" jsonschema:"Memory content"`
	Score       float64 `json:"score" jsonschema:"Final hybrid score"`
	VectorScore float64 `json:"vector_score" jsonschema:"Vector similarity component"`
	GraphScore  float64 `json:"graph_score" jsonschema:"Graph activation component"`
	Relevance   float64 `json:"relevance" jsonschema:"Decayed relevance multiplier"`
}

type contextRetrieveOutput struct {
	Memories []retrievedMemory `json:"memories" jsonschema:"Ranked memories"`
	Count    int               `json:"count" jsonschema:"Number of memories returned"`
}

func (s *Server) handleContextRetrieve(ctx context.Context, args contextRetrieveInput) (contextRetrieveOutput, string, error) {
	ctx, err := s.agent.WithScope(ctx, args.Scope, args.ConversationID)
	if err != nil {
		return contextRetrieveOutput{}, "", err
	}
	results, err := s.agent.Retrieve(ctx, args.Query, args.K, args.Filters)
	if err != nil {
		return contextRetrieveOutput{}, "", err
	}
	out := contextRetrieveOutput{
		Memories: make([]retrievedMemory, len(results)),
		Count:    len(results),
	}
	for i, r := range results {
		out.Memories[i] = retrievedMemory{
			ID:          r.ID,
			Content:     r.Content,
			Score:       r.Score,
			VectorScore: r.VectorScore,
			GraphScore:  r.GraphScore,
			Relevance:   r.Relevance,
		}
	}
	return out, fmt.Sprintf("Retrieved %d memories", out.Count), nil
}

type memoryConsolidateInput struct {
	Scope          string `json:"scope" jsonschema:"required,Agent scope identifier"`
	ConversationID string `json:"conversation_id" jsonschema:"required,Conversation to consolidate"`
}

type memoryConsolidateOutput struct {
	ID   string `json:"id" jsonschema:"Episode memory ID"`
	Kind string `json:"kind" jsonschema:"Memory kind"`
}

func (s *Server) handleMemoryConsolidate(ctx context.Context, args memoryConsolidateInput) (memoryConsolidateOutput, string, error) {
	ctx, err := s.agent.WithScope(ctx, args.Scope, args.ConversationID)
	if err != nil {
		return memoryConsolidateOutput{}, "", err
	}
	episode, err := s.agent.Consolidate(ctx, args.ConversationID)
	if err != nil {
		return memoryConsolidateOutput{}, "", err
	}
	return memoryConsolidateOutput{
		ID:   episode.ID,
		Kind: episode.Kind,
	}, fmt.Sprintf("Conversation consolidated into %s", episode.ID), nil
}

// ===== GRAPH TOOLS =====

type graphNeighborsInput struct {
	Scope  string `json:"scope" jsonschema:"required,Agent scope identifier"`
	NodeID string `json:"node_id" jsonschema:"required,Graph node ID"`
	Hops   int    `json:"hops,omitempty" jsonschema:"Neighborhood radius (default 1)"`
}

type graphNode struct {
	ID    string `json:"id" jsonschema:"Node ID"`
	Type  string `json:"type" jsonschema:"Node type"`
	Label string `json:"label" jsonschema:"Node label"`
}

type graphEdge struct {
	From   string  `json:"from" jsonschema:"Source node ID"`
	To     string  `json:"to" jsonschema:"Target node ID"`
	Type   string  `json:"type" jsonschema:"Edge type"`
	Weight float64 `json:"weight" jsonschema:"Edge weight"`
}

type graphNeighborsOutput struct {
	Nodes []graphNode `json:"nodes" jsonschema:"Nodes in the neighborhood"`
	Edges []graphEdge `json:"edges" jsonschema:"Edges in the neighborhood"`
}

func (s *Server) handleGraphNeighbors(ctx context.Context, args graphNeighborsInput) (graphNeighborsOutput, string, error) {
	ctx, err := s.agent.WithScope(ctx, args.Scope, "")
	if err != nil {
		return graphNeighborsOutput{}, "", err
	}
	nodes, edges, err := s.agent.GraphNeighbors(ctx, args.NodeID, args.Hops)
	if err != nil {
		return graphNeighborsOutput{}, "", err
	}
	out := graphNeighborsOutput{
		Nodes: make([]graphNode, len(nodes)),
		Edges: make([]graphEdge, len(edges)),
	}
	for i, n := range nodes {
		out.Nodes[i] = graphNode{ID: n.ID, Type: string(n.Type), Label: n.Label}
	}
	for i, e := range edges {
		out.Edges[i] = graphEdge{From: e.From, To: e.To, Type: string(e.Type), Weight: e.Weight}
	}
	return out, fmt.Sprintf("%d nodes, %d edges", len(out.Nodes), len(out.Edges)), nil
}

type graphStatsInput struct {
	Scope string `json:"scope" jsonschema:"required,Agent scope identifier"`
}

type graphStatsOutput struct {
	Nodes       int            `json:"nodes" jsonschema:"Total nodes"`
	Edges       int            `json:"edges" jsonschema:"Total edges"`
	NodesByType map[string]int `json:"nodes_by_type" jsonschema:"Node counts by type"`
	EdgesByType map[string]int `json:"edges_by_type" jsonschema:"Edge counts by type"`
}

func (s *Server) handleGraphStats(ctx context.Context, args graphStatsInput) (graphStatsOutput, string, error) {
	ctx, err := s.agent.WithScope(ctx, args.Scope, "")
	if err != nil {
		return graphStatsOutput{}, "", err
	}
	stats, err := s.agent.GraphStats(ctx)
	if err != nil {
		return graphStatsOutput{}, "", err
	}
	out := graphStatsOutput{
		Nodes:       stats.Nodes,
		Edges:       stats.Edges,
		NodesByType: make(map[string]int, len(stats.NodesByType)),
		EdgesByType: make(map[string]int, len(stats.EdgesByType)),
	}
	for t, n := range stats.NodesByType {
		out.NodesByType[string(t)] = n
	}
	for t, n := range stats.EdgesByType {
		out.EdgesByType[string(t)] = n
	}
	return out, fmt.Sprintf("%d nodes, %d edges", out.Nodes, out.Edges), nil
}

// ===== DECISION TOOLS =====

type decisionRecordInput struct {
	Scope      string   `json:"scope" jsonschema:"required,Agent scope identifier"`
	Action     string   `json:"action" jsonschema:"required,The action being decided"`
	Reasoning  string   `json:"reasoning,omitempty" jsonschema:"Why the agent chose this action"`
	Confidence float64  `json:"confidence" jsonschema:"required,Confidence in [0 1]"`
	Tags       []string `json:"tags,omitempty" jsonschema:"Decision tags, also matched by policy rules"`
}

type decisionRecordOutput struct {
	ID      string `json:"id" jsonschema:"Decision ID"`
	Effect  string `json:"effect" jsonschema:"Policy effect (allow or require_approval)"`
	Rule    string `json:"rule,omitempty" jsonschema:"Policy rule that applied"`
	Reason  string `json:"reason,omitempty" jsonschema:"Policy reason"`
	Outcome string `json:"outcome" jsonschema:"Initial outcome (pending)"`
}

func (s *Server) handleDecisionRecord(ctx context.Context, args decisionRecordInput) (decisionRecordOutput, string, error) {
	ctx, err := s.agent.WithScope(ctx, args.Scope, "")
	if err != nil {
		return decisionRecordOutput{}, "", err
	}
	d, verdict, err := s.agent.RecordDecision(ctx, args.Action, args.Reasoning, args.Confidence, args.Tags)
	if err != nil {
		return decisionRecordOutput{}, "", err
	}
	return decisionRecordOutput{
		ID:      d.ID,
		Effect:  string(verdict.Effect),
		Rule:    verdict.Rule,
		Reason:  verdict.Reason,
		Outcome: string(d.Outcome),
	}, fmt.Sprintf("Decision recorded: %s (%s)", d.ID, verdict.Effect), nil
}

type decisionOutcomeInput struct {
	Scope   string `json:"scope" jsonschema:"required,Agent scope identifier"`
	ID      string `json:"id" jsonschema:"required,Decision ID"`
	Outcome string `json:"outcome" jsonschema:"required,Outcome (success or failure)"`
}

type decisionOutcomeOutput struct {
	ID      string `json:"id" jsonschema:"Decision ID"`
	Outcome string `json:"outcome" jsonschema:"Resolved outcome"`
}

func (s *Server) handleDecisionOutcome(ctx context.Context, args decisionOutcomeInput) (decisionOutcomeOutput, string, error) {
	ctx, err := s.agent.WithScope(ctx, args.Scope, "")
	if err != nil {
		return decisionOutcomeOutput{}, "", err
	}
	d, err := s.agent.ResolveDecision(ctx, args.ID, decision.Outcome(args.Outcome))
	if err != nil {
		return decisionOutcomeOutput{}, "", err
	}
	return decisionOutcomeOutput{
		ID:      d.ID,
		Outcome: string(d.Outcome),
	}, fmt.Sprintf("Decision %s resolved: %s", d.ID, d.Outcome), nil
}

type decisionPrecedentsInput struct {
	Scope  string `json:"scope" jsonschema:"required,Agent scope identifier"`
	Action string `json:"action" jsonschema:"required,Proposed action to find precedents for"`
	K      int    `json:"k,omitempty" jsonschema:"Maximum precedents (default 5)"`
}

type precedentOutput struct {
	ID         string  `json:"id" jsonschema:"Decision ID"`
	Action     string  `json:"action" jsonschema:"Recorded action"`
	Reasoning  string  `json:"reasoning,omitempty" jsonschema:"Recorded reasoning"`
	Outcome    string  `json:"outcome" jsonschema:"Outcome"`
	Confidence float64 `json:"confidence" jsonschema:"Recorded confidence"`
	Similarity float64 `json:"similarity" jsonschema:"Similarity to the proposed action"`
}

type decisionPrecedentsOutput struct {
	Precedents []precedentOutput `json:"precedents" jsonschema:"Similar prior decisions"`
	Count      int               `json:"count" jsonschema:"Number of precedents"`
}

func (s *Server) handleDecisionPrecedents(ctx context.Context, args decisionPrecedentsInput) (decisionPrecedentsOutput, string, error) {
	ctx, err := s.agent.WithScope(ctx, args.Scope, "")
	if err != nil {
		return decisionPrecedentsOutput{}, "", err
	}
	precedents, err := s.agent.Precedents(ctx, args.Action, args.K)
	if err != nil {
		return decisionPrecedentsOutput{}, "", err
	}
	out := decisionPrecedentsOutput{
		Precedents: make([]precedentOutput, len(precedents)),
		Count:      len(precedents),
	}
	for i, p := range precedents {
		out.Precedents[i] = precedentOutput{
			ID:         p.ID,
			Action:     p.Action,
			Reasoning:  p.Reasoning,
			Outcome:    string(p.Outcome),
			Confidence: p.Confidence,
			Similarity: p.Similarity,
		}
	}
	return out, fmt.Sprintf("Found %d precedents", out.Count), nil
}
