package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s, err := NewMemoryStore(Config{}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func addNode(t *testing.T, s *MemoryStore, id string, typ NodeType) {
	t.Helper()
	require.NoError(t, s.UpsertNode(context.Background(), &Node{ID: id, Type: typ, Label: id}))
}

func addEdge(t *testing.T, s *MemoryStore, from, to string, typ EdgeType, weight float64) {
	t.Helper()
	require.NoError(t, s.UpsertEdge(context.Background(), &Edge{From: from, To: to, Type: typ, Weight: weight}))
}

func TestUpsertAndGetNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNode(ctx, &Node{ID: "e1", Type: NodeEntity, Label: "Postgres"}))

	node, err := s.GetNode(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Postgres", node.Label)
	assert.False(t, node.CreatedAt.IsZero())
	created := node.CreatedAt

	// Update keeps CreatedAt, advances UpdatedAt.
	require.NoError(t, s.UpsertNode(ctx, &Node{ID: "e1", Type: NodeEntity, Label: "PostgreSQL"}))
	node, err = s.GetNode(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "PostgreSQL", node.Label)
	assert.Equal(t, created, node.CreatedAt)

	_, err = s.GetNode(ctx, "missing")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestNodeValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.UpsertNode(ctx, &Node{Type: NodeEntity}), ErrInvalidNode)
	assert.ErrorIs(t, s.UpsertNode(ctx, &Node{ID: "x", Type: "widget"}), ErrInvalidNode)
}

func TestEdgeRequiresEndpoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addNode(t, s, "a", NodeEntity)

	err := s.UpsertEdge(ctx, &Edge{From: "a", To: "b", Type: EdgeRelatesTo, Weight: 1})
	assert.ErrorIs(t, err, ErrNodeNotFound)

	assert.ErrorIs(t, s.UpsertEdge(ctx, &Edge{From: "a", To: "a", Type: "LIKES", Weight: 1}), ErrInvalidEdge)
	assert.ErrorIs(t, s.UpsertEdge(ctx, &Edge{From: "a", To: "a", Type: EdgeRelatesTo, Weight: -1}), ErrInvalidEdge)
}

func TestEdgeUpsertKeepsMaxWeight(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addNode(t, s, "a", NodeEntity)
	addNode(t, s, "b", NodeEntity)

	addEdge(t, s, "a", "b", EdgeRelatesTo, 0.8)
	addEdge(t, s, "a", "b", EdgeRelatesTo, 0.3)

	edge, err := s.GetEdge(ctx, EdgeKey{From: "a", To: "b", Type: EdgeRelatesTo})
	require.NoError(t, err)
	assert.Equal(t, 0.8, edge.Weight)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Edges)
}

func TestDeleteNodeCascadesEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addNode(t, s, "a", NodeEntity)
	addNode(t, s, "b", NodeEntity)
	addNode(t, s, "c", NodeEntity)
	addEdge(t, s, "a", "b", EdgeRelatesTo, 1)
	addEdge(t, s, "c", "a", EdgeSupports, 1)

	require.NoError(t, s.DeleteNode(ctx, "a"))

	_, err := s.GetEdge(ctx, EdgeKey{From: "a", To: "b", Type: EdgeRelatesTo})
	assert.ErrorIs(t, err, ErrEdgeNotFound)
	_, err = s.GetEdge(ctx, EdgeKey{From: "c", To: "a", Type: EdgeSupports})
	assert.ErrorIs(t, err, ErrEdgeNotFound)

	edges, err := s.Neighbors(ctx, "c", Both)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestNeighborsDirectionAndTypeFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addNode(t, s, "m1", NodeMemory)
	addNode(t, s, "e1", NodeEntity)
	addNode(t, s, "e2", NodeEntity)
	addEdge(t, s, "m1", "e1", EdgeMentions, 1)
	addEdge(t, s, "m1", "e2", EdgeMentions, 1)
	addEdge(t, s, "e1", "e2", EdgeRelatesTo, 0.5)

	out, err := s.Neighbors(ctx, "m1", Outgoing)
	require.NoError(t, err)
	assert.Len(t, out, 2)

	in, err := s.Neighbors(ctx, "e2", Incoming)
	require.NoError(t, err)
	assert.Len(t, in, 2)

	mentions, err := s.Neighbors(ctx, "e2", Incoming, EdgeMentions)
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	assert.Equal(t, "m1", mentions[0].From)

	_, err = s.Neighbors(ctx, "missing", Both)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestNeighborhood(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	// chain: a -> b -> c -> d
	for _, id := range []string{"a", "b", "c", "d"} {
		addNode(t, s, id, NodeEntity)
	}
	addEdge(t, s, "a", "b", EdgeRelatesTo, 1)
	addEdge(t, s, "b", "c", EdgeRelatesTo, 1)
	addEdge(t, s, "c", "d", EdgeRelatesTo, 1)

	nodes, edges, err := s.Neighborhood(ctx, "a", 2)
	require.NoError(t, err)
	assert.Len(t, nodes, 3, "a, b, c within 2 hops")
	assert.Len(t, edges, 2)

	nodes, _, err = s.Neighborhood(ctx, "a", 0)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)

	// Traversal is undirected: d reaches a in 3 hops.
	nodes, _, err = s.Neighborhood(ctx, "d", 3)
	require.NoError(t, err)
	assert.Len(t, nodes, 4)
}

func TestFindNodeByLabel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertNode(ctx, &Node{ID: "e1", Type: NodeEntity, Label: "Postgres"}))

	node, err := s.FindNodeByLabel(ctx, NodeEntity, "postgres")
	require.NoError(t, err)
	assert.Equal(t, "e1", node.ID)

	_, err = s.FindNodeByLabel(ctx, NodeDecision, "postgres")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addNode(t, s, "e1", NodeEntity)
	addNode(t, s, "m1", NodeMemory)
	addEdge(t, s, "m1", "e1", EdgeMentions, 1)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Nodes)
	assert.Equal(t, 1, stats.Edges)
	assert.Equal(t, 1, stats.NodesByType[NodeEntity])
	assert.Equal(t, 1, stats.NodesByType[NodeMemory])
	assert.Equal(t, 1, stats.EdgesByType[EdgeMentions])
}
