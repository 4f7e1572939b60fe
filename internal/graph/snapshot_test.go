package graph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.gob")
	ctx := context.Background()

	s, err := NewMemoryStore(Config{Path: path}, zap.NewNop())
	require.NoError(t, err)
	addNode(t, s, "e1", NodeEntity)
	addNode(t, s, "m1", NodeMemory)
	addEdge(t, s, "m1", "e1", EdgeMentions, 0.9)
	require.NoError(t, s.Snapshot())

	loaded, err := NewMemoryStore(Config{Path: path}, zap.NewNop())
	require.NoError(t, err)

	node, err := loaded.GetNode(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, NodeEntity, node.Type)

	edge, err := loaded.GetEdge(ctx, EdgeKey{From: "m1", To: "e1", Type: EdgeMentions})
	require.NoError(t, err)
	assert.Equal(t, 0.9, edge.Weight)

	// Adjacency rebuilt on load.
	edges, err := loaded.Neighbors(ctx, "e1", Incoming)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestSnapshotMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "graph.gob")
	s, err := NewMemoryStore(Config{Path: path}, zap.NewNop())
	require.NoError(t, err)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Nodes)
}

func TestSnapshotSkipsWhenClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.gob")
	s, err := NewMemoryStore(Config{Path: path}, zap.NewNop())
	require.NoError(t, err)

	addNode(t, s, "e1", NodeEntity)
	require.NoError(t, s.Snapshot())
	first, err := os.Stat(path)
	require.NoError(t, err)

	// No changes since the last snapshot: file untouched.
	require.NoError(t, s.Snapshot())
	second, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, first.ModTime(), second.ModTime())
}

func TestSnapshotCorruptFileFailsLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.gob")
	require.NoError(t, os.WriteFile(path, []byte("not a gob stream"), 0o600))

	_, err := NewMemoryStore(Config{Path: path}, zap.NewNop())
	assert.Error(t, err)
}

func TestCloseSnapshots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.gob")
	s, err := NewMemoryStore(Config{Path: path}, zap.NewNop())
	require.NoError(t, err)
	addNode(t, s, "e1", NodeEntity)
	require.NoError(t, s.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
