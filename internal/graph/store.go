// internal/graph/store.go
package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// timeNow is stubbed in tests.
var timeNow = time.Now

// GraphStore is the storage interface for the context graph. MemoryStore
// is the in-process implementation; an external graph database can be
// substituted behind the same interface.
type GraphStore interface {
	UpsertNode(ctx context.Context, node *Node) error
	GetNode(ctx context.Context, id string) (*Node, error)
	DeleteNode(ctx context.Context, id string) error
	NodesByType(ctx context.Context, t NodeType) ([]*Node, error)
	FindNodeByLabel(ctx context.Context, t NodeType, label string) (*Node, error)

	UpsertEdge(ctx context.Context, edge *Edge) error
	GetEdge(ctx context.Context, key EdgeKey) (*Edge, error)
	DeleteEdge(ctx context.Context, key EdgeKey) error

	Neighbors(ctx context.Context, id string, dir Direction, types ...EdgeType) ([]*Edge, error)
	Neighborhood(ctx context.Context, id string, hops int) ([]*Node, []*Edge, error)

	Activate(ctx context.Context, seeds map[string]float64, maxHops int, decay float64) (map[string]float64, error)
	PageRank(ctx context.Context, damping, epsilon float64, maxIterations int) (map[string]float64, error)
	DegreeCentrality(ctx context.Context) (map[string]float64, error)
	Communities(ctx context.Context) (map[string]string, error)

	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Config configures the in-process store.
type Config struct {
	// Path is the snapshot file. Empty disables persistence.
	Path string

	// SnapshotInterval drives the background snapshot loop in Run.
	SnapshotInterval time.Duration
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.SnapshotInterval == 0 {
		c.SnapshotInterval = 5 * time.Minute
	}
}

// MemoryStore is a concurrency-safe in-process graph with snapshot
// persistence.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	edges map[EdgeKey]*Edge
	out   map[string]map[EdgeKey]struct{}
	in    map[string]map[EdgeKey]struct{}
	dirty bool

	cfg    Config
	logger *zap.Logger
}

var _ GraphStore = (*MemoryStore)(nil)

// NewMemoryStore creates a store, loading an existing snapshot if one
// exists at cfg.Path.
func NewMemoryStore(cfg Config, logger *zap.Logger) (*MemoryStore, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MemoryStore{
		nodes:  make(map[string]*Node),
		edges:  make(map[EdgeKey]*Edge),
		out:    make(map[string]map[EdgeKey]struct{}),
		in:     make(map[string]map[EdgeKey]struct{}),
		cfg:    cfg,
		logger: logger,
	}
	if cfg.Path != "" {
		if err := s.load(cfg.Path); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// UpsertNode inserts or updates a node. CreatedAt is preserved across
// updates; UpdatedAt always advances.
func (s *MemoryStore) UpsertNode(_ context.Context, node *Node) error {
	if err := node.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := timeNow()
	stored := *node
	if existing, ok := s.nodes[node.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.nodes[node.ID] = &stored
	s.dirty = true
	return nil
}

// GetNode returns a copy of the node.
func (s *MemoryStore) GetNode(_ context.Context, id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	copied := *node
	return &copied, nil
}

// DeleteNode removes a node and all edges touching it.
func (s *MemoryStore) DeleteNode(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	delete(s.nodes, id)
	for key := range s.out[id] {
		s.removeEdgeLocked(key)
	}
	for key := range s.in[id] {
		s.removeEdgeLocked(key)
	}
	delete(s.out, id)
	delete(s.in, id)
	s.dirty = true
	return nil
}

// NodesByType returns copies of all nodes of a type.
func (s *MemoryStore) NodesByType(_ context.Context, t NodeType) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Node
	for _, node := range s.nodes {
		if node.Type == t {
			copied := *node
			out = append(out, &copied)
		}
	}
	return out, nil
}

// FindNodeByLabel returns the first node of the given type whose label
// matches case-insensitively.
func (s *MemoryStore) FindNodeByLabel(_ context.Context, t NodeType, label string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(label)
	for _, node := range s.nodes {
		if node.Type == t && strings.ToLower(node.Label) == needle {
			copied := *node
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %q", ErrNodeNotFound, t, label)
}

// UpsertEdge inserts or updates an edge. Both endpoints must exist.
// Re-upserting an existing edge keeps the larger weight.
func (s *MemoryStore) UpsertEdge(_ context.Context, edge *Edge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[edge.From]; !ok {
		return fmt.Errorf("%w: from %s", ErrNodeNotFound, edge.From)
	}
	if _, ok := s.nodes[edge.To]; !ok {
		return fmt.Errorf("%w: to %s", ErrNodeNotFound, edge.To)
	}

	key := edge.Key()
	stored := *edge
	if existing, ok := s.edges[key]; ok {
		stored.CreatedAt = existing.CreatedAt
		if existing.Weight > stored.Weight {
			stored.Weight = existing.Weight
		}
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = timeNow()
	}
	s.edges[key] = &stored

	if s.out[edge.From] == nil {
		s.out[edge.From] = make(map[EdgeKey]struct{})
	}
	if s.in[edge.To] == nil {
		s.in[edge.To] = make(map[EdgeKey]struct{})
	}
	s.out[edge.From][key] = struct{}{}
	s.in[edge.To][key] = struct{}{}
	s.dirty = true
	return nil
}

// GetEdge returns a copy of the edge.
func (s *MemoryStore) GetEdge(_ context.Context, key EdgeKey) (*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	edge, ok := s.edges[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s -[%s]-> %s", ErrEdgeNotFound, key.From, key.Type, key.To)
	}
	copied := *edge
	return &copied, nil
}

// DeleteEdge removes an edge.
func (s *MemoryStore) DeleteEdge(_ context.Context, key EdgeKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.edges[key]; !ok {
		return fmt.Errorf("%w: %s -[%s]-> %s", ErrEdgeNotFound, key.From, key.Type, key.To)
	}
	s.removeEdgeLocked(key)
	s.dirty = true
	return nil
}

func (s *MemoryStore) removeEdgeLocked(key EdgeKey) {
	delete(s.edges, key)
	if m := s.out[key.From]; m != nil {
		delete(m, key)
	}
	if m := s.in[key.To]; m != nil {
		delete(m, key)
	}
}

// Neighbors returns edges touching a node, optionally filtered by
// direction and edge type.
func (s *MemoryStore) Neighbors(_ context.Context, id string, dir Direction, types ...EdgeType) ([]*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	typeSet := make(map[EdgeType]struct{}, len(types))
	for _, t := range types {
		typeSet[t] = struct{}{}
	}
	match := func(t EdgeType) bool {
		if len(typeSet) == 0 {
			return true
		}
		_, ok := typeSet[t]
		return ok
	}

	var out []*Edge
	if dir == Outgoing || dir == Both {
		for key := range s.out[id] {
			if edge := s.edges[key]; edge != nil && match(edge.Type) {
				copied := *edge
				out = append(out, &copied)
			}
		}
	}
	if dir == Incoming || dir == Both {
		for key := range s.in[id] {
			if edge := s.edges[key]; edge != nil && match(edge.Type) {
				copied := *edge
				out = append(out, &copied)
			}
		}
	}
	return out, nil
}

// Neighborhood returns all nodes and edges reachable within hops of the
// start node, treating edges as undirected for traversal.
func (s *MemoryStore) Neighborhood(_ context.Context, id string, hops int) ([]*Node, []*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start, ok := s.nodes[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if hops < 0 {
		hops = 0
	}

	visited := map[string]struct{}{id: {}}
	seenEdges := make(map[EdgeKey]struct{})
	nodes := []*Node{copyNode(start)}
	var edges []*Edge

	frontier := []string{id}
	for hop := 0; hop < hops && len(frontier) > 0; hop++ {
		var next []string
		for _, current := range frontier {
			for _, keys := range []map[EdgeKey]struct{}{s.out[current], s.in[current]} {
				for key := range keys {
					if _, ok := seenEdges[key]; !ok {
						seenEdges[key] = struct{}{}
						copied := *s.edges[key]
						edges = append(edges, &copied)
					}
					other := key.To
					if other == current {
						other = key.From
					}
					if _, ok := visited[other]; ok {
						continue
					}
					visited[other] = struct{}{}
					nodes = append(nodes, copyNode(s.nodes[other]))
					next = append(next, other)
				}
			}
		}
		frontier = next
	}
	return nodes, edges, nil
}

func copyNode(n *Node) *Node {
	copied := *n
	return &copied
}

// Stats returns graph size and composition.
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{
		Nodes:       len(s.nodes),
		Edges:       len(s.edges),
		NodesByType: make(map[NodeType]int),
		EdgesByType: make(map[EdgeType]int),
	}
	for _, node := range s.nodes {
		stats.NodesByType[node.Type]++
	}
	for _, edge := range s.edges {
		stats.EdgesByType[edge.Type]++
	}
	return stats, nil
}

// Run snapshots the graph periodically until the context is cancelled,
// then takes a final snapshot.
func (s *MemoryStore) Run(ctx context.Context) {
	if s.cfg.Path == "" {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(s.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := s.Snapshot(); err != nil {
				s.logger.Error("final graph snapshot failed", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := s.Snapshot(); err != nil {
				s.logger.Error("graph snapshot failed", zap.Error(err))
			}
		}
	}
}

// Close takes a final snapshot if persistence is configured.
func (s *MemoryStore) Close() error {
	if s.cfg.Path == "" {
		return nil
	}
	return s.Snapshot()
}
