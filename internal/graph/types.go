// internal/graph/types.go
package graph

import (
	"errors"
	"fmt"
	"time"
)

// Errors returned by graph stores.
var (
	ErrNodeNotFound = errors.New("node not found")
	ErrEdgeNotFound = errors.New("edge not found")
	ErrInvalidNode  = errors.New("invalid node")
	ErrInvalidEdge  = errors.New("invalid edge")
)

// NodeType classifies graph nodes.
type NodeType string

const (
	NodeEntity   NodeType = "entity"
	NodeMemory   NodeType = "memory"
	NodeDecision NodeType = "decision"
)

// EdgeType classifies directed relationships.
type EdgeType string

const (
	EdgeMentions    EdgeType = "MENTIONS"
	EdgeRelatesTo   EdgeType = "RELATES_TO"
	EdgeDerivedFrom EdgeType = "DERIVED_FROM"
	EdgeFollows     EdgeType = "FOLLOWS"
	EdgeSupports    EdgeType = "SUPPORTS"
	EdgeContradicts EdgeType = "CONTRADICTS"
)

// Node is a vertex in the context graph.
type Node struct {
	ID        string
	Type      NodeType
	Label     string
	Scope     string
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks required node fields.
func (n *Node) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidNode)
	}
	switch n.Type {
	case NodeEntity, NodeMemory, NodeDecision:
	default:
		return fmt.Errorf("%w: unknown node type %q", ErrInvalidNode, n.Type)
	}
	return nil
}

// Edge is a weighted directed relationship between two nodes.
type Edge struct {
	From      string
	To        string
	Type      EdgeType
	Weight    float64
	Metadata  map[string]string
	CreatedAt time.Time
}

// Validate checks required edge fields.
func (e *Edge) Validate() error {
	if e.From == "" || e.To == "" {
		return fmt.Errorf("%w: from and to are required", ErrInvalidEdge)
	}
	switch e.Type {
	case EdgeMentions, EdgeRelatesTo, EdgeDerivedFrom, EdgeFollows, EdgeSupports, EdgeContradicts:
	default:
		return fmt.Errorf("%w: unknown edge type %q", ErrInvalidEdge, e.Type)
	}
	if e.Weight < 0 {
		return fmt.Errorf("%w: weight must be non-negative", ErrInvalidEdge)
	}
	return nil
}

// Key identifies an edge by endpoints and type. Parallel edges of the
// same type collapse into one (weight updated on upsert).
func (e *Edge) Key() EdgeKey {
	return EdgeKey{From: e.From, To: e.To, Type: e.Type}
}

// EdgeKey uniquely identifies an edge.
type EdgeKey struct {
	From string
	To   string
	Type EdgeType
}

// Direction selects edge orientation for neighbor queries.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
	Both
)

// Stats summarizes graph size and composition.
type Stats struct {
	Nodes       int
	Edges       int
	NodesByType map[NodeType]int
	EdgesByType map[EdgeType]int
}
