// Package graph implements the context graph: typed nodes (entities,
// memories, decisions) connected by weighted directed edges.
//
// MemoryStore is the in-process implementation with gob snapshot
// persistence. The GraphStore interface keeps the door open for an
// external graph database backend.
//
// Structural scoring for retrieval comes from Activate (spreading
// activation from seed nodes) and PageRank; Communities groups related
// entities via label propagation.
package graph
