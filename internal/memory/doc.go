// internal/memory/doc.go

// Package memory implements the agent memory pipeline: short-term
// conversation buffers, long-term semantic storage, and knowledge-graph
// enrichment.
//
// Store runs content through secret scrubbing, persists it to the
// vector store under the caller's scope, extracts entities and
// relations, and upserts them into the context graph. Consolidate
// flushes a conversation's short-term buffer into a single long-term
// episode with provenance edges back to the turns it summarizes.
//
// Relevance decays exponentially with a configurable half-life and a
// floor; retrieval hits are touched back to full relevance.
package memory
