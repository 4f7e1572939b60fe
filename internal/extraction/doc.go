// Package extraction turns free text into graph material: entity
// mentions and subject-predicate-object relation candidates, each with
// a confidence score. It supports heuristic (pattern-based) extraction
// and optional LLM refinement of low-confidence candidates.
//
// The heuristic extractor runs a weighted regex pattern table and needs
// no external service. Temporal references ("yesterday", "last week")
// resolve against a reference time.
package extraction
