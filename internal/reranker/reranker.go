// internal/reranker/reranker.go

// Package reranker re-orders retrieval candidates by combining the
// upstream score with query term overlap. It is the cheap, model-free
// last stage of the retrieval pipeline.
package reranker

import (
	"context"
	"sort"
	"strings"
)

// Document is a retrieval candidate to re-rank.
type Document struct {
	ID      string
	Content string
	// Score is the upstream (hybrid) score in [0, 1].
	Score float32
}

// ScoredDocument is a re-ranked candidate.
type ScoredDocument struct {
	Document

	// Overlap is the fraction of query terms present in the document.
	Overlap float32

	// Combined is the final ranking score.
	Combined float32

	// OriginalRank is the candidate's position before re-ranking.
	OriginalRank int
}

// Reranker re-orders candidates by query relevance.
type Reranker interface {
	// Rerank returns candidates sorted by descending combined score,
	// truncated to topK (topK <= 0 means all).
	Rerank(ctx context.Context, query string, docs []Document, topK int) ([]ScoredDocument, error)

	Close() error
}

// TermOverlap weights the upstream score and the query-term overlap
// equally. An empty or all-stopword query falls back to the original
// ranking.
type TermOverlap struct{}

var _ Reranker = (*TermOverlap)(nil)

// NewTermOverlap creates the default reranker.
func NewTermOverlap() *TermOverlap { return &TermOverlap{} }

const (
	originalWeight = 0.5
	overlapWeight  = 0.5
)

func (r *TermOverlap) Rerank(_ context.Context, query string, docs []Document, topK int) ([]ScoredDocument, error) {
	if topK <= 0 || topK > len(docs) {
		topK = len(docs)
	}
	if len(docs) == 0 {
		return []ScoredDocument{}, nil
	}

	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return fallbackRank(docs, topK), nil
	}

	scored := make([]ScoredDocument, len(docs))
	for i, doc := range docs {
		overlap := termOverlap(queryTerms, tokenize(doc.Content))
		scored[i] = ScoredDocument{
			Document:     doc,
			Overlap:      overlap,
			Combined:     originalWeight*doc.Score + overlapWeight*overlap,
			OriginalRank: i,
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Combined > scored[j].Combined
	})
	return scored[:topK], nil
}

func (r *TermOverlap) Close() error { return nil }

// fallbackRank orders by the upstream score alone.
func fallbackRank(docs []Document, topK int) []ScoredDocument {
	scored := make([]ScoredDocument, len(docs))
	for i, doc := range docs {
		scored[i] = ScoredDocument{
			Document:     doc,
			Combined:     doc.Score,
			OriginalRank: i,
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Combined > scored[j].Combined
	})
	return scored[:topK]
}

// stopTerms are too common to signal relevance.
var stopTerms = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "by": {}, "from": {}, "as": {}, "is": {}, "was": {},
	"are": {}, "be": {}, "been": {}, "have": {}, "has": {}, "had": {},
	"do": {}, "does": {}, "did": {}, "will": {}, "would": {}, "can": {},
	"could": {}, "should": {}, "may": {}, "might": {}, "this": {},
	"that": {}, "these": {}, "those": {}, "it": {}, "its": {},
	"what": {}, "which": {}, "who": {}, "when": {}, "where": {},
	"why": {}, "how": {}, "you": {}, "we": {}, "they": {},
}

// tokenize lowercases, splits on non-alphanumerics, and drops stopwords
// and terms shorter than three characters.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '_'
	})
	terms := fields[:0]
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, stop := stopTerms[f]; stop {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// termOverlap returns the fraction of unique query terms present in the
// document.
func termOverlap(queryTerms, docTerms []string) float32 {
	if len(queryTerms) == 0 {
		return 0
	}
	docSet := make(map[string]struct{}, len(docTerms))
	for _, t := range docTerms {
		docSet[t] = struct{}{}
	}

	matched := make(map[string]struct{})
	unique := make(map[string]struct{})
	for _, t := range queryTerms {
		unique[t] = struct{}{}
		if _, ok := docSet[t]; ok {
			matched[t] = struct{}{}
		}
	}
	return float32(len(matched)) / float32(len(unique))
}
