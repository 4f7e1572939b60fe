// internal/extraction/heuristic.go
package extraction

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// HeuristicExtractor implements Extractor using weighted regex patterns.
type HeuristicExtractor struct {
	entityPatterns   []*compiledEntityPattern
	relationPatterns []*compiledRelationPattern
	threshold        float64
	refineThreshold  float64
	refiner          Refiner
}

type compiledEntityPattern struct {
	EntityPattern
	regex *regexp.Regexp
}

type compiledRelationPattern struct {
	RelationPattern
	regex *regexp.Regexp
}

var _ Extractor = (*HeuristicExtractor)(nil)

// NewHeuristicExtractor creates a pattern-based extractor. An optional
// refiner re-scores candidates below the refine threshold.
func NewHeuristicExtractor(cfg Config, refiner Refiner) (*HeuristicExtractor, error) {
	cfg.ApplyDefaults()

	h := &HeuristicExtractor{
		threshold:       cfg.ConfidenceThreshold,
		refineThreshold: cfg.RefineThreshold,
		refiner:         refiner,
	}
	for _, p := range cfg.EntityPatterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			// Skip invalid patterns
			continue
		}
		h.entityPatterns = append(h.entityPatterns, &compiledEntityPattern{EntityPattern: p, regex: re})
	}
	for _, p := range cfg.RelationPatterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			continue
		}
		h.relationPatterns = append(h.relationPatterns, &compiledRelationPattern{RelationPattern: p, regex: re})
	}
	return h, nil
}

// stopwords are surface forms too common to be useful entities.
var stopwords = map[string]struct{}{
	"the": {}, "this": {}, "that": {}, "these": {}, "those": {},
	"a": {}, "an": {}, "it": {}, "its": {}, "and": {}, "but": {},
	"for": {}, "with": {}, "from": {}, "into": {}, "over": {},
	"when": {}, "then": {}, "there": {}, "here": {}, "what": {},
	"yes": {}, "no": {}, "not": {}, "now": {}, "also": {},
	"i": {}, "we": {}, "you": {}, "they": {}, "he": {}, "she": {},
	"first": {}, "second": {}, "next": {}, "last": {}, "new": {},
	"use": {}, "using": {}, "note": {}, "todo": {},
}

func isStopword(text string) bool {
	_, ok := stopwords[strings.ToLower(text)]
	return ok
}

// Extract runs the pattern tables over the text. Entities are
// deduplicated case-insensitively with the highest-scoring mention
// winning; candidates below the confidence threshold are dropped.
func (h *HeuristicExtractor) Extract(ctx context.Context, text string, ref time.Time) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyText
	}

	result := Result{
		Entities:  h.extractEntities(text),
		Relations: h.extractRelations(text),
		Temporal:  ResolveTemporal(text, ref),
	}

	if h.refiner != nil && h.refiner.Available() && h.needsRefinement(result) {
		refined, err := h.refiner.Refine(ctx, text, result)
		if err == nil {
			result = refined
		}
		// Refinement failure degrades to heuristic output.
	}
	return result, nil
}

func (h *HeuristicExtractor) needsRefinement(result Result) bool {
	for _, e := range result.Entities {
		if e.Confidence < h.refineThreshold {
			return true
		}
	}
	for _, r := range result.Relations {
		if r.Confidence < h.refineThreshold {
			return true
		}
	}
	return false
}

func (h *HeuristicExtractor) extractEntities(text string) []Entity {
	best := make(map[string]Entity)
	var order []string

	for _, p := range h.entityPatterns {
		if p.Weight < h.threshold {
			continue
		}
		for _, match := range p.regex.FindAllStringSubmatch(text, -1) {
			surface := match[0]
			if len(match) > 1 && match[1] != "" {
				surface = match[1]
			}
			surface = strings.TrimSpace(surface)
			if len(surface) < 2 || isStopword(surface) {
				continue
			}

			key := strings.ToLower(surface)
			existing, ok := best[key]
			if !ok {
				order = append(order, key)
			}
			if !ok || p.Weight > existing.Confidence {
				best[key] = Entity{Text: surface, Kind: p.Kind, Confidence: p.Weight}
			}
		}
	}

	entities := make([]Entity, 0, len(order))
	for _, key := range order {
		entities = append(entities, best[key])
	}
	return entities
}

func (h *HeuristicExtractor) extractRelations(text string) []Relation {
	type relKey struct{ subject, predicate, object string }
	seen := make(map[relKey]struct{})
	var relations []Relation

	for _, p := range h.relationPatterns {
		if p.Weight < h.threshold {
			continue
		}
		for _, match := range p.regex.FindAllStringSubmatch(text, -1) {
			if len(match) < 3 {
				continue
			}
			subject := strings.TrimSpace(match[1])
			object := strings.TrimSpace(match[2])
			if isStopword(subject) || isStopword(object) || strings.EqualFold(subject, object) {
				continue
			}
			key := relKey{strings.ToLower(subject), p.Predicate, strings.ToLower(object)}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			relations = append(relations, Relation{
				Subject:    subject,
				Predicate:  p.Predicate,
				Object:     object,
				Confidence: p.Weight,
			})
		}
	}
	return relations
}

// NoOpExtractor extracts nothing. Used when extraction is disabled.
type NoOpExtractor struct{}

var _ Extractor = (*NoOpExtractor)(nil)

func (NoOpExtractor) Extract(_ context.Context, _ string, _ time.Time) (Result, error) {
	return Result{}, nil
}

// NewExtractor builds an extractor from configuration.
func NewExtractor(cfg Config, refiner Refiner) (Extractor, error) {
	cfg.ApplyDefaults()
	if cfg.Provider == "disabled" {
		return NoOpExtractor{}, nil
	}
	return NewHeuristicExtractor(cfg, refiner)
}
