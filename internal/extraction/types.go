// internal/extraction/types.go
package extraction

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmptyText indicates there is nothing to extract from.
	ErrEmptyText = errors.New("empty text")

	// ErrRefinementFailed indicates the LLM refiner could not produce a
	// usable result.
	ErrRefinementFailed = errors.New("refinement failed")
)

// EntityPattern is a weighted regex for entity mentions. The first
// capture group (or the whole match when there is none) is the entity
// surface form.
type EntityPattern struct {
	Name   string  `json:"name"`
	Kind   string  `json:"kind"`
	Regex  string  `json:"regex"`
	Weight float64 `json:"weight"`
}

// RelationPattern is a weighted regex for subject-predicate-object
// candidates. Capture group 1 is the subject, group 2 the object.
type RelationPattern struct {
	Name      string  `json:"name"`
	Predicate string  `json:"predicate"`
	Regex     string  `json:"regex"`
	Weight    float64 `json:"weight"`
}

// Entity is a mention of a named thing in the text.
type Entity struct {
	Text       string  `json:"text"`
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
}

// Relation is a subject-predicate-object candidate.
type Relation struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
}

// TemporalRef is a time expression resolved against a reference time.
type TemporalRef struct {
	Text     string    `json:"text"`
	Resolved time.Time `json:"resolved"`
}

// Result is the outcome of extracting one text.
type Result struct {
	Entities  []Entity      `json:"entities"`
	Relations []Relation    `json:"relations"`
	Temporal  []TemporalRef `json:"temporal,omitempty"`
}

// Extractor extracts entities and relations from text.
type Extractor interface {
	Extract(ctx context.Context, text string, ref time.Time) (Result, error)
}

// Refiner re-scores and cleans up low-confidence candidates.
type Refiner interface {
	// Refine returns a refined result for the text. Implementations
	// should degrade to the input result on transient failure.
	Refine(ctx context.Context, text string, result Result) (Result, error)

	// Available reports whether the refiner is configured and ready.
	Available() bool
}

// Config holds extraction configuration.
type Config struct {
	// Provider is "heuristic" (default) or "disabled".
	Provider string

	// ConfidenceThreshold drops candidates scoring below it. Default 0.5.
	ConfidenceThreshold float64

	// RefineThreshold marks candidates below it for LLM refinement.
	// Default 0.8.
	RefineThreshold float64

	// EntityPatterns and RelationPatterns override the defaults when set.
	EntityPatterns   []EntityPattern
	RelationPatterns []RelationPattern
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "heuristic"
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.5
	}
	if c.RefineThreshold == 0 {
		c.RefineThreshold = 0.8
	}
	if len(c.EntityPatterns) == 0 {
		c.EntityPatterns = DefaultEntityPatterns()
	}
	if len(c.RelationPatterns) == 0 {
		c.RelationPatterns = DefaultRelationPatterns()
	}
}

// DefaultEntityPatterns returns the built-in entity pattern table.
func DefaultEntityPatterns() []EntityPattern {
	return []EntityPattern{
		{Name: "url", Kind: "url", Regex: `https?://[^\s)>"']+`, Weight: 0.9},
		{Name: "email", Kind: "email", Regex: `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`, Weight: 0.9},
		{Name: "code_span", Kind: "code", Regex: "`([^`\n]+)`", Weight: 0.85},
		{Name: "camel_case", Kind: "technology", Regex: `\b[A-Z][a-z0-9]+(?:[A-Z][a-z0-9]+)+\b`, Weight: 0.75},
		{Name: "acronym", Kind: "acronym", Regex: `\b[A-Z]{2,6}\d?\b`, Weight: 0.65},
		{Name: "version", Kind: "version", Regex: `\bv?\d+\.\d+(?:\.\d+)+\b`, Weight: 0.7},
		{Name: "file_path", Kind: "path", Regex: `\b[\w.-]+(?:/[\w.-]+){2,}\b`, Weight: 0.6},
		{Name: "proper_name", Kind: "name", Regex: `\b[A-Z][a-z]+(?: [A-Z][a-z]+){0,2}\b`, Weight: 0.5},
	}
}

// relToken matches one relation argument: a word optionally joined by
// interior dots, without swallowing sentence punctuation.
const relToken = `([A-Za-z0-9_-]+(?:\.[A-Za-z0-9_-]+)*)`

// DefaultRelationPatterns returns the built-in relation pattern table.
func DefaultRelationPatterns() []RelationPattern {
	return []RelationPattern{
		{Name: "depends_on", Predicate: "depends_on", Regex: `(?i)\b` + relToken + ` depends on (?:the )?` + relToken, Weight: 0.8},
		{Name: "uses", Predicate: "uses", Regex: `(?i)\b` + relToken + ` (?:uses|is using) (?:the )?` + relToken, Weight: 0.7},
		{Name: "runs_on", Predicate: "runs_on", Regex: `(?i)\b` + relToken + ` runs on (?:the )?` + relToken, Weight: 0.7},
		{Name: "causes", Predicate: "causes", Regex: `(?i)\b` + relToken + ` (?:causes|caused) (?:the )?` + relToken, Weight: 0.7},
		{Name: "replaces", Predicate: "replaces", Regex: `(?i)\b` + relToken + ` (?:replaces|replaced) (?:the )?` + relToken, Weight: 0.7},
		{Name: "is_a", Predicate: "is_a", Regex: `(?i)\b` + relToken + ` is (?:a|an) ` + relToken, Weight: 0.55},
	}
}
