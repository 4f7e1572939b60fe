// internal/decision/types.go
package decision

import (
	"errors"
	"fmt"
	"time"
)

// Errors returned by the tracker.
var (
	ErrEmptyAction       = errors.New("action is required")
	ErrInvalidConfidence = errors.New("confidence must be in [0, 1]")
	ErrInvalidOutcome    = errors.New("invalid outcome")
	ErrDecisionNotFound  = errors.New("decision not found")
	ErrAlreadyResolved   = errors.New("decision already resolved")
)

// Outcome is the resolved state of a decision.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Valid reports whether o is a resolvable outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// Decision is one recorded agent decision.
type Decision struct {
	ID         string    `json:"id"`
	Scope      string    `json:"scope"`
	Action     string    `json:"action"`
	Reasoning  string    `json:"reasoning,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	Confidence float64   `json:"confidence"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

// Validate checks fields the caller controls.
func (d *Decision) Validate() error {
	if d.Action == "" {
		return ErrEmptyAction
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%w: got %g", ErrInvalidConfidence, d.Confidence)
	}
	return nil
}

// Precedent is a prior decision similar to a proposed action.
type Precedent struct {
	Decision
	Similarity float64 `json:"similarity"`
}

// CalibrationBucket aggregates resolved decisions whose confidence
// fell into one bucket.
type CalibrationBucket struct {
	Low            float64 `json:"low"`
	High           float64 `json:"high"`
	Count          int     `json:"count"`
	Successes      int     `json:"successes"`
	MeanConfidence float64 `json:"mean_confidence"`
	SuccessRate    float64 `json:"success_rate"`
}

// Calibration summarizes confidence versus outcomes for a scope.
type Calibration struct {
	Resolved int                 `json:"resolved"`
	Pending  int                 `json:"pending"`
	Buckets  []CalibrationBucket `json:"buckets"`
}
