// internal/memory/decay.go
package memory

import (
	"math"
	"strconv"
	"time"
)

// Metadata keys written on long-term documents.
const (
	MetaKind               = "kind"
	MetaStoredAt           = "stored_at"
	MetaTouchedAt          = "touched_at"
	MetaRelevance          = "relevance"
	MetaTags               = "tags"
	MetaSourceConversation = "source_conversation"
	MetaTurns              = "turns"
)

// DecayParams controls exponential relevance decay.
type DecayParams struct {
	// HalfLife is the age at which relevance halves. Zero disables
	// decay.
	HalfLife time.Duration

	// Floor is the minimum decayed relevance.
	Floor float64
}

// DecayedRelevance applies half-life decay to a base relevance given
// the last touch time. Relevance never drops below the floor.
func DecayedRelevance(base float64, touchedAt, now time.Time, p DecayParams) float64 {
	if base <= 0 {
		base = 1.0
	}
	if p.HalfLife <= 0 || touchedAt.IsZero() || !now.After(touchedAt) {
		return base
	}
	age := now.Sub(touchedAt)
	decayed := base * math.Pow(0.5, age.Hours()/p.HalfLife.Hours())
	if decayed < p.Floor {
		return p.Floor
	}
	return decayed
}

// RelevanceFromMetadata reads the stored relevance and last-touch time
// from document metadata. Missing or malformed fields fall back to
// full relevance and the stored-at time.
func RelevanceFromMetadata(md map[string]interface{}) (float64, time.Time) {
	relevance := 1.0
	if v, ok := metadataFloat(md, MetaRelevance); ok {
		relevance = v
	}

	touched, ok := metadataTime(md, MetaTouchedAt)
	if !ok {
		touched, _ = metadataTime(md, MetaStoredAt)
	}
	return relevance, touched
}

func metadataFloat(md map[string]interface{}, key string) (float64, bool) {
	switch v := md[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func metadataTime(md map[string]interface{}, key string) (time.Time, bool) {
	s, ok := md[key].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// formatRelevance writes relevance the way RelevanceFromMetadata reads
// it.
func formatRelevance(r float64) string {
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// formatTime writes timestamps the way metadataTime reads them.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
