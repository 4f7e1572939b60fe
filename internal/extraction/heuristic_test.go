package extraction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExtractor(t *testing.T) *HeuristicExtractor {
	t.Helper()
	h, err := NewHeuristicExtractor(Config{}, nil)
	require.NoError(t, err)
	return h
}

func TestExtractEntities(t *testing.T) {
	h := newTestExtractor(t)
	result, err := h.Extract(context.Background(),
		"We migrated PostgresCluster to Kubernetes v1.29.2, see https://example.com/runbook and use `pg_dump` for backups.",
		time.Now())
	require.NoError(t, err)

	byText := make(map[string]Entity)
	for _, e := range result.Entities {
		byText[e.Text] = e
	}

	assert.Contains(t, byText, "PostgresCluster")
	assert.Equal(t, "technology", byText["PostgresCluster"].Kind)
	assert.Contains(t, byText, "https://example.com/runbook")
	assert.Contains(t, byText, "pg_dump")
	assert.Contains(t, byText, "v1.29.2")

	for _, e := range result.Entities {
		assert.GreaterOrEqual(t, e.Confidence, 0.5, e.Text)
		assert.LessOrEqual(t, e.Confidence, 1.0, e.Text)
	}
}

func TestExtractEntitiesDedupesCaseInsensitively(t *testing.T) {
	h := newTestExtractor(t)
	result, err := h.Extract(context.Background(), "Redis is fast. We like Redis. `redis` everywhere.", time.Now())
	require.NoError(t, err)

	count := 0
	var kept Entity
	for _, e := range result.Entities {
		if e.Text == "Redis" || e.Text == "redis" {
			count++
			kept = e
		}
	}
	require.Equal(t, 1, count, "one entity per surface form")
	assert.Equal(t, 0.85, kept.Confidence, "highest-scoring mention wins")
}

func TestExtractEntitiesSkipsStopwords(t *testing.T) {
	h := newTestExtractor(t)
	result, err := h.Extract(context.Background(), "This is the new thing. Note that it works.", time.Now())
	require.NoError(t, err)

	for _, e := range result.Entities {
		assert.NotContains(t, []string{"This", "The", "Note", "That"}, e.Text)
	}
}

func TestExtractRelations(t *testing.T) {
	h := newTestExtractor(t)
	result, err := h.Extract(context.Background(),
		"semanticd depends on qdrant. The ingester uses nats. Timeouts caused the outage.",
		time.Now())
	require.NoError(t, err)

	type key struct{ s, p, o string }
	got := make(map[key]float64)
	for _, r := range result.Relations {
		got[key{r.Subject, r.Predicate, r.Object}] = r.Confidence
	}

	assert.Contains(t, got, key{"semanticd", "depends_on", "qdrant"})
	assert.Contains(t, got, key{"ingester", "uses", "nats"})
	assert.Contains(t, got, key{"Timeouts", "causes", "outage"})
	assert.Equal(t, 0.8, got[key{"semanticd", "depends_on", "qdrant"}])
}

func TestExtractRelationsDedupe(t *testing.T) {
	h := newTestExtractor(t)
	result, err := h.Extract(context.Background(),
		"api depends on cache. Again: api depends on cache.", time.Now())
	require.NoError(t, err)

	count := 0
	for _, r := range result.Relations {
		if r.Predicate == "depends_on" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestExtractEmptyText(t *testing.T) {
	h := newTestExtractor(t)
	_, err := h.Extract(context.Background(), "   ", time.Now())
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestConfidenceThresholdFiltersPatterns(t *testing.T) {
	h, err := NewHeuristicExtractor(Config{ConfidenceThreshold: 0.9}, nil)
	require.NoError(t, err)

	result, err := h.Extract(context.Background(), "PostgresCluster uses WAL archiving daily.", time.Now())
	require.NoError(t, err)

	for _, e := range result.Entities {
		assert.GreaterOrEqual(t, e.Confidence, 0.9, e.Text)
	}
	assert.Empty(t, result.Relations, "relation patterns all weigh below 0.9")
}

func TestInvalidPatternsSkipped(t *testing.T) {
	h, err := NewHeuristicExtractor(Config{
		EntityPatterns: []EntityPattern{
			{Name: "broken", Kind: "x", Regex: `[unclosed`, Weight: 0.9},
			{Name: "ok", Kind: "acronym", Regex: `\b[A-Z]{2,6}\b`, Weight: 0.9},
		},
		RelationPatterns: []RelationPattern{
			{Name: "broken", Predicate: "x", Regex: `(`, Weight: 0.9},
		},
	}, nil)
	require.NoError(t, err)
	require.Len(t, h.entityPatterns, 1)
	require.Empty(t, h.relationPatterns)
}

func TestNewExtractorDisabled(t *testing.T) {
	e, err := NewExtractor(Config{Provider: "disabled"}, nil)
	require.NoError(t, err)

	result, err := e.Extract(context.Background(), "anything", time.Now())
	require.NoError(t, err)
	assert.Empty(t, result.Entities)
}
