package vectorstore

import (
	"errors"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestValidateCollectionName(t *testing.T) {
	assert.NoError(t, ValidateCollectionName("semanticd_memories"))
	assert.NoError(t, ValidateCollectionName("a"))

	for _, bad := range []string{"", "Upper", "has-dash", "has space", "x.y"} {
		assert.ErrorIs(t, ValidateCollectionName(bad), ErrInvalidCollectionName, bad)
	}
}

func TestQdrantConfigDefaults(t *testing.T) {
	cfg := QdrantConfig{}
	cfg.ApplyDefaults()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, "semanticd_memories", cfg.CollectionName)
	assert.Equal(t, 384, cfg.VectorSize)
	assert.Equal(t, qdrant.Distance_Cosine, cfg.Distance)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.RetryBackoff)
	assert.Equal(t, 5, cfg.CircuitBreakerThreshold)
	assert.NoError(t, cfg.Validate())
}

func TestQdrantConfigValidate(t *testing.T) {
	cfg := QdrantConfig{}
	cfg.ApplyDefaults()

	cfg.Port = 99999
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg.ApplyDefaults()
	cfg.Port = 6334
	cfg.VectorSize = -1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestIsTransientError(t *testing.T) {
	assert.True(t, IsTransientError(status.Error(grpccodes.Unavailable, "down")))
	assert.True(t, IsTransientError(status.Error(grpccodes.DeadlineExceeded, "slow")))
	assert.True(t, IsTransientError(status.Error(grpccodes.Aborted, "conflict")))
	assert.True(t, IsTransientError(status.Error(grpccodes.ResourceExhausted, "quota")))

	assert.False(t, IsTransientError(status.Error(grpccodes.NotFound, "missing")))
	assert.False(t, IsTransientError(status.Error(grpccodes.InvalidArgument, "bad")))
	assert.False(t, IsTransientError(errors.New("plain error")))
}

func TestCircuitBreaker(t *testing.T) {
	base := time.Now()
	now := base
	timeNow = func() time.Time { return now }
	defer func() { timeNow = time.Now }()

	cb := &circuitBreaker{threshold: 3}
	assert.True(t, cb.allow())

	cb.recordFailure()
	cb.recordFailure()
	assert.True(t, cb.allow(), "below threshold stays closed")

	cb.recordFailure()
	assert.False(t, cb.allow(), "opens at threshold")

	now = base.Add(31 * time.Second)
	assert.True(t, cb.allow(), "closes after cooldown")

	cb.recordFailure()
	cb.recordSuccess()
	cb.recordFailure()
	cb.recordFailure()
	assert.True(t, cb.allow(), "success resets the failure count")
}

func TestPointID(t *testing.T) {
	id := pointID("550e8400-e29b-41d4-a716-446655440000")
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", id.GetUuid())

	// Non-UUID document IDs get a generated UUID point ID.
	id = pointID("memory-42")
	assert.NotEmpty(t, id.GetUuid())
	assert.NotEqual(t, "memory-42", id.GetUuid())
}

func TestBuildPayload(t *testing.T) {
	doc := Document{ID: "doc-1", Content: "hello"}
	payload := buildPayload(doc, map[string]interface{}{
		"scope":   "agent-1",
		"weight":  0.5,
		"count":   3,
		"pinned":  true,
		"content": "spoofed",
	})

	assert.Equal(t, "hello", payload["content"].GetStringValue())
	assert.Equal(t, "doc-1", payload["id"].GetStringValue())
	assert.Equal(t, "agent-1", payload["scope"].GetStringValue())
	assert.Equal(t, 0.5, payload["weight"].GetDoubleValue())
	assert.Equal(t, int64(3), payload["count"].GetIntegerValue())
	assert.True(t, payload["pinned"].GetBoolValue())
}

func TestScoredPointToResult(t *testing.T) {
	p := &qdrant.ScoredPoint{
		Id:    qdrant.NewIDUUID("550e8400-e29b-41d4-a716-446655440000"),
		Score: 0.91,
		Payload: map[string]*qdrant.Value{
			"content": {Kind: &qdrant.Value_StringValue{StringValue: "stored text"}},
			"id":      {Kind: &qdrant.Value_StringValue{StringValue: "memory-42"}},
			"scope":   {Kind: &qdrant.Value_StringValue{StringValue: "agent-1"}},
			"count":   {Kind: &qdrant.Value_IntegerValue{IntegerValue: 7}},
		},
	}

	result := scoredPointToResult(p)
	assert.Equal(t, "memory-42", result.ID, "payload id wins over point uuid")
	assert.Equal(t, "stored text", result.Content)
	assert.Equal(t, float32(0.91), result.Score)
	assert.Equal(t, "agent-1", result.Metadata["scope"])
	assert.Equal(t, int64(7), result.Metadata["count"])
	require.NotContains(t, result.Metadata, "content")
}

func TestBuildFilter(t *testing.T) {
	assert.Nil(t, buildFilter(nil))

	f := buildFilter(map[string]interface{}{"scope": "agent-1"})
	require.Len(t, f.Must, 1)
	field := f.Must[0].GetField()
	require.NotNil(t, field)
	assert.Equal(t, "scope", field.Key)
	assert.Equal(t, "agent-1", field.Match.GetKeyword())
}
