package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scopedContext(scope string) context.Context {
	return ContextWithScope(context.Background(), ScopeInfo{Scope: scope})
}

func TestScopeIsolation_InjectFilter(t *testing.T) {
	iso := NewScopeIsolation()

	// Fails closed without scope.
	_, err := iso.InjectFilter(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMissingScope)

	filters, err := iso.InjectFilter(scopedContext("agent-1"), map[string]interface{}{"kind": "fact"})
	require.NoError(t, err)
	assert.Equal(t, "agent-1", filters["scope"])
	assert.Equal(t, "fact", filters["kind"])
}

func TestScopeIsolation_RejectsReservedFilterKeys(t *testing.T) {
	iso := NewScopeIsolation()

	_, err := iso.InjectFilter(scopedContext("agent-1"), map[string]interface{}{"scope": "other"})
	assert.ErrorIs(t, err, ErrScopeFilterInUserFilters)

	_, err = iso.InjectFilter(scopedContext("agent-1"), map[string]interface{}{"conversation_id": "x"})
	assert.ErrorIs(t, err, ErrScopeFilterInUserFilters)
}

func TestScopeIsolation_InjectMetadata(t *testing.T) {
	iso := NewScopeIsolation()

	_, err := iso.InjectMetadata(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMissingScope)

	md, err := iso.InjectMetadata(scopedContext("agent-1"), map[string]interface{}{"kind": "fact"})
	require.NoError(t, err)
	assert.Equal(t, "agent-1", md["scope"])
	assert.Equal(t, "fact", md["kind"])

	_, err = iso.InjectMetadata(scopedContext("agent-1"), map[string]interface{}{"scope": "spoofed"})
	assert.ErrorIs(t, err, ErrScopeFilterInUserFilters)
}

func TestNoIsolation(t *testing.T) {
	iso := NewNoIsolation()

	filters, err := iso.InjectFilter(context.Background(), map[string]interface{}{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, "v", filters["k"])

	assert.NoError(t, iso.ValidateScope(context.Background()))
	assert.Equal(t, "none", iso.Mode())
}

func TestIsolationModeFromString(t *testing.T) {
	mode, err := IsolationModeFromString("")
	require.NoError(t, err)
	assert.Equal(t, "scope", mode.Mode())

	mode, err = IsolationModeFromString("none")
	require.NoError(t, err)
	assert.Equal(t, "none", mode.Mode())

	_, err = IsolationModeFromString("filesystem2")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
