// internal/vectorstore/isolation.go
package vectorstore

import (
	"context"
	"fmt"
)

// IsolationMode controls how scope boundaries are enforced by a store.
type IsolationMode interface {
	// InjectFilter merges scope constraints into a query filter.
	// Fails closed: no scope in context means an error, not an open query.
	InjectFilter(ctx context.Context, filters map[string]interface{}) (map[string]interface{}, error)

	// InjectMetadata merges scope fields into document metadata before a write.
	InjectMetadata(ctx context.Context, metadata map[string]interface{}) (map[string]interface{}, error)

	// ValidateScope checks that the context carries valid scope information.
	ValidateScope(ctx context.Context) error

	// Mode returns the mode name for logging and configuration.
	Mode() string
}

// ScopeIsolation enforces scope boundaries through payload filters.
// This is the default mode: every write is tagged with scope metadata and
// every query is constrained to the caller's scope.
type ScopeIsolation struct{}

var _ IsolationMode = (*ScopeIsolation)(nil)

// NewScopeIsolation creates the default payload-based isolation mode.
func NewScopeIsolation() *ScopeIsolation { return &ScopeIsolation{} }

func (i *ScopeIsolation) InjectFilter(ctx context.Context, filters map[string]interface{}) (map[string]interface{}, error) {
	scope, err := ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return mergeScopeFilters(scope.Filter(), filters)
}

func (i *ScopeIsolation) InjectMetadata(ctx context.Context, metadata map[string]interface{}) (map[string]interface{}, error) {
	scope, err := ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]interface{}, len(metadata)+2)
	for k, v := range metadata {
		if isScopeKey(k) {
			return nil, fmt.Errorf("%w: metadata key %q", ErrScopeFilterInUserFilters, k)
		}
		merged[k] = v
	}
	for k, v := range scope.Metadata() {
		merged[k] = v
	}
	return merged, nil
}

func (i *ScopeIsolation) ValidateScope(ctx context.Context) error {
	_, err := ScopeFromContext(ctx)
	return err
}

func (i *ScopeIsolation) Mode() string { return "scope" }

// NoIsolation disables scope enforcement. Testing and single-scope
// deployments only; never use it for shared storage.
type NoIsolation struct{}

var _ IsolationMode = (*NoIsolation)(nil)

// NewNoIsolation creates an isolation mode that enforces nothing.
func NewNoIsolation() *NoIsolation { return &NoIsolation{} }

func (i *NoIsolation) InjectFilter(_ context.Context, filters map[string]interface{}) (map[string]interface{}, error) {
	return filters, nil
}

func (i *NoIsolation) InjectMetadata(_ context.Context, metadata map[string]interface{}) (map[string]interface{}, error) {
	return metadata, nil
}

func (i *NoIsolation) ValidateScope(_ context.Context) error { return nil }

func (i *NoIsolation) Mode() string { return "none" }

// IsolationModeFromString maps a configuration value to an isolation mode.
func IsolationModeFromString(mode string) (IsolationMode, error) {
	switch mode {
	case "", "scope":
		return NewScopeIsolation(), nil
	case "none":
		return NewNoIsolation(), nil
	default:
		return nil, fmt.Errorf("%w: unknown isolation mode %q", ErrInvalidConfig, mode)
	}
}
