// internal/vectorstore/scope.go
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Scope isolation errors.
var (
	// ErrMissingScope is returned when an operation requires scope
	// information but none is present in the context.
	ErrMissingScope = errors.New("missing scope information in context")

	// ErrInvalidScope is returned when scope information fails validation.
	ErrInvalidScope = errors.New("invalid scope information")

	// ErrScopeFilterInUserFilters is returned when user-supplied filters
	// attempt to set reserved scope keys.
	ErrScopeFilterInUserFilters = errors.New("scope filter keys are reserved and cannot be set by user filters")
)

// Reserved metadata keys injected by scope isolation.
const (
	ScopeMetadataKey        = "scope"
	ConversationMetadataKey = "conversation_id"
)

// scopeValuePattern restricts scope identifiers to a safe character set.
// Keeps identifiers usable as payload values and filesystem path segments.
var scopeValuePattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]{1,128}$`)

// ScopeInfo identifies the agent scope a memory belongs to.
type ScopeInfo struct {
	// Scope is the required top-level namespace, typically an agent or
	// project identifier.
	Scope string

	// ConversationID optionally narrows the scope to a single conversation.
	ConversationID string
}

// Validate checks that required fields are present and well-formed.
func (s ScopeInfo) Validate() error {
	if s.Scope == "" {
		return fmt.Errorf("%w: scope is required", ErrInvalidScope)
	}
	if !scopeValuePattern.MatchString(s.Scope) {
		return fmt.Errorf("%w: scope %q contains invalid characters", ErrInvalidScope, s.Scope)
	}
	if s.ConversationID != "" && !scopeValuePattern.MatchString(s.ConversationID) {
		return fmt.Errorf("%w: conversation_id %q contains invalid characters", ErrInvalidScope, s.ConversationID)
	}
	return nil
}

// Metadata returns the scope fields as metadata to merge into documents.
func (s ScopeInfo) Metadata() map[string]interface{} {
	md := map[string]interface{}{ScopeMetadataKey: s.Scope}
	if s.ConversationID != "" {
		md[ConversationMetadataKey] = s.ConversationID
	}
	return md
}

// Filter returns the scope fields as a query filter.
func (s ScopeInfo) Filter() map[string]interface{} {
	return s.Metadata()
}

type scopeContextKey struct{}

// ContextWithScope attaches scope information to the context.
func ContextWithScope(ctx context.Context, scope ScopeInfo) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext extracts scope information from the context.
// Returns ErrMissingScope if absent, ErrInvalidScope if malformed.
func ScopeFromContext(ctx context.Context) (ScopeInfo, error) {
	scope, ok := ctx.Value(scopeContextKey{}).(ScopeInfo)
	if !ok {
		return ScopeInfo{}, ErrMissingScope
	}
	if err := scope.Validate(); err != nil {
		return ScopeInfo{}, err
	}
	return scope, nil
}
