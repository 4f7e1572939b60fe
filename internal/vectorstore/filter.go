// internal/vectorstore/filter.go
package vectorstore

import "fmt"

// isScopeKey reports whether a metadata/filter key is reserved for
// scope isolation.
func isScopeKey(key string) bool {
	return key == ScopeMetadataKey || key == ConversationMetadataKey
}

// mergeScopeFilters combines scope filters with user filters. Scope
// filters always win; user filters naming reserved keys are rejected
// rather than silently overwritten.
func mergeScopeFilters(scopeFilters, userFilters map[string]interface{}) (map[string]interface{}, error) {
	merged := make(map[string]interface{}, len(scopeFilters)+len(userFilters))
	for k, v := range userFilters {
		if isScopeKey(k) {
			return nil, fmt.Errorf("%w: filter key %q", ErrScopeFilterInUserFilters, k)
		}
		merged[k] = v
	}
	for k, v := range scopeFilters {
		merged[k] = v
	}
	return merged, nil
}

// convertMetadataToString converts metadata values to strings for backends
// that only store string payloads (chromem).
func convertMetadataToString(metadata map[string]interface{}) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			out[k] = val
		case fmt.Stringer:
			out[k] = val.String()
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

// convertMetadataFromString widens a string metadata map back to the
// interface form used by SearchResult.
func convertMetadataFromString(metadata map[string]string) map[string]interface{} {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
