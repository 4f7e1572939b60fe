// Package vectorstore provides vector database abstractions with pluggable
// backends (chromem-go for embedded local storage, Qdrant for server-grade
// deployments) and mandatory scope isolation.
//
// Every operation that touches documents requires scope information on the
// context (see ContextWithScope). Stores inject scope filters into queries
// and scope metadata into writes so memories from one agent scope can never
// leak into another. Operations without scope fail closed with
// ErrMissingScope.
package vectorstore
