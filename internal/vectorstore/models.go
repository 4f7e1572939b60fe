// internal/vectorstore/models.go
package vectorstore

// Document represents a document to store with its content and metadata.
type Document struct {
	// ID uniquely identifies the document. Generated if empty.
	ID string

	// Content is the text to embed and store.
	Content string

	// Metadata holds arbitrary key-value pairs attached to the document.
	// Scope keys (scope, conversation_id) are reserved and injected by
	// the store.
	Metadata map[string]interface{}

	// Collection optionally routes the document to a non-default collection.
	Collection string
}

// SearchResult is a single semantic search hit.
type SearchResult struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]interface{}
}
