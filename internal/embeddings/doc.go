// Package embeddings provides embedding generation via multiple providers.
//
// Providers implement the Provider interface:
//   - FastEmbed: local ONNX models (no external service; requires CGO)
//   - TEI: any Text Embeddings Inference compatible HTTP API
//   - Mock: deterministic hash-based vectors for tests
//
// Select a provider via NewProvider:
//
//	provider, err := embeddings.NewProvider(embeddings.ProviderConfig{
//	    Provider: "fastembed",
//	    Model:    "BAAI/bge-small-en-v1.5",
//	})
//
// Document and query embeddings use different prefixes on BGE-family
// models (passage: vs query:); both FastEmbed and TEI handle this.
package embeddings
