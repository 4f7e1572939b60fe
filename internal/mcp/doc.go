// internal/mcp/doc.go

// Package mcp exposes the semantic layer over the Model Context
// Protocol on stdio. Each tool is a thin, instrumented wrapper around
// the agentctx facade; scope travels as explicit tool arguments and is
// validated fail-closed before any store is touched.
package mcp
