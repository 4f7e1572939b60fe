// Package secrets detects and redacts secrets in text before it is
// embedded, persisted, or sent to an LLM. Memory content passes through
// the scrubber on every store; findings carry rule IDs and positions but
// never the matched value.
package secrets
