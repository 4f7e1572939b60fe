// internal/memory/buffer.go
package memory

import (
	"sync"
	"time"
)

// Turn is one short-term conversation entry.
type Turn struct {
	// MemoryID is the long-term document ID for this turn, when the
	// turn was persisted.
	MemoryID string
	Role     string
	Content  string
	At       time.Time
}

// BufferManager holds bounded per-conversation ring buffers keyed by
// scope and conversation. Oldest turns are dropped once a buffer
// reaches its limit.
type BufferManager struct {
	mu       sync.Mutex
	maxTurns int
	buffers  map[string][]Turn
}

// NewBufferManager creates a manager. maxTurns <= 0 means unbounded.
func NewBufferManager(maxTurns int) *BufferManager {
	return &BufferManager{
		maxTurns: maxTurns,
		buffers:  make(map[string][]Turn),
	}
}

func bufferKey(scope, conversationID string) string {
	return scope + "\x00" + conversationID
}

// Append adds a turn to a conversation buffer, evicting the oldest
// turn when the buffer is full.
func (m *BufferManager) Append(scope, conversationID string, turn Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := bufferKey(scope, conversationID)
	buf := append(m.buffers[key], turn)
	if m.maxTurns > 0 && len(buf) > m.maxTurns {
		buf = buf[len(buf)-m.maxTurns:]
	}
	m.buffers[key] = buf
}

// Turns returns a copy of a conversation's buffered turns, oldest
// first.
func (m *BufferManager) Turns(scope, conversationID string) []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := m.buffers[bufferKey(scope, conversationID)]
	out := make([]Turn, len(buf))
	copy(out, buf)
	return out
}

// Flush returns a conversation's turns and clears its buffer.
func (m *BufferManager) Flush(scope, conversationID string) []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := bufferKey(scope, conversationID)
	buf := m.buffers[key]
	delete(m.buffers, key)
	return buf
}

// Len returns the number of buffered turns for a conversation.
func (m *BufferManager) Len(scope, conversationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffers[bufferKey(scope, conversationID)])
}
