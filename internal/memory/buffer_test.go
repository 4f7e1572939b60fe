package memory

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferAppendAndTurns(t *testing.T) {
	m := NewBufferManager(10)
	m.Append("a", "c1", Turn{Role: "user", Content: "one"})
	m.Append("a", "c1", Turn{Role: "assistant", Content: "two"})

	turns := m.Turns("a", "c1")
	assert.Len(t, turns, 2)
	assert.Equal(t, "one", turns[0].Content)
	assert.Equal(t, "two", turns[1].Content)
}

func TestBufferEvictsOldest(t *testing.T) {
	m := NewBufferManager(3)
	for i := 0; i < 5; i++ {
		m.Append("a", "c1", Turn{Content: fmt.Sprintf("turn-%d", i)})
	}

	turns := m.Turns("a", "c1")
	assert.Len(t, turns, 3)
	assert.Equal(t, "turn-2", turns[0].Content)
	assert.Equal(t, "turn-4", turns[2].Content)
}

func TestBufferFlushClears(t *testing.T) {
	m := NewBufferManager(10)
	m.Append("a", "c1", Turn{Content: "one"})

	flushed := m.Flush("a", "c1")
	assert.Len(t, flushed, 1)
	assert.Zero(t, m.Len("a", "c1"))
	assert.Empty(t, m.Flush("a", "c1"))
}

func TestBufferIsolatesScopesAndConversations(t *testing.T) {
	m := NewBufferManager(10)
	m.Append("a", "c1", Turn{Content: "a-c1"})
	m.Append("a", "c2", Turn{Content: "a-c2"})
	m.Append("b", "c1", Turn{Content: "b-c1"})

	assert.Equal(t, 1, m.Len("a", "c1"))
	assert.Equal(t, 1, m.Len("a", "c2"))
	assert.Equal(t, 1, m.Len("b", "c1"))
	assert.Equal(t, "b-c1", m.Turns("b", "c1")[0].Content)
}

func TestBufferTurnsReturnsCopy(t *testing.T) {
	m := NewBufferManager(10)
	m.Append("a", "c1", Turn{Content: "original"})

	turns := m.Turns("a", "c1")
	turns[0].Content = "mutated"
	assert.Equal(t, "original", m.Turns("a", "c1")[0].Content)
}
