package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboxPopLatest(t *testing.T) {
	b := NewInbox()
	b.Push("a:1", "first")
	b.Push("a:1", "second")
	b.Push("b:2", "third")
	require.Equal(t, 3, b.Depth())

	for _, want := range []string{"third", "second", "first"} {
		m, ok := b.PopLatest()
		require.True(t, ok)
		assert.Equal(t, want, m.Line)
	}

	_, ok := b.PopLatest()
	assert.False(t, ok)
	assert.Equal(t, 0, b.Depth())
}

func TestInboxPopByOrigin(t *testing.T) {
	b := NewInbox()
	b.Push("a:1", "one")
	b.Push("b:2", "other")
	b.Push("a:1", "two")

	m, ok := b.PopByOrigin("a:1")
	require.True(t, ok)
	assert.Equal(t, "one", m.Line)

	m, ok = b.PopByOrigin("a:1")
	require.True(t, ok)
	assert.Equal(t, "two", m.Line)

	_, ok = b.PopByOrigin("a:1")
	assert.False(t, ok)

	m, ok = b.PopByOrigin("b:2")
	require.True(t, ok)
	assert.Equal(t, "other", m.Line)
}

func TestInboxEvictsOldestWhenFull(t *testing.T) {
	b := NewInboxSize(2)
	b.Push("a:1", "one")
	b.Push("a:1", "two")
	b.Push("a:1", "three")
	require.Equal(t, 2, b.Depth())

	m, ok := b.PopByOrigin("a:1")
	require.True(t, ok)
	assert.Equal(t, "two", m.Line, "oldest entry evicted")
}

func TestInboxCompaction(t *testing.T) {
	b := NewInboxSize(4)
	b.Push("a:1", "one")
	b.Push("a:1", "two")
	b.Push("a:1", "three")
	b.Push("a:1", "four")

	for i := 0; i < 3; i++ {
		_, ok := b.PopLatest()
		require.True(t, ok)
	}
	require.Equal(t, 1, b.Depth())

	// More than half the slots are garbage, the next push sweeps them
	// instead of evicting the live head.
	b.Push("b:2", "five")
	assert.Equal(t, 2, b.Depth())
	b.mu.Lock()
	assert.Len(t, b.msgs, 2)
	b.mu.Unlock()

	m, ok := b.PopByOrigin("a:1")
	require.True(t, ok)
	assert.Equal(t, "one", m.Line)
	m, ok = b.PopByOrigin("b:2")
	require.True(t, ok)
	assert.Equal(t, "five", m.Line)
}

func TestInboxEmpty(t *testing.T) {
	b := NewInbox()
	assert.Equal(t, 0, b.Depth())
	_, ok := b.PopLatest()
	assert.False(t, ok)
	_, ok = b.PopByOrigin("a:1")
	assert.False(t, ok)
}
