package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupQueueFIFO(t *testing.T) {
	q := NewGroupQueue()
	q.Put(1, "a")
	q.Put(1, "b")
	q.Put(1, "c")

	item, ok := q.Get(1)
	require.True(t, ok)
	assert.Equal(t, "a", item)

	item, ok = q.Get(1)
	require.True(t, ok)
	assert.Equal(t, "b", item)

	assert.Equal(t, 1, q.Size(1))
}

func TestGroupQueueEmptyGroup(t *testing.T) {
	q := NewGroupQueue()
	item, ok := q.Get(42)
	assert.False(t, ok)
	assert.Nil(t, item)
	assert.Zero(t, q.Size(42))
}

func TestGroupQueueIsolatesGroups(t *testing.T) {
	q := NewGroupQueue()
	q.Put(1, "g1-a")
	q.Put(2, "g2-a")

	item, ok := q.Get(2)
	require.True(t, ok)
	assert.Equal(t, "g2-a", item)
	assert.Equal(t, 1, q.Size(1))
	assert.Zero(t, q.Size(2))
}

func TestGroupQueueSizeAll(t *testing.T) {
	q := NewGroupQueue()
	q.Put(1, "a")
	q.Put(2, "b")
	q.Put(2, "c")
	assert.Equal(t, 3, q.SizeAll())

	q.Get(2)
	assert.Equal(t, 2, q.SizeAll())
}

func TestGroupQueueDrainsToEmpty(t *testing.T) {
	q := NewGroupQueue()
	q.Put(1, "a")
	_, _ = q.Get(1)
	assert.Zero(t, q.Size(1))
	assert.Zero(t, q.SizeAll())
}
