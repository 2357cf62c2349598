package tsqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aolab/tsmux/tspacket"
)

func fixture(b byte) [tspacket.Size]byte {
	var raw [tspacket.Size]byte
	raw[0] = b
	return raw
}

func TestPushPopOrdering(t *testing.T) {
	q := New(4)
	q.Push(fixture(1))
	q.Push(fixture(2))

	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, byte(1), got[0])

	got, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, byte(2), got[0])
}

func TestOverflowDropsOldest(t *testing.T) {
	q := New(2)
	q.Push(fixture(1))
	q.Push(fixture(2))
	q.Push(fixture(3))
	assert.Equal(t, 1, q.Dropped())

	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, byte(2), got[0])
}

func TestCloseUnblocksPop(t *testing.T) {
	q := New(2)
	q.Close()
	_, ok := q.Pop()
	assert.False(t, ok)
}
