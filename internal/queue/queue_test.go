package queue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/booknouse/cpp-driver/errors"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	q := New(2)

	require.Equal(t, 0, q.Len())
	require.Equal(t, 2, q.Cap())

	require.NoError(t, q.Enqueue("a"))
	require.Equal(t, 1, q.Len())

	item, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, "a", item)
	require.Equal(t, 0, q.Len())
}

// TestQueueFull implements spec scenario S4: a bounded queue rejects
// enqueue past capacity with RequestQueueFull rather than blocking.
func TestQueueFull(t *testing.T) {
	q := New(4)

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Enqueue(i))
	}

	err := q.Enqueue("one too many")
	require.ErrorIs(t, err, errors.RequestQueueFull)
	require.Equal(t, 4, q.Len())
}

func TestQueueDequeueEmpty(t *testing.T) {
	q := New(1)

	_, ok := q.Dequeue()
	require.False(t, ok)
}

func TestQueueDequeueAll(t *testing.T) {
	q := New(4)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(i))
	}

	items := q.DequeueAll(10)
	require.Len(t, items, 3)
	require.Equal(t, 0, q.Len())

	require.Empty(t, q.DequeueAll(10))
}

func TestQueueDequeueAllBounded(t *testing.T) {
	q := New(4)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(i))
	}

	items := q.DequeueAll(2)
	require.Len(t, items, 2)
	require.Equal(t, 1, q.Len())
}
