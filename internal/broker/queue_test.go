package broker

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accept(out *[][]byte) func([]byte) bool {
	return func(item []byte) bool {
		*out = append(*out, item)
		return true
	}
}

func TestQueuePushDrainFIFO(t *testing.T) {
	q := newQueue(8)

	for i := 0; i < 5; i++ {
		dropped := q.push([]byte(fmt.Sprintf("m%d", i)))
		assert.Equal(t, 0, dropped)
	}
	require.Equal(t, 5, q.len())

	var got [][]byte
	n, blocked := q.drain(10, accept(&got))
	assert.Equal(t, 5, n)
	assert.False(t, blocked)
	assert.Equal(t, 0, q.len())

	for i, item := range got {
		assert.Equal(t, fmt.Sprintf("m%d", i), string(item))
	}
}

func TestQueueDropOldestOnOverflow(t *testing.T) {
	q := newQueue(3)

	assert.Equal(t, 0, q.push([]byte("a")))
	assert.Equal(t, 0, q.push([]byte("b")))
	assert.Equal(t, 0, q.push([]byte("c")))

	// Full: the head is evicted to admit the new tail.
	assert.Equal(t, 1, q.push([]byte("d")))
	assert.Equal(t, 3, q.len())

	var got [][]byte
	q.drain(10, accept(&got))
	require.Len(t, got, 3)
	assert.Equal(t, "b", string(got[0]))
	assert.Equal(t, "c", string(got[1]))
	assert.Equal(t, "d", string(got[2]))
}

func TestQueueDrainRespectsMax(t *testing.T) {
	q := newQueue(16)
	for i := 0; i < 10; i++ {
		q.push([]byte{byte(i)})
	}

	var got [][]byte
	n, blocked := q.drain(4, accept(&got))
	assert.Equal(t, 4, n)
	assert.False(t, blocked)
	assert.Equal(t, 6, q.len())
}

func TestQueueDrainStopsWhenDeliveryRefused(t *testing.T) {
	q := newQueue(16)
	for i := 0; i < 5; i++ {
		q.push([]byte{byte(i)})
	}

	// Accept two items, then refuse. The refused item must stay queued.
	calls := 0
	n, blocked := q.drain(10, func(item []byte) bool {
		calls++
		return calls <= 2
	})
	assert.Equal(t, 2, n)
	assert.True(t, blocked)
	assert.Equal(t, 3, q.len())

	var got [][]byte
	q.drain(10, accept(&got))
	require.Len(t, got, 3)
	assert.Equal(t, byte(2), got[0][0])
}

func TestQueueSizeNeverExceedsCapacity(t *testing.T) {
	q := newQueue(4)
	dropped := 0
	for i := 0; i < 100; i++ {
		dropped += q.push([]byte{byte(i)})
		assert.LessOrEqual(t, q.len(), 4)
	}
	assert.Equal(t, 96, dropped)
	assert.Equal(t, 4, q.len())
}
