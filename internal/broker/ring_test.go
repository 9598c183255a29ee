package broker

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topichub/topichub/internal/protocol"
)

func msg(id string) protocol.Message {
	return protocol.Message{ID: id, Payload: json.RawMessage(`{}`)}
}

func ids(msgs []protocol.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestRingLastReturnsInsertionOrder(t *testing.T) {
	r := newRing(10)
	for i := 0; i < 3; i++ {
		r.append(msg(fmt.Sprintf("m%d", i)))
	}

	assert.Equal(t, []string{"m1", "m2"}, ids(r.last(2)))
	assert.Equal(t, []string{"m0", "m1", "m2"}, ids(r.last(3)))
}

func TestRingLastClampsToSize(t *testing.T) {
	r := newRing(10)
	r.append(msg("a"))
	r.append(msg("b"))

	// last(n) with n >= size equals last(size).
	assert.Equal(t, ids(r.last(2)), ids(r.last(100)))
}

func TestRingOverwritesOldestAtCapacity(t *testing.T) {
	r := newRing(3)
	for i := 0; i < 5; i++ {
		r.append(msg(fmt.Sprintf("m%d", i)))
	}

	require.Equal(t, 3, r.len())
	assert.Equal(t, []string{"m2", "m3", "m4"}, ids(r.last(10)))
}

func TestRingZeroCapacityDisablesRetention(t *testing.T) {
	r := newRing(0)
	r.append(msg("a"))

	assert.Equal(t, 0, r.len())
	assert.Empty(t, r.last(5))
}

func TestRingLastDoesNotMutate(t *testing.T) {
	r := newRing(5)
	r.append(msg("a"))
	r.append(msg("b"))

	_ = r.last(2)
	_ = r.last(1)
	assert.Equal(t, []string{"a", "b"}, ids(r.last(2)))
}
