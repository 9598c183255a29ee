package session

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topichub/topichub/internal/broker"
	"github.com/topichub/topichub/internal/protocol"
)

// fakeSender records frames; panicNext forces a panic on the next Send to
// exercise fault containment.
type fakeSender struct {
	frames    [][]byte
	panicNext bool
	closed    bool
}

func (f *fakeSender) Send(frame []byte) bool {
	if f.panicNext {
		f.panicNext = false
		panic("transport fault")
	}
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeSender) Close() { f.closed = true }

func (f *fakeSender) envelopes(t *testing.T) []protocol.Outbound {
	t.Helper()
	out := make([]protocol.Outbound, len(f.frames))
	for i, frame := range f.frames {
		require.NoError(t, json.Unmarshal(frame, &out[i]))
	}
	return out
}

func newTestSession() (*Session, *fakeSender, *broker.Broker) {
	b := broker.New(broker.Config{RingSize: 10, QueueSize: 16}, zerolog.Nop())
	sender := &fakeSender{}
	return New(b, sender, zerolog.Nop()), sender, b
}

func TestPingYieldsPong(t *testing.T) {
	s, sender, _ := newTestSession()

	s.HandleInbound([]byte(`{"type":"ping","request_id":"r1"}`))

	envs := sender.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, protocol.TypePong, envs[0].Type)
	assert.Equal(t, "r1", envs[0].RequestID)
	assert.NotEmpty(t, envs[0].TS)
}

func TestUnknownTypeYieldsBadRequest(t *testing.T) {
	s, sender, _ := newTestSession()

	s.HandleInbound([]byte(`{"type":"teleport","request_id":"r2"}`))

	envs := sender.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, protocol.TypeError, envs[0].Type)
	assert.Equal(t, protocol.CodeBadRequest, envs[0].Error.Code)
	assert.Equal(t, "r2", envs[0].RequestID)
}

func TestMalformedJSONYieldsBadRequest(t *testing.T) {
	s, sender, _ := newTestSession()

	s.HandleInbound([]byte(`{"type":`))

	envs := sender.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, protocol.CodeBadRequest, envs[0].Error.Code)
}

func TestSubscribeRoutesToBroker(t *testing.T) {
	s, sender, b := newTestSession()
	require.NoError(t, b.CreateTopic("orders"))

	s.HandleInbound([]byte(`{"type":"subscribe","topic":"orders","client_id":"c1","request_id":"r3"}`))

	envs := sender.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, protocol.TypeAck, envs[0].Type)
	assert.Equal(t, "orders", envs[0].Topic)
	assert.Equal(t, "r3", envs[0].RequestID)
	assert.Equal(t, 1, b.Health().Subscribers)
}

func TestPublishToMissingTopicYieldsNotFound(t *testing.T) {
	s, sender, _ := newTestSession()

	s.HandleInbound([]byte(`{"type":"publish","topic":"missing","message":{"id":"m1","payload":{}},"request_id":"r4"}`))

	envs := sender.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, protocol.TypeError, envs[0].Type)
	assert.Equal(t, protocol.CodeTopicNotFound, envs[0].Error.Code)
	assert.Equal(t, "r4", envs[0].RequestID)
}

func TestPublishDeliversToSubscribedSession(t *testing.T) {
	s, sender, b := newTestSession()
	require.NoError(t, b.CreateTopic("orders"))

	s.HandleInbound([]byte(`{"type":"subscribe","topic":"orders","client_id":"c1"}`))
	s.HandleInbound([]byte(`{"type":"publish","topic":"orders","message":{"id":"m1","payload":{"seq":0}}}`))

	envs := sender.envelopes(t)
	require.Len(t, envs, 3) // subscribe ack, event, publish ack
	assert.Equal(t, protocol.TypeAck, envs[0].Type)
	assert.Equal(t, protocol.TypeEvent, envs[1].Type)
	assert.Equal(t, "m1", envs[1].Message.ID)
	assert.Equal(t, protocol.TypeAck, envs[2].Type)
}

func TestInternalFaultIsContained(t *testing.T) {
	s, sender, _ := newTestSession()
	sender.panicNext = true

	// The first emit panics inside the transport; the session must answer
	// INTERNAL and stay usable.
	s.HandleInbound([]byte(`{"type":"ping","request_id":"r5"}`))

	envs := sender.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, protocol.TypeError, envs[0].Type)
	assert.Equal(t, protocol.CodeInternal, envs[0].Error.Code)
	assert.Equal(t, "r5", envs[0].RequestID)

	// Session continues after the fault.
	s.HandleInbound([]byte(`{"type":"ping"}`))
	assert.Equal(t, protocol.TypePong, sender.envelopes(t)[1].Type)
}
