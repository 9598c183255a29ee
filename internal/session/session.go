// Package session translates inbound envelopes on one connection into
// broker calls. A session is a single-threaded consumer: the transport read
// pump feeds it one envelope at a time.
package session

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/topichub/topichub/internal/broker"
	"github.com/topichub/topichub/internal/metrics"
	"github.com/topichub/topichub/internal/protocol"
)

// Session dispatches the envelopes of one connection. Unknown or malformed
// envelopes answer BAD_REQUEST; an unchecked fault while processing one
// envelope answers INTERNAL and leaves the session open.
type Session struct {
	broker *broker.Broker
	sender broker.Sender
	logger zerolog.Logger
}

func New(b *broker.Broker, sender broker.Sender, logger zerolog.Logger) *Session {
	return &Session{
		broker: b,
		sender: sender,
		logger: logger.With().Str("component", "session").Logger(),
	}
}

// HandleInbound processes one raw client envelope.
func (s *Session) HandleInbound(data []byte) {
	requestID := peekRequestID(data)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic_value", r).
				Msg("Envelope processing panicked")
			metrics.ErrorsTotal.WithLabelValues(protocol.CodeInternal).Inc()
			s.emit(protocol.Error(protocol.CodeInternal, fmt.Sprintf("internal error: %v", r), requestID))
		}
	}()

	in, err := protocol.ParseInbound(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Rejected inbound envelope")
		metrics.ErrorsTotal.WithLabelValues(protocol.CodeBadRequest).Inc()
		s.emit(protocol.Error(protocol.CodeBadRequest, err.Error(), requestID))
		return
	}

	switch in.Type {
	case protocol.TypeSubscribe:
		s.broker.Subscribe(s.sender, in.Topic, in.ClientID, in.LastN, in.RequestID)
	case protocol.TypeUnsubscribe:
		s.broker.Unsubscribe(s.sender, in.Topic, in.ClientID, in.RequestID)
	case protocol.TypePublish:
		s.broker.Publish(s.sender, in.Topic, *in.Message, in.RequestID)
	case protocol.TypePing:
		s.emit(protocol.Pong(in.RequestID))
	}
}

func (s *Session) emit(env *protocol.Outbound) {
	frame, err := env.Encode()
	if err != nil {
		s.logger.Error().Err(err).Str("type", env.Type).Msg("Failed to encode envelope")
		return
	}
	s.sender.Send(frame)
}

// peekRequestID extracts request_id from an envelope that may not parse as
// a known kind, so error replies can still echo it.
func peekRequestID(data []byte) string {
	var probe struct {
		RequestID string `json:"request_id"`
	}
	_ = json.Unmarshal(data, &probe)
	return probe.RequestID
}
