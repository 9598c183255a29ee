// Package protocol defines the typed JSON envelopes carried over the
// bidirectional WebSocket transport.
//
// Inbound (client → server): subscribe, unsubscribe, publish, ping.
// Outbound (server → client): ack, event, error, pong, info.
//
// Envelopes are a tagged union over the closed "type" set. Parsing rejects
// unknown discriminants; each variant carries exactly its declared fields.
// Every outbound envelope carries an ISO-8601 UTC "ts" and echoes the
// inbound "request_id" when one was provided.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound envelope types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePublish     = "publish"
	TypePing        = "ping"
)

// Outbound envelope types.
const (
	TypeAck   = "ack"
	TypeEvent = "event"
	TypeError = "error"
	TypePong  = "pong"
	TypeInfo  = "info"
)

// Error codes (closed set). SLOW_CONSUMER and UNAUTHORIZED are reserved
// and never emitted.
const (
	CodeBadRequest    = "BAD_REQUEST"
	CodeTopicNotFound = "TOPIC_NOT_FOUND"
	CodeSlowConsumer  = "SLOW_CONSUMER"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeInternal      = "INTERNAL"
)

// Info messages broadcast without a request_id.
const (
	InfoPing         = "ping"
	InfoTopicDeleted = "topic_deleted"
)

// Message is the payload envelope carried by publish and event. The id is
// caller-supplied and opaque; the payload passes through unchanged.
type Message struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound is the parsed client envelope. Only the fields declared for the
// parsed Type are populated.
type Inbound struct {
	Type      string   `json:"type"`
	RequestID string   `json:"request_id,omitempty"`
	Topic     string   `json:"topic,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	LastN     int      `json:"last_n,omitempty"`
	Message   *Message `json:"message,omitempty"`
}

// ErrorBody is the error payload of an outbound error envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Outbound is the server envelope. Zero-valued optional fields are omitted
// so each variant serializes exactly its declared shape.
type Outbound struct {
	Type      string     `json:"type"`
	RequestID string     `json:"request_id,omitempty"`
	Topic     string     `json:"topic,omitempty"`
	Status    string     `json:"status,omitempty"`
	Message   *Message   `json:"message,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
	Msg       string     `json:"msg,omitempty"`
	TS        string     `json:"ts"`
}

// Timestamp returns the current time as ISO-8601 UTC.
func Timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// ParseInbound decodes a client envelope and validates its discriminant and
// required fields. A nil error means the envelope is one of the four known
// kinds with its declared fields present.
func ParseInbound(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}

	switch in.Type {
	case TypeSubscribe, TypeUnsubscribe:
		if in.Topic == "" {
			return nil, fmt.Errorf("%s requires topic", in.Type)
		}
		if in.ClientID == "" {
			return nil, fmt.Errorf("%s requires client_id", in.Type)
		}
	case TypePublish:
		if in.Topic == "" {
			return nil, fmt.Errorf("publish requires topic")
		}
		if in.Message == nil || in.Message.ID == "" {
			return nil, fmt.Errorf("publish requires message.id")
		}
	case TypePing:
		// No required fields.
	case "":
		return nil, fmt.Errorf("missing envelope type")
	default:
		return nil, fmt.Errorf("unknown envelope type %q", in.Type)
	}

	return &in, nil
}

// Ack builds a status=ok acknowledgment for a topic operation.
func Ack(topic, requestID string) *Outbound {
	return &Outbound{
		Type:      TypeAck,
		RequestID: requestID,
		Topic:     topic,
		Status:    "ok",
		TS:        Timestamp(),
	}
}

// Event builds a fan-out delivery for one publish on a topic.
func Event(topic string, msg Message) *Outbound {
	return &Outbound{
		Type:    TypeEvent,
		Topic:   topic,
		Message: &msg,
		TS:      Timestamp(),
	}
}

// Error builds an error envelope tied to the originating request.
func Error(code, message, requestID string) *Outbound {
	return &Outbound{
		Type:      TypeError,
		RequestID: requestID,
		Error:     &ErrorBody{Code: code, Message: message},
		TS:        Timestamp(),
	}
}

// Pong builds the reply to an inbound ping.
func Pong(requestID string) *Outbound {
	return &Outbound{
		Type:      TypePong,
		RequestID: requestID,
		TS:        Timestamp(),
	}
}

// Info builds a broadcast info envelope. Heartbeats use InfoPing; topic
// deletion notices use InfoTopicDeleted with the topic set.
func Info(msg, topic string) *Outbound {
	return &Outbound{
		Type:  TypeInfo,
		Topic: topic,
		Msg:   msg,
		TS:    Timestamp(),
	}
}

// Encode serializes the envelope. Marshal errors cannot occur for envelopes
// built from the constructors above, so callers treat a failure as internal.
func (o *Outbound) Encode() ([]byte, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", o.Type, err)
	}
	return data, nil
}
