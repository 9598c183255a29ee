// Package broker implements the in-memory topic registry and fan-out core:
// topic lifecycle, per-subscriber bounded queueing with drop-oldest
// backpressure, per-topic replay, and delivery accounting.
//
// The broker is a single logical actor over shared state. One mutex guards
// the registry and every topic record; each operation is atomic with respect
// to the registry, and within a publish the enqueue loop over subscribers is
// a single logical step. Outbound emits are best-effort and never block.
package broker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/topichub/topichub/internal/metrics"
	"github.com/topichub/topichub/internal/protocol"
)

// deliverBatch bounds how many queued frames are handed to the transport
// per drain pass during fan-out and replay.
const deliverBatch = 100

var (
	ErrTopicExists   = errors.New("topic already exists")
	ErrTopicNotFound = errors.New("topic not found")
	ErrBrokerClosed  = errors.New("broker is closed")
)

// Sender is the non-owning handle a subscriber record keeps to its
// connection. Send queues a frame for the transport write path and reports
// whether the frame was accepted; it must never block. Close tears the
// connection down after any already accepted frames are flushed.
type Sender interface {
	Send(frame []byte) bool
	Close()
}

// Config carries the broker tunables.
type Config struct {
	RingSize  int // per-topic replay capacity
	QueueSize int // per-subscriber outbound capacity
}

// Broker owns the topic registry. It is the sole owner of topic records;
// topic records own their subscriber tables and replay rings.
type Broker struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	topics  map[string]*topic
	closed  bool
	started time.Time
}

func New(cfg Config, logger zerolog.Logger) *Broker {
	return &Broker{
		cfg:     cfg,
		logger:  logger.With().Str("component", "broker").Logger(),
		topics:  make(map[string]*topic),
		started: time.Now(),
	}
}

// CreateTopic inserts a new topic record. Name validation is the caller's
// job (the HTTP admission layer applies the topic name regex).
func (b *Broker) CreateTopic(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}
	if _, exists := b.topics[name]; exists {
		return ErrTopicExists
	}
	b.topics[name] = newTopic(name, b.cfg.RingSize)
	metrics.TopicsActive.Set(float64(len(b.topics)))

	b.logger.Info().
		Str("topic", name).
		Int("ring_size", b.cfg.RingSize).
		Msg("Topic created")
	return nil
}

// DeleteTopic removes the topic from the registry, then notifies every
// captured subscriber with an info:topic_deleted envelope and closes its
// connection. New operations see the topic as absent as soon as the
// registry mutation commits; notification and close happen outside the
// lock (they are the only suspension points of the operation).
func (b *Broker) DeleteTopic(name string) error {
	b.mu.Lock()
	t, exists := b.topics[name]
	if !exists {
		b.mu.Unlock()
		return ErrTopicNotFound
	}
	delete(b.topics, name)
	metrics.TopicsActive.Set(float64(len(b.topics)))
	metrics.SubscriptionsActive.Sub(float64(len(t.subs)))
	captured := make([]*subscriber, 0, len(t.subs))
	for _, sub := range t.subs {
		captured = append(captured, sub)
	}
	b.mu.Unlock()

	frame, err := protocol.Info(protocol.InfoTopicDeleted, name).Encode()
	if err != nil {
		b.logger.Error().Err(err).Str("topic", name).Msg("Failed to encode deletion notice")
	}
	for _, sub := range captured {
		if frame != nil {
			sub.sender.Send(frame)
		}
		sub.sender.Close()
	}

	b.logger.Info().
		Str("topic", name).
		Int("subscribers_closed", len(captured)).
		Msg("Topic deleted")
	return nil
}

// Subscribe installs (or silently replaces) the subscriber record for this
// connection and emits the ack. When lastN > 0, up to lastN retained
// payloads are replayed to this subscriber only, through the normal
// enqueue+drain path so that overflow is accounted against the replay
// itself.
func (b *Broker) Subscribe(sender Sender, topicName, clientID string, lastN int, requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	t, exists := b.topics[topicName]
	if !exists {
		b.emitTopicNotFound(sender, topicName, requestID)
		return
	}

	if _, already := t.subs[sender]; !already {
		metrics.SubscriptionsActive.Inc()
	}
	sub := &subscriber{
		sender:   sender,
		clientID: clientID,
		queue:    newQueue(b.cfg.QueueSize),
	}
	t.subs[sender] = sub

	b.emit(sender, protocol.Ack(topicName, requestID))

	if lastN > 0 {
		for _, m := range t.ring.last(lastN) {
			frame, err := protocol.Event(topicName, m).Encode()
			if err != nil {
				b.logger.Error().Err(err).Str("topic", topicName).Msg("Failed to encode replay event")
				continue
			}
			t.dropped += int64(sub.queue.push(frame))
		}
		b.drainSubscriber(t, sub)
	}

	b.logger.Debug().
		Str("topic", topicName).
		Str("client_id", clientID).
		Int("last_n", lastN).
		Int("subscribers", len(t.subs)).
		Msg("Subscribed")
}

// Unsubscribe removes the subscriber record keyed by the connection handle
// if present and acks regardless: repeat unsubscribes succeed.
func (b *Broker) Unsubscribe(sender Sender, topicName, clientID, requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	t, exists := b.topics[topicName]
	if !exists {
		b.emitTopicNotFound(sender, topicName, requestID)
		return
	}
	if _, present := t.subs[sender]; present {
		delete(t.subs, sender)
		metrics.SubscriptionsActive.Dec()
	}
	b.emit(sender, protocol.Ack(topicName, requestID))

	b.logger.Debug().
		Str("topic", topicName).
		Str("client_id", clientID).
		Int("subscribers", len(t.subs)).
		Msg("Unsubscribed")
}

// Publish appends the payload to the topic's replay ring and fans it out to
// every current subscriber: enqueue on the bounded queue (evictions counted
// into dropped), then an immediate batched drain to the transport. The
// event frame is serialized once and shared by all subscribers.
//
// Publishing does not subscribe the publisher; it receives the event only
// if its connection is already in the subscriber table.
func (b *Broker) Publish(sender Sender, topicName string, msg protocol.Message, requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	t, exists := b.topics[topicName]
	if !exists {
		b.emitTopicNotFound(sender, topicName, requestID)
		return
	}

	t.messages++
	t.ring.append(msg)
	metrics.PublishesTotal.Inc()

	frame, err := protocol.Event(topicName, msg).Encode()
	if err != nil {
		// Contained fault: the publish is accounted but cannot be fanned out.
		b.logger.Error().Err(err).Str("topic", topicName).Msg("Failed to encode event")
		b.emit(sender, protocol.Error(protocol.CodeInternal, "failed to encode event", requestID))
		return
	}

	for _, sub := range t.subs {
		evicted := sub.queue.push(frame)
		if evicted > 0 {
			t.dropped += int64(evicted)
			metrics.EventsDroppedTotal.Add(float64(evicted))
		}
		b.drainSubscriber(t, sub)
	}

	b.emit(sender, protocol.Ack(topicName, requestID))
}

// drainSubscriber flushes the subscriber's queue to its transport in
// batches of deliverBatch. A frame refused by the transport stays queued;
// delivered counts only frames actually handed over. Caller holds b.mu.
func (b *Broker) drainSubscriber(t *topic, sub *subscriber) {
	for sub.queue.len() > 0 {
		n, blocked := sub.queue.drain(deliverBatch, sub.sender.Send)
		if n > 0 {
			t.delivered += int64(n)
			metrics.EventsDeliveredTotal.Add(float64(n))
		}
		if blocked || n == 0 {
			return
		}
	}
}

// HandleDisconnect removes the connection from every topic it appears in.
// No notice is sent.
func (b *Broker) HandleDisconnect(sender Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for _, t := range b.topics {
		if _, present := t.subs[sender]; present {
			delete(t.subs, sender)
			removed++
		}
	}
	if removed > 0 {
		metrics.SubscriptionsActive.Sub(float64(removed))
		b.logger.Debug().
			Int("topics", removed).
			Msg("Connection removed from subscriber tables")
	}
}

// Health returns the aggregate snapshot for GET /health.
func (b *Broker) Health() HealthSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := 0
	for _, t := range b.topics {
		subs += len(t.subs)
	}
	return HealthSnapshot{
		UptimeSec:   int64(time.Since(b.started).Seconds()),
		Topics:      len(b.topics),
		Subscribers: subs,
	}
}

// TopicList returns the topic listing for GET /topics. Order is arbitrary.
func (b *Broker) TopicList() []TopicInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]TopicInfo, 0, len(b.topics))
	for _, t := range b.topics {
		out = append(out, TopicInfo{Name: t.name, Subscribers: len(t.subs)})
	}
	return out
}

// Stats returns the per-topic counter snapshots for GET /stats.
func (b *Broker) Stats() map[string]TopicStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]TopicStats, len(b.topics))
	for name, t := range b.topics {
		out[name] = TopicStats{
			Messages:    t.messages,
			Subscribers: len(t.subs),
			Delivered:   t.delivered,
			Dropped:     t.dropped,
		}
	}
	return out
}

// Close refuses all further operations and drops the registry. Session
// teardown is the transport's job.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, t := range b.topics {
		metrics.SubscriptionsActive.Sub(float64(len(t.subs)))
	}
	b.topics = make(map[string]*topic)
	metrics.TopicsActive.Set(0)
	b.logger.Info().Msg("Broker closed")
}

func (b *Broker) emitTopicNotFound(sender Sender, topicName, requestID string) {
	metrics.ErrorsTotal.WithLabelValues(protocol.CodeTopicNotFound).Inc()
	b.emit(sender, protocol.Error(protocol.CodeTopicNotFound, "topic not found: "+topicName, requestID))
}

// emit serializes and hands one envelope to the transport, best-effort.
// Failures are not retried and do not mutate counters: dropped accounts
// only for queue overflow, not transport loss.
func (b *Broker) emit(sender Sender, env *protocol.Outbound) {
	frame, err := env.Encode()
	if err != nil {
		b.logger.Error().Err(err).Str("type", env.Type).Msg("Failed to encode envelope")
		return
	}
	sender.Send(frame)
}
