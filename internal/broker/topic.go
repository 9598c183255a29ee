package broker

// subscriber binds a live connection to a topic. The Sender is a non-owning
// handle usable only to emit outbound frames; the broker owns the record and
// its queue, the transport owns the connection itself.
type subscriber struct {
	sender   Sender
	clientID string
	queue    *queue
}

// topic is a named multicast channel: its subscriber table (keyed by the
// connection handle, not client_id), its replay ring, and its counters.
// All fields are guarded by the broker mutex.
type topic struct {
	name string
	subs map[Sender]*subscriber
	ring *ring

	messages  int64 // publishes accepted
	delivered int64 // per-subscriber frames handed to the transport
	dropped   int64 // queue evictions, summed across subscribers
}

func newTopic(name string, ringSize int) *topic {
	return &topic{
		name: name,
		subs: make(map[Sender]*subscriber),
		ring: newRing(ringSize),
	}
}

// TopicStats is the per-topic counter snapshot exposed by GET /stats.
type TopicStats struct {
	Messages    int64 `json:"messages"`
	Subscribers int   `json:"subscribers"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
}

// TopicInfo is one entry of the topic list exposed by GET /topics.
type TopicInfo struct {
	Name        string `json:"name"`
	Subscribers int    `json:"subscribers"`
}

// HealthSnapshot is the aggregate view exposed by GET /health. Subscribers
// counts subscriptions: a connection subscribed to k topics counts k times.
type HealthSnapshot struct {
	UptimeSec   int64 `json:"uptime_sec"`
	Topics      int   `json:"topics"`
	Subscribers int   `json:"subscribers"`
}
