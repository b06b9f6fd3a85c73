package broker

import (
	"bytes"
	"time"

	"github.com/Thejuampi/bunnymq-client-go/bunny"
)

type queuedMessage struct {
	body        []byte
	publishedAt time.Time
	expiresAt   time.Time
	deliveries  int
}

func (m *queuedMessage) expired(now time.Time) bool {
	return !m.expiresAt.IsZero() && now.After(m.expiresAt)
}

// queue is a FIFO with at most one consumer and, unless NoAck is set, at
// most one unacknowledged delivery.
type queue struct {
	name      string
	config    bunny.QueueConfig
	createdAt time.Time

	messages []*queuedMessage
	consumer *session
	inflight *queuedMessage
	ackTimer *time.Timer
}

// QueueInfo is the admin view of a queue.
type QueueInfo struct {
	Name      string            `json:"name"`
	Config    bunny.QueueConfig `json:"config"`
	Depth     int               `json:"depth"`
	Consumer  string            `json:"consumer,omitempty"`
	InFlight  bool              `json:"in_flight"`
	CreatedAt time.Time         `json:"created_at"`
}

func (q *queue) info() QueueInfo {
	info := QueueInfo{
		Name:      q.name,
		Config:    q.config,
		Depth:     len(q.messages),
		InFlight:  q.inflight != nil,
		CreatedAt: q.createdAt,
	}
	if q.consumer != nil {
		info.Consumer = q.consumer.id
	}
	return info
}

// The methods below require b.mu.

func (b *Broker) declareLocked(name string, config *bunny.QueueConfig) bool {
	if _, exists := b.queues[name]; exists {
		return false
	}
	q := &queue{name: name, createdAt: b.now()}
	if config != nil {
		q.config = *config
	}
	b.queues[name] = q
	b.metrics.queueDepth.WithLabelValues(name).Set(0)
	return true
}

func (b *Broker) publishLocked(name string, body []byte) bool {
	q, exists := b.queues[name]
	if !exists {
		return false
	}
	now := b.now()
	message := &queuedMessage{body: append([]byte(nil), body...), publishedAt: now}
	if q.config.MessageExpiry > 0 {
		message.expiresAt = now.Add(time.Duration(q.config.MessageExpiry) * time.Second)
	}
	q.messages = append(q.messages, message)
	b.metrics.messagesPublished.WithLabelValues(name).Inc()
	b.dispatchLocked(q)
	return true
}

// subscribeLocked makes s the consumer of name, creating the queue when it
// was never declared. A session consumes from one queue at a time.
func (b *Broker) subscribeLocked(s *session, name string) {
	if s.queue != "" && s.queue != name {
		if previous, ok := b.queues[s.queue]; ok && previous.consumer == s {
			b.requeueLocked(previous)
			previous.consumer = nil
		}
	}
	if _, exists := b.queues[name]; !exists {
		b.declareLocked(name, nil)
	}
	q := b.queues[name]
	if q.consumer != nil && q.consumer != s {
		q.consumer.queue = ""
		b.requeueLocked(q)
	}
	q.consumer = s
	s.queue = name
	b.dispatchLocked(q)
}

// ackLocked clears the delivery s holds. The caller dispatches the next
// message once the ack reply is queued.
func (b *Broker) ackLocked(s *session) (*queue, bool) {
	q, exists := b.queues[s.queue]
	if !exists || q.consumer != s || q.inflight == nil {
		return nil, false
	}
	b.stopAckTimerLocked(q)
	q.inflight = nil
	b.metrics.messagesAcked.WithLabelValues(q.name).Inc()
	return q, true
}

// releaseLocked detaches s from its queue and puts its unacknowledged
// delivery back at the head.
func (b *Broker) releaseLocked(s *session) {
	q, exists := b.queues[s.queue]
	if !exists || q.consumer != s {
		return
	}
	b.requeueLocked(q)
	q.consumer = nil
	s.queue = ""
}

func (b *Broker) requeueLocked(q *queue) {
	if q.inflight == nil {
		return
	}
	b.stopAckTimerLocked(q)
	q.messages = append([]*queuedMessage{q.inflight}, q.messages...)
	q.inflight = nil
	b.metrics.messagesRequeued.WithLabelValues(q.name).Inc()
	b.metrics.queueDepth.WithLabelValues(q.name).Set(float64(len(q.messages)))
}

func (b *Broker) dispatchLocked(q *queue) {
	defer func() {
		b.metrics.queueDepth.WithLabelValues(q.name).Set(float64(len(q.messages)))
	}()

	now := b.now()
	for q.consumer != nil && q.inflight == nil && len(q.messages) > 0 {
		message := q.messages[0]
		q.messages[0] = nil
		q.messages = q.messages[1:]
		if message.expired(now) {
			b.metrics.messagesExpired.WithLabelValues(q.name).Inc()
			continue
		}

		message.deliveries++
		q.consumer.send(bunny.EncodeMessagePacket(message.body))
		b.metrics.messagesDelivered.WithLabelValues(q.name).Inc()
		if q.config.NoAck {
			continue
		}
		q.inflight = message
		if q.config.AckExpiry > 0 {
			b.armAckTimerLocked(q, message, time.Duration(q.config.AckExpiry)*time.Second)
		}
	}
}

func (b *Broker) armAckTimerLocked(q *queue, message *queuedMessage, after time.Duration) {
	q.ackTimer = time.AfterFunc(after, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if q.inflight != message {
			return
		}
		b.logger.Info("ack expired, requeueing", "queue", q.name, "deliveries", message.deliveries)
		b.requeueLocked(q)
		b.dispatchLocked(q)
	})
}

func (b *Broker) stopAckTimerLocked(q *queue) {
	if q.ackTimer != nil {
		q.ackTimer.Stop()
		q.ackTimer = nil
	}
}

// matchQueueLocked returns the longest declared queue name that prefixes
// data. Subscribe frames carry the queue name without a length, so on a
// byte stream this is how the broker finds where the frame ends.
func (b *Broker) matchQueueLocked(data []byte) string {
	var match string
	for name := range b.queues {
		if len(name) > len(match) && bytes.HasPrefix(data, []byte(name)) {
			match = name
		}
	}
	return match
}

func (b *Broker) purgeLocked(name string) (int, bool) {
	q, exists := b.queues[name]
	if !exists {
		return 0, false
	}
	purged := len(q.messages)
	q.messages = nil
	b.metrics.queueDepth.WithLabelValues(name).Set(0)
	return purged, true
}
