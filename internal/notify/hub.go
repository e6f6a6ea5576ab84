package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Hub is an in-process Bus. It serves a single process running both the API
// and the worker pool.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	closed bool
	logger *zap.Logger
}

var _ Bus = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[*Subscription]struct{}),
		logger: logger.Named("notify-hub"),
	}
}

// Publish delivers msg to the current subscribers of topic. Subscribers that
// already hold an undelivered message are skipped.
func (h *Hub) Publish(_ context.Context, topic string, msg Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}

	for sub := range h.topics[topic] {
		select {
		case sub.ch <- msg:
		default:
			h.logger.Warn("Subscriber buffer full, dropping message", zap.String("topic", topic))
		}
	}
	return nil
}

// Subscribe registers interest in topic.
func (h *Hub) Subscribe(_ context.Context, topic string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	sub := newSubscription(topic, h.remove)
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub, nil
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[sub.topic]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(h.topics, sub.topic)
	}
}

// SubscriberCount returns the number of live subscriptions on topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close ends every subscription. Further calls return nil.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for topic, subs := range h.topics {
		for sub := range subs {
			close(sub.ch)
		}
		delete(h.topics, topic)
	}
	return nil
}
