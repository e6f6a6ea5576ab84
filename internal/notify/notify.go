// Package notify delivers the terminal result of a session to subscribers.
// Delivery is fire-and-forget: a message published before anyone subscribed
// is not replayed, so consumers must also be able to poll the session status.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gains-sandbox-go/internal/config"
	"gains-sandbox-go/internal/gains"

	"go.uber.org/zap"
)

// ErrClosed is returned by a Bus after Close.
var ErrClosed = errors.New("notify bus closed")

// Message is the terminal notification of one session.
type Message struct {
	Summary *gains.Summary `json:"summary,omitempty"`
	Error   bool           `json:"error,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Ready builds the success message.
func Ready(summary gains.Summary) Message {
	return Message{Summary: &summary}
}

// Failed builds the failure message.
func Failed(msg string) Message {
	return Message{Error: true, Message: msg}
}

// Bus is a topic-based publish/subscribe channel.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
	Close() error
}

// New builds the bus selected by cfg.Backend. The postgres backend connects
// to the database described by db, which must use the postgres driver.
func New(ctx context.Context, cfg config.Notify, db config.Database, logger *zap.Logger) (Bus, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewHub(logger), nil
	case "postgres":
		if db.Driver != "postgres" {
			return nil, fmt.Errorf("notify backend postgres requires database.driver postgres, got %q", db.Driver)
		}
		return NewPGBus(ctx, db.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown notify backend %q", cfg.Backend)
	}
}

// Topic returns the topic a session's result is published on.
func Topic(sessionID string) string {
	return "sandbox:" + sessionID
}

// Subscription receives the messages of one topic until unsubscribed.
type Subscription struct {
	topic  string
	ch     chan Message
	once   sync.Once
	remove func(*Subscription)
}

func newSubscription(topic string, remove func(*Subscription)) *Subscription {
	// One terminal message per topic, so a single slot never blocks publishers.
	return &Subscription{topic: topic, ch: make(chan Message, 1), remove: remove}
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// C returns the delivery channel. It is closed on Unsubscribe or when the bus
// closes.
func (s *Subscription) C() <-chan Message { return s.ch }

// Unsubscribe stops delivery. Calling it more than once is safe.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		if s.remove != nil {
			s.remove(s)
		}
	})
}
