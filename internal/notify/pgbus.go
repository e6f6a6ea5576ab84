package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const reconnectDelay = time.Second

// listenCmd is a LISTEN or UNLISTEN waiting to run on the listener connection.
type listenCmd struct {
	topic  string
	listen bool
	done   chan struct{}
	err    error
}

// PGBus is a Bus on Postgres LISTEN/NOTIFY, shared by the api and worker
// processes. Publishing uses a pool; a single dedicated connection listens on
// every topic that has subscribers.
type PGBus struct {
	dsn    string
	pool   *pgxpool.Pool
	logger *zap.Logger

	mu        sync.Mutex
	topics    map[string]map[*Subscription]struct{}
	listening map[string]*listenCmd
	cmds      []*listenCmd
	interrupt context.CancelFunc
	closed    bool

	cancel context.CancelFunc
	done   chan struct{}
}

var _ Bus = (*PGBus)(nil)

// NewPGBus connects to Postgres and starts the listener loop.
func NewPGBus(ctx context.Context, dsn string, logger *zap.Logger) (*PGBus, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open listener connection: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	b := &PGBus{
		dsn:       dsn,
		pool:      pool,
		logger:    logger.Named("notify-pg"),
		topics:    make(map[string]map[*Subscription]struct{}),
		listening: make(map[string]*listenCmd),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go b.run(loopCtx, conn)
	return b, nil
}

// Publish sends msg with pg_notify. Only sessions listening at that moment
// receive it.
func (b *PGBus) Publish(ctx context.Context, topic string, msg Message) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if _, err := b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", topic, string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns once the listener connection is listening on topic.
func (b *PGBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	sub := newSubscription(topic, b.remove)
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}

	cmd, ok := b.listening[topic]
	if !ok {
		cmd = &listenCmd{topic: topic, listen: true, done: make(chan struct{})}
		b.listening[topic] = cmd
		b.enqueueLocked(cmd)
	}
	b.mu.Unlock()

	select {
	case <-cmd.done:
		if cmd.err != nil {
			sub.Unsubscribe()
			return nil, fmt.Errorf("listen %s: %w", topic, cmd.err)
		}
		return sub, nil
	case <-ctx.Done():
		sub.Unsubscribe()
		return nil, ctx.Err()
	}
}

func (b *PGBus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[sub.topic]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) > 0 {
		return
	}
	delete(b.topics, sub.topic)
	delete(b.listening, sub.topic)
	if !b.closed {
		b.enqueueLocked(&listenCmd{topic: sub.topic, done: make(chan struct{})})
	}
}

// enqueueLocked queues cmd and wakes the listener. b.mu must be held.
func (b *PGBus) enqueueLocked(cmd *listenCmd) {
	b.cmds = append(b.cmds, cmd)
	if b.interrupt != nil {
		b.interrupt()
	}
}

func (b *PGBus) run(ctx context.Context, conn *pgx.Conn) {
	defer close(b.done)
	defer func() {
		if conn != nil {
			conn.Close(context.Background())
		}
	}()

	for {
		b.mu.Lock()
		cmds := b.cmds
		b.cmds = nil
		var waitCtx context.Context
		var stop context.CancelFunc
		if len(cmds) == 0 {
			waitCtx, stop = context.WithCancel(ctx)
			b.interrupt = stop
		}
		b.mu.Unlock()

		if len(cmds) > 0 {
			if err := b.exec(ctx, conn, cmds); err != nil {
				if ctx.Err() != nil {
					return
				}
				conn = b.reconnect(ctx, conn, err)
				if conn == nil {
					return
				}
			}
			continue
		}

		n, err := conn.WaitForNotification(waitCtx)
		b.mu.Lock()
		b.interrupt = nil
		b.mu.Unlock()
		stop()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				// Woken up to run queued commands.
				continue
			}
			conn = b.reconnect(ctx, conn, err)
			if conn == nil {
				return
			}
			continue
		}
		b.dispatch(n.Channel, n.Payload)
	}
}

func (b *PGBus) exec(ctx context.Context, conn *pgx.Conn, cmds []*listenCmd) error {
	for i, cmd := range cmds {
		stmt := "UNLISTEN "
		if cmd.listen {
			stmt = "LISTEN "
		}
		_, err := conn.Exec(ctx, stmt+pgx.Identifier{cmd.topic}.Sanitize())
		if err != nil && !conn.IsClosed() {
			cmd.err = err
			close(cmd.done)
			continue
		}
		if err != nil {
			// The connection is gone; retry the remaining commands after reconnecting.
			b.mu.Lock()
			b.cmds = append(cmds[i:], b.cmds...)
			b.mu.Unlock()
			return err
		}
		close(cmd.done)
	}
	return nil
}

// reconnect replaces a broken listener connection and listens again on every
// topic with subscribers. Notifications sent meanwhile are lost.
func (b *PGBus) reconnect(ctx context.Context, old *pgx.Conn, cause error) *pgx.Conn {
	b.logger.Warn("Listener connection failed, reconnecting", zap.Error(cause))
	old.Close(context.Background())

	for {
		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			return nil
		}

		conn, err := pgx.Connect(ctx, b.dsn)
		if err != nil {
			b.logger.Warn("Reconnect failed", zap.Error(err))
			continue
		}

		b.mu.Lock()
		topics := make([]string, 0, len(b.topics))
		for topic := range b.topics {
			topics = append(topics, topic)
		}
		b.mu.Unlock()

		var listenErr error
		for _, topic := range topics {
			if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{topic}.Sanitize()); err != nil {
				listenErr = err
				break
			}
		}
		if listenErr != nil {
			b.logger.Warn("Re-listen failed", zap.Error(listenErr))
			conn.Close(context.Background())
			continue
		}
		b.logger.Info("Listener reconnected", zap.Int("topics", len(topics)))
		return conn
	}
}

func (b *PGBus) dispatch(topic, payload string) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		b.logger.Warn("Dropping malformed notification", zap.String("topic", topic), zap.Error(err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.topics[topic] {
		select {
		case sub.ch <- msg:
		default:
			b.logger.Warn("Subscriber buffer full, dropping message", zap.String("topic", topic))
		}
	}
}

// Close stops the listener, ends every subscription and closes the pool.
func (b *PGBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	<-b.done

	b.mu.Lock()
	for topic, subs := range b.topics {
		for sub := range subs {
			close(sub.ch)
		}
		delete(b.topics, topic)
	}
	for _, cmd := range b.cmds {
		cmd.err = ErrClosed
		close(cmd.done)
	}
	b.cmds = nil
	b.mu.Unlock()

	b.pool.Close()
	return nil
}
