// Package realtime provides the NATS-backed event bus carrying store change
// notifications to live chat sessions. It handles connection lifecycle,
// subject-scoped subscriptions with idempotent unsubscribe handles, and
// logs connection-status transitions (reconnection itself is delegated to
// the NATS client).
package realtime

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects carrying store change events.
const (
	// SubjectMessageInsert carries RawInsert payloads for new message rows.
	SubjectMessageInsert = "chat.messages.insert"

	// SubjectTypingChange signals any change to the typing heartbeat set.
	// The payload is empty; receivers recompute presence from the store.
	SubjectTypingChange = "chat.typing.change"
)

// Client wraps the NATS connection with helpers for the chat subjects.
type Client struct {
	conn   *nats.Conn
	mu     sync.Mutex
	subs   map[uint64]*nats.Subscription
	nextID uint64
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "cocina-chat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// New connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails. Later connection
// drops are reconnected automatically and logged.
func New(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[realtime] disconnected: %v", err)
			} else {
				log.Printf("[realtime] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[realtime] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[realtime] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("realtime: connect: %w", err)
	}

	log.Printf("[realtime] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[uint64]*nats.Subscription),
	}, nil
}

// PublishMessageInsert publishes a raw message-insert payload.
func (c *Client) PublishMessageInsert(data []byte) error {
	return c.conn.Publish(SubjectMessageInsert, data)
}

// PublishTypingChange signals that the heartbeat set changed.
func (c *Client) PublishTypingChange() error {
	return c.conn.Publish(SubjectTypingChange, nil)
}

// SubscribeMessageInserts registers a handler for message-insert events.
// The returned handle unsubscribes and may be called more than once.
func (c *Client) SubscribeMessageInserts(handler func(data []byte)) (func(), error) {
	return c.subscribe(SubjectMessageInsert, handler)
}

// SubscribeTypingChanges registers a handler for heartbeat-change events.
// The returned handle unsubscribes and may be called more than once.
func (c *Client) SubscribeTypingChanges(handler func(data []byte)) (func(), error) {
	return c.subscribe(SubjectTypingChange, handler)
}

// subscribe opens one subscription per call. Multiple sessions on the same
// process may subscribe to the same subject without overwriting each other,
// so subscriptions are tracked by a local ID rather than by subject.
func (c *Client) subscribe(subject string, handler func(data []byte)) (func(), error) {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs[id] = sub
	c.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			if err := sub.Unsubscribe(); err != nil {
				log.Printf("[realtime] unsubscribe %s: %v", subject, err)
			}
		})
	}
	return unsubscribe, nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[realtime] drain %s: %v", sub.Subject, err)
		}
		delete(c.subs, id)
	}

	if err := c.conn.Drain(); err != nil {
		log.Printf("[realtime] connection drain: %v", err)
	}

	log.Printf("[realtime] client closed")
}
