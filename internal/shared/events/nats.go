// Package events provides a NATS client wrapper for hub lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Common errors.
var (
	ErrNotConnected = errors.New("not connected to NATS")
)

// Config holds NATS client configuration.
type Config struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "hub",
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
		DrainTimeout:  30 * time.Second,
	}
}

// Client wraps the NATS connection.
type Client struct {
	conn     *nats.Conn
	config   Config
	mu       sync.RWMutex
	handlers map[string]*nats.Subscription
}

// Event represents a generic hub event.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent creates a new event with the given type and source.
func NewEvent(eventType, source string, data map[string]any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// New creates a new NATS client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DrainTimeout(cfg.DrainTimeout),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Client{
		conn:     conn,
		config:   cfg,
		handlers: make(map[string]*nats.Subscription),
	}, nil
}

// Close drains and closes the NATS connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Drain()
	}
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Publish publishes a message to a subject.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.conn.Publish(subject, data)
}

// PublishJSON publishes a JSON-encoded message to a subject.
func (c *Client) PublishJSON(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.Publish(ctx, subject, data)
}

// PublishEvent publishes an event to a subject.
func (c *Client) PublishEvent(ctx context.Context, subject string, event Event) error {
	return c.PublishJSON(ctx, subject, event)
}

// Handler is a function that handles incoming messages.
type Handler func(ctx context.Context, msg *nats.Msg) error

// Subscribe subscribes to a subject with a handler.
func (c *Client) Subscribe(subject string, handler Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		_ = handler(context.Background(), msg)
	})
	if err != nil {
		return err
	}

	c.handlers[subject] = sub
	return nil
}

// Unsubscribe unsubscribes from a subject.
func (c *Client) Unsubscribe(subject string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sub, ok := c.handlers[subject]; ok {
		if err := sub.Unsubscribe(); err != nil {
			return err
		}
		delete(c.handlers, subject)
	}
	return nil
}

// --- Hub event types ---

// Subject prefixes for hub events.
const (
	SubjectPrefixRegistry = "hub.registry."
	SubjectPrefixForward  = "hub.forward."
)

// Event types.
const (
	EventServiceRegistered = "service.registered"
	EventServiceRefreshed  = "service.refreshed"
	EventServiceStale      = "service.stale"
	EventServiceEvicted    = "service.evicted"
	EventForwardCompleted  = "completed"
)

// PublishRegistryEvent publishes a registry lifecycle event.
func (c *Client) PublishRegistryEvent(ctx context.Context, eventType, service string, data map[string]any) error {
	if data == nil {
		data = make(map[string]any)
	}
	data["service"] = service

	event := NewEvent(eventType, "registry", data)
	return c.PublishEvent(ctx, SubjectPrefixRegistry+eventType, event)
}

// PublishForwardEvent publishes a forwarding event.
func (c *Client) PublishForwardEvent(ctx context.Context, data map[string]any) error {
	event := NewEvent(EventForwardCompleted, "proxy", data)
	return c.PublishEvent(ctx, SubjectPrefixForward+EventForwardCompleted, event)
}

// Global client instance.
var globalClient *Client

// Init initializes the global NATS client.
func Init(cfg Config) (*Client, error) {
	client, err := New(cfg)
	if err != nil {
		return nil, err
	}
	globalClient = client
	return client, nil
}

// Default returns the global NATS client.
func Default() *Client {
	return globalClient
}
