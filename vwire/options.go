package vwire

import (
	"context"
	"log/slog"
)

// Option configures a Client.
type Option func(*Client)

// WithConfig replaces the whole configuration. Use it before WithServer or
// WithPort when combining them.
func WithConfig(cfg Config) Option {
	return func(c *Client) { c.cfg = cfg }
}

// WithServer overrides the broker host.
func WithServer(server string) Option {
	return func(c *Client) { c.cfg.Server = server }
}

// WithPort overrides the broker port.
func WithPort(port int) Option {
	return func(c *Client) { c.cfg.MQTTPort = port }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStore persists the pin cache and queues pin writes made while the
// connection is down. Queued writes are sent after the next (re)connect.
func WithStore(store Store) Option {
	return func(c *Client) { c.store = store }
}

// WithMetrics reports client activity to m.
func WithMetrics(m Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// Store persists pin values and an outbox of unsent messages.
type Store interface {
	// SavePin stores the latest value of a pin.
	SavePin(ctx context.Context, pv PinValue) error
	// LoadPins returns all stored pin values.
	LoadPins(ctx context.Context) ([]PinValue, error)
	// Enqueue appends a message to the outbox.
	Enqueue(ctx context.Context, topic string, payload []byte) error
	// Flush sends queued messages oldest first, removing each one that send
	// accepts. It stops at the first send error and returns the number sent.
	Flush(ctx context.Context, send func(topic string, payload []byte) error) (int, error)
}

// Metrics receives client activity counters.
type Metrics interface {
	// MessagePublished records a publish attempt for a topic kind.
	MessagePublished(kind string, err error)
	// MessageReceived records an inbound message for a topic kind.
	MessageReceived(kind string)
	// MessageQueued records a write stored in the outbox.
	MessageQueued()
	// StateChanged records a connection state transition.
	StateChanged(state ConnectionState)
}

type noopMetrics struct{}

func (noopMetrics) MessagePublished(string, error) {}
func (noopMetrics) MessageReceived(string)         {}
func (noopMetrics) MessageQueued()                 {}
func (noopMetrics) StateChanged(ConnectionState)   {}
