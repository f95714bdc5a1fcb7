package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/vwireiot/vwire-go/internal/infrastructure/config"
)

// Client is a paho connection to the Vwire broker that remembers its
// subscriptions and replays them after each reconnect. It is safe for
// concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	hooks  Hooks

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// connected tracks current connection state; attempts counts reconnects
	// since the last successful connection.
	connected bool
	attempts  int
	gaveUp    bool
	connMu    sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Hooks are connection lifecycle callbacks. All fields are optional.
//
// Hooks are fixed at Connect time so that the first OnConnect cannot be
// missed. They run on paho goroutines and may call back into the Client.
type Hooks struct {
	// OnConnect runs after every successful (re)connection, once tracked
	// subscriptions have been restored.
	OnConnect func()

	// OnConnectionLost runs when an established connection drops.
	OnConnectionLost func(err error)

	// OnReconnecting runs before each reconnect attempt (1-based).
	OnReconnecting func(attempt int)

	// OnGiveUp runs once when MaxAttempts reconnects have failed and the
	// client stops trying.
	OnGiveUp func(attempts int)
}

// Logger is the subset of *slog.Logger the client needs.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one message. It runs on a paho goroutine; a
// returned error is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker described by cfg and blocks until the first
// CONNACK or until ctx is done. Refusals come back as ErrNotAuthorized,
// TLS verification failures as ErrCertificate, anything else as
// ErrConnectionFailed.
func Connect(ctx context.Context, cfg config.MQTTConfig, hooks Hooks) (*Client, error) {
	opts, err := buildClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:           cfg,
		hooks:         hooks,
		subscriptions: make(map[string]subscription),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.handleReconnecting()
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: connect: %w", ErrTimeout, ctx.Err())
	}

	if err := token.Error(); err != nil {
		return nil, classifyConnectError(token, err)
	}

	// OnConnectHandler runs asynchronously and may not have executed yet,
	// so mark the client connected here as well.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// classifyConnectError maps a failed connect to one of the package errors.
func classifyConnectError(token pahomqtt.Token, err error) error {
	if ct, ok := token.(*pahomqtt.ConnectToken); ok {
		switch ct.ReturnCode() {
		case packets.ErrRefusedNotAuthorised, packets.ErrRefusedBadUsernameOrPassword:
			return fmt.Errorf("%w: %w", ErrNotAuthorized, err)
		}
	}

	if errors.Is(err, packets.ErrorRefusedNotAuthorised) || errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) {
		return fmt.Errorf("%w: %w", ErrNotAuthorized, err)
	}

	if isCertificateError(err) {
		return fmt.Errorf("%w: %w", ErrCertificate, err)
	}

	return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
}

// isCertificateError reports whether err came from TLS server verification.
func isCertificateError(err error) bool {
	var unknownAuthority x509.UnknownAuthorityError
	var hostname x509.HostnameError
	var invalid x509.CertificateInvalidError
	var verification *tls.CertificateVerificationError

	switch {
	case errors.As(err, &unknownAuthority),
		errors.As(err, &hostname),
		errors.As(err, &invalid),
		errors.As(err, &verification):
		return true
	}

	// paho flattens some dial errors into strings.
	return strings.Contains(err.Error(), "x509:")
}

func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.attempts = 0
	c.connMu.Unlock()

	c.restoreSubscriptions()

	if c.hooks.OnConnect != nil {
		c.hooks.OnConnect()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if c.hooks.OnConnectionLost != nil {
		c.hooks.OnConnectionLost(err)
	}
}

// handleReconnecting counts reconnect attempts and stops paho once the
// configured limit is exceeded.
func (c *Client) handleReconnecting() {
	c.connMu.Lock()
	c.attempts++
	attempt := c.attempts
	limit := c.cfg.Reconnect.MaxAttempts
	giveUp := limit > 0 && attempt > limit && !c.gaveUp
	if giveUp {
		c.gaveUp = true
	}
	c.connMu.Unlock()

	if giveUp {
		// Disconnect waits for the reconnect goroutine; it must not run on it.
		go c.client.Disconnect(0)
		if c.hooks.OnGiveUp != nil {
			c.hooks.OnGiveUp(limit)
		}
		return
	}

	if c.hooks.OnReconnecting != nil {
		c.hooks.OnReconnecting(attempt)
	}
}

func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.subMu.RUnlock()

	for _, sub := range subs {
		err := await(c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler)), ErrSubscribeFailed)
		if logger := c.getLogger(); err != nil && logger != nil {
			logger.Warn("resubscribe failed", "topic", sub.topic, "error", err)
		}
	}
}

// Close disconnects after a short quiesce. It may be called more than once.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.client.Disconnect(disconnectQuiesceMs)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// IsConnected returns true only while the network connection is open.
// A client that is reconnecting reports false.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnectionOpen()
}

// SetLogger routes handler errors and recovered panics to logger.
// Without one they are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler adapts handler to paho and contains its panics.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("message handler panicked", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("message handler failed", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
