package vwire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/vwireiot/vwire-go/internal/infrastructure/config"
	"github.com/vwireiot/vwire-go/internal/infrastructure/logging"
	"github.com/vwireiot/vwire-go/internal/infrastructure/mqtt"
	"github.com/vwireiot/vwire-go/timer"
)

// minTokenLength is the shortest token the cloud issues.
const minTokenLength = 10

// qosAtLeastOnce is used for every publish and subscription.
const qosAtLeastOnce byte = 1

// storeTimeout bounds a single Store call made from a message handler.
const storeTimeout = 5 * time.Second

// transport is the connection the Client talks through.
// *mqtt.Client satisfies it.
type transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
	Close() error
}

// dialFunc opens a transport. Tests replace it with an in-memory fake.
type dialFunc func(ctx context.Context, cfg config.MQTTConfig, hooks mqtt.Hooks, logger mqtt.Logger) (transport, error)

func dialMQTT(ctx context.Context, cfg config.MQTTConfig, hooks mqtt.Hooks, logger mqtt.Logger) (transport, error) {
	client, err := mqtt.Connect(ctx, cfg, hooks)
	if err != nil {
		return nil, err
	}
	client.SetLogger(logger)
	return client, nil
}

// Client is a Vwire device connection.
//
// A Client holds one persistent MQTT connection, a cache of the last value
// of every virtual pin and the handlers registered for dashboard events.
// All methods are safe for concurrent use.
type Client struct {
	token   string
	cfg     Config
	topics  topics
	logger  *slog.Logger
	store   Store
	metrics Metrics
	timer   *timer.Timer
	dial    dialFunc
	now     func() time.Time
	started time.Time

	// connectMu serialises Connect and Disconnect.
	connectMu sync.Mutex

	mu          sync.RWMutex
	conn        transport
	state       ConnectionState
	gen         int  // incremented per dial; stale hooks are ignored
	connectSeen bool // OnConnect fired before Connect stored conn
	runCancel   context.CancelFunc

	pinsMu sync.RWMutex
	pins   map[int]PinValue

	// outboxMu orders live writes after queued ones. backlog is set while
	// the outbox may still hold undelivered writes.
	outboxMu sync.Mutex
	backlog  bool

	handlersMu     sync.RWMutex
	handlers       map[handlerKey]PinHandler
	onConnected    []func()
	onDisconnected []func(error)
	watchers       []func(PinValue)
}

// New creates a client for the device identified by token. It does not
// connect; call Connect or Run.
//
//	client, err := vwire.New(token, vwire.WithConfig(vwire.DevelopmentConfig("192.168.1.100", 1883)))
func New(token string, opts ...Option) (*Client, error) {
	token = strings.TrimSpace(token)
	if len(token) < minTokenLength {
		return nil, fmt.Errorf("%w: must be at least %d characters", ErrInvalidToken, minTokenLength)
	}

	c := &Client{
		token:    token,
		cfg:      DefaultConfig(),
		topics:   newTopics(token),
		logger:   slog.Default(),
		metrics:  noopMetrics{},
		dial:     dialMQTT,
		now:      time.Now,
		pins:     make(map[int]PinValue),
		handlers: make(map[handlerKey]PinHandler),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	c.logger = c.logger.With("component", "vwire", "device", logging.RedactToken(token))
	c.timer = timer.New(timer.WithLogger(c.logger))
	c.started = c.now()

	if c.store != nil {
		c.loadPins()
		c.backlog = true
	}

	return c, nil
}

// loadPins warms the cache from the store.
func (c *Client) loadPins() {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	values, err := c.store.LoadPins(ctx)
	if err != nil {
		c.logger.Warn("failed to load stored pin values", "error", err)
		return
	}

	c.pinsMu.Lock()
	for _, pv := range values {
		if validatePin(pv.Pin) == nil {
			c.pins[pv.Pin] = pv
		}
	}
	c.pinsMu.Unlock()

	c.logger.Debug("pin cache restored", "count", len(values))
}

// Config returns a copy of the client configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Timer returns the client's timer. Run advances it in the background.
func (c *Client) Timer() *timer.Timer {
	return c.timer
}

// Connect opens the connection and blocks until it is established, ctx is
// done or Config.ConnectTimeout elapses. It returns nil if the client is
// already connected.
//
// Failures wrap ErrNotAuthorized, ErrConnectTimeout, ErrCertificate or
// ErrConnectionFailed.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()

	c.mu.Lock()
	if c.conn != nil && c.state != StateDisconnected {
		c.mu.Unlock()
		c.connectMu.Unlock()
		return nil
	}
	stale := c.conn
	c.conn = nil
	c.connectSeen = false
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	// A transport that gave up reconnecting is replaced.
	if stale != nil {
		_ = stale.Close()
	}

	c.setState(StateConnecting)

	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	clientID := c.clientID()
	c.logger.Info("connecting to Vwire",
		"broker", c.cfg.BrokerURL(),
		"client_id", clientID,
	)

	conn, err := c.dial(ctx, c.cfg.mqttConfig(c.token, clientID), c.hooks(gen), c.logger)
	if err != nil {
		c.setState(StateDisconnected)
		c.connectMu.Unlock()
		err = connectError(err)
		c.logger.Error("connection failed", "error", err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	seen := c.connectSeen
	c.connectSeen = false
	c.mu.Unlock()
	if !seen {
		// OnConnect is still to come and will flush the outbox then.
		c.setState(StateConnected)
	}
	c.connectMu.Unlock()

	if seen {
		c.handleConnected()
	}
	return nil
}

// ConnectTimeout connects with a deadline and reports success.
func (c *Client) ConnectTimeout(d time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return c.Connect(ctx) == nil
}

// clientID returns vwire-go-{last 8 token chars}-{unix seconds}.
func (c *Client) clientID() string {
	suffix := c.token
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	return fmt.Sprintf("vwire-go-%s-%d", suffix, c.now().Unix())
}

// connectError maps a transport error to the client's error set.
func connectError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, mqtt.ErrNotAuthorized):
		return fmt.Errorf("%w (check the auth token): %w", ErrNotAuthorized, err)
	case errors.Is(err, mqtt.ErrCertificate), errors.Is(err, mqtt.ErrInvalidTLSConfig):
		return fmt.Errorf("%w (VerifySSL=false disables verification): %w", ErrCertificate, err)
	case errors.Is(err, mqtt.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrConnectTimeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %w", ErrConnectTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
}

// hooks returns the transport callbacks for dial generation gen.
func (c *Client) hooks(gen int) mqtt.Hooks {
	current := func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.gen == gen
	}

	return mqtt.Hooks{
		OnConnect: func() {
			c.mu.Lock()
			if c.gen != gen {
				c.mu.Unlock()
				return
			}
			if c.conn == nil {
				c.connectSeen = true
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
			c.handleConnected()
		},
		OnConnectionLost: func(err error) {
			if !current() {
				return
			}
			c.setState(StateReconnecting)
			c.logger.Warn("connection lost", "error", err)
			c.notifyDisconnected(err)
		},
		OnReconnecting: func(attempt int) {
			if !current() {
				return
			}
			c.setState(StateReconnecting)
			c.logger.Info("reconnecting", "attempt", attempt)
		},
		OnGiveUp: func(attempts int) {
			if !current() {
				return
			}
			c.setState(StateDisconnected)
			c.logger.Error("reconnect attempts exhausted", "attempts", attempts)
		},
	}
}

// handleConnected runs after every successful (re)connection. Queued
// writes are sent before the client reports itself connected.
func (c *Client) handleConnected() {
	if err := c.subscribeInbound(); err != nil {
		c.logger.Error("failed to subscribe to dashboard topics", "error", err)
	}
	c.flushOutbox()

	c.setState(StateConnected)
	c.logger.Info("connected to Vwire", "config", c.cfg.String())
	c.notifyConnected()
}

func (c *Client) subscribeInbound() error {
	conn := c.transport()
	if conn == nil {
		return ErrNotConnected
	}

	var errs []error
	for _, kind := range []string{kindCmd, kindProp, kindRead} {
		if err := conn.Subscribe(c.topics.wildcard(kind), qosAtLeastOnce, c.handleMessage); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
	}
	return errors.Join(errs...)
}

// handleMessage dispatches an inbound dashboard message.
func (c *Client) handleMessage(topic string, payload []byte) error {
	kind, rest, ok := c.topics.split(topic)
	if !ok {
		return nil
	}
	c.metrics.MessageReceived(kind)

	switch kind {
	case kindCmd:
		pin, err := parseTopicPin(rest)
		if err != nil {
			c.logger.Debug("ignoring command for invalid pin", "pin", rest)
			return nil
		}
		pv := PinValue{Pin: pin, Value: string(payload), Timestamp: c.now(), Source: SourceServer}
		c.debug("pin command received", "pin", pv.Name(), "value", pv.Value)
		c.cachePin(pv)
		if h := c.handler(EventVirtualWrite, pin); h != nil {
			c.safeCall("virtual_write", func() { h(pv) })
		}

	case kindRead:
		pin, err := parseTopicPin(rest)
		if err != nil {
			c.logger.Debug("ignoring read request for invalid pin", "pin", rest)
			return nil
		}
		pv, ok := c.Pin(pin)
		if !ok {
			pv = PinValue{Pin: pin, Timestamp: c.now(), Source: SourceServer}
		}
		if h := c.handler(EventVirtualRead, pin); h != nil {
			c.safeCall("virtual_read", func() { h(pv) })
		}

	case kindProp:
		c.debug("property update received", "pin", rest, "payload", string(payload))
	}
	return nil
}

// Disconnect stops the timer and closes the connection. It is safe to call
// on a client that never connected and to call more than once.
func (c *Client) Disconnect() {
	c.connectMu.Lock()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.gen++
	cancel := c.runCancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.timer.Stop()

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Warn("error closing connection", "error", err)
		}
	}
	c.setState(StateDisconnected)
	c.connectMu.Unlock()

	if conn != nil {
		c.logger.Info("disconnected")
		c.notifyDisconnected(nil)
	}
}

// Run connects if needed, starts the timer and blocks until ctx is
// cancelled or Disconnect is called. It disconnects before returning.
//
// While running, a heartbeat is published every Config.HeartbeatInterval
// and queued writes are retried.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.runCancel != nil {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.runCancel = cancel
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.runCancel = nil
		c.mu.Unlock()
	}()

	if c.State() == StateDisconnected {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}

	if err := c.timer.Start(ctx); err != nil && !errors.Is(err, timer.ErrAlreadyRunning) {
		return fmt.Errorf("starting timer: %w", err)
	}

	var wg sync.WaitGroup
	if c.cfg.HeartbeatInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.heartbeatLoop(ctx)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	c.Disconnect()
	return nil
}

// RunBackground starts Run on a new goroutine. The returned channel
// receives Run's result.
func (c *Client) RunBackground(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
		close(done)
	}()
	return done
}

// heartbeatLoop publishes liveness messages while connected.
func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.Connected() {
				continue
			}
			if err := c.sendHeartbeat(); err != nil {
				c.logger.Warn("failed to publish heartbeat", "error", err)
			}
			c.flushOutbox()
		}
	}
}

func (c *Client) sendHeartbeat() error {
	now := c.now()
	payload, err := json.Marshal(struct {
		Uptime    int64   `json:"uptime"`
		Timestamp float64 `json:"timestamp"`
	}{
		Uptime:    int64(now.Sub(c.started).Seconds()),
		Timestamp: unixSeconds(now),
	})
	if err != nil {
		return err
	}
	return c.publish(c.topics.heartbeat(), payload)
}

// Connected reports whether the client has a live connection.
func (c *Client) Connected() bool {
	c.mu.RLock()
	conn, state := c.conn, c.state
	c.mu.RUnlock()
	return state == StateConnected && conn != nil && conn.IsConnected()
}

// State returns the connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.metrics.StateChanged(s)
}

func (c *Client) transport() transport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// publish sends a QoS 1 message.
func (c *Client) publish(topic string, payload []byte) error {
	var err error
	if conn := c.transport(); conn == nil || !conn.IsConnected() {
		err = ErrNotConnected
	} else if perr := conn.Publish(topic, payload, qosAtLeastOnce, false); perr != nil {
		if errors.Is(perr, mqtt.ErrNotConnected) {
			err = ErrNotConnected
		} else {
			err = fmt.Errorf("%w: %w", ErrPublishFailed, perr)
		}
	}
	c.metrics.MessagePublished(c.topics.kindOf(topic), err)
	return err
}

// flushOutbox sends writes queued while disconnected.
func (c *Client) flushOutbox() {
	if c.store == nil {
		return
	}
	c.outboxMu.Lock()
	defer c.outboxMu.Unlock()
	c.drainOutbox()
}

// drainOutbox sends the queued writes in order and clears backlog once the
// outbox is empty. The caller holds outboxMu.
func (c *Client) drainOutbox() {
	if conn := c.transport(); conn == nil || !conn.IsConnected() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	sent, err := c.store.Flush(ctx, c.publish)
	if sent > 0 {
		c.logger.Info("sent queued pin writes", "count", sent)
	}
	switch {
	case err == nil:
		c.backlog = false
	case !errors.Is(err, ErrNotConnected):
		c.logger.Warn("failed to flush queued pin writes", "error", err)
	}
}

// debug logs at info level when Config.Debug is set.
func (c *Client) debug(msg string, args ...any) {
	if c.cfg.Debug {
		c.logger.Info(msg, args...)
		return
	}
	c.logger.Debug(msg, args...)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
