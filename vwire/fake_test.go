package vwire

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vwireiot/vwire-go/internal/infrastructure/config"
	"github.com/vwireiot/vwire-go/internal/infrastructure/mqtt"
)

const testToken = "iot_test_token_AbCd1234"

type published struct {
	topic   string
	payload string
}

// fakeTransport records publishes and lets tests deliver inbound messages.
type fakeTransport struct {
	mu         sync.Mutex
	connected  bool
	closed     bool
	published  []published
	subs       map[string]mqtt.MessageHandler
	publishErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connected: true, subs: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeTransport) Publish(topic string, payload []byte, _ byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return mqtt.ErrNotConnected
	}
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{topic: topic, payload: string(payload)})
	return nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return mqtt.ErrNotConnected
	}
	f.subs[topic] = handler
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closed = true
	return nil
}

func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

// deliver routes a message to the matching wildcard subscription.
func (f *fakeTransport) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	f.mu.Lock()
	var handler mqtt.MessageHandler
	for filter, h := range f.subs {
		if strings.HasPrefix(topic, strings.TrimSuffix(filter, "#")) {
			handler = h
		}
	}
	f.mu.Unlock()
	require.NotNil(t, handler, "no subscription matches %s", topic)
	require.NoError(t, handler(topic, []byte(payload)))
}

func (f *fakeTransport) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

func (f *fakeTransport) last() published {
	msgs := f.messages()
	if len(msgs) == 0 {
		return published{}
	}
	return msgs[len(msgs)-1]
}

func (f *fakeTransport) subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.subs))
	for topic := range f.subs {
		out = append(out, topic)
	}
	return out
}

// fakeDialer hands out fake transports and remembers the last hooks.
type fakeDialer struct {
	mu        sync.Mutex
	dials     int
	cfg       config.MQTTConfig
	hooks     mqtt.Hooks
	transport *fakeTransport
	err       error
	block     bool
}

func (d *fakeDialer) dial(ctx context.Context, cfg config.MQTTConfig, hooks mqtt.Hooks, _ mqtt.Logger) (transport, error) {
	d.mu.Lock()
	d.dials++
	d.cfg = cfg
	d.hooks = hooks
	err, block := d.err, d.block
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, mqtt.ErrTimeout
	}
	if err != nil {
		return nil, err
	}

	tr := newFakeTransport()
	d.mu.Lock()
	d.transport = tr
	d.mu.Unlock()

	// paho fires OnConnect on its own goroutine, possibly before Connect
	// returns; firing it here exercises that ordering.
	hooks.OnConnect()
	return tr, nil
}

func (d *fakeDialer) current() (*fakeTransport, mqtt.Hooks) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transport, d.hooks
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu     sync.Mutex
	pins   map[int]PinValue
	outbox []published
}

func newFakeStore() *fakeStore {
	return &fakeStore{pins: make(map[int]PinValue)}
}

func (s *fakeStore) SavePin(_ context.Context, pv PinValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[pv.Pin] = pv
	return nil
}

func (s *fakeStore) LoadPins(_ context.Context) ([]PinValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PinValue, 0, len(s.pins))
	for _, pv := range s.pins {
		out = append(out, pv)
	}
	return out, nil
}

func (s *fakeStore) Enqueue(_ context.Context, topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = append(s.outbox, published{topic: topic, payload: string(payload)})
	return nil
}

func (s *fakeStore) Flush(_ context.Context, send func(string, []byte) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sent := 0
	for len(s.outbox) > 0 {
		msg := s.outbox[0]
		if err := send(msg.topic, []byte(msg.payload)); err != nil {
			return sent, err
		}
		s.outbox = s.outbox[1:]
		sent++
	}
	return sent, nil
}

func (s *fakeStore) queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbox)
}

// recordingMetrics counts Metrics calls.
type recordingMetrics struct {
	mu        sync.Mutex
	published map[string]int
	failed    int
	received  map[string]int
	queued    int
	states    []ConnectionState
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{published: map[string]int{}, received: map[string]int{}}
}

func (m *recordingMetrics) MessagePublished(kind string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.failed++
		return
	}
	m.published[kind]++
}

func (m *recordingMetrics) MessageReceived(kind string) {
	m.mu.Lock()
	m.received[kind]++
	m.mu.Unlock()
}

func (m *recordingMetrics) MessageQueued() {
	m.mu.Lock()
	m.queued++
	m.mu.Unlock()
}

func (m *recordingMetrics) StateChanged(s ConnectionState) {
	m.mu.Lock()
	m.states = append(m.states, s)
	m.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient returns an unconnected client wired to a fake dialer.
func newTestClient(t *testing.T, opts ...Option) (*Client, *fakeDialer) {
	t.Helper()
	cfg := DevelopmentConfig("localhost", 1883)
	cfg.HeartbeatInterval = 0
	opts = append([]Option{WithConfig(cfg), WithLogger(discardLogger())}, opts...)

	c, err := New(testToken, opts...)
	require.NoError(t, err)

	d := &fakeDialer{}
	c.dial = d.dial
	c.now = func() time.Time { return time.Unix(1767268800, 0) }
	return c, d
}

// newConnectedClient returns a client connected through a fake transport.
func newConnectedClient(t *testing.T, opts ...Option) (*Client, *fakeDialer, *fakeTransport) {
	t.Helper()
	c, d := newTestClient(t, opts...)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(c.Disconnect)
	tr, _ := d.current()
	return c, d, tr
}

func topicFor(kind, rest string) string {
	topic := "vwire/" + testToken + "/" + kind
	if rest != "" {
		topic += "/" + rest
	}
	return topic
}
