// Package metrics exposes the agent's Prometheus metrics. Collector
// implements vwire.Metrics, so the SDK client reports into it directly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vwireiot/vwire-go/vwire"
)

const namespace = "vwire"

// Collector holds the agent metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	published      *prometheus.CounterVec
	publishErrors  *prometheus.CounterVec
	received       *prometheus.CounterVec
	queued         prometheus.Counter
	state          *prometheus.GaugeVec
	stateChanges   prometheus.Counter
	wsClients      prometheus.Gauge
	apiRequests    *prometheus.CounterVec
	timerCallbacks prometheus.Counter
}

var _ vwire.Metrics = (*Collector)(nil)

// New creates a Collector with the Go runtime and process collectors
// registered alongside the agent metrics.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "MQTT messages published, by topic kind.",
		}, []string{"kind"}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed MQTT publishes, by topic kind.",
		}, []string{"kind"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "MQTT messages received, by topic kind.",
		}, []string{"kind"}),
		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_queued_total",
			Help:      "Pin writes stored in the outbox while disconnected.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		stateChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_state_changes_total",
			Help:      "Connection state transitions.",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "websocket_clients",
			Help:      "Connected local WebSocket clients.",
		}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Local API requests, by method and status code.",
		}, []string{"method", "code"}),
		timerCallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timer_callbacks_total",
			Help:      "Timer callbacks fired by the agent.",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.published,
		c.publishErrors,
		c.received,
		c.queued,
		c.state,
		c.stateChanges,
		c.wsClients,
		c.apiRequests,
		c.timerCallbacks,
	)
	c.StateChanged(vwire.StateDisconnected)
	return c
}

// Registry returns the underlying registry, e.g. to add collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// MessagePublished implements vwire.Metrics.
func (c *Collector) MessagePublished(kind string, err error) {
	if err != nil {
		c.publishErrors.WithLabelValues(kind).Inc()
		return
	}
	c.published.WithLabelValues(kind).Inc()
}

// MessageReceived implements vwire.Metrics.
func (c *Collector) MessageReceived(kind string) {
	c.received.WithLabelValues(kind).Inc()
}

// MessageQueued implements vwire.Metrics.
func (c *Collector) MessageQueued() {
	c.queued.Inc()
}

// StateChanged implements vwire.Metrics.
func (c *Collector) StateChanged(state vwire.ConnectionState) {
	for _, s := range []vwire.ConnectionState{
		vwire.StateDisconnected,
		vwire.StateConnecting,
		vwire.StateConnected,
		vwire.StateReconnecting,
	} {
		v := 0.0
		if s == state {
			v = 1
		}
		c.state.WithLabelValues(s.String()).Set(v)
	}
	c.stateChanges.Inc()
}

// SetWebSocketClients records the number of local stream subscribers.
func (c *Collector) SetWebSocketClients(n int) {
	c.wsClients.Set(float64(n))
}

// APIRequest counts a local API request.
func (c *Collector) APIRequest(method, code string) {
	c.apiRequests.WithLabelValues(method, code).Inc()
}

// TimerCallback counts a fired agent timer callback.
func (c *Collector) TimerCallback() {
	c.timerCallbacks.Inc()
}
