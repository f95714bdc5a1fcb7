package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/vwireiot/vwire-go/internal/infrastructure/config"
	"github.com/vwireiot/vwire-go/internal/infrastructure/logging"
	"github.com/vwireiot/vwire-go/internal/metrics"
	"github.com/vwireiot/vwire-go/vwire"
)

// gracefulShutdownTimeout bounds in-flight requests during Close.
const gracefulShutdownTimeout = 10 * time.Second

// Device is the part of *vwire.Client the API uses.
type Device interface {
	Pins() []vwire.PinValue
	Pin(pin int) (vwire.PinValue, bool)
	VirtualWrite(pin int, values ...any) error
	SyncVirtual(pins ...int) error
	State() vwire.ConnectionState
	Watch(fn func(vwire.PinValue))
}

// OutboxCounter reports queued messages; implemented by the SQLite store.
type OutboxCounter interface {
	Pending(ctx context.Context) (int, error)
}

// HealthChecker is a backing service checked by GET /health; the database
// and InfluxDB clients implement it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies of the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Device  Device
	Metrics *metrics.Collector       // optional: enables /metrics
	Outbox  OutboxCounter            // optional
	Checks  map[string]HealthChecker // optional, keyed by component name
	Version string
}

// Server is the agent's local HTTP API.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	device    Device
	metrics   *metrics.Collector
	outbox    OutboxCounter
	checks    map[string]HealthChecker
	version   string
	startTime time.Time

	hub      *Hub
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	watch    sync.Once
}

// New creates a server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Device == nil {
		return nil, fmt.Errorf("device is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger.With("component", "api"),
		device:    deps.Device,
		metrics:   deps.Metrics,
		outbox:    deps.Outbox,
		checks:    deps.Checks,
		version:   deps.Version,
		startTime: time.Now(),
	}
	s.hub = NewHub(s.logger)
	if s.metrics != nil {
		s.hub.onCount = s.metrics.SetWebSocketClients
	}
	return s, nil
}

// Start binds the listener, starts the WebSocket hub and serves in the
// background. Binding errors (port in use) are returned.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.watchPins()

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)))
	if err != nil {
		s.cancel()
		return fmt.Errorf("starting API server: %w", err)
	}
	s.listener = ln
	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, useful with port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// watchPins relays pin changes to WebSocket subscribers. The device only
// supports adding watchers, so this happens once per server.
func (s *Server) watchPins() {
	s.watch.Do(func() {
		s.device.Watch(func(pv vwire.PinValue) {
			s.hub.Broadcast(EventPinChanged, newPinResponse(pv, time.Now()), pv.Name())
		})
	})
}

// Close stops the hub and shuts the server down gracefully.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
