package api

import (
	"context"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vwireiot/vwire-go/vwire"
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(withRequestID, s.accessLog, s.recoverPanics, s.cors)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/pins", func(r chi.Router) {
			r.Get("/", s.handleListPins)
			r.Get("/{pin}", s.handleGetPin)
			r.Put("/{pin}", s.handleWritePin)
		})
		r.Post("/sync", s.handleSync)

		r.Get("/ws", s.handleWebSocket)
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	return r
}

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Connection    string `json:"connection"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Started       string `json:"started"`
	Pins          int    `json:"pins"`
	WSClients     int    `json:"ws_clients"`
	Outbox        *int   `json:"outbox,omitempty"`

	// Checks maps each backing service to "ok" or its error.
	Checks map[string]string `json:"checks,omitempty"`
}

// healthCheckTimeout bounds each backing-service check.
const healthCheckTimeout = 2 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	state := s.device.State()

	resp := healthResponse{
		Status:        "ok",
		Version:       s.version,
		Connection:    state.String(),
		UptimeSeconds: int64(now.Sub(s.startTime).Seconds()),
		Started:       humanize.Time(s.startTime),
		Pins:          len(s.device.Pins()),
		WSClients:     s.hub.ClientCount(),
	}
	if s.outbox != nil {
		if n, err := s.outbox.Pending(r.Context()); err == nil {
			resp.Outbox = &n
		}
	}
	if state != vwire.StateConnected {
		resp.Status = "degraded"
	}

	status := http.StatusOK
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := check.HealthCheck(ctx)
			cancel()
			if err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	writeJSON(w, status, resp)
}
