package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/vwireiot/vwire-go/vwire"
)

// pinResponse is the JSON form of a cached pin value.
type pinResponse struct {
	Pin       string   `json:"pin"`
	Number    int      `json:"number"`
	Value     string   `json:"value"`
	Values    []string `json:"values,omitempty"`
	Source    string   `json:"source"`
	UpdatedAt string   `json:"updated_at,omitempty"`
	Age       string   `json:"age,omitempty"`
}

func newPinResponse(pv vwire.PinValue, now time.Time) pinResponse {
	resp := pinResponse{
		Pin:    pv.Name(),
		Number: pv.Pin,
		Value:  pv.Value,
		Source: string(pv.Source),
	}
	if parts := pv.Values(); len(parts) > 1 {
		resp.Values = parts
	}
	if !pv.Timestamp.IsZero() {
		resp.UpdatedAt = pv.Timestamp.UTC().Format(time.RFC3339Nano)
		resp.Age = humanize.RelTime(pv.Timestamp, now, "ago", "from now")
	}
	return resp
}

func (s *Server) handleListPins(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	pins := s.device.Pins()

	out := make([]pinResponse, 0, len(pins))
	for _, pv := range pins {
		out = append(out, newPinResponse(pv, now))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pins":  out,
		"count": len(out),
	})
}

func (s *Server) handleGetPin(w http.ResponseWriter, r *http.Request) {
	pin, ok := parsePinParam(w, r)
	if !ok {
		return
	}
	pv, found := s.device.Pin(pin)
	if !found {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no value for "+vwire.PinName(pin))
		return
	}
	writeJSON(w, http.StatusOK, newPinResponse(pv, time.Now()))
}

// writePinRequest is the body of PUT /api/v1/pins/{pin}. Exactly one of
// Value and Values is set.
type writePinRequest struct {
	Value  any   `json:"value"`
	Values []any `json:"values"`
}

func (s *Server) handleWritePin(w http.ResponseWriter, r *http.Request) {
	pin, ok := parsePinParam(w, r)
	if !ok {
		return
	}

	var req writePinRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	values := req.Values
	switch {
	case len(values) > 0 && req.Value != nil:
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "set either value or values, not both")
		return
	case len(values) == 0 && req.Value == nil:
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "value is required")
		return
	case len(values) == 0:
		values = []any{req.Value}
	}

	if err := s.device.VirtualWrite(pin, values...); err != nil {
		s.writeDeviceError(w, err)
		return
	}

	pv, _ := s.device.Pin(pin)
	resp := newPinResponse(pv, time.Now())
	status := http.StatusOK
	if s.device.State() != vwire.StateConnected {
		// Accepted into the outbox; delivered after reconnect.
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

// syncRequest is the optional body of POST /api/v1/sync. No pins means all.
type syncRequest struct {
	Pins []string `json:"pins"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	pins := make([]int, 0, len(req.Pins))
	for _, name := range req.Pins {
		pin, err := vwire.ParsePin(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		pins = append(pins, pin)
	}

	if err := s.device.SyncVirtual(pins...); err != nil {
		s.writeDeviceError(w, err)
		return
	}

	names := make([]string, len(pins))
	for i, pin := range pins {
		names[i] = vwire.PinName(pin)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"requested": names})
}

// parsePinParam reads {pin} ("V3", "v3" or "3"), writing a 400 on failure.
func parsePinParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	pin, err := vwire.ParsePin(chi.URLParam(r, "pin"))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return 0, false
	}
	return pin, true
}

// writeDeviceError maps SDK errors to HTTP statuses.
func (s *Server) writeDeviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vwire.ErrInvalidPin), errors.Is(err, vwire.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, vwire.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "not connected to the Vwire server")
	default:
		s.logger.Warn("device operation failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	}
}
