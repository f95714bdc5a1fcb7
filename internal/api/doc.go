// Package api serves the agent's local HTTP API.
//
// Endpoints (bound to 127.0.0.1 by default, no authentication):
//
//	GET  /api/v1/health       agent and connection status
//	GET  /api/v1/pins         cached pin values
//	GET  /api/v1/pins/{pin}   one pin ("V3" or "3")
//	PUT  /api/v1/pins/{pin}   write a pin through the MQTT client
//	POST /api/v1/sync         ask the cloud to resend pin values
//	GET  /api/v1/ws           WebSocket stream of "pin.changed" events
//	GET  /metrics             Prometheus metrics
//
// The WebSocket protocol is JSON messages of the form
// {"type": "subscribe", "id": "1", "payload": {"channels": ["pin.changed"]}}.
// Subscribed clients then receive {"type": "event", "event_type":
// "pin.changed", "payload": {...}} for every pin change. Subscribing to
// "pin.changed:V3" limits the stream to one pin.
package api
