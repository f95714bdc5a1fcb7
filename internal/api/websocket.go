package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vwireiot/vwire-go/internal/infrastructure/config"
	"github.com/vwireiot/vwire-go/internal/infrastructure/logging"
)

// Frame types on the pin stream.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// EventPinChanged fires for every cache update. "pin.changed" selects
	// all pins, "pin.changed:V3" a single one.
	EventPinChanged = "pin.changed"

	wsSendBufferSize = 256
)

// WSMessage is one frame on the pin stream.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload lists channels to add or remove.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest is the inbound form of WSMessage with the payload left raw.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans pin events out to subscribed WebSocket connections.
type Hub struct {
	logger *logging.Logger

	mu    sync.RWMutex
	conns map[*wsClient]struct{}

	// onCount receives the connection count after each change.
	onCount func(int)
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn

	mu     sync.RWMutex
	out    chan []byte
	closed bool
	subs   map[string]struct{}
}

func NewHub(logger *logging.Logger) *Hub {
	return &Hub{logger: logger, conns: make(map[*wsClient]struct{})}
}

// Run waits for ctx and then drops every connection.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range conns {
		c.shutdown()
		if c.conn != nil {
			c.conn.Close()
		}
	}
	h.reportCount(0)
}

func (h *Hub) Register(c *wsClient) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()

	h.reportCount(n)
	h.logger.Debug("pin stream client joined", "clients", n)
}

// Unregister forgets c and ends its writer. Unknown clients are ignored.
func (h *Hub) Unregister(c *wsClient) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	n := len(h.conns)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.shutdown()
	h.reportCount(n)
	h.logger.Debug("pin stream client left", "clients", n)
}

// Broadcast delivers an event on channel. A client receives it when
// subscribed to channel itself or to channel:SCOPE for one of scopes.
func (h *Hub) Broadcast(channel string, payload any, scopes ...string) {
	frame, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding pin event", "channel", channel, "error", err)
		return
	}

	keys := []string{channel}
	for _, s := range scopes {
		keys = append(keys, scopedChannel(channel, s))
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.wants(keys) {
			c.enqueue(frame)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) reportCount(n int) {
	if h.onCount != nil {
		h.onCount(n)
	}
}

// scopedChannel normalises "pin.changed" + "v3" to "pin.changed:V3".
func scopedChannel(channel, scope string) string {
	return channel + ":" + strings.ToUpper(scope)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &wsClient{
		hub:  s.hub,
		conn: conn,
		out:  make(chan []byte, wsSendBufferSize),
		subs: make(map[string]struct{}),
	}
	s.hub.Register(c)

	go c.writeLoop(s.wsCfg)
	go c.readLoop(s.wsCfg)
}

func (c *wsClient) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	c.conn.SetPongHandler(func(string) error { return extend() })
	if err := extend(); err != nil {
		return
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("pin stream read failed", "error", err)
			}
			return
		}
		if extend() != nil {
			return
		}
		c.dispatch(data)
	}
}

func (c *wsClient) writeLoop(cfg config.WebSocketConfig) {
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer ping.Stop()
	defer c.conn.Close()

	wait := time.Duration(cfg.PongTimeout) * time.Second
	write := func(kind int, data []byte) error {
		if err := c.conn.SetWriteDeadline(time.Now().Add(wait)); err != nil {
			return err
		}
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case frame, ok := <-c.out:
			if !ok {
				_ = write(websocket.CloseMessage, nil)
				return
			}
			if write(websocket.TextMessage, frame) != nil {
				return
			}
		case <-ping.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

func (c *wsClient) dispatch(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply(req.ID, WSTypeError, errorBody("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var p WSSubscribePayload
		if len(req.Payload) == 0 || json.Unmarshal(req.Payload, &p) != nil || len(p.Channels) == 0 {
			c.reply(req.ID, WSTypeError, errorBody("payload must list channels"))
			return
		}
		channels := normaliseChannels(p.Channels)
		on := req.Type == WSTypeSubscribe
		c.setSubscribed(channels, on)
		key := "unsubscribed"
		if on {
			key = "subscribed"
		}
		c.reply(req.ID, WSTypeResponse, map[string]any{key: channels})
	default:
		c.reply(req.ID, WSTypeError, errorBody("unknown message type: "+req.Type))
	}
}

func normaliseChannels(in []string) []string {
	out := make([]string, len(in))
	for i, ch := range in {
		if name, scope, ok := strings.Cut(ch, ":"); ok {
			ch = scopedChannel(name, scope)
		}
		out[i] = ch
	}
	return out
}

func (c *wsClient) setSubscribed(channels []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if on {
			c.subs[ch] = struct{}{}
		} else {
			delete(c.subs, ch)
		}
	}
}

func (c *wsClient) wants(keys []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, k := range keys {
		if _, ok := c.subs[k]; ok {
			return true
		}
	}
	return false
}

// enqueue drops the frame when the client is gone or too slow.
func (c *wsClient) enqueue(frame []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.out <- frame:
	default:
	}
}

func (c *wsClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

func (c *wsClient) reply(id, kind string, payload any) {
	frame, err := json.Marshal(WSMessage{
		Type:      kind,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err == nil {
		c.enqueue(frame)
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"message": msg}
}
