package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/lovelink/realtime-relay/internal/auth"
	"github.com/lovelink/realtime-relay/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EventHandler receives decoded frames from every connection.
type EventHandler interface {
	HandleEvent(ctx context.Context, connID, event string, data json.RawMessage) error
	HandleDisconnect(connID string)
}

type conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *conn) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		metrics.SlowConsumerDrops.Inc()
		return false
	}
}

func (c *conn) shutdown() {
	c.once.Do(func() { close(c.done) })
}

// Hub owns every live socket connection and implements core.Emitter over them.
type Hub struct {
	upgrader  websocket.Upgrader
	jwtSecret string
	log       zerolog.Logger

	handler EventHandler

	mu    sync.RWMutex
	conns map[string]*conn
}

// NewHub creates a hub. An empty allowedOrigins accepts any origin; a non-empty jwtSecret
// makes every upgrade require a valid token.
func NewHub(allowedOrigins []string, jwtSecret string, log zerolog.Logger) *Hub {
	h := &Hub{
		jwtSecret: jwtSecret,
		log:       log.With().Str("component", "socket").Logger(),
		conns:     make(map[string]*conn),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return slices.Contains(allowed, u.Scheme+"://"+u.Host)
	}
}

// Handle sets the receiver of inbound events. It must be called before serving.
func (h *Hub) Handle(handler EventHandler) {
	h.handler = handler
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func encodeEnvelope(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Emit queues one event for connID. It never blocks.
func (h *Hub) Emit(connID, event string, payload any) bool {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	msg, err := encodeEnvelope(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return false
	}
	return c.enqueue(msg)
}

// EmitAll queues one event for every connection.
func (h *Hub) EmitAll(event string, payload any) {
	msg, err := encodeEnvelope(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		c.enqueue(msg)
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.handler == nil {
		http.Error(w, "socket handler not configured", http.StatusServiceUnavailable)
		return
	}

	ctx := context.Background()
	if h.jwtSecret != "" {
		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		subject, err := auth.ValidateJWT(h.jwtSecret, token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		ctx = auth.WithSubject(ctx, subject)
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := &conn{
		id:   ulid.Make().String(),
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	metrics.ActiveConnections.Inc()
	h.log.Debug().Str("conn_id", c.id).Msg("connection opened")

	go h.writePump(c)
	h.readPump(ctx, c)
}

func (h *Hub) readPump(ctx context.Context, c *conn) {
	defer h.disconnect(c)

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("conn_id", c.id).Msg("connection closed unexpectedly")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			h.log.Warn().Str("conn_id", c.id).Msg("malformed frame ignored")
			continue
		}
		if err := h.handler.HandleEvent(ctx, c.id, env.Event, env.Data); err != nil {
			h.log.Warn().Err(err).Str("conn_id", c.id).Str("event", env.Event).Msg("event rejected")
		}
	}
}

func (h *Hub) writePump(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (h *Hub) disconnect(c *conn) {
	h.mu.Lock()
	_, ok := h.conns[c.id]
	delete(h.conns, c.id)
	h.mu.Unlock()

	c.shutdown()
	c.ws.Close()
	if !ok {
		return
	}
	metrics.ActiveConnections.Dec()
	h.log.Debug().Str("conn_id", c.id).Msg("connection closed")
	h.handler.HandleDisconnect(c.id)
}

// Close closes every connection. Their read loops then run the usual disconnect path.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.shutdown()
	}
}
