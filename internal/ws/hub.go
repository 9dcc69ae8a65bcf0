// Package ws is the WebSocket transport for the relay.
//
// Each upgraded connection becomes a Client with two goroutines: a reader
// that decodes {"event","data"} frames and submits them to the relay in
// arrival order, and a writer that drains a bounded egress queue and keeps
// the connection alive with pings. The Hub tracks open clients by connection
// ID and implements relay.Emitter so the relay can address them.
//
// Back-pressure: Emit and Broadcast never wait on a slow client. Events that
// do not fit the egress queue are parked per client, and when the queue stays
// full for longer than the configured send timeout the client is kicked. Its
// reader then exits and reports the disconnect to the relay like any other
// close.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-dm-backend/internal/config"
)

// Relay is the subset of the relay engine the transport drives.
type Relay interface {
	Connect(ctx context.Context, connID, principal string) error
	Submit(ctx context.Context, connID, event string, data json.RawMessage) error
	Disconnect(ctx context.Context, connID string) error
}

// Authenticator resolves a bearer token to a user ID.
type Authenticator interface {
	Verify(token string) (userID string, err error)
}

// ErrUnauthorized is returned by Authenticate when no valid token is given.
var ErrUnauthorized = errors.New("missing or invalid token")

// Hub owns the set of open clients.
type Hub struct {
	relay    Relay
	auth     Authenticator
	cfg      config.SocketConfig
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool
}

// NewHub builds a hub. auth may be nil, in which case connections are
// accepted without a token. allowedOrigins restricts the Origin header of
// browser upgrades; an empty list or "*" accepts any origin.
func NewHub(r Relay, auth Authenticator, cfg config.SocketConfig, allowedOrigins []string) *Hub {
	h := &Hub{
		relay:   r,
		auth:    auth,
		cfg:     cfg,
		log:     log.With().Str("component", "ws").Logger(),
		clients: make(map[string]*Client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Handler upgrades GET requests to WebSocket connections. When an
// Authenticator is configured the token is read from ?token= or a Bearer
// Authorization header and becomes the connection's principal.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := h.authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get("X-Request-ID"),
				"code":       "unauthorized",
				"message":    err.Error(),
			})
			return
		}

		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			h.log.Warn().Err(err).Str("remote_ip", c.ClientIP()).Msg("websocket upgrade failed")
			return
		}
		h.serve(conn, principal)
	}
}

func (h *Hub) authenticate(r *http.Request) (string, error) {
	if h.auth == nil {
		return "", nil
	}
	tok := strings.TrimSpace(r.URL.Query().Get("token"))
	if tok == "" {
		if a := r.Header.Get("Authorization"); len(a) > 7 && strings.EqualFold(a[:7], "Bearer ") {
			tok = strings.TrimSpace(a[7:])
		}
	}
	if tok == "" {
		return "", ErrUnauthorized
	}
	uid, err := h.auth.Verify(tok)
	if err != nil || uid == "" {
		return "", ErrUnauthorized
	}
	return uid, nil
}

// serve registers the client with the hub and the relay, then starts its pumps.
func (h *Hub) serve(conn *websocket.Conn, principal string) {
	c := &Client{
		ID:        uuid.NewString(),
		Principal: principal,
		hub:       h,
		conn:      conn,
		egress:    make(chan outbound, h.cfg.SendBuffer),
		done:      make(chan struct{}),
		limiter:   rate.NewLimiter(rate.Limit(h.cfg.InboundRPS), h.cfg.InboundBurst),
	}
	c.log = h.log.With().Str("conn_id", c.ID).Str("principal", principal).Logger()

	if !h.add(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.cfg.WriteWait))
		_ = conn.Close()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SendTimeout)
	err := h.relay.Connect(ctx, c.ID, principal)
	cancel()
	if err != nil {
		c.log.Error().Err(err).Msg("relay refused connection")
		h.remove(c)
		c.close()
		_ = conn.Close()
		return
	}

	c.log.Info().Msg("client connected")
	go c.writePump()
	go c.readPump()
}

func (h *Hub) add(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.ID] = c
	wsActive.Set(float64(len(h.clients)))
	return true
}

// remove forgets c and reports whether it was still registered.
func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.ID]; !ok || cur != c {
		return false
	}
	delete(h.clients, c.ID)
	wsActive.Set(float64(len(h.clients)))
	return true
}

// unregister removes c and tells the relay the connection is gone.
func (h *Hub) unregister(c *Client) {
	if !h.remove(c) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.relay.Disconnect(ctx, c.ID); err != nil {
		c.log.Warn().Err(err).Msg("relay disconnect not delivered")
	}
	c.log.Info().Msg("client disconnected")
}

func (h *Hub) get(connID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	return c, ok
}

// Emit implements relay.Emitter.
func (h *Hub) Emit(connID, event string, payload any) bool {
	c, ok := h.get(connID)
	if !ok {
		return false
	}
	return c.send(outbound{Event: event, Data: payload})
}

// Broadcast implements relay.Emitter.
func (h *Hub) Broadcast(event string, payload any) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	ev := outbound{Event: event, Data: payload}
	for _, c := range targets {
		c.send(ev)
	}
}

// Len returns the number of open clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops accepting connections and closes every open client. Readers
// still report their disconnects to the relay as they exit.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.close()
	}
	h.log.Info().Int("clients", len(targets)).Msg("hub closed")
}
