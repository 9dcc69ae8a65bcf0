package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outbound is a frame whose data is marshalled by the writer.
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// notice mirrors the relay's error event for frames the transport rejects
// before they reach the relay.
type notice struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client is one WebSocket connection.
type Client struct {
	ID        string
	Principal string

	hub     *Hub
	conn    *websocket.Conn
	egress  chan outbound
	limiter *rate.Limiter
	log     zerolog.Logger

	mu       sync.Mutex
	overflow []outbound // non-nil while drainOverflow runs

	done chan struct{}
	once sync.Once
}

// send queues ev for the writer without blocking. When the egress queue is
// full, ev is parked in the overflow list and a drainer goroutine feeds it
// to the writer in order. The client is kicked if the queue makes no
// progress for the hub's send timeout, or if overflow grows past the queue
// length.
func (c *Client) send(ev outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.overflow == nil {
		select {
		case c.egress <- ev:
			return true
		default:
		}
		c.overflow = make([]outbound, 0, cap(c.egress))
		go c.drainOverflow()
	}
	if len(c.overflow) >= cap(c.egress) {
		c.kick("overflow full")
		return false
	}
	c.overflow = append(c.overflow, ev)
	return true
}

// drainOverflow moves parked events into egress until the overflow is empty.
func (c *Client) drainOverflow() {
	wait := c.hub.cfg.SendTimeout
	t := time.NewTimer(wait)
	defer t.Stop()
	for {
		c.mu.Lock()
		if len(c.overflow) == 0 {
			c.overflow = nil
			c.mu.Unlock()
			return
		}
		ev := c.overflow[0]
		c.mu.Unlock()

		select {
		case c.egress <- ev:
			c.mu.Lock()
			c.overflow = c.overflow[1:]
			c.mu.Unlock()
			t.Reset(wait)
		case <-c.done:
			return
		case <-t.C:
			c.kick("send timeout")
			return
		}
	}
}

func (c *Client) kick(reason string) {
	wsDropped.WithLabelValues("slow_consumer").Inc()
	c.log.Warn().Int("buffer", cap(c.egress)).Str("reason", reason).Msg("egress full, disconnecting client")
	c.close()
}

// close stops the writer, which closes the socket; the reader then exits.
func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			wsDropped.WithLabelValues("invalid_frame").Inc()
			c.send(outbound{Event: "error", Data: notice{Code: "invalid_frame", Message: "expected {\"event\": string, \"data\": object}"}})
			continue
		}
		if f.Event == "disconnect" {
			// Client-initiated close; the deferred unregister reports it.
			return
		}
		if !c.limiter.Allow() {
			wsDropped.WithLabelValues("rate_limited").Inc()
			c.send(outbound{Event: "error", Data: notice{Event: f.Event, Code: "rate_limited", Message: "too many events"}})
			continue
		}

		if err := c.hub.relay.Submit(context.Background(), c.ID, f.Event, f.Data); err != nil {
			c.log.Error().Err(err).Str("event", f.Event).Msg("relay unavailable")
			return
		}
	}
}

func (c *Client) logReadError(err error) {
	var ne net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug().Msg("client closed connection")
	case errors.As(err, &ne) && ne.Timeout():
		c.log.Info().Msg("client timed out")
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int64("limit", c.hub.cfg.ReadLimit).Msg("frame exceeds read limit")
	case websocket.IsUnexpectedCloseError(err):
		c.log.Warn().Err(err).Msg("unexpected close")
	default:
		c.log.Debug().Err(err).Msg("read ended")
	}
}

func (c *Client) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(cfg.WriteWait))
			return
		case ev := <-c.egress:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.log.Debug().Err(err).Str("event", ev.Event).Msg("write failed")
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteWait)); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				c.close()
				return
			}
		}
	}
}
