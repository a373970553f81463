package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tankbattle-server/internal/game"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBufSize    = 64
)

// Client is one player's websocket connection. It receives the battle's
// snapshots as a game.Broadcaster and forwards the player's commands.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	codec   Codec
	ip      string
	limiter *rate.Limiter
	log     zerolog.Logger
	handle  *game.Handle

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewClient creates a client that is not attached to a connection yet.
// Messages sent before attach are buffered.
func NewClient(hub *Hub, ip string, codec Codec, limiter *rate.Limiter, log zerolog.Logger) *Client {
	return &Client{
		hub:     hub,
		codec:   codec,
		ip:      ip,
		limiter: limiter,
		log:     log,
		send:    make(chan []byte, sendBufSize),
	}
}

func (c *Client) attach(conn *websocket.Conn, handle *game.Handle) {
	c.conn = conn
	c.handle = handle
}

// Send encodes a message and queues it without blocking. Messages for a
// client that cannot keep up are dropped. The game over event is the last
// message a client gets.
func (c *Client) Send(msg game.Message) {
	data, err := c.codec.Marshal(msg)
	if err != nil {
		c.log.Error().Err(err).Str("type", msg.MessageType()).Msg("marshal error")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Debug().Str("type", msg.MessageType()).Msg("client too slow, message dropped")
	}
	if ev, ok := msg.(*game.EventMessage); ok && ev.Event == game.EventGameOver {
		c.closeLocked()
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump reads commands from the connection until it fails
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.ip)
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws error")
			}
			return
		}

		if !c.limiter.Allow() {
			c.log.Debug().Msg("command dropped: rate limit")
			continue
		}

		var cmd game.Command
		if err := c.codec.Unmarshal(message, &cmd); err != nil {
			c.log.Debug().Err(err).Msg("unreadable command")
			continue
		}
		if err := c.handle.Dispatch(cmd); errors.Is(err, game.ErrSessionNotFound) {
			return
		}
	}
}

// WritePump writes queued messages and keepalive pings to the connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(c.codec.FrameType(), message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
