// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/aegis/internal/logging"
	"github.com/tomtom215/aegis/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	metricsTimeout = 5 * time.Second
)

var clientSeq atomic.Uint64

// Client is a middleman between one websocket connection and the hub.
// A client without subscriptions receives every channel.
type Client struct {
	id   string
	seq  uint64
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	mu            sync.RWMutex
	subscriptions map[string]struct{}
}

// NewClient creates a client with a random id.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:            uuid.NewString(),
		seq:           clientSeq.Add(1),
		hub:           hub,
		conn:          conn,
		send:          make(chan Message, 256),
		subscriptions: make(map[string]struct{}),
	}
}

// ID returns the client id sent in CONNECTION_ESTABLISHED.
func (c *Client) ID() string {
	return c.id
}

// Wants reports whether the client receives messages on channel.
func (c *Client) Wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subscriptions) == 0 || channel == "" {
		return true
	}
	_, ok := c.subscriptions[channel]
	return ok
}

// Subscriptions returns the subscribed channels.
func (c *Client) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		out = append(out, ch)
	}
	return out
}

// enqueue sends msg to this client only, dropping it when the buffer is full.
func (c *Client) enqueue(msg Message) {
	defer func() {
		// send may already be closed by the hub.
		_ = recover()
	}()
	select {
	case c.send <- msg:
	default:
		metrics.WSErrors.WithLabelValues("send_full").Inc()
	}
}

// handle applies one client frame.
func (c *Client) handle(ctx context.Context, msg ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		c.mu.Lock()
		for _, ch := range msg.Channels {
			c.subscriptions[ch] = struct{}{}
		}
		c.mu.Unlock()
	case MessageTypeUnsubscribe:
		c.mu.Lock()
		for _, ch := range msg.Channels {
			delete(c.subscriptions, ch)
		}
		c.mu.Unlock()
	case MessageTypeGetMetrics:
		ctx, cancel := context.WithTimeout(ctx, metricsTimeout)
		defer cancel()
		c.enqueue(c.hub.metricsMessage(ctx))
	case MessageTypePing:
		c.enqueue(Message{Type: MessageTypePong, Timestamp: time.Now().UTC()})
	default:
		logging.Debug().Str("client_id", c.id).Str("type", msg.Type).Msg("ignoring unknown websocket message")
	}
}

// readPump pumps frames from the connection until it closes.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				metrics.WSErrors.WithLabelValues("read").Inc()
				logging.Warn().Err(err).Str("client_id", c.id).Msg("unexpected websocket close error")
			}
			return
		}
		c.handle(ctx, msg)
	}
}

// writePump pumps messages from the hub to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				metrics.WSErrors.WithLabelValues("write").Inc()
				return
			}
			metrics.WSMessagesSent.Inc()

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the client.
func (c *Client) Start(ctx context.Context) {
	go c.writePump()
	go c.readPump(ctx)
}
