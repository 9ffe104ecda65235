// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/aegis/internal/eventbus"
	"github.com/tomtom215/aegis/internal/logging"
	"github.com/tomtom215/aegis/internal/metrics"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful path (SIGTERM).
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline may indicate a hung operation during shutdown.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types exchanged with dashboard clients.
const (
	MessageTypeConnectionEstablished = "CONNECTION_ESTABLISHED"
	MessageTypeSubscribe             = "SUBSCRIBE"
	MessageTypeUnsubscribe           = "UNSUBSCRIBE"
	MessageTypeGetMetrics            = "GET_METRICS"
	MessageTypeMetricsUpdate         = eventbus.EventMetricsUpdate
	MessageTypeError                 = "ERROR"
	MessageTypePing                  = "PING"
	MessageTypePong                  = "PONG"
)

// Message is the frame sent to clients.
type Message struct {
	Type      string    `json:"type"`
	ClientID  string    `json:"clientId,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a frame received from a client.
type ClientMessage struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels,omitempty"`
}

// MetricsSource produces the realtime metrics snapshot sent in reply to
// GET_METRICS.
type MetricsSource interface {
	RealtimeMetrics(ctx context.Context) (any, error)
}

type outbound struct {
	channel string
	message Message
}

// Hub maintains the set of active clients and fans messages out to those
// subscribed to the message's channel.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	metricsSource MetricsSource
}

// NewHub creates a hub. source may be nil, in which case GET_METRICS
// answers with an ERROR frame.
func NewHub(source MetricsSource) *Hub {
	return &Hub{
		broadcast:     make(chan outbound, 256),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		clients:       make(map[*Client]bool),
		metricsSource: source,
	}
}

// RunWithContext processes registrations and broadcasts until ctx is
// cancelled, then closes every client.
//
// Selection is prioritised: shutdown first, then client lifecycle, then
// broadcasts, so client state is settled before messages are fanned out.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.unregister(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case out := <-h.broadcast:
			h.broadcastToClients(out)
		}
	}
}

// Serve implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	return h.RunWithContext(ctx)
}

// String implements fmt.Stringer for supervisor logs.
func (h *Hub) String() string {
	return "websocket-hub"
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Set(float64(n))
	logging.Info().Str("client_id", client.id).Int("total_clients", n).Msg("websocket client connected")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Set(float64(n))
	logging.Info().Str("client_id", client.id).Int("total_clients", n).Msg("websocket client disconnected")
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.ClientCount()
	h.closeAllClients()
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	if ctx.Err() == context.DeadlineExceeded {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

// sortedClients returns clients in connection order. Callers hold h.mu.
func (h *Hub) sortedClients() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].seq < clients[j].seq
	})
	return clients
}

// broadcastToClients delivers out to every subscribed client. A client
// whose send buffer is full is dropped.
func (h *Hub) broadcastToClients(out outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var toRemove []*Client
	for _, client := range h.sortedClients() {
		if !client.Wants(out.channel) {
			continue
		}
		select {
		case client.send <- out.message:
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		metrics.WSErrors.WithLabelValues("slow_consumer").Inc()
		logging.Warn().Str("client_id", client.id).Msg("dropping slow websocket client")
	}
	if len(toRemove) > 0 {
		metrics.WSConnections.Set(float64(len(h.clients)))
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range h.sortedClients() {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WSConnections.Set(0)
}

// Broadcast queues msg for clients subscribed to channel. An empty channel
// reaches every client.
func (h *Hub) Broadcast(channel string, msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	select {
	case h.broadcast <- outbound{channel: channel, message: msg}:
	default:
		metrics.WSErrors.WithLabelValues("broadcast_full").Inc()
		logging.Warn().Str("message_type", msg.Type).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastEvent forwards a bus event to the clients of its topic's
// channel.
func (h *Hub) BroadcastEvent(ev eventbus.Event) {
	h.Broadcast(eventbus.ChannelForTopic(ev.Topic), Message{
		Type:      ev.Type,
		Data:      ev.Data,
		Timestamp: ev.Timestamp,
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// metricsMessage builds the METRICS_UPDATE reply for one client.
func (h *Hub) metricsMessage(ctx context.Context) Message {
	now := time.Now().UTC()
	if h.metricsSource == nil {
		return Message{Type: MessageTypeError, Data: map[string]string{"error": "metrics unavailable"}, Timestamp: now}
	}
	snapshot, err := h.metricsSource.RealtimeMetrics(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("failed to collect realtime metrics")
		return Message{Type: MessageTypeError, Data: map[string]string{"error": "metrics unavailable"}, Timestamp: now}
	}
	return Message{Type: MessageTypeMetricsUpdate, Data: snapshot, Timestamp: now}
}

// MarshalMessage converts a message to JSON.
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
