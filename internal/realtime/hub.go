// Package realtime streams record and alert changes to dashboard clients
// over WebSocket.
//
// Clients receive every event by default and may narrow their feed by
// sending a Subscription message.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kycdesk/kycdesk/internal/compliance"
	"github.com/kycdesk/kycdesk/internal/metrics"
	"github.com/kycdesk/kycdesk/internal/verification"
)

var (
	_ verification.Observer = (*Hub)(nil)
	_ compliance.Notifier   = (*Hub)(nil)
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// originChecker accepts non-browser clients, same-host pages and any
// explicitly allowed origin.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if origin == "http://"+r.Host || origin == "https://"+r.Host {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// EventType for real-time events
type EventType string

const (
	EventRecordUpdated  EventType = "record_updated"
	EventRecordDeleted  EventType = "record_deleted"
	EventAlertRaised    EventType = "alert_raised"
	EventAlertResolved  EventType = "alert_resolved"
	EventReviewDecision EventType = "review_decision"
)

// Event is one message on the feed. Seq increases by one per broadcast
// event, so a client that sees a gap knows it was dropped for being slow.
type Event struct {
	Seq       uint64      `json:"seq"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	RecordID  string      `json:"record_id,omitempty"`
	Status    string      `json:"status,omitempty"`
	Severity  string      `json:"severity,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Subscription narrows a client's feed. Empty fields match everything.
type Subscription struct {
	AllEvents   bool        `json:"all_events"`
	EventTypes  []EventType `json:"event_types"`
	RecordIDs   []string    `json:"record_ids"`
	Statuses    []string    `json:"statuses"`     // record events only
	MinSeverity string      `json:"min_severity"` // alert events only
}

// Stats describes hub activity.
type Stats struct {
	ConnectedClients int    `json:"connected_clients"`
	TotalEvents      int64  `json:"total_events"`
	DroppedEvents    int64  `json:"dropped_events"`
	TotalClients     int64  `json:"total_clients"`
	PeakClients      int64  `json:"peak_clients"`
	LastSeq          uint64 `json:"last_seq"`
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 10000

// Hub manages all WebSocket connections
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits
	maxClients int
	upgrader   websocket.Upgrader

	seq           uint64 // owned by Run
	lastSeq       atomic.Uint64
	totalEvents   atomic.Int64
	droppedEvents atomic.Int64
	totalClients  atomic.Int64
	peakClients   atomic.Int64
}

// Option configures a Hub.
type Option func(*Hub)

// WithAllowedOrigins lets browser pages from these origins open the feed.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = originChecker(origins)
	}
}

// WithMaxClients overrides MaxClients.
func WithMaxClients(n int) Option {
	return func(h *Hub) {
		h.maxClients = n
	}
}

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(nil),
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("realtime hub shutting down, closing client connections")
			h.mu.Lock()
			for client := range h.clients {
				close(client.send) // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalClients.Add(1)
			if current := int64(len(h.clients)); current > h.peakClients.Load() {
				h.peakClients.Store(current)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("client connected", "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("client disconnected", "total", n)

		case event := <-h.broadcast:
			h.seq++
			event.Seq = h.seq
			h.lastSeq.Store(h.seq)
			h.totalEvents.Add(1)

			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to encode event", "type", event.Type, "error", err)
				continue
			}

			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				if h.shouldSend(client, event) {
					select {
					case client.send <- payload:
					default:
						slow = append(slow, client)
					}
				}
			}
			h.mu.RUnlock()
			// Remove slow clients under write lock
			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						close(client.send)
						delete(h.clients, client)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// shouldSend checks if event matches client's subscription
func (h *Hub) shouldSend(client *Client, event *Event) bool {
	client.mu.RLock()
	sub := client.sub
	client.mu.RUnlock()

	if sub.AllEvents {
		return true
	}
	if len(sub.EventTypes) > 0 && !slices.Contains(sub.EventTypes, event.Type) {
		return false
	}
	if len(sub.RecordIDs) > 0 && event.RecordID != "" && !slices.Contains(sub.RecordIDs, event.RecordID) {
		return false
	}
	if len(sub.Statuses) > 0 && event.Status != "" && !slices.Contains(sub.Statuses, event.Status) {
		return false
	}
	if sub.MinSeverity != "" && event.Severity != "" {
		floor := compliance.Severity(sub.MinSeverity)
		if floor.Valid() && compliance.Severity(event.Severity).Rank() < floor.Rank() {
			return false
		}
	}
	return true
}

// Broadcast sends an event to all matching clients
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.droppedEvents.Add(1)
		h.logger.Warn("broadcast channel full, dropping event", "type", event.Type)
	}
}

// RecordSaved implements verification.Observer.
func (h *Hub) RecordSaved(r *verification.Record) {
	h.Broadcast(&Event{
		Type:      EventRecordUpdated,
		Timestamp: time.Now(),
		RecordID:  r.ID,
		Status:    string(r.Status),
		Data:      r,
	})
}

// RecordRemoved implements verification.Observer.
func (h *Hub) RecordRemoved(recordID string) {
	h.Broadcast(&Event{
		Type:      EventRecordDeleted,
		Timestamp: time.Now(),
		RecordID:  recordID,
	})
}

// AlertRaised implements compliance.Notifier.
func (h *Hub) AlertRaised(a *compliance.Alert) {
	h.broadcastAlert(EventAlertRaised, a)
}

// AlertResolved implements compliance.Notifier.
func (h *Hub) AlertResolved(a *compliance.Alert) {
	h.broadcastAlert(EventAlertResolved, a)
}

// BroadcastDecision sends a review decision event.
func (h *Hub) BroadcastDecision(r *verification.Record, action string, actor string) {
	h.Broadcast(&Event{
		Type:      EventReviewDecision,
		Timestamp: time.Now(),
		RecordID:  r.ID,
		Status:    string(r.Status),
		Data: map[string]interface{}{
			"record_id": r.ID,
			"action":    action,
			"actor":     actor,
			"status":    r.Status,
		},
	})
}

func (h *Hub) broadcastAlert(t EventType, a *compliance.Alert) {
	h.Broadcast(&Event{
		Type:      t,
		Timestamp: time.Now(),
		RecordID:  a.RecordID,
		Severity:  string(a.Severity),
		Data:      a,
	})
}

// Stats returns a snapshot of hub activity.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()

	return Stats{
		ConnectedClients: n,
		TotalEvents:      h.totalEvents.Load(),
		DroppedEvents:    h.droppedEvents.Load(),
		TotalClients:     h.totalClients.Load(),
		PeakClients:      h.peakClients.Load(),
		LastSeq:          h.lastSeq.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Reject upgrades after the hub has stopped to prevent orphaned connections.
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	// Enforce connection limit
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client

	// Start goroutines for reading and writing
	go client.writePump()
	go client.readPump()
}

// readPump reads messages from WebSocket (subscriptions, pings)
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			break
		}

		// Parse subscription update
		var sub Subscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.mu.Lock()
			c.sub = sub
			c.mu.Unlock()
		}
	}
}

// writePump writes messages to WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
