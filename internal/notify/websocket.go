package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"solar_monitor/internal/domain"
	"solar_monitor/internal/metrics"
	"solar_monitor/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 8
)

// Message is what a websocket client receives on every alert change
type Message struct {
	Type           string         `json:"type"`
	Alerts         []domain.Alert `json:"alerts"`
	Unacknowledged int            `json:"unacknowledged"`
	PlaySound      bool           `json:"play_sound"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Client is one websocket connection with its visibility scope
type Client struct {
	hub   *WebSocketHub
	conn  *websocket.Conn
	send  chan []byte
	role  domain.Role
	sites []string
}

// WebSocketHub pushes each client the alerts its role may see
type WebSocketHub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	last    *Event
}

func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{clients: make(map[*Client]bool)}
}

func (h *WebSocketHub) Name() string { return "websocket" }

// Notify queues a filtered message for every client. Clients whose buffer
// is full are disconnected.
func (h *WebSocketHub) Notify(_ context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = &ev
	for c := range h.clients {
		data, err := json.Marshal(messageFor(ev, c.role, c.sites))
		if err != nil {
			return err
		}
		select {
		case c.send <- data:
		default:
			h.dropLocked(c)
		}
	}
	return nil
}

func messageFor(ev Event, role domain.Role, sites []string) Message {
	visible := domain.VisibleAlerts(ev.Unresolved, role, sites)
	fresh := Event{New: domain.VisibleAlerts(ev.New, role, sites)}
	return Message{
		Type:           "alerts",
		Alerts:         visible,
		Unacknowledged: len(domain.Unacknowledged(visible)),
		PlaySound:      fresh.HasNewCritical(),
		Timestamp:      ev.At,
	}
}

// Serve registers conn and blocks until the client goes away
func (h *WebSocketHub) Serve(conn *websocket.Conn, role domain.Role, sites []string) {
	c := &Client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		role:  role,
		sites: append([]string(nil), sites...),
	}
	h.register(c)
	go c.writePump()
	c.readPump()
}

func (h *WebSocketHub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	if h.last != nil {
		if data, err := json.Marshal(messageFor(*h.last, c.role, c.sites)); err == nil {
			c.send <- data
		}
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.SetWebSocketClients(n)
	logger.Infof("WebSocket client connected (role=%s, sites=%v)", c.role, c.sites)
}

func (h *WebSocketHub) unregister(c *Client) {
	h.mu.Lock()
	h.dropLocked(c)
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetWebSocketClients(n)
}

func (h *WebSocketHub) dropLocked(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *WebSocketHub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		h.dropLocked(c)
	}
	h.mu.Unlock()
	metrics.SetWebSocketClients(0)
}

// readPump only services control frames; clients never send data
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debugf("WebSocket read error: %v", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
