package api

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"followup-engine/backend/internal/conversation"
)

const eventBuffer = 64

// StreamEvent is the websocket payload for conversation activity.
type StreamEvent struct {
	conversation.Event
	Timestamp time.Time `json:"timestamp"`
}

// wsClient wraps a websocket connection with write locking.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// EventHub fans conversation events out to websocket clients. It implements conversation.Notifier.
type EventHub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	last    *StreamEvent
	events  chan StreamEvent
}

var _ conversation.Notifier = (*EventHub)(nil)

// NewEventHub constructs a hub. Call Run to start broadcasting.
func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[*wsClient]struct{}),
		events:  make(chan StreamEvent, eventBuffer),
	}
}

// Publish queues the event for broadcast. Events are dropped when the buffer is full.
func (h *EventHub) Publish(event conversation.Event) {
	select {
	case h.events <- StreamEvent{Event: event, Timestamp: time.Now().UTC()}:
	default:
		logrus.WithField("type", event.Type).Warn("event buffer full, dropping event")
	}
}

// Run broadcasts queued events until ctx is done.
func (h *EventHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case event := <-h.events:
			h.Broadcast(event)
		}
	}
}

// Register attaches a websocket connection and replays the most recent event.
func (h *EventHub) Register(conn *websocket.Conn) *wsClient {
	client := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	last := h.last
	h.mu.Unlock()

	if last != nil {
		_ = client.writeJSON(*last)
	}
	return client
}

// Unregister removes the client and closes the socket.
func (h *EventHub) Unregister(client *wsClient) {
	if client == nil {
		return
	}
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	_ = client.conn.Close()
}

// Broadcast sends the event to every registered client, dropping clients that fail.
func (h *EventHub) Broadcast(event StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	snapshot := event
	h.last = &snapshot

	for client := range h.clients {
		if err := client.writeJSON(event); err != nil {
			delete(h.clients, client)
			_ = client.conn.Close()
		}
	}
}

// LastEvent returns a copy of the most recently broadcast event.
func (h *EventHub) LastEvent() *StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return nil
	}
	copied := *h.last
	return &copied
}

func (h *EventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		_ = client.conn.Close()
		delete(h.clients, client)
	}
}

func (c *wsClient) writeJSON(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(payload)
}
