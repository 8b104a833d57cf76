package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"policy-claims/backend/internal/pipeline"
	"policy-claims/backend/internal/rules"
)

// StreamEvent describes websocket payloads emitted by the service.
type StreamEvent struct {
	Type          string        `json:"type"`
	QueryID       string        `json:"query_id,omitempty"`
	FinalDecision rules.Verdict `json:"final_decision,omitempty"`
	Overridden    bool          `json:"overridden,omitempty"`
	Document      string        `json:"document,omitempty"`
	Segments      int           `json:"segments,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// wsClient wraps a websocket connection with write locking.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// EventNotifier keeps track of active websocket clients and broadcasts
// pipeline and ingest events.
type EventNotifier struct {
	mu        sync.Mutex
	clients   map[*wsClient]struct{}
	lastEvent *StreamEvent
}

// NewEventNotifier constructs a notifier instance.
func NewEventNotifier() *EventNotifier {
	return &EventNotifier{clients: make(map[*wsClient]struct{})}
}

// Register attaches a websocket connection and replays the most recent event.
func (n *EventNotifier) Register(conn *websocket.Conn) *wsClient {
	client := &wsClient{conn: conn}
	n.mu.Lock()
	n.clients[client] = struct{}{}
	last := n.lastEvent
	n.mu.Unlock()

	if last != nil {
		_ = client.writeJSON(*last)
	}
	return client
}

// Unregister removes the websocket client from the notifier and closes the socket.
func (n *EventNotifier) Unregister(client *wsClient) {
	if client == nil {
		return
	}
	n.mu.Lock()
	delete(n.clients, client)
	n.mu.Unlock()
	_ = client.conn.Close()
}

// Broadcast sends the supplied event to all registered websocket clients.
func (n *EventNotifier) Broadcast(event StreamEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	snapshot := event
	n.lastEvent = &snapshot
	for client := range n.clients {
		if err := client.writeJSON(event); err != nil {
			delete(n.clients, client)
			_ = client.conn.Close()
		}
	}
}

// Publish forwards a pipeline event to websocket clients.
func (n *EventNotifier) Publish(event pipeline.Event) {
	n.Broadcast(StreamEvent{
		Type:          event.Type,
		QueryID:       event.QueryID,
		FinalDecision: event.FinalDecision,
		Overridden:    event.Overridden,
		Timestamp:     event.Timestamp,
	})
}

// LastEvent returns a copy of the most recent event, if any.
func (n *EventNotifier) LastEvent() *StreamEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastEvent == nil {
		return nil
	}
	copy := *n.lastEvent
	return &copy
}

// Clients returns the number of connected websocket clients.
func (n *EventNotifier) Clients() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}

func (c *wsClient) writeJSON(payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(payload)
}
