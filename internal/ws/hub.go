// Package ws delivers real-time conversation events to connected clients.
// Messages are sent over the REST API; sockets are notification-only, so a
// dropped connection never loses data, the client just refetches.
package ws

import (
	"encoding/json"
	"log"
	"time"
)

// Event types pushed to clients.
const (
	EventMessageNew     = "message.new"
	EventMessageEdited  = "message.edited"
	EventMessageDeleted = "message.deleted"
	EventMessagesRead   = "messages.read"
)

// Event is the wire format of a socket notification.
type Event struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id,omitempty"`
	SenderID       string    `json:"sender_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// envelope pairs an event with its target users.
type envelope struct {
	userIDs []string
	payload []byte
}

// Hub tracks connected clients per user and fans events out to them. All
// state is owned by the Run goroutine; other goroutines talk to it through
// channels only.
type Hub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan envelope
	done       chan struct{}
}

// NewHub creates a Hub. Call Run in its own goroutine before use.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope, 64),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and event deliveries until Shutdown is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
		case client := <-h.unregister:
			set, ok := h.clients[client.userID]
			if !ok {
				continue
			}
			if _, exists := set[client]; exists {
				delete(set, client)
				close(client.send)
			}
			if len(set) == 0 {
				delete(h.clients, client.userID)
			}
		case env := <-h.broadcast:
			for _, userID := range env.userIDs {
				h.sendToUser(userID, env.payload)
			}
		case <-h.done:
			for userID, set := range h.clients {
				for client := range set {
					close(client.send)
				}
				delete(h.clients, userID)
			}
			return
		}
	}
}

// Shutdown stops the Run loop and closes all client send channels.
func (h *Hub) Shutdown() {
	close(h.done)
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Notify delivers an event to every connected device of the given users.
// Non-blocking for callers; delivery to slow clients is best-effort.
func (h *Hub) Notify(event Event, userIDs ...string) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("ws hub: failed to encode event: %v", err)
		return
	}
	select {
	case h.broadcast <- envelope{userIDs: userIDs, payload: payload}:
	default:
		log.Printf("ws hub: broadcast queue full, dropping %s event", event.Type)
	}
}

// sendToUser pushes the payload to all of a user's sockets. A client whose
// send buffer is full is considered dead and dropped.
func (h *Hub) sendToUser(userID string, payload []byte) {
	set, ok := h.clients[userID]
	if !ok {
		return
	}
	for client := range set {
		select {
		case client.send <- payload:
		default:
			delete(set, client)
			close(client.send)
		}
	}
	if len(set) == 0 {
		delete(h.clients, userID)
	}
}
