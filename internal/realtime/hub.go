// Package realtime pushes finished conversation turns to connected chat
// widgets over websockets, keyed by activity instance. A turn is private:
// it is delivered only to connections belonging to the user who sent it,
// so two students on the same course page never see each other's chat.
package realtime

import (
	"encoding/json"
	"sync"

	"coursechat/backend/internal/models"
)

type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*Client]struct{}
}

type Client struct {
	InstanceID int64
	UserID     int64
	Send       chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients: map[int64]map[*Client]struct{}{},
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client.InstanceID] == nil {
		h.clients[client.InstanceID] = map[*Client]struct{}{}
	}
	h.clients[client.InstanceID][client] = struct{}{}
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clients[client.InstanceID]
	if !ok {
		return
	}
	if _, registered := clients[client]; !registered {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, client.InstanceID)
	}
	close(client.Send)
}

// BroadcastTurn delivers a logged turn to the sending user's open
// connections on that instance. Slow consumers are skipped, not waited
// on. The sends are non-blocking, so the lock is held across them: a
// disconnect closes the send channel under the write lock, and sending
// outside the lock would race that close.
func (h *Hub) BroadcastTurn(instanceID, userID int64, turn *models.ConversationTurn) {
	message, err := json.Marshal(map[string]any{
		"type": "turn.logged",
		"turn": turn,
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[instanceID] {
		if client.UserID != userID {
			continue
		}
		select {
		case client.Send <- message:
		default:
		}
	}
}
