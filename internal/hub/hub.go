package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fleetwatch/internal/models"
)

const writeWait = 5 * time.Second

// Hub fans session updates out to connected viewers.
type Hub struct {
	clients map[string]*websocket.Conn
	mu      sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*websocket.Conn),
	}
}

func (h *Hub) Add(viewerID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[viewerID] = conn
	log.Printf("Viewer %s connected. Total viewers: %d", viewerID, len(h.clients))
}

func (h *Hub) Remove(viewerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn, ok := h.clients[viewerID]; ok {
		delete(h.clients, viewerID)
		conn.Close()
		log.Printf("Viewer %s disconnected. Total viewers: %d", viewerID, len(h.clients))
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast writes the update to every viewer. Viewers that fail a write are
// dropped.
func (h *Hub) Broadcast(update models.SessionUpdate) {
	data, err := json.Marshal(update)
	if err != nil {
		log.Printf("Error marshaling session update: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("Error sending update to viewer %s: %v", id, err)
			delete(h.clients, id)
			conn.Close()
		}
	}
}
