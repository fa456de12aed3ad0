package stream

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Session is one connected front end. Writes are serialized per
// connection.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Hub holds the websocket sessions of connected users.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[string]*Session)}
}

func (h *Hub) Add(userID string, conn *websocket.Conn) *Session {
	s := &Session{conn: conn}
	h.mu.Lock()
	h.sessions[userID] = s
	h.mu.Unlock()
	return s
}

func (h *Hub) Remove(userID string) {
	h.mu.Lock()
	delete(h.sessions, userID)
	h.mu.Unlock()
}

// Connected reports how many sessions are live.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
