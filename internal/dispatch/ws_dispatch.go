package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is a dispatcher-facing notification pushed when marketplace state
// changes. Polling the HTTP endpoints remains the source of truth; the
// socket is a hint to refresh, so delivery is best-effort.
type Event struct {
	Type         string    `json:"type"` // assignment, delivery, repost, offer
	CargoOfferID string    `json:"cargo_offer_id"`
	VehicleID    string    `json:"vehicle_id,omitempty"`
	RouteID      string    `json:"route_id,omitempty"`
	At           time.Time `json:"at"`
}

// Notifier is the seam the HTTP layer pushes events through.
type Notifier interface {
	Notify(userID string, ev Event)
}

// WSSession wraps a connected dispatcher socket.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// WSRegistry holds dispatcher sessions keyed by user ID.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

func (r *WSRegistry) Add(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[userID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[userID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok {
		_ = s.conn.Close()
		delete(r.sessions, userID)
	}
}

// Notify pushes an event to one user if connected. A dead socket is
// dropped from the registry; the client reconnects or falls back to polling.
func (r *WSRegistry) Notify(userID string, ev Event) {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := s.send(ev); err != nil {
		if r.logger != nil {
			r.logger.Warn("ws send failed, dropping session", "user_id", userID, "error", err)
		}
		r.Remove(userID)
	}
}
