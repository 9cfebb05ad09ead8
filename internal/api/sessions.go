package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SessionManager tracks the live websocket per user, session and channel.
// A new connection for the same key replaces the old one.
type SessionManager struct {
	mu     sync.Mutex
	active map[string]map[string]*websocket.Conn
	logger *slog.Logger
}

// NewSessionManager creates an empty SessionManager.
func NewSessionManager(logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		active: make(map[string]map[string]*websocket.Conn),
		logger: logger,
	}
}

func socketKey(channel, sessionID string) string {
	return channel + ":" + sessionID
}

// Register adds conn, closing any connection it replaces.
func (m *SessionManager) Register(userID, channel, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := socketKey(channel, sessionID)
	if _, ok := m.active[userID]; !ok {
		m.active[userID] = make(map[string]*websocket.Conn)
	}
	if existing, ok := m.active[userID][key]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	m.active[userID][key] = conn
	m.logger.Info("Socket registered", "user_id", userID, "session_id", sessionID, "channel", channel)
}

// Unregister removes conn if it is still the current connection.
func (m *SessionManager) Unregister(userID, channel, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[userID]
	if !ok {
		return
	}
	key := socketKey(channel, sessionID)
	if current, ok := sessions[key]; ok && current == conn {
		delete(sessions, key)
		if len(sessions) == 0 {
			delete(m.active, userID)
		}
		m.logger.Info("Socket unregistered", "user_id", userID, "session_id", sessionID, "channel", channel)
	}
}

// Count returns the number of live sockets.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// CloseAll disconnects every live socket.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, sessions := range m.active {
		for _, conn := range sessions {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(m.active, userID)
	}
}
