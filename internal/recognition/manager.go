package recognition

import (
	"log/slog"
	"sync"
)

// StreamSession binds one streaming connection to its controller and frame
// source. The session owns both: closing it stops the controller and
// releases any capture wait.
type StreamSession struct {
	ID       string
	TenantID string
	DeviceID string

	Source     *ChannelSource
	Controller *Controller
}

func (s *StreamSession) Close() {
	s.Controller.Stop()
}

// Manager is the registry of live streaming sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*StreamSession
	log      *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*StreamSession),
		log:      logger.With("component", "recognition-manager"),
	}
}

func (m *Manager) Add(sess *StreamSession) {
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.log.Info("stream session started", "session_id", sess.ID, "tenant_id", sess.TenantID)
}

func (m *Manager) Get(sessionID string) (*StreamSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	return sess, ok
}

func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if sess != nil {
		sess.Close()
		m.log.Info("stream session removed", "session_id", sessionID)
	}
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
