package session

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout is the idle expiry applied when none is configured.
const DefaultTimeout = 24 * time.Hour

// Callback observes session lifecycle events. Callbacks fire without the
// manager's lock held.
type Callback func(*UserContext)

// Manager is the session registry. It owns three tables guarded by one
// mutex: session id to context, user id to their latest session, and
// transport connection id to session id.
type Manager struct {
	logger *slog.Logger

	mu           sync.Mutex
	sessions     map[string]*UserContext
	userToLatest map[string]string
	connToSess   map[string]string
	timeout      time.Duration
	stop         chan struct{}

	onCreated   Callback
	onDestroyed Callback
	onExpired   Callback
}

// NewManager creates a session manager. A non-positive timeout falls back to
// DefaultTimeout.
func NewManager(timeout time.Duration, logger *slog.Logger) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		logger:       logger.With("component", "session-manager"),
		sessions:     make(map[string]*UserContext),
		userToLatest: make(map[string]string),
		connToSess:   make(map[string]string),
		timeout:      timeout,
	}
}

// SetCallbacks installs lifecycle observers. Call during bootstrap, before
// any session exists. onExpired fires instead of onDestroyed when the idle
// sweep removes a session.
func (m *Manager) SetCallbacks(onCreated, onDestroyed, onExpired Callback) {
	m.onCreated = onCreated
	m.onDestroyed = onDestroyed
	m.onExpired = onExpired
}

// Create stores a new session for the user and marks it their latest.
// An empty sessionID mints a fresh one.
func (m *Manager) Create(userID, username, authToken, sessionID string) *UserContext {
	ctx := NewUserContext(userID, username, authToken, sessionID)

	m.mu.Lock()
	m.sessions[ctx.SessionID()] = ctx
	m.userToLatest[userID] = ctx.SessionID()
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("session created", "session_id", ctx.SessionID(), "user_id", userID, "total", count)
	if m.onCreated != nil {
		m.onCreated(ctx)
	}
	return ctx
}

// Destroy removes a session, all connection bindings pointing at it, and the
// user's latest-session entry if it still referenced this session.
func (m *Manager) Destroy(sessionID string) bool {
	return m.destroy(sessionID, m.onDestroyed)
}

func (m *Manager) destroy(sessionID string, cb Callback) bool {
	m.mu.Lock()
	ctx, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, sessionID)
	for connID, sid := range m.connToSess {
		if sid == sessionID {
			delete(m.connToSess, connID)
		}
	}
	if m.userToLatest[ctx.UserID()] == sessionID {
		delete(m.userToLatest, ctx.UserID())
	}
	m.mu.Unlock()

	m.logger.Info("session destroyed", "session_id", sessionID, "user_id", ctx.UserID())
	if cb != nil {
		cb(ctx)
	}
	return true
}

// Get returns a session and touches its activity timestamp.
func (m *Manager) Get(sessionID string) (*UserContext, bool) {
	m.mu.Lock()
	ctx, ok := m.sessions[sessionID]
	m.mu.Unlock()

	if ok {
		ctx.Touch()
	}
	return ctx, ok
}

// GetByUser returns the user's latest session.
func (m *Manager) GetByUser(userID string) (*UserContext, bool) {
	m.mu.Lock()
	sid, ok := m.userToLatest[userID]
	var ctx *UserContext
	if ok {
		ctx, ok = m.sessions[sid]
	}
	m.mu.Unlock()

	if ok {
		ctx.Touch()
	}
	return ctx, ok
}

// GetByConnection resolves a connection binding to its session.
func (m *Manager) GetByConnection(connID string) (*UserContext, bool) {
	m.mu.Lock()
	sid, ok := m.connToSess[connID]
	var ctx *UserContext
	if ok {
		ctx, ok = m.sessions[sid]
	}
	m.mu.Unlock()

	if ok {
		ctx.Touch()
	}
	return ctx, ok
}

// SessionIDForConnection returns the session id bound to a connection.
func (m *Manager) SessionIDForConnection(connID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sid, ok := m.connToSess[connID]
	return sid, ok
}

// BindConnection associates a transport connection with a session. Fails if
// the session does not exist. Many connections may bind to one session.
func (m *Manager) BindConnection(connID, sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return false
	}
	m.connToSess[connID] = sessionID
	return true
}

// UnbindConnection removes a connection binding; the session survives.
func (m *Manager) UnbindConnection(connID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sid, ok := m.connToSess[connID]
	if ok {
		delete(m.connToSess, connID)
	}
	return sid, ok
}

// ConnectionsForSession returns the connection ids bound to a session.
func (m *Manager) ConnectionsForSession(sessionID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var conns []string
	for connID, sid := range m.connToSess {
		if sid == sessionID {
			conns = append(conns, connID)
		}
	}
	return conns
}

// SessionsForUser returns all session ids belonging to a user.
func (m *Manager) SessionsForUser(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for sid, ctx := range m.sessions {
		if ctx.UserID() == userID {
			ids = append(ids, sid)
		}
	}
	return ids
}

// Has reports whether a session exists without touching its activity.
func (m *Manager) Has(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionID]
	return ok
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// UserCount returns the number of users with a latest session.
func (m *Manager) UserCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.userToLatest)
}

// CleanupExpired destroys sessions idle longer than the configured timeout
// and returns how many were removed.
func (m *Manager) CleanupExpired() int {
	now := time.Now()

	m.mu.Lock()
	var expired []string
	for sid, ctx := range m.sessions {
		if now.Sub(ctx.LastActivity()) > m.timeout {
			expired = append(expired, sid)
		}
	}
	m.mu.Unlock()

	for _, sid := range expired {
		m.destroy(sid, m.onExpired)
	}
	if len(expired) > 0 {
		m.logger.Info("expired sessions cleaned up", "count", len(expired))
	}
	return len(expired)
}

// StartCleanupTask launches the periodic idle sweep.
func (m *Manager) StartCleanupTask(interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.stop = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.CleanupExpired()
			}
		}
	}()
}

// StopCleanupTask stops the periodic idle sweep.
func (m *Manager) StopCleanupTask() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

// Reset clears all tables. Exists solely for tests.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*UserContext)
	m.userToLatest = make(map[string]string)
	m.connToSess = make(map[string]string)
}
