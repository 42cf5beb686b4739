// Package token manages short-lived bearer tokens for authenticated users.
// Storage is process-local and non-persistent: a restart revokes everything.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is the token lifetime when none is configured.
const DefaultTTL = 24 * time.Hour

// Info describes an active token.
type Info struct {
	Value       string
	User        string
	Role        string
	Permissions []string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	LastUsedAt  time.Time
}

// Stats summarizes the token table.
type Stats struct {
	Active int `json:"active"`
	Users  int `json:"users"`
}

// Manager owns the token table. At most one active token exists per user:
// issuing a new one revokes the previous.
type Manager struct {
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	tokens map[string]*Info
	byUser map[string]string // user -> active token value
	stop   chan struct{}
}

// NewManager creates a token manager. A non-positive ttl falls back to
// DefaultTTL.
func NewManager(ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		ttl:    ttl,
		logger: logger.With("component", "token-manager"),
		tokens: make(map[string]*Info),
		byUser: make(map[string]string),
	}
}

// Generate issues a fresh opaque token for user, revoking any prior token.
func (m *Manager) Generate(user, role string, permissions ...string) string {
	value := newTokenValue()
	now := time.Now()

	m.mu.Lock()
	if prev, ok := m.byUser[user]; ok {
		delete(m.tokens, prev)
	}
	m.tokens[value] = &Info{
		Value:       value,
		User:        user,
		Role:        role,
		Permissions: permissions,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.ttl),
		LastUsedAt:  now,
	}
	m.byUser[user] = value
	m.mu.Unlock()

	m.logger.Debug("token issued", "user", user, "role", role)
	return value
}

// Validate returns the token info if value exists and has not expired.
// Expired entries are revoked as a side effect. Validation refreshes
// LastUsedAt.
func (m *Manager) Validate(value string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.tokens[value]
	if !ok {
		return Info{}, false
	}
	if !time.Now().Before(info.ExpiresAt) {
		m.removeLocked(info)
		return Info{}, false
	}
	info.LastUsedAt = time.Now()
	return *info, true
}

// Revoke removes a token. Returns false if it was not present.
func (m *Manager) Revoke(value string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.tokens[value]
	if !ok {
		return false
	}
	m.removeLocked(info)
	return true
}

// RevokeUser removes the user's active token, if any.
func (m *Manager) RevokeUser(user string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.byUser[user]
	if !ok {
		return false
	}
	if info, ok := m.tokens[value]; ok {
		m.removeLocked(info)
	} else {
		delete(m.byUser, user)
	}
	return true
}

// Extend pushes a token's expiry out by d (the configured TTL when d <= 0).
func (m *Manager) Extend(value string, d time.Duration) bool {
	if d <= 0 {
		d = m.ttl
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.tokens[value]
	if !ok {
		return false
	}
	info.ExpiresAt = time.Now().Add(d)
	return true
}

// Stats returns table counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Active: len(m.tokens), Users: len(m.byUser)}
}

// StartSweeper launches a periodic sweep of expired tokens.
func (m *Manager) StartSweeper(interval time.Duration) {
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
				if n := m.sweep(); n > 0 {
					m.logger.Debug("swept expired tokens", "count", n)
				}
			}
		}
	}()
}

// StopSweeper stops the periodic sweep.
func (m *Manager) StopSweeper() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

// Reset clears the token table. Exists solely for tests.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = make(map[string]*Info)
	m.byUser = make(map[string]string)
}

func (m *Manager) sweep() int {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, info := range m.tokens {
		if !now.Before(info.ExpiresAt) {
			m.removeLocked(info)
			removed++
		}
	}
	return removed
}

func (m *Manager) removeLocked(info *Info) {
	delete(m.tokens, info.Value)
	if m.byUser[info.User] == info.Value {
		delete(m.byUser, info.User)
	}
}

// newTokenValue returns a 128-bit random value in hex form.
func newTokenValue() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("token: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}
