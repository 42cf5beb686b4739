// Package transport carries envelopes between the backend and the frontend.
// Two implementations exist: an in-process channel pair for the embedded
// shell and a WebSocket server for web deployments. Subsystems that push
// never know which one is active; they go through the Manager.
package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrNoTransport is returned when a push is attempted before any transport
// has been activated.
var ErrNoTransport = errors.New("no active transport")

// MessageHandler turns one incoming payload into an optional reply payload.
// A nil return means no reply is owed.
type MessageHandler func(ctx context.Context, raw []byte) []byte

// Transport is the contract both implementations satisfy.
type Transport interface {
	// SendToFrontend serializes msg and delivers it to every connected peer.
	SendToFrontend(msg any) error
	// SetMessageHandler installs the dispatch callback. Must be called
	// before Start.
	SetMessageHandler(fn MessageHandler)
	Start(ctx context.Context) error
	Stop() error
	Connected() bool
}

// Manager holds the active transport so push producers stay decoupled from
// the deployment mode.
type Manager struct {
	mu     sync.RWMutex
	active Transport
}

func NewManager() *Manager {
	return &Manager{}
}

// SetActive installs the transport for this process. Called once during
// bootstrap; tests swap in fakes.
func (m *Manager) SetActive(t Transport) {
	m.mu.Lock()
	m.active = t
	m.mu.Unlock()
}

// Active returns the installed transport, or nil before bootstrap completes.
func (m *Manager) Active() Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// SendToFrontend forwards to the active transport.
func (m *Manager) SendToFrontend(msg any) error {
	t := m.Active()
	if t == nil {
		return ErrNoTransport
	}
	return t.SendToFrontend(msg)
}

// Connected reports whether the active transport has at least one live peer.
func (m *Manager) Connected() bool {
	t := m.Active()
	return t != nil && t.Connected()
}
