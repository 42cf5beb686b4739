package provider

import (
	"sync"

	"github.com/ecan-ai/ecan/pkg/protocol"
)

// HostState is the embedded shell's central state. There is exactly one per
// process in embedded mode; the shell populates it during startup and the
// embedded provider reads it on behalf of handlers.
type HostState struct {
	mu sync.RWMutex

	userID    string
	username  string
	authToken string

	agents      []any
	skills      []any
	vehicles    []any
	toolSchemas []any
	configMgr   any

	wanConnected  bool
	wanSubscribed bool
	initialized   bool

	pushQueue chan protocol.Request
}

// NewHostState returns an empty host state with a bounded push queue.
func NewHostState(pushQueueSize int) *HostState {
	if pushQueueSize <= 0 {
		pushQueueSize = 256
	}
	return &HostState{pushQueue: make(chan protocol.Request, pushQueueSize)}
}

// SetIdentity records who the embedded shell is signed in as.
func (h *HostState) SetIdentity(userID, username string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.userID = userID
	h.username = username
}

// PushQueue returns the single-consumer channel of queued pushes.
func (h *HostState) PushQueue() <-chan protocol.Request {
	return h.pushQueue
}

// SetInitialized marks the shell's startup as finished (or not).
func (h *HostState) SetInitialized(v bool) {
	h.mu.Lock()
	h.initialized = v
	h.mu.Unlock()
}

// Available reports whether the central state object exists.
func (h *HostState) Available() bool {
	return h != nil
}

// Initialized reports whether the shell finished starting up.
func (h *HostState) Initialized() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.initialized
}

// Embedded reads user state from the process-wide host shell. All accessors
// tolerate a nil host so handlers fired before the shell finishes wiring see
// empty values instead of a panic.
type Embedded struct {
	host *HostState
}

// NewEmbedded wraps the given host state. A nil host is allowed.
func NewEmbedded(host *HostState) *Embedded {
	return &Embedded{host: host}
}

func (e *Embedded) UserID() string {
	if e.host == nil {
		return ""
	}
	e.host.mu.RLock()
	defer e.host.mu.RUnlock()
	return e.host.userID
}

func (e *Embedded) Username() string {
	if e.host == nil {
		return ""
	}
	e.host.mu.RLock()
	defer e.host.mu.RUnlock()
	return e.host.username
}

func (e *Embedded) AuthToken() string {
	if e.host == nil {
		return ""
	}
	e.host.mu.RLock()
	defer e.host.mu.RUnlock()
	return e.host.authToken
}

func (e *Embedded) SetAuthToken(token string) {
	if e.host == nil {
		return
	}
	e.host.mu.Lock()
	defer e.host.mu.Unlock()
	e.host.authToken = token
}

func (e *Embedded) Agents() []any {
	if e.host == nil {
		return nil
	}
	e.host.mu.RLock()
	defer e.host.mu.RUnlock()
	return e.host.agents
}

func (e *Embedded) SetAgents(agents []any) {
	if e.host == nil {
		return
	}
	e.host.mu.Lock()
	defer e.host.mu.Unlock()
	e.host.agents = agents
}

func (e *Embedded) Skills() []any {
	if e.host == nil {
		return nil
	}
	e.host.mu.RLock()
	defer e.host.mu.RUnlock()
	return e.host.skills
}

func (e *Embedded) SetSkills(skills []any) {
	if e.host == nil {
		return
	}
	e.host.mu.Lock()
	defer e.host.mu.Unlock()
	e.host.skills = skills
}

func (e *Embedded) Vehicles() []any {
	if e.host == nil {
		return nil
	}
	e.host.mu.RLock()
	defer e.host.mu.RUnlock()
	return e.host.vehicles
}

func (e *Embedded) SetVehicles(vehicles []any) {
	if e.host == nil {
		return
	}
	e.host.mu.Lock()
	defer e.host.mu.Unlock()
	e.host.vehicles = vehicles
}

func (e *Embedded) ToolSchemas() []any {
	if e.host == nil {
		return nil
	}
	e.host.mu.RLock()
	defer e.host.mu.RUnlock()
	return e.host.toolSchemas
}

func (e *Embedded) SetToolSchemas(schemas []any) {
	if e.host == nil {
		return
	}
	e.host.mu.Lock()
	defer e.host.mu.Unlock()
	e.host.toolSchemas = schemas
}

func (e *Embedded) ConfigManager() any {
	if e.host == nil {
		return nil
	}
	e.host.mu.RLock()
	defer e.host.mu.RUnlock()
	return e.host.configMgr
}

func (e *Embedded) SetConfigManager(mgr any) {
	if e.host == nil {
		return
	}
	e.host.mu.Lock()
	defer e.host.mu.Unlock()
	e.host.configMgr = mgr
}

func (e *Embedded) WANConnected() bool {
	if e.host == nil {
		return false
	}
	e.host.mu.RLock()
	defer e.host.mu.RUnlock()
	return e.host.wanConnected
}

func (e *Embedded) SetWANConnected(connected bool) {
	if e.host == nil {
		return
	}
	e.host.mu.Lock()
	defer e.host.mu.Unlock()
	e.host.wanConnected = connected
}

func (e *Embedded) WANMsgSubscribed() bool {
	if e.host == nil {
		return false
	}
	e.host.mu.RLock()
	defer e.host.mu.RUnlock()
	return e.host.wanSubscribed
}

func (e *Embedded) SetWANMsgSubscribed(subscribed bool) {
	if e.host == nil {
		return
	}
	e.host.mu.Lock()
	defer e.host.mu.Unlock()
	e.host.wanSubscribed = subscribed
}

func (e *Embedded) EnqueuePush(req protocol.Request) bool {
	if e.host == nil {
		return false
	}
	select {
	case e.host.pushQueue <- req:
		return true
	default:
		return false
	}
}

var _ Provider = (*Embedded)(nil)
