// Package session holds per-user state containers and their registry. The
// same containers back both deployment modes: the embedded shell keeps a
// single implicit session, the web server keeps one per logged-in user.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ecan-ai/ecan/pkg/protocol"
)

// DefaultPushQueueSize bounds the per-session server-to-frontend queue.
const DefaultPushQueueSize = 256

// UserContext is a per-user in-memory state container. Mutating accessors
// flip the dirty flag and refresh last-activity; attached domain objects
// (agents, skills, vehicles, tool schemas, configuration) are opaque here.
type UserContext struct {
	mu sync.Mutex

	userID    string
	sessionID string
	username  string
	authToken string

	createdAt    time.Time
	lastActivity time.Time
	dirty        bool

	wanConnected     bool
	wanMsgSubscribed bool

	agents        []any
	skills        []any
	vehicles      []any
	toolSchemas   []any
	configManager any

	pushQueue chan protocol.Request
}

// NewUserContext creates a context with a fresh session id when sessionID is
// empty. The context owns a bounded single-consumer push queue.
func NewUserContext(userID, username, authToken, sessionID string) *UserContext {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	now := time.Now()
	return &UserContext{
		userID:       userID,
		sessionID:    sessionID,
		username:     username,
		authToken:    authToken,
		createdAt:    now,
		lastActivity: now,
		pushQueue:    make(chan protocol.Request, DefaultPushQueueSize),
	}
}

func (c *UserContext) UserID() string    { return c.userID }
func (c *UserContext) SessionID() string { return c.sessionID }

func (c *UserContext) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
	return c.username
}

func (c *UserContext) AuthToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
	return c.authToken
}

func (c *UserContext) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
	c.markDirtyLocked()
}

func (c *UserContext) CreatedAt() time.Time { return c.createdAt }

func (c *UserContext) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Touch refreshes the last-activity timestamp.
func (c *UserContext) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
}

func (c *UserContext) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// ClearDirty resets the dirty flag after the owner has persisted the context.
func (c *UserContext) ClearDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = false
}

func (c *UserContext) WANConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
	return c.wanConnected
}

func (c *UserContext) SetWANConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wanConnected = connected
	c.markDirtyLocked()
}

func (c *UserContext) WANMsgSubscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
	return c.wanMsgSubscribed
}

func (c *UserContext) SetWANMsgSubscribed(subscribed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wanMsgSubscribed = subscribed
	c.markDirtyLocked()
}

func (c *UserContext) Agents() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
	return c.agents
}

func (c *UserContext) SetAgents(agents []any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents = agents
	c.markDirtyLocked()
}

func (c *UserContext) Skills() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
	return c.skills
}

func (c *UserContext) SetSkills(skills []any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skills = skills
	c.markDirtyLocked()
}

func (c *UserContext) Vehicles() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
	return c.vehicles
}

func (c *UserContext) SetVehicles(vehicles []any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vehicles = vehicles
	c.markDirtyLocked()
}

func (c *UserContext) ToolSchemas() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
	return c.toolSchemas
}

func (c *UserContext) SetToolSchemas(schemas []any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolSchemas = schemas
	c.markDirtyLocked()
}

func (c *UserContext) ConfigManager() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
	return c.configManager
}

func (c *UserContext) SetConfigManager(mgr any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configManager = mgr
	c.markDirtyLocked()
}

// PushQueue returns the receive side of the server-to-frontend queue.
// The queue has a single consumer: the transport draining pushes.
func (c *UserContext) PushQueue() <-chan protocol.Request {
	return c.pushQueue
}

// EnqueuePush offers a push envelope to the queue without blocking.
// Returns false when the queue is full and the envelope was dropped.
func (c *UserContext) EnqueuePush(req protocol.Request) bool {
	select {
	case c.pushQueue <- req:
		return true
	default:
		return false
	}
}

func (c *UserContext) markDirtyLocked() {
	c.dirty = true
	c.lastActivity = time.Now()
}

// ToMap projects the context to a serializable map. The auth token is
// deliberately excluded; attached domain objects are left to their owners.
func (c *UserContext) ToMap() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{
		"user_id":            c.userID,
		"session_id":         c.sessionID,
		"username":           c.username,
		"created_at":         c.createdAt.UnixMilli(),
		"last_activity":      c.lastActivity.UnixMilli(),
		"wan_connected":      c.wanConnected,
		"wan_msg_subscribed": c.wanMsgSubscribed,
	}
}

// FromMap reconstructs a context from a ToMap projection. Attached domain
// objects are not restored; their owners rebuild them.
func FromMap(data map[string]any) *UserContext {
	c := NewUserContext(
		mapString(data, "user_id"),
		mapString(data, "username"),
		"",
		mapString(data, "session_id"),
	)
	if ms, ok := mapInt64(data, "created_at"); ok {
		c.createdAt = time.UnixMilli(ms)
	}
	if ms, ok := mapInt64(data, "last_activity"); ok {
		c.lastActivity = time.UnixMilli(ms)
	}
	if v, ok := data["wan_connected"].(bool); ok {
		c.wanConnected = v
	}
	if v, ok := data["wan_msg_subscribed"].(bool); ok {
		c.wanMsgSubscribed = v
	}
	return c
}

func mapString(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func mapInt64(data map[string]any, key string) (int64, bool) {
	switch v := data[key].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
