package provider

import (
	"github.com/ecan-ai/ecan/internal/session"
	"github.com/ecan-ai/ecan/pkg/protocol"
)

// Session adapts a UserContext to the Provider capability set. Every web-mode
// handler invocation gets one of these, scoped to the session resolved for
// that request.
type Session struct {
	ctx *session.UserContext
}

// NewSession wraps the given user context.
func NewSession(ctx *session.UserContext) *Session {
	return &Session{ctx: ctx}
}

// SessionID reports which session this provider is bound to.
func (s *Session) SessionID() string { return s.ctx.SessionID() }

func (s *Session) UserID() string            { return s.ctx.UserID() }
func (s *Session) Username() string          { return s.ctx.Username() }
func (s *Session) AuthToken() string         { return s.ctx.AuthToken() }
func (s *Session) SetAuthToken(token string) { s.ctx.SetAuthToken(token) }

func (s *Session) Agents() []any                { return s.ctx.Agents() }
func (s *Session) SetAgents(agents []any)       { s.ctx.SetAgents(agents) }
func (s *Session) Skills() []any                { return s.ctx.Skills() }
func (s *Session) SetSkills(skills []any)       { s.ctx.SetSkills(skills) }
func (s *Session) Vehicles() []any              { return s.ctx.Vehicles() }
func (s *Session) SetVehicles(vehicles []any)   { s.ctx.SetVehicles(vehicles) }
func (s *Session) ToolSchemas() []any           { return s.ctx.ToolSchemas() }
func (s *Session) SetToolSchemas(schemas []any) { s.ctx.SetToolSchemas(schemas) }
func (s *Session) ConfigManager() any           { return s.ctx.ConfigManager() }
func (s *Session) SetConfigManager(mgr any)     { s.ctx.SetConfigManager(mgr) }

func (s *Session) WANConnected() bool                    { return s.ctx.WANConnected() }
func (s *Session) SetWANConnected(connected bool)        { s.ctx.SetWANConnected(connected) }
func (s *Session) WANMsgSubscribed() bool                { return s.ctx.WANMsgSubscribed() }
func (s *Session) SetWANMsgSubscribed(subscribed bool)   { s.ctx.SetWANMsgSubscribed(subscribed) }
func (s *Session) EnqueuePush(req protocol.Request) bool { return s.ctx.EnqueuePush(req) }

var _ Provider = (*Session)(nil)
