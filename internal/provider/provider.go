// Package provider exposes per-request views of user state to handlers.
//
// Handlers never touch the session tables or the host shell directly. They
// ask a Resolver for a Provider and read or write through it. Two
// implementations exist: one backed by the embedded shell's process-wide
// state and one backed by a UserContext owned by the session manager.
package provider

import (
	"github.com/ecan-ai/ecan/pkg/protocol"
)

// Provider is the capability set handlers use to reach user state.
type Provider interface {
	UserID() string
	Username() string
	AuthToken() string
	SetAuthToken(token string)

	Agents() []any
	SetAgents(agents []any)
	Skills() []any
	SetSkills(skills []any)
	Vehicles() []any
	SetVehicles(vehicles []any)
	ToolSchemas() []any
	SetToolSchemas(schemas []any)
	ConfigManager() any
	SetConfigManager(mgr any)

	WANConnected() bool
	SetWANConnected(connected bool)
	WANMsgSubscribed() bool
	SetWANMsgSubscribed(subscribed bool)

	// EnqueuePush offers a server-initiated envelope to the user's push
	// queue. It reports false when the queue is full.
	EnqueuePush(req protocol.Request) bool
}
