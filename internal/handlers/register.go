// Package handlers implements the built-in request methods: account flows,
// system introspection, and sync-queue inspection. Registration wires each
// method into the registry with its middleware kind and whitelist entry.
package handlers

import (
	"log/slog"
	"time"

	"github.com/ecan-ai/ecan/internal/auth"
	"github.com/ecan-ai/ecan/internal/provider"
	"github.com/ecan-ai/ecan/internal/registry"
	"github.com/ecan-ai/ecan/internal/syncqueue"
)

// Deps carries everything the built-in handlers need.
type Deps struct {
	Auth     *auth.Service
	Resolver *provider.Resolver
	Sync     *syncqueue.Queue
	Ready    registry.Readiness
	Version  string
	TokenTTL time.Duration
	Logger   *slog.Logger
}

// Register installs all built-in handlers on the registry. Every method
// registered here is on the registry's default whitelist, so clients can
// bootstrap before they hold a token.
func Register(reg *registry.Registry, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("component", "handlers")

	a := &authHandlers{deps: deps}
	reg.RegisterSync("login", a.login)
	reg.RegisterSync("signup", a.signup)
	reg.RegisterSync("logout", a.logout)
	reg.RegisterSync("refresh_token", a.refreshToken)
	reg.RegisterSync("google_login", a.googleLogin)
	reg.RegisterSync("get_last_login", a.lastLogin)
	reg.RegisterSync("forgot_password", a.forgotPassword)
	reg.RegisterSync("confirm_forgot_password", a.confirmForgotPassword)
	reg.RegisterSync("update_user_preferences", a.updatePreferences)

	s := &systemHandlers{deps: deps, startTime: time.Now()}
	reg.RegisterSync("ping", s.ping)
	reg.RegisterSync("health_check", s.healthCheck)
	reg.RegisterSync("get_version", s.version)
	reg.RegisterSync("get_system_status", s.systemStatus)
	reg.RegisterSync("get_initialization_progress", s.initializationProgress)
	reg.RegisterSync("get_sync_status", s.syncStatus)
}
