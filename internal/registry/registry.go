// Package registry holds the named handler table shared by every transport.
// Handlers are registered once during startup; each registration wraps the
// handler in the middleware chain (shape check, whitelist gate, token check,
// readiness check) so transports dispatch without knowing about auth.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ecan-ai/ecan/pkg/protocol"
)

// Kind distinguishes handlers that finish on the dispatch path from handlers
// that run on a worker pool and answer asynchronously.
type Kind string

const (
	KindSync       Kind = "sync"
	KindBackground Kind = "background"
)

// HandlerFunc turns a request into a response. Handlers must return an
// envelope, never panic through to the transport; the middleware wrapper
// converts panics into HANDLER_ERROR responses.
type HandlerFunc func(ctx context.Context, req *protocol.Request) *protocol.Response

// TokenValidator checks bearer tokens for the token middleware.
type TokenValidator interface {
	ValidateToken(value string) bool
}

// TokenValidatorFunc adapts a function to TokenValidator.
type TokenValidatorFunc func(value string) bool

func (f TokenValidatorFunc) ValidateToken(value string) bool { return f(value) }

type entry struct {
	fn           HandlerFunc
	kind         Kind
	registeredAt time.Time
}

// DefaultWhitelist returns the methods callable without a token: the
// login/health bootstrap surface plus pre-auth conveniences (logout may be
// called with an already-invalid token; preferences apply before login).
func DefaultWhitelist() []string {
	return []string{
		"login", "signup", "refresh_token", "get_system_status",
		"ping", "health_check", "get_version", "forgot_password",
		"confirm_forgot_password", "google_login", "get_last_login",
		"logout", "get_initialization_progress", "update_user_preferences",
	}
}

// Registry is the process-wide handler table. It is populated during
// startup and read-only afterwards; the mutex exists for the benefit of
// tests and late registration warnings.
type Registry struct {
	tokens TokenValidator
	ready  Readiness
	logger *slog.Logger

	mu        sync.RWMutex
	handlers  map[string]entry
	whitelist map[string]struct{}
}

// New creates a registry seeded with the default whitelist.
func New(tokens TokenValidator, ready Readiness, logger *slog.Logger) *Registry {
	wl := make(map[string]struct{})
	for _, m := range DefaultWhitelist() {
		wl[m] = struct{}{}
	}
	return &Registry{
		tokens:    tokens,
		ready:     ready,
		logger:    logger.With("component", "registry"),
		handlers:  make(map[string]entry),
		whitelist: wl,
	}
}

// RegisterSync registers a handler that runs on the dispatch path. Sync
// handlers must not block on I/O for more than a few milliseconds; anything
// slower belongs in RegisterBackground.
func (r *Registry) RegisterSync(method string, fn HandlerFunc) {
	r.register(method, fn, KindSync)
}

// RegisterBackground registers a handler that runs on a worker pool. The
// transport answers with a pending envelope and delivers the handler's final
// envelope asynchronously under the same id.
func (r *Registry) RegisterBackground(method string, fn HandlerFunc) {
	r.register(method, fn, KindBackground)
}

func (r *Registry) register(method string, fn HandlerFunc, kind Kind) {
	wrapped := r.wrap(method, fn)

	r.mu.Lock()
	if _, exists := r.handlers[method]; exists {
		r.logger.Warn("handler already registered, replacing", "method", method)
	}
	r.handlers[method] = entry{fn: wrapped, kind: kind, registeredAt: time.Now()}
	r.mu.Unlock()
}

// Lookup returns the wrapped handler and its kind.
func (r *Registry) Lookup(method string) (HandlerFunc, Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.handlers[method]
	if !ok {
		return nil, "", false
	}
	return e.fn, e.kind, true
}

// AddToWhitelist exempts a method from the token and readiness middleware.
// The whitelist is edited only during startup configuration.
func (r *Registry) AddToWhitelist(method string) {
	r.mu.Lock()
	r.whitelist[method] = struct{}{}
	r.mu.Unlock()
	r.logger.Info("method whitelisted", "method", method)
}

// RemoveFromWhitelist removes a whitelist entry.
func (r *Registry) RemoveFromWhitelist(method string) {
	r.mu.Lock()
	delete(r.whitelist, method)
	r.mu.Unlock()
	r.logger.Info("method removed from whitelist", "method", method)
}

// Whitelist returns a sorted copy of the whitelist.
func (r *Registry) Whitelist() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	methods := make([]string, 0, len(r.whitelist))
	for m := range r.whitelist {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Whitelisted reports whether a method bypasses the auth middleware.
func (r *Registry) Whitelisted(method string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.whitelist[method]
	return ok
}

// MethodList groups registered methods by kind.
type MethodList struct {
	Sync       []string `json:"sync"`
	Background []string `json:"background"`
}

// Methods lists all registered methods, sorted within each kind.
func (r *Registry) Methods() MethodList {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var list MethodList
	for m, e := range r.handlers {
		if e.kind == KindSync {
			list.Sync = append(list.Sync, m)
		} else {
			list.Background = append(list.Background, m)
		}
	}
	sort.Strings(list.Sync)
	sort.Strings(list.Background)
	return list
}

// Reset clears the handler table and restores the default whitelist.
// Exists solely for tests.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string]entry)
	r.whitelist = make(map[string]struct{})
	for _, m := range DefaultWhitelist() {
		r.whitelist[m] = struct{}{}
	}
}
