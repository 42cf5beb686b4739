package registry

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ecan-ai/ecan/pkg/protocol"
)

// wrap builds the middleware chain around a handler. Evaluated in order,
// short-circuiting on the first failure: shape check, whitelist gate, token
// check, readiness check, invoke.
func (r *Registry) wrap(method string, fn HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *protocol.Request) (resp *protocol.Response) {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("handler panic", "method", method, "panic", p)
				resp = protocol.NewError(req, protocol.CodeHandlerError,
					fmt.Sprintf("Error in handler %s: %v", method, p), string(debug.Stack()))
			}
		}()

		if req == nil || req.ID == "" {
			return protocol.NewError(req, protocol.CodeInvalidRequest, "Invalid request format", nil)
		}

		if r.Whitelisted(method) {
			return fn(ctx, req)
		}

		tok := req.TokenValue()
		if tok == "" {
			return protocol.NewError(req, protocol.CodeTokenRequired,
				fmt.Sprintf("Token validation failed for method %s", method), nil)
		}
		if !r.tokens.ValidateToken(tok) {
			r.logger.Warn("token validation failed", "method", method)
			return protocol.NewError(req, protocol.CodeInvalidToken,
				fmt.Sprintf("Token validation failed for method %s", method), nil)
		}

		if ok, code := r.ready.Check(); !ok {
			r.logger.Debug("system not ready", "method", method, "code", code)
			return protocol.NewError(req, code,
				fmt.Sprintf("System not ready for method %s", method), nil)
		}

		return fn(ctx, req)
	}
}

// Readiness answers whether the host process is fully initialized. A
// negative answer carries the code to surface (SYSTEM_NOT_READY or
// MAIN_WINDOW_NOT_AVAILABLE).
type Readiness interface {
	Check() (bool, protocol.Code)
}

// AlwaysReady is the readiness gate for the web server, which has no shell
// window to wait for, and for tests.
type AlwaysReady struct{}

func (AlwaysReady) Check() (bool, protocol.Code) { return true, "" }

// Host exposes the embedded shell's initialization state to the gate.
type Host interface {
	// Available reports whether the shell's central state object exists.
	Available() bool
	// Initialized reports whether it finished initializing.
	Initialized() bool
}

// ReadyGate caches host readiness probes. A ready verdict is cached longer
// than a not-ready verdict, since a starting host changes state quickly.
type ReadyGate struct {
	host        Host
	readyTTL    time.Duration
	notReadyTTL time.Duration

	mu       sync.Mutex
	cached   bool
	code     protocol.Code
	hasCache bool
	cachedAt time.Time
}

// NewReadyGate creates a gate over the host with default TTLs (ready 30s,
// not ready 5s).
func NewReadyGate(host Host) *ReadyGate {
	return &ReadyGate{host: host, readyTTL: 30 * time.Second, notReadyTTL: 5 * time.Second}
}

// Check probes the host, serving from cache while the verdict is fresh.
func (g *ReadyGate) Check() (bool, protocol.Code) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.hasCache {
		ttl := g.readyTTL
		if !g.cached {
			ttl = g.notReadyTTL
		}
		if time.Since(g.cachedAt) < ttl {
			return g.cached, g.code
		}
	}

	ok, code := g.probe()
	g.cached, g.code = ok, code
	g.hasCache = true
	g.cachedAt = time.Now()
	return ok, code
}

func (g *ReadyGate) probe() (bool, protocol.Code) {
	if g.host == nil || !g.host.Available() {
		return false, protocol.CodeHostNotAvailable
	}
	if !g.host.Initialized() {
		return false, protocol.CodeSystemNotReady
	}
	return true, ""
}

// ForceReady overrides the cache, typically when initialization completes.
func (g *ReadyGate) ForceReady(ready bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cached = ready
	g.code = ""
	if !ready {
		g.code = protocol.CodeSystemNotReady
	}
	g.hasCache = true
	g.cachedAt = time.Now()
}

// ClearCache drops the cached verdict so the next Check probes the host.
func (g *ReadyGate) ClearCache() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hasCache = false
}
