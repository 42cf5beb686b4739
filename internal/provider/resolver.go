package provider

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ecan-ai/ecan/internal/config"
	"github.com/ecan-ai/ecan/internal/session"
	"github.com/ecan-ai/ecan/pkg/protocol"
)

// ErrNoSession is returned when a web-mode request carries no usable session
// id and none is bound to the invoking connection.
var ErrNoSession = errors.New("no session_id available")

// Resolver picks the right Provider for a handler invocation.
type Resolver struct {
	mode     string
	host     *HostState
	sessions *session.Manager
	logger   *slog.Logger
}

// NewResolver builds a resolver for the given mode. host may be nil in web
// mode; sessions may be nil in embedded mode.
func NewResolver(mode string, host *HostState, sessions *session.Manager, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		mode:     mode,
		host:     host,
		sessions: sessions,
		logger:   logger.With("component", "provider"),
	}
}

// HandlerContext resolves the Provider a handler should see for req.
//
// Embedded mode always yields the host-backed provider. Web mode resolves a
// session id from, in order, the request-scoped context value, params, and
// meta, then looks the session up. A request with no resolvable session id,
// or one naming a session that no longer exists, fails before the handler
// body runs.
func (r *Resolver) HandlerContext(ctx context.Context, req *protocol.Request) (Provider, error) {
	if r.mode == config.ModeEmbedded {
		return NewEmbedded(r.host), nil
	}

	sessionID, ok := RequestSessionID(ctx)
	if !ok && req != nil {
		sessionID = req.SessionID()
	}
	if sessionID == "" {
		r.logger.Warn("request carried no session id", "method", reqMethod(req))
		return nil, ErrNoSession
	}

	uc, ok := r.sessions.Get(sessionID)
	if !ok {
		r.logger.Warn("session not found", "session_id", sessionID, "method", reqMethod(req))
		return nil, ErrNoSession
	}
	return NewSession(uc), nil
}

func reqMethod(req *protocol.Request) string {
	if req == nil {
		return ""
	}
	return req.Method
}
