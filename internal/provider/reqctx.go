package provider

import "context"

type sessionKey struct{}

// WithRequestSession returns a context carrying the session id resolved for
// the current request. The dispatcher attaches it before invoking a handler;
// because the value lives on the per-invocation context it cannot leak into
// the next request on the same goroutine.
func WithRequestSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// RequestSessionID extracts the session id attached by WithRequestSession.
func RequestSessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionKey{}).(string)
	return id, ok && id != ""
}
