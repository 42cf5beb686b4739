package handlers

import (
	"context"
	"time"

	"github.com/ecan-ai/ecan/pkg/protocol"
)

type systemHandlers struct {
	deps      Deps
	startTime time.Time
}

func (h *systemHandlers) ping(ctx context.Context, req *protocol.Request) *protocol.Response {
	return protocol.NewSuccess(req, "pong", nil)
}

func (h *systemHandlers) healthCheck(ctx context.Context, req *protocol.Request) *protocol.Response {
	return protocol.NewSuccess(req, map[string]any{
		"status": "healthy",
		"uptime": time.Since(h.startTime).Truncate(time.Second).String(),
	}, nil)
}

func (h *systemHandlers) version(ctx context.Context, req *protocol.Request) *protocol.Response {
	return protocol.NewSuccess(req, map[string]any{"version": h.deps.Version}, nil)
}

func (h *systemHandlers) systemStatus(ctx context.Context, req *protocol.Request) *protocol.Response {
	ready, code := h.deps.Ready.Check()
	result := map[string]any{"ready": ready}
	if !ready {
		result["reason"] = string(code)
	}
	return protocol.NewSuccess(req, result, nil)
}

func (h *systemHandlers) initializationProgress(ctx context.Context, req *protocol.Request) *protocol.Response {
	ready, code := h.deps.Ready.Check()
	state := "initializing"
	if ready {
		state = "ready"
	} else if code == protocol.CodeHostNotAvailable {
		state = "starting"
	}
	return protocol.NewSuccess(req, map[string]any{
		"state":       state,
		"initialized": ready,
	}, nil)
}

func (h *systemHandlers) syncStatus(ctx context.Context, req *protocol.Request) *protocol.Response {
	if h.deps.Sync == nil {
		return protocol.NewSuccess(req, map[string]any{"enabled": false}, nil)
	}
	stats := h.deps.Sync.Stats()
	return protocol.NewSuccess(req, map[string]any{
		"enabled":         true,
		"pending":         stats.Pending,
		"failed":          stats.Failed,
		"pending_by_type": stats.PendingByType,
		"failed_by_type":  stats.FailedByType,
	}, nil)
}
