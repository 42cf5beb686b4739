// Package push sends server-initiated envelopes to the frontend. A push
// reuses the request envelope shape: the frontend treats any request id it
// did not issue as a push and dispatches it by method.
package push

import (
	"fmt"
	"log/slog"

	"github.com/ecan-ai/ecan/internal/session"
	"github.com/ecan-ai/ecan/internal/transport"
	"github.com/ecan-ai/ecan/pkg/protocol"
)

// userSender is the directed-send capability the network transport offers.
type userSender interface {
	SendToUser(userID string, msg any) (int, error)
}

// Notifier is the push entry point for domain code.
type Notifier struct {
	transports *transport.Manager
	sessions   *session.Manager
	logger     *slog.Logger
}

// NewNotifier builds a notifier. sessions may be nil in embedded mode.
func NewNotifier(transports *transport.Manager, sessions *session.Manager, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		transports: transports,
		sessions:   sessions,
		logger:     logger.With("component", "push"),
	}
}

// Broadcast sends a push to every connected peer. Returns the minted
// envelope id so callers can correlate an eventual reply.
func (n *Notifier) Broadcast(method string, params any) (string, error) {
	req := protocol.NewRequest(method, params, nil)
	if err := n.transports.SendToFrontend(req); err != nil {
		return "", fmt.Errorf("broadcast %s: %w", method, err)
	}
	n.logger.Debug("push broadcast", "method", method, "id", req.ID)
	return req.ID, nil
}

// ToUser sends a push to one user. On the network transport this addresses
// the connections bound to the user's sessions; on the embedded transport
// there is only one peer and the push goes to it. The envelope is also
// offered to the user's session push queues for consumers that read pushes
// in-process.
func (n *Notifier) ToUser(userID, method string, params any) (string, error) {
	req := protocol.NewRequest(method, params, nil)

	n.enqueueForUser(userID, req)

	active := n.transports.Active()
	if active == nil {
		return "", transport.ErrNoTransport
	}

	if ds, ok := active.(userSender); ok {
		sent, err := ds.SendToUser(userID, req)
		if err != nil {
			return "", fmt.Errorf("push to user %s: %w", userID, err)
		}
		if sent == 0 {
			n.logger.Debug("user has no live connections, push queued only", "user_id", userID, "method", method)
		}
		return req.ID, nil
	}

	if err := active.SendToFrontend(req); err != nil {
		return "", fmt.Errorf("push to user %s: %w", userID, err)
	}
	n.logger.Debug("push sent", "user_id", userID, "method", method, "id", req.ID)
	return req.ID, nil
}

func (n *Notifier) enqueueForUser(userID string, req *protocol.Request) {
	if n.sessions == nil {
		return
	}
	for _, sid := range n.sessions.SessionsForUser(userID) {
		uc, ok := n.sessions.Get(sid)
		if !ok {
			continue
		}
		if !uc.EnqueuePush(*req) {
			n.logger.Warn("session push queue full, dropping", "session_id", sid, "method", req.Method)
		}
	}
}
