// Package dispatch turns raw transport payloads into handler invocations and
// response envelopes. Each transport hosts one Dispatcher; the dispatcher
// owns parsing, registry lookup, and the request-scoped session id. It never
// reads domain state itself.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/ecan-ai/ecan/internal/provider"
	"github.com/ecan-ai/ecan/internal/registry"
	"github.com/ecan-ai/ecan/internal/session"
	"github.com/ecan-ai/ecan/pkg/protocol"
)

// Sender delivers a server-initiated or deferred envelope to the frontend.
// The owning transport implements it; taking the narrow interface here keeps
// the transport free to import this package.
type Sender interface {
	SendToFrontend(msg any) error
}

// Dispatcher routes incoming envelopes through the registry middleware and
// decides how the response travels back: returned inline, or pushed through
// the Sender when a background worker finishes.
type Dispatcher struct {
	registry *registry.Registry
	sessions *session.Manager
	logger   *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	mu     sync.Mutex
	sender Sender
	// Replies to envelopes the server itself issued (pushes). Keyed by the
	// id the server minted; one-shot.
	callbacks map[string]func(*protocol.Response)
}

// New builds a dispatcher. sessions may be nil when no connection bindings
// exist (embedded mode). workers bounds the background pool; zero or negative
// selects the runtime's processor count.
func New(reg *registry.Registry, sessions *session.Manager, workers int, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:  reg,
		sessions:  sessions,
		logger:    logger.With("component", "dispatch"),
		sem:       make(chan struct{}, workers),
		callbacks: make(map[string]func(*protocol.Response)),
	}
}

// SetSender installs the delivery path for deferred envelopes. Must be called
// before any background handler is dispatched.
func (d *Dispatcher) SetSender(s Sender) {
	d.mu.Lock()
	d.sender = s
	d.mu.Unlock()
}

// ExpectResponse registers a one-shot callback for a reply to a push the
// server issued under the given id.
func (d *Dispatcher) ExpectResponse(id string, fn func(*protocol.Response)) {
	d.mu.Lock()
	d.callbacks[id] = fn
	d.mu.Unlock()
}

// CancelResponse drops a pending reply callback.
func (d *Dispatcher) CancelResponse(id string) {
	d.mu.Lock()
	delete(d.callbacks, id)
	d.mu.Unlock()
}

// Wait blocks until all in-flight background workers have finished. Used
// during shutdown so deferred envelopes are not dropped mid-write.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// HandleMessage processes one payload on the embedded path. Sync handlers run
// inline and their envelope is returned; background handlers return a pending
// envelope immediately and deliver the final one through the Sender. A nil
// return means no reply is owed (the payload was itself a response).
func (d *Dispatcher) HandleMessage(ctx context.Context, raw []byte) []byte {
	req, early := d.parse(raw)
	if early != nil {
		return marshal(early, d.logger)
	}
	if req == nil {
		return nil
	}

	fn, kind, ok := d.registry.Lookup(req.Method)
	if !ok {
		return marshal(protocol.NewError(req, protocol.CodeMethodNotFound,
			fmt.Sprintf("Unknown method: %s", req.Method), nil), d.logger)
	}

	if kind == registry.KindBackground {
		d.spawn(ctx, fn, req)
		pending := protocol.NewPending(req,
			fmt.Sprintf("Task '%s' is being processed in the background", req.Method), nil, nil)
		return marshal(pending, d.logger)
	}

	return marshal(d.await(registry.KindSync, fn, ctx, req), d.logger)
}

// HandleFrame processes one text frame on the network path. The connection id
// lets the dispatcher resolve and bind sessions; both sync and background
// handlers are awaited here since the transport already runs each frame on
// its own goroutine. A nil return means no reply is owed.
func (d *Dispatcher) HandleFrame(ctx context.Context, connID string, raw []byte) []byte {
	req, early := d.parse(raw)
	if early != nil {
		return marshal(early, d.logger)
	}
	if req == nil {
		return nil
	}

	if sid := d.resolveSession(connID, req); sid != "" {
		ctx = provider.WithRequestSession(ctx, sid)
	}

	fn, kind, ok := d.registry.Lookup(req.Method)
	if !ok {
		return marshal(protocol.NewError(req, protocol.CodeMethodNotFound,
			fmt.Sprintf("Unknown method: %s", req.Method), nil), d.logger)
	}
	return marshal(d.await(kind, fn, ctx, req), d.logger)
}

// await invokes a handler and settles any deferred result. Handler bugs are
// surfaced as envelopes here, never as a null frame: a nil result and a sync
// handler returning a deferred both become errors.
func (d *Dispatcher) await(kind registry.Kind, fn registry.HandlerFunc, ctx context.Context, req *protocol.Request) *protocol.Response {
	resp := fn(ctx, req)
	if resp == nil {
		d.logger.Error("handler produced no response", "method", req.Method)
		if kind == registry.KindBackground {
			return protocol.NewError(req, protocol.CodeWorkerError,
				"Background worker produced no response", nil)
		}
		return protocol.NewError(req, protocol.CodeHandlerError,
			"Handler produced no response", nil)
	}
	if resp.Deferred == nil {
		return resp
	}
	if kind == registry.KindSync {
		d.logger.Error("sync handler returned a deferred result", "method", req.Method)
		return protocol.NewError(req, protocol.CodeHandlerError,
			"Sync handler returned a deferred result", nil)
	}
	final := resp.Deferred()
	if final == nil {
		return protocol.NewError(req, protocol.CodeWorkerError,
			"Background worker produced no response", nil)
	}
	return final
}

// parse decodes a payload. It returns the request to dispatch, or an error
// envelope for malformed input. Both are nil when the payload was a response
// to a server-issued push (already routed to its callback).
func (d *Dispatcher) parse(raw []byte) (*protocol.Request, *protocol.Response) {
	var probe protocol.Probe
	if err := json.Unmarshal(raw, &probe); err != nil {
		// Valid JSON of the wrong shape (array, string, number) is a type
		// error, not a parse error.
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, protocol.NewError(&protocol.Request{ID: "missing_type"},
				protocol.CodeMissingType, "Message is not an object", nil)
		}
		d.logger.Warn("unparseable payload", "error", err)
		return nil, protocol.NewError(&protocol.Request{ID: "parse_error"},
			protocol.CodeParseError, "Invalid JSON payload", nil)
	}

	switch probe.Type {
	case "":
		return nil, protocol.NewError(&protocol.Request{ID: "missing_type", Method: probe.Method},
			protocol.CodeMissingType, "Message has no type field", nil)
	case protocol.TypeResponse:
		d.deliverReply(raw, probe.ID)
		return nil, nil
	case protocol.TypeRequest:
	default:
		return nil, protocol.NewError(&protocol.Request{ID: probe.ID, Method: probe.Method},
			protocol.CodeUnknownType, fmt.Sprintf("Unknown message type: %s", probe.Type), nil)
	}

	var req protocol.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		d.logger.Warn("malformed request envelope", "error", err)
		return nil, protocol.NewError(&protocol.Request{ID: probe.ID, Method: probe.Method},
			protocol.CodeInvalidRequest, "Malformed request envelope", nil)
	}
	return &req, nil
}

func (d *Dispatcher) deliverReply(raw []byte, id string) {
	d.mu.Lock()
	fn, ok := d.callbacks[id]
	if ok {
		delete(d.callbacks, id)
	}
	d.mu.Unlock()
	if !ok {
		d.logger.Debug("response with no pending callback", "id", id)
		return
	}

	var resp protocol.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		d.logger.Warn("malformed response envelope", "id", id, "error", err)
		return
	}
	fn(&resp)
}

// resolveSession finds the session id for a frame: the connection binding
// wins, then params, then meta. A session id found on the envelope is bound
// to the connection when no binding exists yet.
func (d *Dispatcher) resolveSession(connID string, req *protocol.Request) string {
	if d.sessions == nil {
		return ""
	}
	if sid, ok := d.sessions.SessionIDForConnection(connID); ok {
		return sid
	}
	sid := req.SessionID()
	if sid == "" {
		return ""
	}
	if !d.sessions.BindConnection(connID, sid) {
		d.logger.Warn("envelope named an unknown session", "session_id", sid, "conn_id", connID)
		return ""
	}
	d.logger.Debug("bound connection to session", "conn_id", connID, "session_id", sid)
	return sid
}

// spawn runs a background handler on the bounded pool. The final envelope
// carries the original request id and leaves through the Sender.
func (d *Dispatcher) spawn(ctx context.Context, fn registry.HandlerFunc, req *protocol.Request) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		resp := d.await(registry.KindBackground, fn, ctx, req)

		d.mu.Lock()
		sender := d.sender
		d.mu.Unlock()
		if sender == nil {
			d.logger.Error("no sender installed, dropping deferred response", "id", req.ID, "method", req.Method)
			return
		}
		if err := sender.SendToFrontend(resp); err != nil {
			d.logger.Error("deferred response delivery failed", "id", req.ID, "method", req.Method, "error", err)
		}
	}()
}

func marshal(resp *protocol.Response, logger *slog.Logger) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		logger.Error("response marshal failed", "id", resp.ID, "error", err)
		fallback := protocol.NewError(&protocol.Request{ID: resp.ID, Method: resp.Method},
			protocol.CodeInternalError, "Failed to serialize response", nil)
		b, _ = json.Marshal(fallback)
	}
	return b
}
