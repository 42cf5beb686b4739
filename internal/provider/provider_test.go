package provider

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/ecan-ai/ecan/internal/config"
	"github.com/ecan-ai/ecan/internal/session"
	"github.com/ecan-ai/ecan/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestEmbedded_NilHostIsSafe(t *testing.T) {
	p := NewEmbedded(nil)

	if p.UserID() != "" || p.Username() != "" || p.AuthToken() != "" {
		t.Error("nil host must read as empty identity")
	}
	if p.Agents() != nil || p.ConfigManager() != nil {
		t.Error("nil host must read as empty state")
	}
	if p.WANConnected() || p.WANMsgSubscribed() {
		t.Error("nil host must read as disconnected")
	}
	// Writes are dropped, not panics.
	p.SetAgents([]any{"a"})
	p.SetAuthToken("t")
	if p.EnqueuePush(*protocol.NewRequest("notify", nil, nil)) {
		t.Error("push against nil host must report failure")
	}
}

func TestEmbedded_ReadsAndWritesHostState(t *testing.T) {
	host := NewHostState(4)
	host.SetIdentity("u1", "alice")
	p := NewEmbedded(host)

	if p.UserID() != "u1" || p.Username() != "alice" {
		t.Errorf("identity: %q/%q", p.UserID(), p.Username())
	}

	p.SetAuthToken("tok")
	p.SetAgents([]any{"agent-a"})
	p.SetWANConnected(true)

	if p.AuthToken() != "tok" {
		t.Errorf("auth token: %q", p.AuthToken())
	}
	if got := p.Agents(); len(got) != 1 || got[0] != "agent-a" {
		t.Errorf("agents: %v", got)
	}
	if !p.WANConnected() {
		t.Error("expected WAN connected")
	}

	if !p.EnqueuePush(*protocol.NewRequest("notify", nil, nil)) {
		t.Error("expected push accepted")
	}
	select {
	case req := <-host.PushQueue():
		if req.Method != "notify" {
			t.Errorf("push method: %q", req.Method)
		}
	default:
		t.Error("push not queued")
	}
}

func TestSession_DelegatesToUserContext(t *testing.T) {
	mgr := session.NewManager(session.DefaultTimeout, testLogger())
	uc := mgr.Create("u1", "alice", "tok", "")

	p := NewSession(uc)
	if p.UserID() != "u1" || p.Username() != "alice" || p.AuthToken() != "tok" {
		t.Errorf("identity: %q/%q/%q", p.UserID(), p.Username(), p.AuthToken())
	}

	p.SetSkills([]any{"s1", "s2"})
	if got := uc.Skills(); len(got) != 2 {
		t.Errorf("skills did not reach user context: %v", got)
	}
	if p.SessionID() != uc.SessionID() {
		t.Error("session id mismatch")
	}
}

func TestResolver_EmbeddedAlwaysResolves(t *testing.T) {
	r := NewResolver(config.ModeEmbedded, NewHostState(1), nil, testLogger())

	p, err := r.HandlerContext(context.Background(), nil)
	if err != nil {
		t.Fatalf("HandlerContext: %v", err)
	}
	if _, ok := p.(*Embedded); !ok {
		t.Errorf("expected embedded provider, got %T", p)
	}
}

func TestResolver_WebUsesRequestScopedSession(t *testing.T) {
	mgr := session.NewManager(session.DefaultTimeout, testLogger())
	uc := mgr.Create("u1", "alice", "tok", "")
	r := NewResolver(config.ModeWeb, nil, mgr, testLogger())

	ctx := WithRequestSession(context.Background(), uc.SessionID())
	p, err := r.HandlerContext(ctx, &protocol.Request{ID: "r1", Method: "get_agents"})
	if err != nil {
		t.Fatalf("HandlerContext: %v", err)
	}
	if p.UserID() != "u1" {
		t.Errorf("resolved wrong session: %q", p.UserID())
	}
}

func TestResolver_WebFallsBackToEnvelope(t *testing.T) {
	mgr := session.NewManager(session.DefaultTimeout, testLogger())
	uc := mgr.Create("u1", "alice", "tok", "")
	r := NewResolver(config.ModeWeb, nil, mgr, testLogger())

	// params.session_id carrier.
	params, _ := json.Marshal(map[string]any{"session_id": uc.SessionID()})
	req := &protocol.Request{ID: "r1", Method: "get_agents", Params: params}
	if _, err := r.HandlerContext(context.Background(), req); err != nil {
		t.Errorf("params session: %v", err)
	}

	// meta.session_id carrier.
	req = &protocol.Request{
		ID:     "r2",
		Method: "get_agents",
		Meta:   map[string]any{"session_id": uc.SessionID()},
	}
	if _, err := r.HandlerContext(context.Background(), req); err != nil {
		t.Errorf("meta session: %v", err)
	}
}

func TestResolver_WebRejectsMissingSession(t *testing.T) {
	mgr := session.NewManager(session.DefaultTimeout, testLogger())
	r := NewResolver(config.ModeWeb, nil, mgr, testLogger())

	_, err := r.HandlerContext(context.Background(), &protocol.Request{ID: "r1", Method: "get_agents"})
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("missing session id: err=%v", err)
	}

	// A session id naming a destroyed session fails the same way.
	uc := mgr.Create("u1", "alice", "tok", "")
	sid := uc.SessionID()
	mgr.Destroy(sid)
	ctx := WithRequestSession(context.Background(), sid)
	if _, err := r.HandlerContext(ctx, &protocol.Request{ID: "r2", Method: "get_agents"}); !errors.Is(err, ErrNoSession) {
		t.Errorf("destroyed session: err=%v", err)
	}
}

func TestRequestSessionID_EmptyContext(t *testing.T) {
	if _, ok := RequestSessionID(context.Background()); ok {
		t.Error("bare context must carry no session")
	}
	if id, ok := RequestSessionID(WithRequestSession(context.Background(), "s1")); !ok || id != "s1" {
		t.Errorf("got %q/%v", id, ok)
	}
}
