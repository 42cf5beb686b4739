package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ecan-ai/ecan/internal/auth"
	"github.com/ecan-ai/ecan/internal/config"
	"github.com/ecan-ai/ecan/internal/dispatch"
	"github.com/ecan-ai/ecan/internal/provider"
	"github.com/ecan-ai/ecan/internal/registry"
	"github.com/ecan-ai/ecan/internal/session"
	"github.com/ecan-ai/ecan/internal/store"
	"github.com/ecan-ai/ecan/internal/syncqueue"
	"github.com/ecan-ai/ecan/internal/token"
	"github.com/ecan-ai/ecan/pkg/protocol"
)

type world struct {
	d        *dispatch.Dispatcher
	tokens   *token.Manager
	sessions *session.Manager
}

func newWorld(t *testing.T) *world {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	tokens := token.NewManager(time.Hour, logger)
	sessions := session.NewManager(time.Hour, logger)
	svc := auth.NewService(st, tokens, sessions, nil, logger)

	queue, err := syncqueue.Open(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("open sync queue: %v", err)
	}

	reg := registry.New(
		registry.TokenValidatorFunc(func(v string) bool {
			_, ok := tokens.Validate(v)
			return ok
		}),
		registry.AlwaysReady{},
		logger,
	)
	Register(reg, Deps{
		Auth:     svc,
		Resolver: provider.NewResolver(config.ModeWeb, nil, sessions, logger),
		Sync:     queue,
		Ready:    registry.AlwaysReady{},
		Version:  "1.2.3",
		TokenTTL: time.Hour,
		Logger:   logger,
	})

	return &world{
		d:        dispatch.New(reg, sessions, 2, logger),
		tokens:   tokens,
		sessions: sessions,
	}
}

func (w *world) call(t *testing.T, method string, params any) *protocol.Response {
	t.Helper()
	p, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	raw := fmt.Sprintf(`{"id":"t-%s","type":"request","method":"%s","params":%s}`, method, method, p)

	out := w.d.HandleMessage(context.Background(), []byte(raw))
	if out == nil {
		t.Fatalf("%s: no response", method)
	}
	var resp protocol.Response
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("%s: decode response: %v", method, err)
	}
	return &resp
}

func (w *world) mustSignup(t *testing.T, username, password string) map[string]any {
	t.Helper()
	resp := w.call(t, "signup", map[string]any{
		"username": username,
		"email":    username + "@example.com",
		"password": password,
	})
	if resp.Status != protocol.StatusSuccess {
		t.Fatalf("signup failed: %+v", resp)
	}
	result, _ := resp.Result.(map[string]any)
	return result
}

func TestPing(t *testing.T) {
	w := newWorld(t)
	resp := w.call(t, "ping", map[string]any{})
	if resp.Status != protocol.StatusSuccess || resp.Result != "pong" {
		t.Fatalf("got %+v", resp)
	}
}

func TestVersionAndHealth(t *testing.T) {
	w := newWorld(t)

	resp := w.call(t, "get_version", map[string]any{})
	result, _ := resp.Result.(map[string]any)
	if result["version"] != "1.2.3" {
		t.Fatalf("version = %v", resp.Result)
	}

	resp = w.call(t, "health_check", map[string]any{})
	result, _ = resp.Result.(map[string]any)
	if result["status"] != "healthy" {
		t.Fatalf("health = %v", resp.Result)
	}
}

func TestSystemStatusReady(t *testing.T) {
	w := newWorld(t)
	resp := w.call(t, "get_system_status", map[string]any{})
	result, _ := resp.Result.(map[string]any)
	if result["ready"] != true {
		t.Fatalf("status = %v", resp.Result)
	}

	resp = w.call(t, "get_initialization_progress", map[string]any{})
	result, _ = resp.Result.(map[string]any)
	if result["state"] != "ready" {
		t.Fatalf("progress = %v", resp.Result)
	}
}

func TestSignupAndLoginRoundTrip(t *testing.T) {
	w := newWorld(t)
	signup := w.mustSignup(t, "alice", "secret123")

	tok, _ := signup["token"].(string)
	sid, _ := signup["session_id"].(string)
	if tok == "" || sid == "" {
		t.Fatalf("signup result: %v", signup)
	}
	if _, ok := w.tokens.Validate(tok); !ok {
		t.Fatal("signup token does not validate")
	}

	resp := w.call(t, "login", map[string]any{"username": "alice", "password": "secret123"})
	if resp.Status != protocol.StatusSuccess {
		t.Fatalf("login: %+v", resp)
	}
	result, _ := resp.Result.(map[string]any)
	if result["username"] != "alice" || result["message"] != "Login successful" {
		t.Fatalf("login result: %v", result)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	w := newWorld(t)
	w.mustSignup(t, "bob", "rightpass")

	resp := w.call(t, "login", map[string]any{"username": "bob", "password": "wrong"})
	if resp.Status != protocol.StatusError || resp.Error == nil {
		t.Fatalf("got %+v", resp)
	}
	if resp.Error.Code != protocol.CodeHandlerError || resp.Error.Message != "Invalid credentials" {
		t.Fatalf("error = %+v", resp.Error)
	}
}

func TestLoginMissingParams(t *testing.T) {
	w := newWorld(t)
	resp := w.call(t, "login", map[string]any{"username": "x"})
	if resp.Error == nil || resp.Error.Code != protocol.CodeInvalidRequest {
		t.Fatalf("got %+v", resp)
	}
}

func TestRefreshAndLogout(t *testing.T) {
	w := newWorld(t)
	signup := w.mustSignup(t, "carol", "pw123456")
	tok, _ := signup["token"].(string)
	sid, _ := signup["session_id"].(string)

	resp := w.call(t, "refresh_token", map[string]any{"token": tok})
	result, _ := resp.Result.(map[string]any)
	if result["token"] != tok {
		t.Fatalf("refresh result: %v", resp.Result)
	}

	resp = w.call(t, "logout", map[string]any{"token": tok})
	if resp.Status != protocol.StatusSuccess {
		t.Fatalf("logout: %+v", resp)
	}
	if _, ok := w.tokens.Validate(tok); ok {
		t.Fatal("token survived logout")
	}
	if w.sessions.Has(sid) {
		t.Fatal("session survived logout")
	}

	resp = w.call(t, "refresh_token", map[string]any{"token": tok})
	if resp.Error == nil || resp.Error.Code != protocol.CodeInvalidToken {
		t.Fatalf("refresh after logout: %+v", resp)
	}
}

func TestForgotPasswordAlwaysSucceeds(t *testing.T) {
	w := newWorld(t)
	w.mustSignup(t, "dora", "pw123456")

	known := w.call(t, "forgot_password", map[string]any{"username": "dora"})
	unknown := w.call(t, "forgot_password", map[string]any{"username": "ghost"})
	if known.Status != protocol.StatusSuccess || unknown.Status != protocol.StatusSuccess {
		t.Fatalf("known=%+v unknown=%+v", known, unknown)
	}
	kr, _ := known.Result.(map[string]any)
	ur, _ := unknown.Result.(map[string]any)
	if kr["message"] != ur["message"] {
		t.Fatal("responses reveal account existence")
	}
}

func TestUpdatePreferencesViaSession(t *testing.T) {
	w := newWorld(t)
	signup := w.mustSignup(t, "erin", "pw123456")
	sid, _ := signup["session_id"].(string)

	resp := w.call(t, "update_user_preferences", map[string]any{
		"session_id":  sid,
		"preferences": map[string]any{"theme": "dark"},
	})
	if resp.Status != protocol.StatusSuccess {
		t.Fatalf("got %+v", resp)
	}

	resp = w.call(t, "update_user_preferences", map[string]any{
		"preferences": map[string]any{"theme": "dark"},
	})
	if resp.Error == nil || resp.Error.Code != protocol.CodeHandlerError {
		t.Fatalf("no-session call: %+v", resp)
	}
}

func TestGetLastLogin(t *testing.T) {
	w := newWorld(t)
	w.mustSignup(t, "frank", "pw123456")

	resp := w.call(t, "get_last_login", map[string]any{"username": "frank"})
	result, _ := resp.Result.(map[string]any)
	if result["last_login"] == nil {
		t.Fatalf("expected a timestamp, got %v", resp.Result)
	}

	resp = w.call(t, "get_last_login", map[string]any{"username": "ghost"})
	if resp.Error == nil || resp.Error.Message != "User not found" {
		t.Fatalf("got %+v", resp)
	}
}

func TestSyncStatus(t *testing.T) {
	w := newWorld(t)
	signup := w.mustSignup(t, "gail", "pw123456")
	tok, _ := signup["token"].(string)

	// Not on the whitelist: a bare call is rejected.
	bare := w.call(t, "get_sync_status", map[string]any{})
	if bare.Error == nil || bare.Error.Code != protocol.CodeTokenRequired {
		t.Fatalf("bare call: %+v", bare)
	}

	resp := w.call(t, "get_sync_status", map[string]any{"token": tok})
	result, _ := resp.Result.(map[string]any)
	if result["enabled"] != true {
		t.Fatalf("got %v", resp.Result)
	}
	if result["pending"] != float64(0) {
		t.Fatalf("pending = %v", result["pending"])
	}
}
