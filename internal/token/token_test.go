package token

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestGenerateAndValidate(t *testing.T) {
	m := NewManager(time.Hour, testLogger())

	tok := m.Generate("user-1", "user", "read", "write")
	if len(tok) != 32 {
		t.Errorf("token length: got %d, want 32 hex chars", len(tok))
	}

	info, ok := m.Validate(tok)
	if !ok {
		t.Fatal("expected token to validate")
	}
	if info.User != "user-1" || info.Role != "user" {
		t.Errorf("info: got %+v", info)
	}
	if len(info.Permissions) != 2 {
		t.Errorf("permissions: got %v", info.Permissions)
	}
}

func TestValidate_UpdatesLastUsed(t *testing.T) {
	m := NewManager(time.Hour, testLogger())
	tok := m.Generate("user-1", "user")

	first, _ := m.Validate(tok)
	time.Sleep(5 * time.Millisecond)
	second, _ := m.Validate(tok)

	if !second.LastUsedAt.After(first.LastUsedAt) {
		t.Error("expected LastUsedAt to advance on validation")
	}
}

func TestValidate_ExpiredRevokes(t *testing.T) {
	m := NewManager(10*time.Millisecond, testLogger())
	tok := m.Generate("user-1", "user")

	time.Sleep(20 * time.Millisecond)

	if _, ok := m.Validate(tok); ok {
		t.Fatal("expected expired token to be invalid")
	}
	// Expiry removed the entry, so the user has no active token.
	if m.RevokeUser("user-1") {
		t.Error("expected no active token after expiry revocation")
	}
}

func TestGenerate_RevokesPrevious(t *testing.T) {
	m := NewManager(time.Hour, testLogger())

	first := m.Generate("user-1", "user")
	second := m.Generate("user-1", "user")

	if _, ok := m.Validate(first); ok {
		t.Error("expected first token revoked after second generate")
	}
	if _, ok := m.Validate(second); !ok {
		t.Error("expected second token valid")
	}
	if got := m.Stats(); got.Active != 1 || got.Users != 1 {
		t.Errorf("stats: got %+v", got)
	}
}

func TestRevoke(t *testing.T) {
	m := NewManager(time.Hour, testLogger())
	tok := m.Generate("user-1", "user")

	if !m.Revoke(tok) {
		t.Fatal("expected revoke to succeed")
	}
	if m.Revoke(tok) {
		t.Error("expected second revoke to fail")
	}
	if _, ok := m.Validate(tok); ok {
		t.Error("expected revocation observable on next validation")
	}
}

func TestRevokeUser(t *testing.T) {
	m := NewManager(time.Hour, testLogger())
	tok := m.Generate("user-1", "admin")

	if !m.RevokeUser("user-1") {
		t.Fatal("expected RevokeUser to succeed")
	}
	if _, ok := m.Validate(tok); ok {
		t.Error("expected token invalid after RevokeUser")
	}
	if m.RevokeUser("nobody") {
		t.Error("expected RevokeUser to fail for unknown user")
	}
}

func TestExtend(t *testing.T) {
	m := NewManager(20*time.Millisecond, testLogger())
	tok := m.Generate("user-1", "user")

	if !m.Extend(tok, time.Hour) {
		t.Fatal("expected extend to succeed")
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok := m.Validate(tok); !ok {
		t.Error("expected extended token to remain valid past original TTL")
	}
	if m.Extend("missing", time.Hour) {
		t.Error("expected extend of unknown token to fail")
	}
}

func TestSweep(t *testing.T) {
	m := NewManager(5*time.Millisecond, testLogger())
	m.Generate("user-1", "user")
	m.Generate("user-2", "user")

	time.Sleep(10 * time.Millisecond)
	if n := m.sweep(); n != 2 {
		t.Errorf("sweep: got %d, want 2", n)
	}
	if got := m.Stats(); got.Active != 0 {
		t.Errorf("stats after sweep: got %+v", got)
	}
}
