package session

import (
	"testing"
	"time"

	"github.com/ecan-ai/ecan/pkg/protocol"
)

func TestUserContext_MintsSessionID(t *testing.T) {
	a := NewUserContext("u1", "alice", "tok", "")
	b := NewUserContext("u1", "alice", "tok", "")

	if a.SessionID() == "" {
		t.Fatal("expected minted session id")
	}
	if a.SessionID() == b.SessionID() {
		t.Error("expected distinct session ids")
	}

	c := NewUserContext("u1", "alice", "tok", "fixed-id")
	if c.SessionID() != "fixed-id" {
		t.Errorf("explicit id: got %q", c.SessionID())
	}
}

func TestUserContext_MutationsFlipDirty(t *testing.T) {
	c := NewUserContext("u1", "alice", "tok", "")
	if c.Dirty() {
		t.Fatal("fresh context must not be dirty")
	}

	before := c.LastActivity()
	time.Sleep(2 * time.Millisecond)
	c.SetAgents([]any{"agent-1"})

	if !c.Dirty() {
		t.Error("expected SetAgents to mark dirty")
	}
	if !c.LastActivity().After(before) {
		t.Error("expected SetAgents to refresh last activity")
	}

	c.ClearDirty()
	c.SetWANConnected(true)
	if !c.Dirty() || !c.WANConnected() {
		t.Error("expected SetWANConnected to mark dirty and set flag")
	}
}

func TestUserContext_ReadsTouchActivity(t *testing.T) {
	c := NewUserContext("u1", "alice", "tok", "")

	reads := map[string]func(){
		"Agents":           func() { _ = c.Agents() },
		"Username":         func() { _ = c.Username() },
		"AuthToken":        func() { _ = c.AuthToken() },
		"WANConnected":     func() { _ = c.WANConnected() },
		"WANMsgSubscribed": func() { _ = c.WANMsgSubscribed() },
	}
	for name, read := range reads {
		before := c.LastActivity()
		time.Sleep(2 * time.Millisecond)
		read()
		if !c.LastActivity().After(before) {
			t.Errorf("expected %s read to refresh last activity", name)
		}
	}
}

func TestUserContext_ToMapExcludesToken(t *testing.T) {
	c := NewUserContext("u1", "alice", "secret-token", "s1")
	m := c.ToMap()

	for key, v := range m {
		if s, ok := v.(string); ok && s == "secret-token" {
			t.Errorf("auth token leaked under key %q", key)
		}
	}
	if m["user_id"] != "u1" || m["session_id"] != "s1" || m["username"] != "alice" {
		t.Errorf("projection: got %v", m)
	}
}

func TestFromMap_RoundTrip(t *testing.T) {
	orig := NewUserContext("u1", "alice", "tok", "s1")
	orig.SetWANConnected(true)

	restored := FromMap(orig.ToMap())
	if restored.UserID() != "u1" || restored.SessionID() != "s1" || restored.Username() != "alice" {
		t.Errorf("restored: %s %s %s", restored.UserID(), restored.SessionID(), restored.Username())
	}
	if restored.AuthToken() != "" {
		t.Error("auth token must not survive serialization")
	}
	if !restored.WANConnected() {
		t.Error("wan flag lost")
	}
}

func TestUserContext_PushQueueBounded(t *testing.T) {
	c := NewUserContext("u1", "alice", "tok", "")

	for i := 0; i < DefaultPushQueueSize; i++ {
		if !c.EnqueuePush(protocol.Request{ID: "r", Method: "notify"}) {
			t.Fatalf("enqueue %d failed before capacity", i)
		}
	}
	if c.EnqueuePush(protocol.Request{ID: "overflow"}) {
		t.Error("expected enqueue past capacity to drop")
	}

	got := <-c.PushQueue()
	if got.Method != "notify" {
		t.Errorf("dequeued: got %+v", got)
	}
}
