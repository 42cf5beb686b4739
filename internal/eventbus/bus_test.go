package eventbus

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSubscribeAll(t *testing.T) {
	b := New()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishType(SessionCreated, map[string]string{"session_id": "s1"})
	b.PublishType(SyncTaskFailed, map[string]string{"task_id": "t1"})

	for _, want := range []string{SessionCreated, SyncTaskFailed} {
		select {
		case e := <-ch:
			if e.Type != want {
				t.Errorf("got %s, want %s", e.Type, want)
			}
			if e.Timestamp.IsZero() {
				t.Error("timestamp not set")
			}
		case <-time.After(time.Second):
			t.Fatalf("no %s event", want)
		}
	}
}

func TestSubscribeFiltered(t *testing.T) {
	b := New()
	ch := b.Subscribe(SessionDestroyed)
	defer b.Unsubscribe(ch)

	b.PublishType(SessionCreated, nil)
	b.PublishType(SessionDestroyed, map[string]string{"session_id": "s1"})

	select {
	case e := <-ch:
		if e.Type != SessionDestroyed {
			t.Errorf("filter leaked %s", e.Type)
		}
		var data map[string]string
		if err := json.Unmarshal(e.Data, &data); err != nil || data["session_id"] != "s1" {
			t.Errorf("data: %s", e.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no event")
	}

	select {
	case e := <-ch:
		t.Errorf("unexpected second event: %s", e.Type)
	default:
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	b := New()
	ch := b.Subscribe(ClientGone)
	defer b.Unsubscribe(ch)

	// Overflow the buffer; publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.PublishType(ClientGone, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch := b.Subscribe()
	b.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Error("channel still open after unsubscribe")
	}
	// Double unsubscribe is a no-op.
	b.Unsubscribe(ch)
}

func TestClose(t *testing.T) {
	b := New()
	ch1 := b.Subscribe()
	ch2 := b.Subscribe(SessionCreated)
	b.Close()

	if _, open := <-ch1; open {
		t.Error("ch1 open after close")
	}
	if _, open := <-ch2; open {
		t.Error("ch2 open after close")
	}
}
