package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	return q
}

func TestAddAndMarkSuccess(t *testing.T) {
	q := openTestQueue(t)

	id := q.Add("agent", map[string]any{"id": "AG1", "name": "a"}, "update")
	if id == "" {
		t.Fatal("empty task id")
	}

	pending := q.GetPending("")
	if len(pending) != 1 || pending[0].RetryCount != 0 || pending[0].Status != StatusPending {
		t.Fatalf("pending: %+v", pending)
	}

	if !q.MarkSuccess(id) {
		t.Fatal("MarkSuccess returned false")
	}
	if len(q.GetPending("")) != 0 || len(q.GetFailed("")) != 0 {
		t.Error("completed task still queued")
	}
	if q.MarkSuccess(id) {
		t.Error("second MarkSuccess must miss")
	}
}

func TestMarkFailed_RetryBudget(t *testing.T) {
	q := openTestQueue(t)
	id := q.Add("skill", map[string]any{"id": "SK1"}, "add")

	// First failure with budget 3 keeps the task pending.
	if !q.MarkFailed(id, "network down", 3) {
		t.Fatal("MarkFailed returned false")
	}
	pending := q.GetPending("skill")
	if len(pending) != 1 || pending[0].RetryCount != 1 || pending[0].LastError != "network down" {
		t.Fatalf("after first failure: %+v", pending)
	}
	if pending[0].LastRetryAt == nil {
		t.Error("LastRetryAt not set")
	}

	// Two more failures exhaust the budget of 3.
	q.MarkFailed(id, "still down", 3)
	q.MarkFailed(id, "gave up", 3)

	if len(q.GetPending("")) != 0 {
		t.Error("exhausted task still pending")
	}
	failed := q.GetFailed("")
	if len(failed) != 1 || failed[0].RetryCount != 3 || failed[0].Status != StatusFailed {
		t.Fatalf("failed list: %+v", failed)
	}
}

func TestMarkFailed_ImmediateWithBudgetOne(t *testing.T) {
	q := openTestQueue(t)
	id := q.Add("task", map[string]any{"id": "T1"}, "delete")

	q.MarkFailed(id, "boom", 1)
	if len(q.GetPending("")) != 0 {
		t.Error("task should have moved to failed")
	}
	failed := q.GetFailed("task")
	if len(failed) != 1 || failed[0].RetryCount != 1 {
		t.Fatalf("failed: %+v", failed)
	}
}

func TestRetryFailed(t *testing.T) {
	q := openTestQueue(t)
	id := q.Add("agent", map[string]any{"id": "AG1"}, "update")
	q.MarkFailed(id, "boom", 1)

	if !q.RetryFailed(id) {
		t.Fatal("RetryFailed returned false")
	}
	pending := q.GetPending("")
	if len(pending) != 1 || pending[0].RetryCount != 0 || pending[0].Status != StatusPending {
		t.Fatalf("requeued: %+v", pending)
	}
	if len(q.GetFailed("")) != 0 {
		t.Error("failed list not emptied")
	}
}

func TestRemoveByResource(t *testing.T) {
	q := openTestQueue(t)
	q.Add("agent", map[string]any{"id": "AG1"}, "update")
	q.Add("agent", map[string]any{"id": "AG2"}, "update")
	q.Add("skill", map[string]any{"id": "AG1"}, "update")

	if n := q.RemoveByResource("agent", "AG1", "update"); n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
	if len(q.GetPending("agent")) != 1 {
		t.Errorf("agent pending: %v", q.GetPending("agent"))
	}
	// The skill task with the same resource id is untouched.
	if len(q.GetPending("skill")) != 1 {
		t.Errorf("skill pending: %v", q.GetPending("skill"))
	}

	// Operation mismatch removes nothing.
	if n := q.RemoveByResource("agent", "AG2", "delete"); n != 0 {
		t.Errorf("removed %d, want 0", n)
	}
	// Empty operation matches any.
	if n := q.RemoveByResource("agent", "AG2", ""); n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
}

func TestRemoveByResource_CoversFailedList(t *testing.T) {
	q := openTestQueue(t)
	id := q.Add("agent", map[string]any{"id": "AG1"}, "update")
	q.MarkFailed(id, "boom", 1)

	if n := q.RemoveByResource("agent", "AG1", ""); n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
	if len(q.GetFailed("")) != 0 {
		t.Error("failed task survived removal")
	}
}

func TestFIFOOrder(t *testing.T) {
	q := openTestQueue(t)
	first := q.Add("agent", map[string]any{"id": "A"}, "add")
	second := q.Add("agent", map[string]any{"id": "B"}, "add")

	pending := q.GetPending("")
	if pending[0].ID != first || pending[1].ID != second {
		t.Errorf("order: %v then %v", pending[0].ID, pending[1].ID)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	q, err := Open(dir, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id := q.Add("agent", map[string]any{"id": "AG1"}, "update")
	failedID := q.Add("skill", map[string]any{"id": "SK1"}, "add")
	q.MarkFailed(failedID, "boom", 1)

	reopened, err := Open(dir, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	pending := reopened.GetPending("")
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("pending after reopen: %+v", pending)
	}
	failed := reopened.GetFailed("")
	if len(failed) != 1 || failed[0].ID != failedID {
		t.Fatalf("failed after reopen: %+v", failed)
	}
}

func TestCorruptFileQuarantined(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pending_sync.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	q, err := Open(dir, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(q.GetPending("")) != 0 {
		t.Error("corrupt file produced tasks")
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Errorf("corrupt file not quarantined: %v", err)
	}
}

func TestPersistedFileShape(t *testing.T) {
	dir := t.TempDir()
	q, err := Open(dir, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	q.Add("agent", map[string]any{"id": "AG1"}, "update")

	data, err := os.ReadFile(filepath.Join(dir, "pending_sync.json"))
	if err != nil {
		t.Fatalf("read pending file: %v", err)
	}
	var tasks []Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatalf("pending file is not a task array: %v", err)
	}
	if len(tasks) != 1 || tasks[0].DataType != "agent" {
		t.Errorf("persisted: %+v", tasks)
	}
}

func TestClear(t *testing.T) {
	q := openTestQueue(t)
	q.Add("agent", map[string]any{"id": "A"}, "add")
	id := q.Add("agent", map[string]any{"id": "B"}, "add")
	q.MarkFailed(id, "boom", 1)

	if n := q.ClearPending(); n != 1 {
		t.Errorf("ClearPending: %d", n)
	}
	if n := q.ClearFailed(); n != 1 {
		t.Errorf("ClearFailed: %d", n)
	}

	s := q.Stats()
	if s.Pending != 0 || s.Failed != 0 {
		t.Errorf("stats after clear: %+v", s)
	}
}

func TestStats(t *testing.T) {
	q := openTestQueue(t)
	q.Add("agent", map[string]any{"id": "A"}, "add")
	q.Add("agent", map[string]any{"id": "B"}, "update")
	id := q.Add("skill", map[string]any{"id": "S"}, "add")
	q.MarkFailed(id, "boom", 1)

	s := q.Stats()
	if s.Pending != 2 || s.Failed != 1 {
		t.Errorf("totals: %+v", s)
	}
	if s.PendingByType["agent"] != 2 || s.FailedByType["skill"] != 1 {
		t.Errorf("by type: %+v", s)
	}
}

func TestUploader_DrainSuccessAndFailure(t *testing.T) {
	q := openTestQueue(t)
	good := q.Add("agent", map[string]any{"id": "A"}, "add")
	bad := q.Add("agent", map[string]any{"id": "B"}, "add")

	rep := ReplicatorFunc(func(ctx context.Context, task Task) error {
		if id, _ := task.Data["id"].(string); id == "B" {
			return errors.New("cloud rejected")
		}
		return nil
	})

	u := NewUploader(q, rep, time.Hour, 1, testLogger())
	u.Drain(context.Background())

	if q.MarkSuccess(good) {
		t.Error("good task should already be gone")
	}
	failed := q.GetFailed("")
	if len(failed) != 1 || failed[0].ID != bad || failed[0].LastError != "cloud rejected" {
		t.Errorf("failed list: %+v", failed)
	}
}

func TestUploader_FailureHookFiresOnExhaustedBudget(t *testing.T) {
	q := openTestQueue(t)
	id := q.Add("agent", map[string]any{"id": "A"}, "add")

	rep := ReplicatorFunc(func(ctx context.Context, task Task) error {
		return errors.New("cloud rejected")
	})

	var gotFailed []Task
	u := NewUploader(q, rep, time.Hour, 2, testLogger())
	u.OnTaskFailed(func(task Task) { gotFailed = append(gotFailed, task) })

	// First pass burns one retry; the hook must stay quiet.
	u.Drain(context.Background())
	if len(gotFailed) != 0 {
		t.Fatalf("hook fired before budget exhausted: %+v", gotFailed)
	}

	// Second pass exhausts the budget and moves the task to the failed list.
	u.Drain(context.Background())
	if len(gotFailed) != 1 {
		t.Fatalf("hook calls: got %d, want 1", len(gotFailed))
	}
	if gotFailed[0].ID != id || gotFailed[0].Status != StatusFailed || gotFailed[0].LastError != "cloud rejected" {
		t.Errorf("failed task: %+v", gotFailed[0])
	}
	if len(q.GetFailed("")) != 1 {
		t.Error("expected task on the failed list")
	}
}

func TestUploader_StartStop(t *testing.T) {
	q := openTestQueue(t)
	q.Add("agent", map[string]any{"id": "A"}, "add")

	drained := make(chan struct{}, 1)
	rep := ReplicatorFunc(func(ctx context.Context, task Task) error {
		select {
		case drained <- struct{}{}:
		default:
		}
		return nil
	})

	u := NewUploader(q, rep, 10*time.Millisecond, 3, testLogger())
	u.Start(context.Background())
	defer u.Stop()

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("uploader never drained")
	}
}
