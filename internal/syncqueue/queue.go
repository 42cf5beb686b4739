// Package syncqueue is the durable outbox for cloud writes made while
// offline. Tasks wait in a pending list, move to a failed list after too
// many retries, and both lists survive restarts as JSON files.
package syncqueue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	pendingFile = "pending_sync.json"
	failedFile  = "failed_sync.json"

	StatusPending = "pending"
	StatusFailed  = "failed"
)

// Task is one queued cloud write.
type Task struct {
	ID          string         `json:"id"`
	DataType    string         `json:"data_type"`
	Operation   string         `json:"operation"`
	Data        map[string]any `json:"data"`
	CreatedAt   time.Time      `json:"created_at"`
	RetryCount  int            `json:"retry_count"`
	LastError   string         `json:"last_error,omitempty"`
	LastRetryAt *time.Time     `json:"last_retry_at,omitempty"`
	Status      string         `json:"status"`
}

// Stats summarizes queue depth per data type.
type Stats struct {
	Pending       int            `json:"pending"`
	Failed        int            `json:"failed"`
	PendingByType map[string]int `json:"pending_by_type"`
	FailedByType  map[string]int `json:"failed_by_type"`
}

// Queue is the durable FIFO. One mutex serializes every operation; each
// mutation rewrites the affected file atomically before returning.
type Queue struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	pending []Task
	failed  []Task
}

// Open loads or creates the queue under dir.
func Open(dir string, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}

	q := &Queue{dir: dir, logger: logger.With("component", "syncqueue")}
	if err := q.loadFile(pendingFile, &q.pending); err != nil {
		return nil, err
	}
	if err := q.loadFile(failedFile, &q.failed); err != nil {
		return nil, err
	}
	q.logger.Info("sync queue opened", "dir", dir, "pending", len(q.pending), "failed", len(q.failed))
	return q, nil
}

func (q *Queue) loadFile(name string, into *[]Task) error {
	path := filepath.Join(q.dir, name)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		*into = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		// A corrupt file is quarantined rather than blocking startup.
		q.logger.Error("corrupt queue file, starting empty", "file", name, "error", err)
		_ = os.Rename(path, path+".corrupt")
		*into = nil
	}
	return nil
}

// persist writes one list to its file via temp file and rename.
func (q *Queue) persist(name string, tasks []Task) {
	if tasks == nil {
		tasks = []Task{}
	}
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		q.logger.Error("marshal queue", "file", name, "error", err)
		return
	}

	path := filepath.Join(q.dir, name)
	tmp, err := os.CreateTemp(q.dir, name+".tmp-*")
	if err != nil {
		q.logger.Error("create temp queue file", "file", name, "error", err)
		return
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		q.logger.Error("write queue file", "file", name, "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		q.logger.Error("close queue file", "file", name, "error", err)
		return
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		q.logger.Error("replace queue file", "file", name, "error", err)
	}
}

// Add appends a task to the pending list and returns its id.
func (q *Queue) Add(dataType string, data map[string]any, operation string) string {
	task := Task{
		ID:        uuid.New().String(),
		DataType:  dataType,
		Operation: operation,
		Data:      data,
		CreatedAt: time.Now(),
		Status:    StatusPending,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, task)
	q.persist(pendingFile, q.pending)
	q.logger.Debug("task queued", "id", task.ID, "data_type", dataType, "operation", operation)
	return task.ID
}

// GetPending returns pending tasks in FIFO order, optionally filtered by
// data type. Empty string matches all.
func (q *Queue) GetPending(dataType string) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return filterTasks(q.pending, dataType)
}

// GetFailed returns failed tasks, optionally filtered by data type.
func (q *Queue) GetFailed(dataType string) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return filterTasks(q.failed, dataType)
}

func filterTasks(tasks []Task, dataType string) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if dataType == "" || t.DataType == dataType {
			out = append(out, t)
		}
	}
	return out
}

// Stats reports queue depth overall and per data type.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		Pending:       len(q.pending),
		Failed:        len(q.failed),
		PendingByType: make(map[string]int),
		FailedByType:  make(map[string]int),
	}
	for _, t := range q.pending {
		s.PendingByType[t.DataType]++
	}
	for _, t := range q.failed {
		s.FailedByType[t.DataType]++
	}
	return s
}

// MarkSuccess drops a task from the pending list.
func (q *Queue) MarkSuccess(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, t := range q.pending {
		if t.ID == taskID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.persist(pendingFile, q.pending)
			q.logger.Debug("task completed", "id", taskID)
			return true
		}
	}
	return false
}

// MarkFailed records a retry failure. Once retryCount reaches maxRetries the
// task moves to the failed list; otherwise it stays pending with the error
// recorded.
func (q *Queue) MarkFailed(taskID, errMsg string, maxRetries int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.pending {
		if q.pending[i].ID != taskID {
			continue
		}
		now := time.Now()
		q.pending[i].RetryCount++
		q.pending[i].LastError = errMsg
		q.pending[i].LastRetryAt = &now

		if q.pending[i].RetryCount >= maxRetries {
			task := q.pending[i]
			task.Status = StatusFailed
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.failed = append(q.failed, task)
			q.persist(pendingFile, q.pending)
			q.persist(failedFile, q.failed)
			q.logger.Warn("task moved to failed list", "id", taskID, "retries", task.RetryCount, "error", errMsg)
		} else {
			q.persist(pendingFile, q.pending)
			q.logger.Debug("task retry recorded", "id", taskID, "retries", q.pending[i].RetryCount)
		}
		return true
	}
	return false
}

// RetryFailed moves a failed task back to pending with a fresh retry budget.
func (q *Queue) RetryFailed(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, t := range q.failed {
		if t.ID == taskID {
			q.failed = append(q.failed[:i], q.failed[i+1:]...)
			t.Status = StatusPending
			t.RetryCount = 0
			t.LastError = ""
			t.LastRetryAt = nil
			q.pending = append(q.pending, t)
			q.persist(failedFile, q.failed)
			q.persist(pendingFile, q.pending)
			q.logger.Info("failed task requeued", "id", taskID)
			return true
		}
	}
	return false
}

// RemoveByResource deletes queued tasks for a resource that has since been
// written directly. operation narrows the match when non-empty. Returns the
// number of tasks removed from both lists.
func (q *Queue) RemoveByResource(dataType, resourceID, operation string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	match := func(t Task) bool {
		if t.DataType != dataType {
			return false
		}
		if operation != "" && t.Operation != operation {
			return false
		}
		id, _ := t.Data["id"].(string)
		return id == resourceID
	}

	removed := 0
	keepPending := q.pending[:0]
	for _, t := range q.pending {
		if match(t) {
			removed++
			continue
		}
		keepPending = append(keepPending, t)
	}
	pendingChanged := len(keepPending) != len(q.pending)
	q.pending = keepPending

	keepFailed := q.failed[:0]
	for _, t := range q.failed {
		if match(t) {
			removed++
			continue
		}
		keepFailed = append(keepFailed, t)
	}
	failedChanged := len(keepFailed) != len(q.failed)
	q.failed = keepFailed

	if pendingChanged {
		q.persist(pendingFile, q.pending)
	}
	if failedChanged {
		q.persist(failedFile, q.failed)
	}
	if removed > 0 {
		q.logger.Debug("queued work dropped for resource", "data_type", dataType, "resource_id", resourceID, "removed", removed)
	}
	return removed
}

// ClearPending empties the pending list.
func (q *Queue) ClearPending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	q.pending = nil
	q.persist(pendingFile, q.pending)
	return n
}

// ClearFailed empties the failed list.
func (q *Queue) ClearFailed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.failed)
	q.failed = nil
	q.persist(failedFile, q.failed)
	return n
}
