package syncqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Replicator performs one queued write against the cloud API.
type Replicator interface {
	Replicate(ctx context.Context, task Task) error
}

// ReplicatorFunc adapts a function to the Replicator interface.
type ReplicatorFunc func(ctx context.Context, task Task) error

func (f ReplicatorFunc) Replicate(ctx context.Context, task Task) error { return f(ctx, task) }

// HTTPReplicator replays tasks as REST calls: add posts, update puts,
// delete deletes, addressed by data type and resource id.
type HTTPReplicator struct {
	baseURL string
	client  *http.Client
	token   func() string
}

// NewHTTPReplicator builds a replicator against baseURL. token supplies the
// bearer token per call so rotation is picked up between retries.
func NewHTTPReplicator(baseURL string, client *http.Client, token func() string) *HTTPReplicator {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPReplicator{baseURL: baseURL, client: client, token: token}
}

func (r *HTTPReplicator) Replicate(ctx context.Context, task Task) error {
	var method, url string
	var body io.Reader

	resourceID, _ := task.Data["id"].(string)
	switch task.Operation {
	case "add":
		method = http.MethodPost
		url = fmt.Sprintf("%s/%s", r.baseURL, task.DataType)
	case "update":
		method = http.MethodPut
		url = fmt.Sprintf("%s/%s/%s", r.baseURL, task.DataType, resourceID)
	case "delete":
		method = http.MethodDelete
		url = fmt.Sprintf("%s/%s/%s", r.baseURL, task.DataType, resourceID)
	default:
		return fmt.Errorf("unknown operation %q", task.Operation)
	}

	if task.Operation != "delete" {
		data, err := json.Marshal(task.Data)
		if err != nil {
			return fmt.Errorf("marshal task data: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != nil {
		if t := r.token(); t != "" {
			req.Header.Set("Authorization", "Bearer "+t)
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	return nil
}

// Uploader drains the queue in the background once connectivity returns.
type Uploader struct {
	queue      *Queue
	replicator Replicator
	logger     *slog.Logger
	interval   time.Duration
	maxRetries int
	onFailed   func(Task)

	stop chan struct{}
	done chan struct{}
}

// NewUploader builds a drain loop over queue. interval <= 0 selects 30s;
// maxRetries <= 0 selects 3.
func NewUploader(queue *Queue, replicator Replicator, interval time.Duration, maxRetries int, logger *slog.Logger) *Uploader {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		queue:      queue,
		replicator: replicator,
		logger:     logger.With("component", "sync_uploader"),
		interval:   interval,
		maxRetries: maxRetries,
	}
}

// OnTaskFailed installs a hook fired when a task exhausts its retry budget
// and moves to the failed list. Call before Start.
func (u *Uploader) OnTaskFailed(fn func(Task)) {
	u.onFailed = fn
}

// Start launches the periodic drain. Stops when ctx is cancelled or Stop is
// called.
func (u *Uploader) Start(ctx context.Context) {
	if u.stop != nil {
		return
	}
	u.stop = make(chan struct{})
	u.done = make(chan struct{})

	go func() {
		defer close(u.done)
		ticker := time.NewTicker(u.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-u.stop:
				return
			case <-ticker.C:
				u.Drain(ctx)
			}
		}
	}()
	u.logger.Info("sync uploader started", "interval", u.interval, "max_retries", u.maxRetries)
}

// Stop halts the drain loop and waits for an in-flight pass to finish.
func (u *Uploader) Stop() {
	if u.stop == nil {
		return
	}
	close(u.stop)
	<-u.done
	u.stop = nil
}

// Drain replays every pending task once. Failures are recorded against the
// task's retry budget; the pass keeps going so one bad task cannot starve
// the rest.
func (u *Uploader) Drain(ctx context.Context) {
	tasks := u.queue.GetPending("")
	if len(tasks) == 0 {
		return
	}
	u.logger.Debug("draining sync queue", "tasks", len(tasks))

	for _, task := range tasks {
		if ctx.Err() != nil {
			return
		}
		if err := u.replicator.Replicate(ctx, task); err != nil {
			u.logger.Warn("task replication failed", "id", task.ID, "data_type", task.DataType, "error", err)
			u.queue.MarkFailed(task.ID, err.Error(), u.maxRetries)
			// The snapshot carries the retry count before this failure was
			// recorded, so +1 mirrors the budget check in MarkFailed.
			if u.onFailed != nil && task.RetryCount+1 >= u.maxRetries {
				task.Status = StatusFailed
				task.LastError = err.Error()
				u.onFailed(task)
			}
			continue
		}
		u.queue.MarkSuccess(task.ID)
	}
}
