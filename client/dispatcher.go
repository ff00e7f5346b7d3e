package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const defaultRequestTimeout = 10 * time.Second

// Dispatcher applies user-initiated mutations optimistically to the local
// cache and forwards the intent to the server without blocking the caller.
// Confirmation arrives later over the push channel; a server rejection
// triggers a full snapshot refresh so the optimistic guess cannot outlive
// the denial indefinitely.
type Dispatcher struct {
	cache   *Cache
	actor   domain.Actor
	baseURL string
	token   string
	httpc   *http.Client
	logger  *log.Logger
	timeout time.Duration

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher for the given actor. token is the raw
// bearer token used on every request.
func NewDispatcher(cache *Cache, actor domain.Actor, baseURL, token string, httpc *http.Client, logger *log.Logger) *Dispatcher {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Dispatcher{
		cache:   cache,
		actor:   actor,
		baseURL: baseURL,
		token:   token,
		httpc:   httpc,
		logger:  logger,
		timeout: defaultRequestTimeout,
	}
}

// Wait blocks until every in-flight request has completed. Intended for
// tests and shutdown.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Move applies an optimistic reorder and sends the intent. The pre-flight
// policy check short-circuits obviously-invalid drags before any network
// call; the server remains the authoritative gate.
func (d *Dispatcher) Move(taskID string, dest domain.Status, destIndex int) error {
	task, ok := d.cache.Get(taskID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownTask, taskID)
	}
	if dec := domain.CanMove(task, d.actor, dest); !dec.Allow {
		if dec.CrossColumn && d.actor.Admin {
			return fmt.Errorf("%w: administrators may not move another user's task across columns", domain.ErrNotAllowed)
		}
		return fmt.Errorf("%w: only the task owner may move it", domain.ErrNotAllowed)
	}

	res, err := domain.Move(d.cache.Snapshot(), taskID, dest, destIndex)
	if err != nil {
		return err
	}
	if res.NoOp {
		return nil
	}
	d.cache.apply(func(tasks map[string]domain.Task) {
		for _, s := range res.Affected {
			overlay(tasks, domain.Column(res.Tasks, s))
		}
	})

	body := map[string]any{"task_id": taskID, "status": dest, "order": destIndex}
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}
	d.send(http.MethodPost, "/api/tasks/reorder", body, headers, func(status int, _ []byte) {
		if status >= 400 {
			d.logger.WithFields(log.Fields{"task": taskID, "status": status}).Warn("reorder rejected, refreshing snapshot")
			d.refresh()
		}
	})
	return nil
}

// Create optimistically appends a placeholder to the todo column and sends
// the create request. The placeholder is swapped for the server task as
// soon as the response arrives; the broadcast confirms it for everyone else.
func (d *Dispatcher) Create(title string) error {
	if title == "" {
		return fmt.Errorf("title must not be empty")
	}
	placeholder := domain.Task{
		ID:     "pending-" + uuid.NewString(),
		Title:  title,
		Status: domain.StatusTodo,
		Order:  len(d.cache.Column(domain.StatusTodo)),
		Owner:  d.actor.Name,
	}
	d.cache.apply(func(tasks map[string]domain.Task) {
		tasks[placeholder.ID] = placeholder
	})

	d.send(http.MethodPost, "/api/tasks", map[string]any{"title": title}, nil, func(status int, body []byte) {
		d.cache.apply(func(tasks map[string]domain.Task) {
			delete(tasks, placeholder.ID)
		})
		if status != http.StatusCreated {
			d.logger.WithField("status", status).Warn("create rejected, refreshing snapshot")
			d.refresh()
			return
		}
		var created domain.Task
		if err := json.Unmarshal(body, &created); err != nil {
			d.logger.Errorf("decode created task: %v", err)
			d.refresh()
			return
		}
		d.cache.apply(func(tasks map[string]domain.Task) {
			mergeUpsert(tasks, created)
		})
	})
	return nil
}

// Delete optimistically removes the task and re-densifies its column. A
// 404 from the server means another actor already deleted it; that is a
// benign no-op.
func (d *Dispatcher) Delete(taskID string) error {
	task, ok := d.cache.Get(taskID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownTask, taskID)
	}
	if !domain.CanDelete(task, d.actor) {
		return fmt.Errorf("%w: only the task owner or an administrator may delete it", domain.ErrNotAllowed)
	}

	remaining, vacated, _ := domain.Remove(d.cache.Snapshot(), taskID)
	d.cache.apply(func(tasks map[string]domain.Task) {
		mergeDelete(tasks, taskID)
		overlay(tasks, domain.Column(remaining, vacated))
	})

	d.send(http.MethodDelete, "/api/tasks/"+taskID, nil, nil, func(status int, _ []byte) {
		switch {
		case status == http.StatusNotFound:
			d.logger.WithField("task", taskID).Debug("task already deleted elsewhere")
		case status >= 400:
			d.logger.WithFields(log.Fields{"task": taskID, "status": status}).Warn("delete rejected, refreshing snapshot")
			d.refresh()
		}
	})
	return nil
}

// EditTitle optimistically renames the task and sends the update.
func (d *Dispatcher) EditTitle(taskID, title string) error {
	task, ok := d.cache.Get(taskID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownTask, taskID)
	}
	if !domain.CanEditTitle(task, d.actor) {
		return fmt.Errorf("%w: only the task owner may edit it", domain.ErrNotAllowed)
	}

	task.Title = title
	d.cache.apply(func(tasks map[string]domain.Task) {
		tasks[task.ID] = task
	})

	d.send(http.MethodPut, "/api/tasks/"+taskID, map[string]any{"title": title}, nil, func(status int, _ []byte) {
		if status >= 400 {
			d.logger.WithFields(log.Fields{"task": taskID, "status": status}).Warn("edit rejected, refreshing snapshot")
			d.refresh()
		}
	})
	return nil
}

// send performs the request off the event loop. Transport failures are
// logged and otherwise ignored: the next snapshot after reconnect corrects
// any divergence.
func (d *Dispatcher) send(method, path string, body any, headers map[string]string, done func(status int, body []byte)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				d.logger.Errorf("marshal %s %s: %v", method, path, err)
				return
			}
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
		if err != nil {
			d.logger.Errorf("build %s %s: %v", method, path, err)
			return
		}
		req.Header.Set("Authorization", "Bearer "+d.token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := d.httpc.Do(req)
		if err != nil {
			d.logger.Errorf("%s %s: %v", method, path, err)
			return
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if done != nil {
			done(resp.StatusCode, data)
		}
	}()
}

// refresh pulls a fresh authoritative snapshot and replaces the whole
// cache with it.
func (d *Dispatcher) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/api/tasks", nil)
	if err != nil {
		d.logger.Errorf("build refresh: %v", err)
		return
	}
	req.Header.Set("Authorization", "Bearer "+d.token)

	resp, err := d.httpc.Do(req)
	if err != nil {
		d.logger.Errorf("refresh: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		d.logger.Errorf("refresh: unexpected status %d", resp.StatusCode)
		return
	}
	var payload struct {
		Tasks []domain.Task `json:"tasks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		d.logger.Errorf("decode refresh: %v", err)
		return
	}
	d.cache.apply(func(tasks map[string]domain.Task) {
		for id := range tasks {
			delete(tasks, id)
		}
		overlay(tasks, payload.Tasks)
	})
}
