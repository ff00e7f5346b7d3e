package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const (
	colorCreated = "#2196f3"
	colorDone    = "#2e7d32"
	colorEdited  = "#f9a825"
	colorDefault = "#36a64f"
)

// Queue is the source of pending notifications.
type Queue interface {
	DequeueNotifications(ctx context.Context, max int32) ([]domain.Notification, error)
}

// Relay drains the notification queue and posts webhook messages.
type Relay struct {
	queue  Queue
	cfg    Config
	httpc  *http.Client
	logger *log.Logger
}

// NewRelay creates a relay with the given config.
func NewRelay(queue Queue, cfg Config, logger *log.Logger) *Relay {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Relay{
		queue:  queue,
		cfg:    cfg,
		httpc:  &http.Client{Timeout: cfg.PostTimeout.Duration},
		logger: logger,
	}
}

// Run polls the queue until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval.Duration)
	defer ticker.Stop()
	for {
		r.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Relay) drain(ctx context.Context) {
	notifications, err := r.queue.DequeueNotifications(ctx, r.cfg.BatchSize)
	if err != nil {
		r.logger.Errorf("dequeue notifications: %v", err)
		return
	}
	for _, n := range notifications {
		if err := r.Post(ctx, n); err != nil {
			// Silent failure: log and move on, never retry into the
			// user's critical path.
			r.logger.WithFields(log.Fields{"kind": n.Kind, "task": n.TaskID}).Errorf("webhook post failed: %v", err)
		}
	}
}

type attachment struct {
	Color  string `json:"color"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Footer string `json:"footer"`
}

type webhookPayload struct {
	Attachments []attachment `json:"attachments"`
}

// Post sends one notification to the webhook. A relay without a webhook
// URL drops messages silently.
func (r *Relay) Post(ctx context.Context, n domain.Notification) error {
	if r.cfg.WebhookURL == "" {
		return nil
	}
	payload := webhookPayload{Attachments: []attachment{r.format(n)}}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (r *Relay) format(n domain.Notification) attachment {
	a := attachment{Color: colorDefault, Title: "Task Notification", Footer: r.cfg.Footer}
	switch n.Kind {
	case domain.NotifyTaskCreated:
		a.Color = colorCreated
		a.Title = "New task"
		a.Text = fmt.Sprintf("Task %q was created by @%s.", n.Title, n.Actor)
	case domain.NotifyTaskDone:
		a.Color = colorDone
		a.Title = "Task completed"
		a.Text = fmt.Sprintf("Task %q was completed by @%s.", n.Title, n.Actor)
	case domain.NotifyTitleChanged:
		a.Color = colorEdited
		a.Title = "Task renamed"
		a.Text = fmt.Sprintf("Task %q was renamed to %q by @%s.", n.OldTitle, n.Title, n.Actor)
	default:
		a.Text = fmt.Sprintf("Task %s changed (%s).", n.TaskID, n.Kind)
	}
	return a
}
