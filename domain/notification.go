package domain

const (
	NotifyTaskCreated  = "task-created"
	NotifyTaskDone     = "task-done"
	NotifyTitleChanged = "title-changed"
)

// Notification describes a board change worth announcing on the team
// webhook. Delivery is asynchronous and best-effort; a failed notification
// never fails the mutation that produced it.
type Notification struct {
	Kind     string `json:"kind"`
	TaskID   string `json:"taskId"`
	Title    string `json:"title"`
	OldTitle string `json:"oldTitle,omitempty"`
	Actor    string `json:"actor"`
	Time     int64  `json:"time"`
}
