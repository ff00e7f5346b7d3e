package domain

import "sort"

// Status determines which column a task belongs to.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// Statuses lists every column in board display order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusDone}

// Valid reports whether s names a known column.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Task represents a single board item.
type Task struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   Status `json:"status"`
	Order    int    `json:"order"`
	Owner    string `json:"owner"`
	Revision int64  `json:"revision,omitempty"`
}

// Done reports whether the task reached the final column.
func (t Task) Done() bool { return t.Status == StatusDone }

// Column filters tasks by status and sorts them by order. Columns are
// derived on demand and never stored.
func Column(tasks []Task, s Status) []Task {
	col := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == s {
			col = append(col, t)
		}
	}
	sort.Slice(col, func(i, j int) bool {
		if col[i].Order != col[j].Order {
			return col[i].Order < col[j].Order
		}
		return col[i].ID < col[j].ID
	})
	return col
}
