package domain

const (
	EventTaskUpdate     = "task_update"
	EventTaskDelete     = "task_delete"
	EventTaskBulkUpdate = "task_bulk_update"
)

// Event is a single push-channel message. Exactly one of Task, TaskID or
// Tasks is populated depending on Type.
type Event struct {
	Type string `json:"type"`
	// Task carries the authoritative state for a task_update.
	Task *Task `json:"task,omitempty"`
	// TaskID identifies the removed task for a task_delete.
	TaskID string `json:"task_id,omitempty"`
	// Tasks carries the full state of the affected column(s) for a
	// task_bulk_update.
	Tasks []Task `json:"tasks,omitempty"`
	// Revision orders events emitted by the same board; bulk events carry
	// the revision assigned to the mutation that produced them.
	Revision int64 `json:"revision,omitempty"`
}

// UpdateEvent builds a single-task upsert event.
func UpdateEvent(t Task) Event {
	return Event{Type: EventTaskUpdate, Task: &t, Revision: t.Revision}
}

// DeleteEvent builds a task removal event.
func DeleteEvent(id string, revision int64) Event {
	return Event{Type: EventTaskDelete, TaskID: id, Revision: revision}
}

// BulkUpdateEvent builds an event carrying the authoritative full state of
// one or more columns.
func BulkUpdateEvent(tasks []Task, revision int64) Event {
	return Event{Type: EventTaskBulkUpdate, Tasks: tasks, Revision: revision}
}

// BulkStatuses reports the set of columns an event's task list spans. Only
// tasks in those columns may be evicted when merging the event.
func (e Event) BulkStatuses() map[Status]struct{} {
	statuses := make(map[Status]struct{}, len(Statuses))
	for _, t := range e.Tasks {
		statuses[t.Status] = struct{}{}
	}
	return statuses
}
