package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// ErrNotAllowed is returned when the authorization policy denies a
// mutation. It is surfaced to the acting user only; nothing is broadcast.
var ErrNotAllowed = domain.ErrNotAllowed

const moveRetries = 3

// Board is the authoritative mutation surface for the shared task set. It
// serializes order recomputation per column, persists the outcome and
// publishes the resulting events to every connected client.
type Board struct {
	store  Storage
	pub    Publisher
	logger *log.Logger

	colMu map[domain.Status]*sync.Mutex
}

// NewBoard creates a board service over the given store and publisher.
func NewBoard(store Storage, pub Publisher, logger *log.Logger) *Board {
	cols := make(map[domain.Status]*sync.Mutex, len(domain.Statuses))
	for _, s := range domain.Statuses {
		cols[s] = &sync.Mutex{}
	}
	return &Board{store: store, pub: pub, logger: logger, colMu: cols}
}

// lockColumns acquires the mutexes for the given columns in a fixed order
// so concurrent cross-column moves cannot deadlock.
func (b *Board) lockColumns(statuses ...domain.Status) func() {
	uniq := map[domain.Status]struct{}{}
	for _, s := range statuses {
		uniq[s] = struct{}{}
	}
	ordered := make([]domain.Status, 0, len(uniq))
	for s := range uniq {
		ordered = append(ordered, s)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	for _, s := range ordered {
		b.colMu[s].Lock()
	}
	return func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			b.colMu[ordered[i]].Unlock()
		}
	}
}

// Snapshot returns the full authoritative task set.
func (b *Board) Snapshot(ctx context.Context) ([]domain.Task, error) {
	return b.store.FetchTasks(ctx)
}

// Create appends a new task to the end of the todo column.
func (b *Board) Create(ctx context.Context, actor domain.Actor, title string) (domain.Task, error) {
	unlock := b.lockColumns(domain.StatusTodo)
	defer unlock()

	tasks, err := b.store.FetchTasks(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	task := domain.Task{
		ID:       uuid.NewString(),
		Title:    title,
		Status:   domain.StatusTodo,
		Order:    len(domain.Column(tasks, domain.StatusTodo)),
		Owner:    actor.Name,
		Revision: nextRevision(),
	}
	if err := b.store.UpsertTasks(ctx, []domain.Task{task}); err != nil {
		return domain.Task{}, err
	}

	b.pub.Publish(ctx, domain.UpdateEvent(task))
	b.notify(domain.Notification{
		Kind:   domain.NotifyTaskCreated,
		TaskID: task.ID,
		Title:  task.Title,
		Actor:  actor.Name,
		Time:   task.Revision,
	})
	return task, nil
}

// Move relocates a task to the requested column position. The recompute of
// the affected column(s) runs under their locks so concurrent drags into
// the same column serialize instead of corrupting the order invariant.
func (b *Board) Move(ctx context.Context, actor domain.Actor, taskID string, dest domain.Status, destIndex int) error {
	if !dest.Valid() {
		return fmt.Errorf("invalid status %q", dest)
	}
	for attempt := 0; attempt < moveRetries; attempt++ {
		task, err := b.store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		source := task.Status

		unlock := b.lockColumns(source, dest)

		tasks, err := b.store.FetchTasks(ctx)
		if err != nil {
			unlock()
			return err
		}
		current, ok := findTask(tasks, taskID)
		if !ok {
			unlock()
			return fmt.Errorf("%w: %s", domain.ErrUnknownTask, taskID)
		}
		if current.Status != source {
			// The task moved columns between the read and the lock;
			// retry with the fresh source column.
			unlock()
			continue
		}

		if d := domain.CanMove(current, actor, dest); !d.Allow {
			unlock()
			if d.CrossColumn && actor.Admin {
				return fmt.Errorf("%w: administrators may not move another user's task across columns", ErrNotAllowed)
			}
			return fmt.Errorf("%w: only the task owner may move it", ErrNotAllowed)
		}

		res, err := domain.Move(tasks, taskID, dest, destIndex)
		if err != nil {
			unlock()
			return err
		}
		if res.NoOp {
			unlock()
			return nil
		}

		rev := nextRevision()
		changed := changedTasks(tasks, res.Tasks, rev)
		if err := b.store.UpsertTasks(ctx, changed); err != nil {
			unlock()
			return err
		}

		affected := make([]domain.Task, 0, len(res.Tasks))
		for _, s := range res.Affected {
			affected = append(affected, domain.Column(stamp(res.Tasks, changed), s)...)
		}
		b.pub.Publish(ctx, domain.BulkUpdateEvent(affected, rev))
		unlock()

		if dest == domain.StatusDone && source != domain.StatusDone {
			b.notify(domain.Notification{
				Kind:   domain.NotifyTaskDone,
				TaskID: taskID,
				Title:  current.Title,
				Actor:  actor.Name,
				Time:   rev,
			})
		}
		return nil
	}
	return errors.New("move conflicted with concurrent reorders, giving up")
}

// Delete removes a task and re-densifies the vacated column. The column
// lock is validated against a fresh read; holding column X's lock while
// re-densifying column Y would race a concurrent move into Y.
func (b *Board) Delete(ctx context.Context, actor domain.Actor, taskID string) error {
	for attempt := 0; attempt < moveRetries; attempt++ {
		task, err := b.store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}

		unlock := b.lockColumns(task.Status)

		tasks, err := b.store.FetchTasks(ctx)
		if err != nil {
			unlock()
			return err
		}
		current, ok := findTask(tasks, taskID)
		if !ok {
			unlock()
			return fmt.Errorf("%w: %s", domain.ErrUnknownTask, taskID)
		}
		if current.Status != task.Status {
			unlock()
			continue
		}

		if !domain.CanDelete(current, actor) {
			unlock()
			return fmt.Errorf("%w: only the task owner or an administrator may delete it", ErrNotAllowed)
		}

		remaining, vacated, _ := domain.Remove(tasks, taskID)
		if err := b.store.DeleteTask(ctx, taskID); err != nil {
			unlock()
			return err
		}

		rev := nextRevision()
		changed := changedTasks(tasks, remaining, rev)
		if err := b.store.UpsertTasks(ctx, changed); err != nil {
			unlock()
			return err
		}

		b.pub.Publish(ctx, domain.DeleteEvent(taskID, rev))
		b.pub.Publish(ctx, domain.BulkUpdateEvent(domain.Column(stamp(remaining, changed), vacated), rev))
		unlock()
		return nil
	}
	return errors.New("delete conflicted with concurrent reorders, giving up")
}

// EditTitle renames a task. The whole row is written back, so the write
// happens under the task's column lock against the state read there; a
// write built from an unlocked read would revert any reorder committed in
// between.
func (b *Board) EditTitle(ctx context.Context, actor domain.Actor, taskID, title string) (domain.Task, error) {
	for attempt := 0; attempt < moveRetries; attempt++ {
		task, err := b.store.GetTask(ctx, taskID)
		if err != nil {
			return domain.Task{}, err
		}

		unlock := b.lockColumns(task.Status)

		tasks, err := b.store.FetchTasks(ctx)
		if err != nil {
			unlock()
			return domain.Task{}, err
		}
		current, ok := findTask(tasks, taskID)
		if !ok {
			unlock()
			return domain.Task{}, fmt.Errorf("%w: %s", domain.ErrUnknownTask, taskID)
		}
		if current.Status != task.Status {
			unlock()
			continue
		}

		if !domain.CanEditTitle(current, actor) {
			unlock()
			return domain.Task{}, fmt.Errorf("%w: only the task owner may edit it", ErrNotAllowed)
		}

		oldTitle := current.Title
		current.Title = title
		current.Revision = nextRevision()
		if err := b.store.UpsertTasks(ctx, []domain.Task{current}); err != nil {
			unlock()
			return domain.Task{}, err
		}

		b.pub.Publish(ctx, domain.UpdateEvent(current))
		unlock()

		b.notify(domain.Notification{
			Kind:     domain.NotifyTitleChanged,
			TaskID:   current.ID,
			Title:    title,
			OldTitle: oldTitle,
			Actor:    actor.Name,
			Time:     current.Revision,
		})
		return current, nil
	}
	return domain.Task{}, errors.New("edit conflicted with concurrent reorders, giving up")
}

func (b *Board) notify(n domain.Notification) {
	if !tryEnqueueNotification(notifyJob{notification: n}) {
		b.logger.WithFields(log.Fields{"kind": n.Kind, "task": n.TaskID}).Warn("notification dropped, enqueue buffer saturated")
	}
}

func findTask(tasks []domain.Task, id string) (domain.Task, bool) {
	for _, t := range tasks {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

// changedTasks returns the after-tasks whose status or order differ from
// before, stamped with the mutation revision.
func changedTasks(before, after []domain.Task, rev int64) []domain.Task {
	prev := make(map[string]domain.Task, len(before))
	for _, t := range before {
		prev[t.ID] = t
	}
	changed := make([]domain.Task, 0, 4)
	for _, t := range after {
		p, ok := prev[t.ID]
		if !ok || p.Status != t.Status || p.Order != t.Order {
			t.Revision = rev
			changed = append(changed, t)
		}
	}
	return changed
}

// stamp overlays the stamped revisions of changed onto the full task set.
func stamp(tasks, changed []domain.Task) []domain.Task {
	revs := make(map[string]int64, len(changed))
	for _, t := range changed {
		revs[t.ID] = t.Revision
	}
	out := make([]domain.Task, len(tasks))
	for i, t := range tasks {
		if r, ok := revs[t.ID]; ok {
			t.Revision = r
		}
		out[i] = t
	}
	return out
}
