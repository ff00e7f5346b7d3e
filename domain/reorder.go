package domain

import (
	"errors"
	"fmt"
)

// ErrUnknownTask is returned when a reorder references a task id that is
// not part of the board.
var ErrUnknownTask = errors.New("unknown task")

// MoveResult describes a committed reorder over a board snapshot.
type MoveResult struct {
	// Tasks is the full board after the move.
	Tasks []Task
	// Source is the column the task left (equal to destination for
	// same-column moves).
	Source Status
	// Affected lists every column whose order values were recomputed.
	Affected []Status
	// NoOp is set when the task was already at the requested position.
	NoOp bool
}

// Move relocates the task with the given id to index destIndex of the dest
// column and re-densifies every affected column. The input slice is not
// modified. destIndex is clamped to the valid range of the post-removal
// sequence, so ties cannot arise.
func Move(tasks []Task, id string, dest Status, destIndex int) (MoveResult, error) {
	if !dest.Valid() {
		return MoveResult{}, fmt.Errorf("invalid status %q", dest)
	}
	var moved *Task
	for i := range tasks {
		if tasks[i].ID == id {
			moved = &tasks[i]
			break
		}
	}
	if moved == nil {
		return MoveResult{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	source := moved.Status

	sourceCol := Column(tasks, source)
	sourceIndex := -1
	for i, t := range sourceCol {
		if t.ID == id {
			sourceIndex = i
			break
		}
	}
	if source == dest && destIndex == sourceIndex {
		return MoveResult{Tasks: tasks, Source: source, NoOp: true}, nil
	}

	// Remove the task from its source column, then insert into the
	// post-removal sequence.
	shrunk := make([]Task, 0, len(sourceCol)-1)
	for _, t := range sourceCol {
		if t.ID != id {
			shrunk = append(shrunk, t)
		}
	}

	destCol := shrunk
	if source != dest {
		destCol = Column(tasks, dest)
	}
	if destIndex < 0 {
		destIndex = 0
	}
	if destIndex > len(destCol) {
		destIndex = len(destCol)
	}
	inserted := *moved
	inserted.Status = dest
	destCol = append(destCol[:destIndex:destIndex], append([]Task{inserted}, destCol[destIndex:]...)...)

	updated := map[string]Task{}
	for _, t := range Densify(destCol) {
		updated[t.ID] = t
	}
	if source != dest {
		for _, t := range Densify(shrunk) {
			updated[t.ID] = t
		}
	}

	out := make([]Task, len(tasks))
	for i, t := range tasks {
		if u, ok := updated[t.ID]; ok {
			out[i] = u
		} else {
			out[i] = t
		}
	}

	affected := []Status{dest}
	if source != dest {
		affected = []Status{source, dest}
	}
	return MoveResult{Tasks: out, Source: source, Affected: affected}, nil
}

// Densify assigns contiguous zero-based order values to an already-sorted
// column sequence. The result holds the contiguity invariant: orders are
// exactly 0..n-1.
func Densify(col []Task) []Task {
	out := make([]Task, len(col))
	for i, t := range col {
		t.Order = i
		out[i] = t
	}
	return out
}

// Remove drops the task with the given id and re-densifies its column.
// Removing an absent id is a no-op.
func Remove(tasks []Task, id string) ([]Task, Status, bool) {
	var status Status
	found := false
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID == id {
			status = t.Status
			found = true
			continue
		}
		out = append(out, t)
	}
	if !found {
		return tasks, "", false
	}
	dense := Densify(Column(out, status))
	updated := map[string]Task{}
	for _, t := range dense {
		updated[t.ID] = t
	}
	for i, t := range out {
		if u, ok := updated[t.ID]; ok {
			out[i] = u
		}
	}
	return out, status, true
}
