package client

import "taskboard/domain"

// Pure transition functions over the cache state. Keeping them free of
// I/O and locking makes the merge semantics unit-testable without a UI
// or network harness.

// mergeUpsert replaces the cached entry for the task unless the cached
// entry carries a newer revision. Re-applying the same upsert is a no-op.
func mergeUpsert(tasks map[string]domain.Task, t domain.Task) bool {
	cur, ok := tasks[t.ID]
	if ok && cur.Revision > t.Revision {
		// Out-of-order delivery: an older upsert must not clobber newer
		// authoritative state.
		return false
	}
	if ok && cur == t {
		return false
	}
	tasks[t.ID] = t
	return true
}

// mergeDelete removes the task if present. An absent id is a benign no-op:
// another actor already deleted it.
func mergeDelete(tasks map[string]domain.Task, id string) bool {
	if _, ok := tasks[id]; !ok {
		return false
	}
	delete(tasks, id)
	return true
}

// mergeBulk applies an authoritative full-column replacement. Every
// incoming task is upserted; cached tasks that claim membership of an
// affected column but are missing from the event are evicted. Columns the
// event does not touch are left alone.
func mergeBulk(tasks map[string]domain.Task, ev domain.Event) bool {
	changed := false
	incoming := make(map[string]struct{}, len(ev.Tasks))
	for _, t := range ev.Tasks {
		incoming[t.ID] = struct{}{}
		if mergeUpsert(tasks, t) {
			changed = true
		}
	}

	affected := ev.BulkStatuses()
	for id, t := range tasks {
		if _, kept := incoming[id]; kept {
			continue
		}
		if _, hit := affected[t.Status]; hit {
			delete(tasks, id)
			changed = true
		}
	}
	return changed
}

// overlay writes locally-recomputed tasks into the cache; used for
// optimistic mutations, which keep their current revision so the next
// authoritative event supersedes them.
func overlay(tasks map[string]domain.Task, updated []domain.Task) {
	for _, t := range updated {
		tasks[t.ID] = t
	}
}
