package client

import (
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// Reconciler merges authoritative push-channel events into the local
// cache, superseding optimistic guesses. Events may arrive more than once;
// merging is idempotent by id and content.
type Reconciler struct {
	cache  *Cache
	logger *log.Logger
}

// NewReconciler creates a reconciler over the given cache.
func NewReconciler(cache *Cache, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Reconciler{cache: cache, logger: logger}
}

// ApplySnapshot merges the bulk event that opens a stream connection. The
// snapshot is authoritative for the whole board, so cached tasks absent
// from it are evicted regardless of which column they claim; a column the
// snapshot leaves empty would otherwise never shed its ghosts, because an
// incremental bulk event only covers the columns its tasks mention.
func (r *Reconciler) ApplySnapshot(ev domain.Event) bool {
	if ev.Type != domain.EventTaskBulkUpdate {
		return r.Apply(ev)
	}
	changed := false
	r.cache.apply(func(tasks map[string]domain.Task) {
		incoming := make(map[string]struct{}, len(ev.Tasks))
		for _, t := range ev.Tasks {
			incoming[t.ID] = struct{}{}
			if mergeUpsert(tasks, t) {
				changed = true
			}
		}
		for id := range tasks {
			if _, kept := incoming[id]; !kept {
				delete(tasks, id)
				changed = true
			}
		}
	})
	return changed
}

// Apply merges one event. It returns true when the cache changed.
func (r *Reconciler) Apply(ev domain.Event) bool {
	changed := false
	switch ev.Type {
	case domain.EventTaskUpdate:
		if ev.Task == nil {
			r.logger.Warn("task_update event without task payload")
			return false
		}
		r.cache.apply(func(tasks map[string]domain.Task) {
			changed = mergeUpsert(tasks, *ev.Task)
		})
	case domain.EventTaskDelete:
		r.cache.apply(func(tasks map[string]domain.Task) {
			changed = mergeDelete(tasks, ev.TaskID)
		})
	case domain.EventTaskBulkUpdate:
		r.cache.apply(func(tasks map[string]domain.Task) {
			changed = mergeBulk(tasks, ev)
		})
	default:
		r.logger.WithField("type", ev.Type).Warn("ignoring unknown event type")
	}
	return changed
}
