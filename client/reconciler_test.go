package client

import (
	"testing"

	"taskboard/domain"
)

func seedCache(t *testing.T, tasks ...domain.Task) *Cache {
	t.Helper()
	c := NewCache()
	c.apply(func(m map[string]domain.Task) {
		for _, task := range tasks {
			m[task.ID] = task
		}
	})
	return c
}

func cachedTask(t *testing.T, c *Cache, id string) domain.Task {
	t.Helper()
	task, ok := c.Get(id)
	if !ok {
		t.Fatalf("task %s not in cache", id)
	}
	return task
}

func TestApplyUpsertIsIdempotent(t *testing.T) {
	c := seedCache(t)
	r := NewReconciler(c, nil)

	task := domain.Task{ID: "a", Title: "write docs", Status: domain.StatusTodo, Owner: "alice", Revision: 5}
	ev := domain.UpdateEvent(task)

	if !r.Apply(ev) {
		t.Fatal("first apply should change the cache")
	}
	if r.Apply(ev) {
		t.Fatal("re-applying the same event should be a no-op")
	}
	if got := cachedTask(t, c, "a"); got != task {
		t.Fatalf("cached task = %+v, want %+v", got, task)
	}
}

func TestApplyUpsertRejectsStaleRevision(t *testing.T) {
	newer := domain.Task{ID: "a", Title: "new title", Status: domain.StatusTodo, Owner: "alice", Revision: 10}
	c := seedCache(t, newer)
	r := NewReconciler(c, nil)

	stale := newer
	stale.Title = "old title"
	stale.Revision = 3
	if r.Apply(domain.UpdateEvent(stale)) {
		t.Fatal("stale upsert should not change the cache")
	}
	if got := cachedTask(t, c, "a"); got.Title != "new title" {
		t.Fatalf("title = %q, want the newer revision kept", got.Title)
	}
}

func TestApplyDelete(t *testing.T) {
	c := seedCache(t, domain.Task{ID: "a", Status: domain.StatusTodo, Owner: "alice"})
	r := NewReconciler(c, nil)

	if !r.Apply(domain.DeleteEvent("a", 1)) {
		t.Fatal("delete of a cached task should change the cache")
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("task still cached after delete event")
	}
	if r.Apply(domain.DeleteEvent("a", 2)) {
		t.Fatal("deleting an absent id should be a no-op")
	}
}

func TestApplyBulkReplaceEvictsStaleEntries(t *testing.T) {
	// X claims membership of in_progress but the authoritative column
	// replacement no longer lists it.
	c := seedCache(t,
		domain.Task{ID: "x", Title: "ghost", Status: domain.StatusInProgress, Order: 0, Owner: "alice"},
		domain.Task{ID: "b", Title: "keep", Status: domain.StatusDone, Order: 0, Owner: "bob"},
	)
	r := NewReconciler(c, nil)

	ev := domain.BulkUpdateEvent([]domain.Task{
		{ID: "a", Title: "real", Status: domain.StatusInProgress, Order: 0, Owner: "alice", Revision: 2},
	}, 2)
	if !r.Apply(ev) {
		t.Fatal("bulk replacement should change the cache")
	}
	if _, ok := c.Get("x"); ok {
		t.Fatal("stale entry survived a bulk column replacement")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("incoming task missing after bulk replacement")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatal("bulk replacement evicted a task from an untouched column")
	}
}

func TestApplyBulkLeavesOtherColumnsAlone(t *testing.T) {
	c := seedCache(t,
		domain.Task{ID: "a", Status: domain.StatusTodo, Order: 0, Owner: "alice"},
		domain.Task{ID: "b", Status: domain.StatusTodo, Order: 1, Owner: "alice"},
	)
	r := NewReconciler(c, nil)

	ev := domain.BulkUpdateEvent([]domain.Task{
		{ID: "c", Status: domain.StatusDone, Order: 0, Owner: "bob", Revision: 1},
	}, 1)
	r.Apply(ev)

	if got := len(c.Column(domain.StatusTodo)); got != 2 {
		t.Fatalf("todo column has %d tasks, want 2", got)
	}
}

func TestApplySnapshotEvictsEmptiedColumns(t *testing.T) {
	// The ghost claims a column the authoritative board now has empty. An
	// incremental bulk merge cannot evict it since no incoming task names
	// that column; the connect-time snapshot must.
	ghost := domain.Task{ID: "ghost", Title: "deleted elsewhere", Status: domain.StatusTodo, Order: 0, Owner: "alice"}
	c := seedCache(t, ghost)
	r := NewReconciler(c, nil)

	board := domain.BulkUpdateEvent([]domain.Task{
		{ID: "d", Title: "survivor", Status: domain.StatusDone, Order: 0, Owner: "bob", Revision: 3},
	}, 0)

	if r.Apply(board) {
		t.Fatal("incremental merge should not touch the ghost's column")
	}
	if _, ok := c.Get("ghost"); !ok {
		t.Fatal("precondition: ghost should survive the incremental merge")
	}

	if !r.ApplySnapshot(board) {
		t.Fatal("snapshot should change the cache")
	}
	if _, ok := c.Get("ghost"); ok {
		t.Fatalf("ghost survived the snapshot; todo column = %v", c.Column(domain.StatusTodo))
	}
	if _, ok := c.Get("d"); !ok {
		t.Fatal("snapshot task missing after replace")
	}
}

func TestApplySnapshotOfEmptyBoardClearsCache(t *testing.T) {
	c := seedCache(t,
		domain.Task{ID: "a", Status: domain.StatusTodo, Order: 0, Owner: "alice"},
		domain.Task{ID: "b", Status: domain.StatusDone, Order: 0, Owner: "bob"},
	)
	r := NewReconciler(c, nil)

	if !r.ApplySnapshot(domain.BulkUpdateEvent(nil, 0)) {
		t.Fatal("empty-board snapshot should change the cache")
	}
	if c.Len() != 0 {
		t.Fatalf("cache size = %d after empty snapshot, want 0", c.Len())
	}
}

func TestApplySnapshotDelegatesNonBulkEvents(t *testing.T) {
	c := seedCache(t, domain.Task{ID: "a", Status: domain.StatusTodo, Order: 0, Owner: "alice"})
	r := NewReconciler(c, nil)

	if !r.ApplySnapshot(domain.DeleteEvent("a", 1)) {
		t.Fatal("delete event should apply")
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("task still cached after delete event")
	}
}

func TestApplyIgnoresMalformedEvents(t *testing.T) {
	c := seedCache(t, domain.Task{ID: "a", Status: domain.StatusTodo, Owner: "alice"})
	r := NewReconciler(c, nil)

	if r.Apply(domain.Event{Type: domain.EventTaskUpdate}) {
		t.Fatal("update event without a task payload should be ignored")
	}
	if r.Apply(domain.Event{Type: "task_exploded"}) {
		t.Fatal("unknown event type should be ignored")
	}
	if c.Len() != 1 {
		t.Fatalf("cache size = %d, want 1", c.Len())
	}
}
