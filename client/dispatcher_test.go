package client

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"taskboard/domain"
)

type countingServer struct {
	*httptest.Server
	reorders  atomic.Int64
	snapshots atomic.Int64
}

// newCountingServer serves the mutation endpoints with fixed status codes
// and counts how often each surface is hit.
func newCountingServer(t *testing.T, reorderStatus int, snapshot []domain.Task) *countingServer {
	t.Helper()
	cs := &countingServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tasks/reorder", func(w http.ResponseWriter, r *http.Request) {
		cs.reorders.Add(1)
		if r.Header.Get("Idempotency-Key") == "" {
			t.Error("reorder request without an Idempotency-Key header")
		}
		w.WriteHeader(reorderStatus)
	})
	mux.HandleFunc("GET /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		cs.snapshots.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"tasks": snapshot})
	})
	cs.Server = httptest.NewServer(mux)
	t.Cleanup(cs.Close)
	return cs
}

func TestMoveAppliesOptimistically(t *testing.T) {
	c := seedCache(t,
		domain.Task{ID: "a", Status: domain.StatusTodo, Order: 0, Owner: "alice"},
		domain.Task{ID: "b", Status: domain.StatusInProgress, Order: 0, Owner: "alice"},
	)
	srv := newCountingServer(t, http.StatusOK, nil)
	d := NewDispatcher(c, domain.Actor{Name: "alice"}, srv.URL, "token", srv.Client(), nil)

	if err := d.Move("a", domain.StatusInProgress, 0); err != nil {
		t.Fatalf("Move: %v", err)
	}

	// The cache reflects the move before the server ever answers.
	col := c.Column(domain.StatusInProgress)
	if len(col) != 2 || col[0].ID != "a" || col[1].ID != "b" {
		t.Fatalf("in_progress column = %v, want [a b]", ids(col))
	}
	if got := len(c.Column(domain.StatusTodo)); got != 0 {
		t.Fatalf("todo column has %d tasks, want 0", got)
	}

	d.Wait()
	if got := srv.reorders.Load(); got != 1 {
		t.Fatalf("reorder requests = %d, want 1", got)
	}
}

func TestMoveDeniedLocallySkipsNetwork(t *testing.T) {
	c := seedCache(t, domain.Task{ID: "a", Status: domain.StatusTodo, Order: 0, Owner: "bob"})
	srv := newCountingServer(t, http.StatusOK, nil)
	d := NewDispatcher(c, domain.Actor{Name: "mallory"}, srv.URL, "token", srv.Client(), nil)

	err := d.Move("a", domain.StatusDone, 0)
	if !errors.Is(err, domain.ErrNotAllowed) {
		t.Fatalf("err = %v, want ErrNotAllowed", err)
	}
	d.Wait()
	if got := srv.reorders.Load(); got != 0 {
		t.Fatalf("denied move still sent %d requests", got)
	}
	if got := cachedTask(t, c, "a").Status; got != domain.StatusTodo {
		t.Fatalf("denied move changed the cache: status = %s", got)
	}
}

func TestMoveRejectionRefreshesSnapshot(t *testing.T) {
	c := seedCache(t, domain.Task{ID: "a", Status: domain.StatusTodo, Order: 0, Owner: "alice"})
	authoritative := []domain.Task{
		{ID: "a", Status: domain.StatusTodo, Order: 0, Owner: "alice", Revision: 9},
	}
	srv := newCountingServer(t, http.StatusForbidden, authoritative)
	d := NewDispatcher(c, domain.Actor{Name: "alice"}, srv.URL, "token", srv.Client(), nil)

	if err := d.Move("a", domain.StatusDone, 0); err != nil {
		t.Fatalf("Move: %v", err)
	}
	d.Wait()

	if got := srv.snapshots.Load(); got != 1 {
		t.Fatalf("snapshot fetches = %d, want 1", got)
	}
	if got := cachedTask(t, c, "a"); got.Status != domain.StatusTodo || got.Revision != 9 {
		t.Fatalf("cache not replaced by the authoritative snapshot: %+v", got)
	}
}

func TestCreateSwapsPlaceholderForServerTask(t *testing.T) {
	c := seedCache(t)
	created := domain.Task{ID: "srv-1", Title: "ship it", Status: domain.StatusTodo, Order: 0, Owner: "alice", Revision: 1}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(created)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := NewDispatcher(c, domain.Actor{Name: "alice"}, srv.URL, "token", srv.Client(), nil)
	if err := d.Create("ship it"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The placeholder is visible until the response lands.
	if got := len(c.Column(domain.StatusTodo)); got != 1 {
		t.Fatalf("todo column has %d tasks right after Create, want 1", got)
	}

	d.Wait()
	if c.Len() != 1 {
		t.Fatalf("cache size = %d after swap, want 1", c.Len())
	}
	if got := cachedTask(t, c, "srv-1"); got != created {
		t.Fatalf("cached task = %+v, want the server's task", got)
	}
}

func TestCreateRejectsEmptyTitle(t *testing.T) {
	d := NewDispatcher(seedCache(t), domain.Actor{Name: "alice"}, "http://unused", "token", nil, nil)
	if err := d.Create(""); err == nil {
		t.Fatal("expected an error for an empty title")
	}
}

func TestDeleteTreats404AsAlreadyGone(t *testing.T) {
	c := seedCache(t, domain.Task{ID: "a", Status: domain.StatusTodo, Order: 0, Owner: "alice"})
	var snapshots atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("GET /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		snapshots.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"tasks": []domain.Task{}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := NewDispatcher(c, domain.Actor{Name: "alice"}, srv.URL, "token", srv.Client(), nil)
	if err := d.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	d.Wait()

	if _, ok := c.Get("a"); ok {
		t.Fatal("task still cached after optimistic delete")
	}
	if got := snapshots.Load(); got != 0 {
		t.Fatalf("a benign 404 triggered %d snapshot refreshes", got)
	}
}

func TestDeleteRequiresOwnerOrAdmin(t *testing.T) {
	c := seedCache(t, domain.Task{ID: "a", Status: domain.StatusTodo, Order: 0, Owner: "bob"})
	d := NewDispatcher(c, domain.Actor{Name: "mallory"}, "http://unused", "token", nil, nil)

	if err := d.Delete("a"); !errors.Is(err, domain.ErrNotAllowed) {
		t.Fatalf("err = %v, want ErrNotAllowed", err)
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("denied delete removed the task from the cache")
	}
}

func TestEditTitleAppliesOptimistically(t *testing.T) {
	c := seedCache(t, domain.Task{ID: "a", Title: "old", Status: domain.StatusTodo, Order: 0, Owner: "alice"})

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := NewDispatcher(c, domain.Actor{Name: "alice"}, srv.URL, "token", srv.Client(), nil)
	if err := d.EditTitle("a", "new"); err != nil {
		t.Fatalf("EditTitle: %v", err)
	}
	if got := cachedTask(t, c, "a").Title; got != "new" {
		t.Fatalf("title = %q immediately after EditTitle, want %q", got, "new")
	}
	d.Wait()
}

func ids(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
