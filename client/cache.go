// Package client implements the client half of the board protocol: a local
// task cache, the reconciler that merges push-channel events into it, and
// the dispatcher that applies optimistic mutations and sends intents to the
// server.
package client

import (
	"sync"

	"taskboard/domain"
)

// Cache is the client-local projection of the board and the single source
// of truth for rendering. Entries are either optimistic (locally mutated,
// unconfirmed) or authoritative; staleness is implicit and resolved by
// replace-on-arrival. All access is serialized by one mutex, matching the
// single event-loop model: no two merges or optimistic mutations overlap.
type Cache struct {
	mu    sync.Mutex
	tasks map[string]domain.Task
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{tasks: make(map[string]domain.Task)}
}

// Snapshot returns a copy of every cached task.
func (c *Cache) Snapshot() []domain.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, t)
	}
	return out
}

// Column returns the cached tasks of one column in order.
func (c *Cache) Column(s domain.Status) []domain.Task {
	return domain.Column(c.Snapshot(), s)
}

// Get returns the cached task with the given id.
func (c *Cache) Get(id string) (domain.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	return t, ok
}

// Len reports the number of cached tasks.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

// apply runs one transition over the cache state under the lock.
func (c *Cache) apply(fn func(map[string]domain.Task)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.tasks)
}
