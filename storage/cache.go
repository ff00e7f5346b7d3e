package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

const boardCacheKey = "board:tasks"

type backend interface {
	FetchTasks(ctx context.Context) ([]domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	UpsertTasks(ctx context.Context, tasks []domain.Task) error
	DeleteTask(ctx context.Context, id string) error
	EnqueueNotification(ctx context.Context, n domain.Notification) error
}

// Cache wraps a Store with a Redis-backed snapshot cache for board reads.
// Every mutation evicts the snapshot so the next read refetches the
// authoritative state.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchTasks(ctx context.Context) ([]domain.Task, error) {
	if tasks, ok := c.loadSnapshot(ctx); ok {
		return tasks, nil
	}

	tasks, err := c.base.FetchTasks(ctx)
	if err != nil {
		return nil, err
	}

	c.storeSnapshot(ctx, tasks)
	return tasks, nil
}

func (c *Cache) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return c.base.GetTask(ctx, id)
}

func (c *Cache) UpsertTasks(ctx context.Context, tasks []domain.Task) error {
	if err := c.base.UpsertTasks(ctx, tasks); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, id string) error {
	if err := c.base.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) EnqueueNotification(ctx context.Context, n domain.Notification) error {
	return c.base.EnqueueNotification(ctx, n)
}

func (c *Cache) loadSnapshot(ctx context.Context) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardCacheKey).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) storeSnapshot(ctx context.Context, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardCacheKey, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, boardCacheKey).Result()
}
