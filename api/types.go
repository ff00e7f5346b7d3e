package api

import (
	"context"

	"taskboard/domain"
)

// Storage abstracts persistence for the board service and handlers.
type Storage interface {
	FetchTasks(ctx context.Context) ([]domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	UpsertTasks(ctx context.Context, tasks []domain.Task) error
	DeleteTask(ctx context.Context, id string) error
	EnqueueNotification(ctx context.Context, n domain.Notification) error
}

// Authenticator is implemented by types able to derive the acting user
// from an Authorization header.
type Authenticator interface {
	ActorFromAuthHeader(string) (domain.Actor, error)
}

// Publisher delivers committed events to every connected client.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event)
}

// Deduper prevents reprocessing of duplicate mutation intents.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, actor, key string) (bool, error)
	// Remove deletes a previously added key, used when processing fails.
	Remove(ctx context.Context, actor, key string) error
}
