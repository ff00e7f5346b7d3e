package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"taskboard/domain"
)

// ErrNotFound is returned when a task id has no row in the task table,
// typically because another actor already deleted it. It aliases
// domain.ErrUnknownTask so handlers can map both to the same response.
var ErrNotFound = domain.ErrUnknownTask

// boardPartition keys every task row. The board is shared by all users, so
// a single partition keeps column scans to one range query.
const boardPartition = "board"

// Store persists the authoritative task set in Azure Table Storage and
// hands notifications to an Azure Queue for the relay to deliver.
type Store struct {
	taskTable   *aztables.Client
	notifyQueue *azqueue.QueueClient
}

// New creates a Store from the given connection string.
func New(connStr, tasksTable, notifyQueue string) (*Store, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	tt := svc.NewClient(tasksTable)
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	nq, err := azqueue.NewQueueClientFromConnectionString(connStr, notifyQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Store{taskTable: tt, notifyQueue: nq}, nil
}

type taskEntity struct {
	aztables.Entity
	Title    string `json:"Title"`
	Status   string `json:"Status"`
	Order    int    `json:"Order"`
	Owner    string `json:"Owner"`
	Revision int64  `json:"Revision"`
}

func entityToTask(ent taskEntity) domain.Task {
	return domain.Task{
		ID:       ent.RowKey,
		Title:    ent.Title,
		Status:   domain.Status(ent.Status),
		Order:    ent.Order,
		Owner:    ent.Owner,
		Revision: ent.Revision,
	}
}

func taskToEntity(t domain.Task) taskEntity {
	return taskEntity{
		Entity:   aztables.Entity{PartitionKey: boardPartition, RowKey: t.ID},
		Title:    t.Title,
		Status:   string(t.Status),
		Order:    t.Order,
		Owner:    t.Owner,
		Revision: t.Revision,
	}
}

// FetchTasks retrieves every task on the board.
func (s *Store) FetchTasks(ctx context.Context) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + boardPartition + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			tasks = append(tasks, entityToTask(ent))
		}
	}
	return tasks, nil
}

// GetTask retrieves a single task by id.
func (s *Store) GetTask(ctx context.Context, id string) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, boardPartition, id, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Task{}, ErrNotFound
		}
		return domain.Task{}, err
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Task{}, err
	}
	return entityToTask(ent), nil
}

// UpsertTasks writes every given task row. Rows are written individually;
// the caller serializes column recomputation so interleaved writes cannot
// break the order invariant.
func (s *Store) UpsertTasks(ctx context.Context, tasks []domain.Task) error {
	for _, t := range tasks {
		data, err := json.Marshal(taskToEntity(t))
		if err != nil {
			return err
		}
		if _, err := s.taskTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
			return err
		}
	}
	return nil
}

// DeleteTask removes a task row. Deleting an absent row returns ErrNotFound.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.taskTable.DeleteEntity(ctx, boardPartition, id, nil); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// EnqueueNotification hands a board notification to the relay queue.
func (s *Store) EnqueueNotification(ctx context.Context, n domain.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = s.notifyQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// DequeueNotifications fetches up to max pending notifications, removing
// them from the queue. Used by the notify relay.
func (s *Store) DequeueNotifications(ctx context.Context, max int32) ([]domain.Notification, error) {
	resp, err := s.notifyQueue.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{NumberOfMessages: &max})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Notification, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		if msg.MessageText == nil {
			continue
		}
		var n domain.Notification
		if err := json.Unmarshal([]byte(*msg.MessageText), &n); err != nil {
			continue
		}
		out = append(out, n)
		if msg.MessageID != nil && msg.PopReceipt != nil {
			if _, err := s.notifyQueue.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}
