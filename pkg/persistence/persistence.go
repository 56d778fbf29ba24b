// Package persistence provides the data storage abstraction for workflow
// definitions, instances, tasks, history, notifications and timers.
package persistence

import (
	"context"
	"time"

	"github.com/nivio/flowd/pkg/models"
)

// Persistence groups the entity repositories behind a single connection
// lifecycle.
type Persistence interface {
	Definitions() DefinitionRepository
	Instances() InstanceRepository
	Tasks() TaskRepository
	History() HistoryRepository
	Notifications() NotificationRepository
	Subscriptions() SubscriptionRepository
	Timers() TimerRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefinitionRepository stores workflow definitions.
type DefinitionRepository interface {
	Save(ctx context.Context, def *models.WorkflowDefinition) error
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	List(ctx context.Context) ([]*models.WorkflowDefinition, error)
	Delete(ctx context.Context, id string) error
}

// InstanceFilter narrows instance listings. Zero values match everything.
type InstanceFilter struct {
	DefinitionID string
	Status       *models.InstanceStatus
	StartedBy    string
	Limit        int
	Offset       int
}

// InstanceRepository stores workflow instances.
type InstanceRepository interface {
	Save(ctx context.Context, instance *models.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error)
	List(ctx context.Context, filter InstanceFilter) ([]*models.WorkflowInstance, error)
}

// TaskFilter narrows task listings. Zero values match everything.
type TaskFilter struct {
	InstanceID string
	NodeID     string
	AssignedTo string
	Status     *models.TaskStatus
	Type       *models.TaskType
	Limit      int
	Offset     int
}

// TaskRepository stores tasks.
type TaskRepository interface {
	Save(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id string) (*models.Task, error)
	List(ctx context.Context, filter TaskFilter) ([]*models.Task, error)
	Count(ctx context.Context, filter TaskFilter) (int, error)
}

// HistoryRepository stores the append-only audit trail. Entries are never
// updated or deleted.
type HistoryRepository interface {
	Append(ctx context.Context, entry *models.HistoryEntry) error
	ListByInstance(ctx context.Context, instanceID string) ([]*models.HistoryEntry, error)
}

// NotificationFilter narrows notification listings.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// NotificationRepository stores notification records.
type NotificationRepository interface {
	Save(ctx context.Context, notification *models.Notification) error
	GetByID(ctx context.Context, id string) (*models.Notification, error)
	List(ctx context.Context, filter NotificationFilter) ([]*models.Notification, error)
	Delete(ctx context.Context, id string) error
}

// SubscriptionRepository stores (user, instance) push subscriptions.
type SubscriptionRepository interface {
	Save(ctx context.Context, sub *models.Subscription) error
	Get(ctx context.Context, userID, instanceID string) (*models.Subscription, error)
	ListByInstance(ctx context.Context, instanceID string) ([]*models.Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Subscription, error)
	Delete(ctx context.Context, userID, instanceID string) error
}

// TimerRepository stores durable timer records.
type TimerRepository interface {
	Save(ctx context.Context, timer *models.TimerRecord) error
	Due(ctx context.Context, now time.Time) ([]*models.TimerRecord, error)
	MarkFired(ctx context.Context, id string, firedAt time.Time) error
}
