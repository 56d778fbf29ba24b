// Package tasks implements the task lifecycle: listing, completion,
// reassignment and statistics. All completion paths funnel through the
// execution engine so graph state and task state stay consistent.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nivio/flowd/pkg/engine"
	"github.com/nivio/flowd/pkg/eventbus"
	"github.com/nivio/flowd/pkg/events"
	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/persistence"
)

// Stats aggregates task counts for dashboards.
type Stats struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Rejected   int `json:"rejected"`
	Cancelled  int `json:"cancelled"`
	Overdue    int `json:"overdue"`
}

// Service exposes the task lifecycle operations. It never advances the
// workflow graph itself; completion is delegated to the engine.
type Service struct {
	persistence persistence.Persistence
	engine      *engine.Engine
	publisher   eventbus.EventPublisher
	notifier    engine.Notifier
	logger      *slog.Logger
}

func NewService(
	persistence persistence.Persistence,
	eng *engine.Engine,
	publisher eventbus.EventPublisher,
	notifier engine.Notifier,
	logger *slog.Logger,
) *Service {
	return &Service{
		persistence: persistence,
		engine:      eng,
		publisher:   publisher,
		notifier:    notifier,
		logger:      logger.With("module", "tasks"),
	}
}

// ListByAssignee returns tasks where the user is the primary assignee or a
// co-assignee, optionally narrowed by status and type.
func (s *Service) ListByAssignee(
	ctx context.Context,
	userID string,
	status *models.TaskStatus,
	taskType *models.TaskType,
) ([]*models.Task, error) {
	return s.persistence.Tasks().List(ctx, persistence.TaskFilter{
		AssignedTo: userID,
		Status:     status,
		Type:       taskType,
	})
}

// List returns tasks matching the filter.
func (s *Service) List(ctx context.Context, filter persistence.TaskFilter) ([]*models.Task, error) {
	return s.persistence.Tasks().List(ctx, filter)
}

// GetByID returns the task.
func (s *Service) GetByID(ctx context.Context, id string) (*models.Task, error) {
	return s.persistence.Tasks().GetByID(ctx, id)
}

// Complete finishes the task on behalf of the caller. The caller must be
// an assignee and the task must be in a completable status; the engine
// then folds the result into the instance and resumes the graph.
func (s *Service) Complete(
	ctx context.Context,
	taskID, userID, decision string,
	taskData map[string]any,
) (*models.Task, error) {
	task, err := s.persistence.Tasks().GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !task.IsAssignee(userID) {
		return nil, fmt.Errorf("%w: task %s is not assigned to %s", engine.ErrInvalidState, taskID, userID)
	}

	if !task.Status.IsCompletable() {
		return nil, fmt.Errorf("%w: task %s is %s", engine.ErrInvalidState, taskID, task.Status)
	}

	return s.engine.CompleteTask(ctx, taskID, userID, decision, taskData)
}

// Reassign moves a pending task to a new assignee. Tasks that have been
// picked up or finished cannot be reassigned.
func (s *Service) Reassign(ctx context.Context, taskID, toUserID, reassignedBy string) (*models.Task, error) {
	task, err := s.persistence.Tasks().GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if task.Status != models.TaskStatusPending {
		return nil, fmt.Errorf("%w: only pending tasks can be reassigned, task %s is %s",
			engine.ErrInvalidState, taskID, task.Status)
	}

	from := task.AssignedTo
	task.AssignedTo = toUserID
	task.UpdatedAt = time.Now().UTC()

	if err := s.persistence.Tasks().Save(ctx, task); err != nil {
		return nil, err
	}

	event := events.TaskReassigned{
		BaseEvent:    events.NewBaseEvent(events.TaskReassignedEvent, task.InstanceID),
		TaskID:       task.ID,
		FromAssignee: from,
		ToAssignee:   toUserID,
		ReassignedBy: reassignedBy,
	}
	if err := s.publisher.Publish(ctx, task.InstanceID, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish reassignment event",
			"task_id", taskID, "error", err)
	}

	_, err = s.notifier.Create(ctx, toUserID, "task_assigned", task.Title,
		fmt.Sprintf("Task %q has been reassigned to you", task.Title), map[string]any{
			"instance_id": task.InstanceID,
			"task_id":     task.ID,
		})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to notify new assignee",
			"task_id", taskID, "assignee", toUserID, "error", err)
	}

	s.logger.InfoContext(ctx, "Task reassigned",
		"task_id", taskID, "from", from, "to", toUserID, "by", reassignedBy)

	return task, nil
}

// SetStatus is the administrative override for task status. It bypasses
// the engine and must not be used to complete work that should advance a
// workflow.
func (s *Service) SetStatus(ctx context.Context, taskID string, status models.TaskStatus) (*models.Task, error) {
	task, err := s.persistence.Tasks().GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	task.Status = status
	task.UpdatedAt = time.Now().UTC()

	if status.IsTerminal() && task.CompletedAt == nil {
		now := time.Now().UTC()
		task.CompletedAt = &now
	}

	if err := s.persistence.Tasks().Save(ctx, task); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Task status overridden", "task_id", taskID, "status", status)

	return task, nil
}

// StatsByAssignee aggregates the user's task counts by status, plus the
// number of overdue pending tasks.
func (s *Service) StatsByAssignee(ctx context.Context, userID string) (*Stats, error) {
	tasks, err := s.persistence.Tasks().List(ctx, persistence.TaskFilter{AssignedTo: userID})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	stats := &Stats{}

	for _, task := range tasks {
		switch task.Status {
		case models.TaskStatusPending:
			stats.Pending++
		case models.TaskStatusInProgress:
			stats.InProgress++
		case models.TaskStatusCompleted:
			stats.Completed++
		case models.TaskStatusRejected:
			stats.Rejected++
		case models.TaskStatusCancelled:
			stats.Cancelled++
		}

		if task.IsOverdue(now) {
			stats.Overdue++
		}
	}

	return stats, nil
}
