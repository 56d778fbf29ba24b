// Package engine implements the workflow execution state machine: a
// graph-walking interpreter that advances instances node by node until a
// node requires human input or the graph terminates.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nivio/flowd/pkg/eventbus"
	"github.com/nivio/flowd/pkg/events"
	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/persistence"
)

// History actions recorded on the instance audit trail.
const (
	historyWorkflowStarted   = "workflow_started"
	historyWorkflowCompleted = "workflow_completed"
	historyWorkflowFailed    = "workflow_failed"
	historyWorkflowCancelled = "workflow_cancelled"
	historyNodeStarted       = "node_started"
	historyNodeCompleted     = "node_completed"
	historyTaskCreated       = "task_created"
	historyTaskCompleted     = "task_completed"
	historyTimerScheduled    = "timer_scheduled"
	historyTimerFired        = "timer_fired"
)

// Notifier delivers user-facing notifications created during execution.
// Satisfied by notify.Service.
type Notifier interface {
	Create(ctx context.Context, userID, category, title, message string, data map[string]any) (*models.Notification, error)
	NotifySubscribers(ctx context.Context, instanceID, category, title, message string, data map[string]any) error
}

// Engine drives workflow instances through their definition graphs. All
// collaborators are injected; the engine owns no global state beyond the
// per-instance lock table.
type Engine struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	notifier    Notifier
	logger      *slog.Logger
	tracer      trace.Tracer
	locks       *instanceLocks
}

func New(
	persistence persistence.Persistence,
	publisher eventbus.EventPublisher,
	notifier Notifier,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		persistence: persistence,
		publisher:   publisher,
		notifier:    notifier,
		logger:      logger.With("module", "engine"),
		tracer:      otel.Tracer("flowd.engine"),
		locks:       newInstanceLocks(),
	}
}

// Start creates an instance of the definition positioned at the graph's
// start node and immediately walks the graph. The returned instance
// reflects the state after the walk, which may already be terminal.
func (e *Engine) Start(
	ctx context.Context,
	definitionID string,
	initialData map[string]any,
	startedBy string,
) (*models.WorkflowInstance, error) {
	definition, err := e.persistence.Definitions().GetByID(ctx, definitionID)
	if err != nil {
		return nil, err
	}

	if !definition.Active {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionInactive, definitionID)
	}

	startNode := definition.StartNode()
	if startNode == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoStartNode, definitionID)
	}

	if initialData == nil {
		initialData = make(map[string]any)
	}

	instance := &models.WorkflowInstance{
		ID:            uuid.New().String(),
		DefinitionID:  definition.ID,
		Status:        models.InstanceStatusRunning,
		CurrentNodeID: startNode.ID,
		Data:          initialData,
		StartedBy:     startedBy,
		StartedAt:     time.Now().UTC(),
	}

	if err := e.persistence.Instances().Save(ctx, instance); err != nil {
		return nil, err
	}

	e.appendHistory(ctx, instance.ID, startNode.ID, historyWorkflowStarted, startedBy, map[string]any{
		"definition_id": definition.ID,
	})

	e.publish(ctx, instance.ID, events.WorkflowStarted{
		BaseEvent:    events.NewBaseEvent(events.WorkflowStartedEvent, instance.ID),
		DefinitionID: definition.ID,
		StartedBy:    startedBy,
		InitialData:  initialData,
	})

	e.logger.InfoContext(ctx, "Workflow started",
		"definition_id", definition.ID, "instance_id", instance.ID, "started_by", startedBy)

	if err := e.Resume(ctx, instance.ID); err != nil {
		return nil, err
	}

	return e.persistence.Instances().GetByID(ctx, instance.ID)
}

// Resume walks the graph from the instance's current node until a node
// suspends execution or the instance terminates. No-ops unless the
// instance is running. Safe to call concurrently; walks over the same
// instance are serialized.
func (e *Engine) Resume(ctx context.Context, instanceID string) error {
	release := e.locks.acquire(instanceID)
	defer release()

	return e.resumeLocked(ctx, instanceID)
}

func (e *Engine) resumeLocked(ctx context.Context, instanceID string) error {
	for {
		instance, err := e.persistence.Instances().GetByID(ctx, instanceID)
		if err != nil {
			return err
		}

		if instance.Status != models.InstanceStatusRunning {
			e.logger.InfoContext(ctx, "Resume is a no-op for non-running instance",
				"instance_id", instanceID, "status", instance.Status)

			return nil
		}

		definition, err := e.persistence.Definitions().GetByID(ctx, instance.DefinitionID)
		if err != nil {
			e.failInstance(ctx, instance, "", err)

			return err
		}

		node := definition.NodeByID(instance.CurrentNodeID)
		if node == nil {
			// Graph exhaustion counts as completion.
			return e.completeInstance(ctx, instance)
		}

		outcome, err := e.executeNode(ctx, definition, instance, node)
		if err != nil {
			e.failInstance(ctx, instance, node.ID, err)

			return err
		}

		if !outcome.advance {
			return nil
		}

		e.publish(ctx, instance.ID, events.WorkflowNodeCompleted{
			BaseEvent: events.NewBaseEvent(events.WorkflowNodeCompletedEvent, instance.ID),
			NodeID:    node.ID,
			NodeType:  node.Type,
		})

		e.appendHistory(ctx, instance.ID, node.ID, historyNodeCompleted, "", nil)

		e.notifySubscribers(ctx, instance.ID, "workflow", "Node completed", taskTitle(node))

		if outcome.nextNodeID == "" {
			return e.completeInstance(ctx, instance)
		}

		instance.CurrentNodeID = outcome.nextNodeID
		if err := e.persistence.Instances().Save(ctx, instance); err != nil {
			return err
		}
	}
}

// Fail transitions the instance to failed and records the message. A
// terminal instance is left untouched.
func (e *Engine) Fail(ctx context.Context, instanceID, message string) error {
	release := e.locks.acquire(instanceID)
	defer release()

	instance, err := e.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return err
	}

	if instance.Status.IsTerminal() {
		e.logger.InfoContext(ctx, "Fail is a no-op for terminal instance",
			"instance_id", instanceID, "status", instance.Status)

		return nil
	}

	e.failInstance(ctx, instance, instance.CurrentNodeID, fmt.Errorf("%s", message))

	return nil
}

// Cancel transitions the instance to cancelled and cancels its still
// pending tasks. Tasks already in progress or terminal are left alone.
func (e *Engine) Cancel(ctx context.Context, instanceID, userID string) error {
	release := e.locks.acquire(instanceID)
	defer release()

	instance, err := e.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return err
	}

	if instance.Status.IsTerminal() {
		e.logger.InfoContext(ctx, "Cancel is a no-op for terminal instance",
			"instance_id", instanceID, "status", instance.Status)

		return nil
	}

	pending := models.TaskStatusPending

	tasks, err := e.persistence.Tasks().List(ctx, persistence.TaskFilter{
		InstanceID: instanceID,
		Status:     &pending,
	})
	if err != nil {
		return err
	}

	cancelled := 0

	for _, task := range tasks {
		task.Status = models.TaskStatusCancelled
		task.UpdatedAt = time.Now().UTC()

		if err := e.persistence.Tasks().Save(ctx, task); err != nil {
			e.logger.ErrorContext(ctx, "Failed to cancel task",
				"task_id", task.ID, "error", err)

			continue
		}

		cancelled++
	}

	now := time.Now().UTC()
	instance.Status = models.InstanceStatusCancelled
	instance.CompletedAt = &now

	if err := e.persistence.Instances().Save(ctx, instance); err != nil {
		return err
	}

	e.appendHistory(ctx, instanceID, instance.CurrentNodeID, historyWorkflowCancelled, userID, map[string]any{
		"tasks_cancelled": cancelled,
	})

	e.publish(ctx, instanceID, events.WorkflowCancelled{
		BaseEvent:      events.NewBaseEvent(events.WorkflowCancelledEvent, instanceID),
		CancelledBy:    userID,
		TasksCancelled: cancelled,
	})

	e.notifySubscribers(ctx, instanceID, "workflow", "Workflow cancelled",
		fmt.Sprintf("Workflow instance %s was cancelled", instanceID))

	e.logger.InfoContext(ctx, "Workflow cancelled",
		"instance_id", instanceID, "cancelled_by", userID, "tasks_cancelled", cancelled)

	return nil
}

// completeInstance marks the instance completed. Caller holds the
// instance lock.
func (e *Engine) completeInstance(ctx context.Context, instance *models.WorkflowInstance) error {
	now := time.Now().UTC()
	instance.Status = models.InstanceStatusCompleted
	instance.CompletedAt = &now

	if err := e.persistence.Instances().Save(ctx, instance); err != nil {
		return err
	}

	e.appendHistory(ctx, instance.ID, instance.CurrentNodeID, historyWorkflowCompleted, "", nil)

	e.publish(ctx, instance.ID, events.WorkflowCompleted{
		BaseEvent:    events.NewBaseEvent(events.WorkflowCompletedEvent, instance.ID),
		DefinitionID: instance.DefinitionID,
		Duration:     now.Sub(instance.StartedAt),
	})

	e.notifySubscribers(ctx, instance.ID, "workflow", "Workflow completed",
		fmt.Sprintf("Workflow instance %s completed", instance.ID))

	e.logger.InfoContext(ctx, "Workflow completed",
		"instance_id", instance.ID, "duration", now.Sub(instance.StartedAt))

	return nil
}

// failInstance marks the instance failed and records the cause. Caller
// holds the instance lock.
func (e *Engine) failInstance(ctx context.Context, instance *models.WorkflowInstance, nodeID string, cause error) {
	now := time.Now().UTC()
	instance.Status = models.InstanceStatusFailed
	instance.CompletedAt = &now
	instance.Error = cause.Error()

	if err := e.persistence.Instances().Save(ctx, instance); err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist failed instance",
			"instance_id", instance.ID, "error", err)

		return
	}

	e.appendHistory(ctx, instance.ID, nodeID, historyWorkflowFailed, "", map[string]any{
		"error": cause.Error(),
	})

	e.publish(ctx, instance.ID, events.WorkflowFailed{
		BaseEvent: events.NewBaseEvent(events.WorkflowFailedEvent, instance.ID),
		NodeID:    nodeID,
		Error:     cause.Error(),
	})

	e.notifySubscribers(ctx, instance.ID, "workflow", "Workflow failed", cause.Error())

	e.logger.ErrorContext(ctx, "Workflow failed",
		"instance_id", instance.ID, "node_id", nodeID, "error", cause)
}

// appendHistory writes an audit entry. History failures are logged, not
// propagated: the transition that produced the entry has already been
// committed.
func (e *Engine) appendHistory(ctx context.Context, instanceID, step, action, userID string, data map[string]any) {
	entry := &models.HistoryEntry{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		Step:       step,
		Action:     action,
		UserID:     userID,
		Data:       data,
		CreatedAt:  time.Now().UTC(),
	}

	if err := e.persistence.History().Append(ctx, entry); err != nil {
		e.logger.ErrorContext(ctx, "Failed to append history entry",
			"instance_id", instanceID, "action", action, "error", err)
	}
}

// publish emits a domain event. Publish failures are logged, not
// propagated.
func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "key", key, "error", err)
	}
}

// notifySubscribers fans a notification out to instance subscribers.
// Failures are logged, not propagated.
func (e *Engine) notifySubscribers(ctx context.Context, instanceID, category, title, message string) {
	err := e.notifier.NotifySubscribers(ctx, instanceID, category, title, message, map[string]any{
		"instance_id": instanceID,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to notify subscribers",
			"instance_id", instanceID, "error", err)
	}
}
