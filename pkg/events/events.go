// Package events defines the domain events emitted on workflow, task and
// notification state changes.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/nivio/flowd/pkg/models"
)

type EventType string

// Topic is the durable queue all domain events are published to. Delivery
// is at-least-once; consumers must tolerate duplicates.
const Topic = "flowd.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Workflow lifecycle events.
	WorkflowStartedEvent       EventType = "workflow.started"
	WorkflowNodeStartedEvent   EventType = "workflow.node.started"
	WorkflowNodeCompletedEvent EventType = "workflow.node.completed"
	WorkflowCompletedEvent     EventType = "workflow.completed"
	WorkflowFailedEvent        EventType = "workflow.failed"
	WorkflowCancelledEvent     EventType = "workflow.cancelled"

	// Task lifecycle events.
	TaskCreatedEvent    EventType = "task.created"
	TaskCompletedEvent  EventType = "task.completed"
	TaskReassignedEvent EventType = "task.reassigned"

	// Notification events.
	NotificationCreatedEvent EventType = "notification.created"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	InstanceID string         `json:"instance_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, instanceID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		InstanceID: instanceID,
		Metadata:   make(map[string]any),
	}
}

type WorkflowStarted struct {
	BaseEvent

	DefinitionID string         `json:"definition_id"`
	StartedBy    string         `json:"started_by"`
	InitialData  map[string]any `json:"initial_data,omitempty"`
}

func (e WorkflowStarted) GetType() EventType { return WorkflowStartedEvent }

type WorkflowNodeStarted struct {
	BaseEvent

	NodeID   string          `json:"node_id"`
	NodeType models.NodeType `json:"node_type"`
	Label    string          `json:"label,omitempty"`
}

func (e WorkflowNodeStarted) GetType() EventType { return WorkflowNodeStartedEvent }

type WorkflowNodeCompleted struct {
	BaseEvent

	NodeID   string          `json:"node_id"`
	NodeType models.NodeType `json:"node_type"`
	Result   map[string]any  `json:"result,omitempty"`
}

func (e WorkflowNodeCompleted) GetType() EventType { return WorkflowNodeCompletedEvent }

type WorkflowCompleted struct {
	BaseEvent

	DefinitionID string        `json:"definition_id"`
	Duration     time.Duration `json:"duration"`
}

func (e WorkflowCompleted) GetType() EventType { return WorkflowCompletedEvent }

type WorkflowFailed struct {
	BaseEvent

	NodeID string `json:"node_id,omitempty"`
	Error  string `json:"error"`
}

func (e WorkflowFailed) GetType() EventType { return WorkflowFailedEvent }

type WorkflowCancelled struct {
	BaseEvent

	CancelledBy    string `json:"cancelled_by"`
	TasksCancelled int    `json:"tasks_cancelled"`
}

func (e WorkflowCancelled) GetType() EventType { return WorkflowCancelledEvent }

type TaskCreated struct {
	BaseEvent

	TaskID     string          `json:"task_id"`
	NodeID     string          `json:"node_id,omitempty"`
	TaskType   models.TaskType `json:"task_type"`
	AssignedTo string          `json:"assigned_to"`
	Title      string          `json:"title"`
}

func (e TaskCreated) GetType() EventType { return TaskCreatedEvent }

type TaskCompleted struct {
	BaseEvent

	TaskID      string `json:"task_id"`
	NodeID      string `json:"node_id,omitempty"`
	CompletedBy string `json:"completed_by"`
	Decision    string `json:"decision,omitempty"`
}

func (e TaskCompleted) GetType() EventType { return TaskCompletedEvent }

type TaskReassigned struct {
	BaseEvent

	TaskID       string `json:"task_id"`
	FromAssignee string `json:"from_assignee"`
	ToAssignee   string `json:"to_assignee"`
	ReassignedBy string `json:"reassigned_by"`
}

func (e TaskReassigned) GetType() EventType { return TaskReassignedEvent }

type NotificationCreated struct {
	BaseEvent

	NotificationID string         `json:"notification_id"`
	UserID         string         `json:"user_id,omitempty"`
	Category       string         `json:"category"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Data           map[string]any `json:"data,omitempty"`
}

func (e NotificationCreated) GetType() EventType { return NotificationCreatedEvent }
