package models

import (
	"slices"
	"time"
)

// TaskType distinguishes how a task was generated and what a completion
// means for the originating node.
type TaskType string

const (
	TaskTypeForm     TaskType = "form"
	TaskTypeTask     TaskType = "task"
	TaskTypeApproval TaskType = "approval"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusRejected   TaskStatus = "rejected"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusRejected || s == TaskStatusCancelled
}

// IsCompletable reports whether a task in this status may still be
// completed by an assignee.
func (s TaskStatus) IsCompletable() bool {
	return s == TaskStatusPending || s == TaskStatusInProgress
}

// Approval decisions recorded on task completion.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Task is a unit of human work bound to exactly one workflow instance and,
// when generated by the engine, one originating node.
type Task struct {
	ID          string     `json:"id"`
	InstanceID  string     `json:"instance_id"`
	NodeID      string     `json:"node_id,omitempty"`
	Type        TaskType   `json:"type"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	AssignedTo  string     `json:"assigned_to"`
	Assignees   []string   `json:"assignees,omitempty"`
	Status      TaskStatus `json:"status"`
	Priority    string     `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`

	// Node-specific context carried from the originating node config.
	TaskData map[string]any `json:"task_data,omitempty"`

	// Approval outcome, empty until completion.
	Decision string `json:"decision,omitempty"`

	// Form editing state. LockedBy and LockedAt form the advisory lease.
	FormSchema   *FormSchema    `json:"form_schema,omitempty"`
	FormData     map[string]any `json:"form_data,omitempty"`
	FormProgress int            `json:"form_progress"`
	LockedBy     string         `json:"locked_by,omitempty"`
	LockedAt     *time.Time     `json:"locked_at,omitempty"`

	SubmittedBy string     `json:"submitted_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsAssignee reports whether the user is the primary assignee or among the
// co-assignees.
func (t *Task) IsAssignee(userID string) bool {
	if t.AssignedTo == userID {
		return true
	}

	return slices.Contains(t.Assignees, userID)
}

// IsOverdue reports whether the task is still pending past its due date.
func (t *Task) IsOverdue(now time.Time) bool {
	return t.Status == TaskStatusPending && t.DueDate != nil && t.DueDate.Before(now)
}
