// Package web provides the HTTP surface: REST handlers for workflow,
// task, form and notification operations plus the SSE push stream.
package web

import "github.com/nivio/flowd/pkg/models"

// CreateDefinitionRequest is the request body for creating a workflow
// definition. Definitions are created inactive; activation is a separate
// call.
type CreateDefinitionRequest struct {
	Name          string        `json:"name"                     validate:"required,min=3"`
	Description   string        `json:"description"`
	Nodes         []models.Node `json:"nodes"                    validate:"required,min=1,dive"`
	Edges         []models.Edge `json:"edges"                    validate:"dive"`
	CreatedBy     string        `json:"created_by"               validate:"required"`
	AllowedUsers  []string      `json:"allowed_users,omitempty"`
	AllowedGroups []string      `json:"allowed_groups,omitempty"`
}

// UpdateDefinitionRequest supports partial updates of definition
// metadata and graph.
type UpdateDefinitionRequest struct {
	Name        *string       `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string       `json:"description,omitempty"`
	Nodes       []models.Node `json:"nodes,omitempty"       validate:"omitempty,min=1,dive"`
	Edges       []models.Edge `json:"edges,omitempty"       validate:"omitempty,dive"`
}

// StartInstanceRequest is the request body for starting a workflow
// instance.
type StartInstanceRequest struct {
	Data      map[string]any `json:"data,omitempty"`
	StartedBy string         `json:"started_by"     validate:"required"`
}

// CancelInstanceRequest identifies who cancels a running instance.
type CancelInstanceRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// CompleteTaskRequest is the request body for completing a task.
type CompleteTaskRequest struct {
	UserID   string         `json:"user_id"             validate:"required"`
	Decision string         `json:"decision,omitempty"  validate:"omitempty,oneof=approved rejected"`
	TaskData map[string]any `json:"task_data,omitempty"`
}

// ReassignTaskRequest is the request body for moving a pending task to a
// new assignee.
type ReassignTaskRequest struct {
	ToUserID     string `json:"to_user_id"    validate:"required"`
	ReassignedBy string `json:"reassigned_by" validate:"required"`
}

// LockRequest identifies the user acquiring or releasing a form lease.
type LockRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Force  bool   `json:"force,omitempty"`
}

// SaveDraftRequest is the request body for saving a form draft.
type SaveDraftRequest struct {
	UserID   string         `json:"user_id"   validate:"required"`
	FormData map[string]any `json:"form_data"`
	Progress int            `json:"progress"  validate:"gte=0,lte=100"`
}

// SubmitFormRequest is the request body for the final form submission.
type SubmitFormRequest struct {
	UserID   string         `json:"user_id"   validate:"required"`
	FormData map[string]any `json:"form_data" validate:"required"`
}

// SubscribeRequest is the request body for subscribing a user to an
// instance's updates.
type SubscribeRequest struct {
	UserID string `json:"user_id" validate:"required"`
}
