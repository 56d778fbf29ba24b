package models

import "time"

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusPending   InstanceStatus = "pending"
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFailed    InstanceStatus = "failed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further transitions.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed || s == InstanceStatusCancelled
}

// WorkflowInstance is a single execution of a workflow definition. The
// current node pointer and the data bag are mutated only by the execution
// engine and by task completion callbacks.
type WorkflowInstance struct {
	ID            string         `json:"id"`
	DefinitionID  string         `json:"definition_id"`
	Status        InstanceStatus `json:"status"`
	CurrentNodeID string         `json:"current_node_id"`
	Data          map[string]any `json:"data"`
	StartedBy     string         `json:"started_by"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	Error         string         `json:"error,omitempty"`
}
