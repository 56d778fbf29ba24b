package models

import "encoding/json"

// Type-specific node configuration payloads. Node.Data.Config is decoded
// into one of these by the engine's node handlers.

// HumanNodeConfig configures form and task nodes.
type HumanNodeConfig struct {
	AssignedTo   any            `json:"assignedTo"`
	FormID       string         `json:"formId,omitempty"`
	Priority     string         `json:"priority,omitempty"`
	DueDate      string         `json:"dueDate,omitempty"`
	Instructions string         `json:"instructions,omitempty"`
	FormFields   []FormField    `json:"formFields,omitempty"`
	JSONSchema   map[string]any `json:"formJsonSchema,omitempty"`
}

// Approval aggregation modes.
const (
	ApprovalTypeSequential = "sequential"
	ApprovalTypeParallel   = "parallel"
)

// ApprovalNodeConfig configures approval nodes.
type ApprovalNodeConfig struct {
	Approvers    any    `json:"approvers"`
	ApprovalType string `json:"approvalType,omitempty"`
	Priority     string `json:"priority,omitempty"`
}

// ConditionNodeConfig configures condition nodes.
type ConditionNodeConfig struct {
	Condition Condition `json:"condition"`
}

// TimerNodeConfig configures timer nodes. Delay is in milliseconds.
type TimerNodeConfig struct {
	Delay int64 `json:"delay"`
}

// MessageNodeConfig configures notification, email and sms nodes.
type MessageNodeConfig struct {
	Recipients any    `json:"recipients"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
}

// DecodeConfig unmarshals a node's loosely typed config map into a typed
// configuration struct via a JSON round-trip.
func DecodeConfig(config map[string]any, out any) error {
	raw, err := json.Marshal(config)
	if err != nil {
		return err
	}

	return json.Unmarshal(raw, out)
}
