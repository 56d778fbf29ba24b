package models

import "time"

// HistoryEntry is an append-only audit record of an instance transition.
// Entries are never updated or deleted.
type HistoryEntry struct {
	ID         string         `json:"id"`
	InstanceID string         `json:"instance_id"`
	Step       string         `json:"step"`
	Action     string         `json:"action"`
	UserID     string         `json:"user_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
