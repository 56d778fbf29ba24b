package models

import "time"

// TimerRecord is a persisted "due at" marker for a timer node. A periodic
// sweep resumes the instance once the due time has passed, so scheduled
// work survives a process restart.
type TimerRecord struct {
	ID         string     `json:"id"`
	InstanceID string     `json:"instance_id"`
	NodeID     string     `json:"node_id"`
	DueAt      time.Time  `json:"due_at"`
	FiredAt    *time.Time `json:"fired_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
