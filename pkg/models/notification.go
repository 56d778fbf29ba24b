package models

import "time"

// Notification is a persisted message for a user. An empty UserID marks a
// broadcast notification. Only the read state is ever mutated.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	Category  string         `json:"category"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Read      bool           `json:"read"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Subscription records that a user wants push notifications about an
// instance's progress. Unique per (user, instance).
type Subscription struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	InstanceID string    `json:"instance_id"`
	CreatedAt  time.Time `json:"created_at"`
}
