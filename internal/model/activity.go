package model

import "time"

type ActivityLog struct {
	ID        string    `db:"id" json:"id"`
	SessionID *string   `db:"session_id" json:"sessionId,omitempty"`
	UserID    *string   `db:"user_id" json:"userId,omitempty"`
	Action    string    `db:"action" json:"action"`
	Details   JSONMap   `db:"details" json:"details,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Backup records an on-demand export of a session's derived state.
type Backup struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"sessionId"`
	Path      string    `db:"path" json:"path"`
	SizeBytes int64     `db:"size_bytes" json:"sizeBytes"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
