package model

import "time"

type Call struct {
	SessionID string    `db:"session_id" json:"sessionId"`
	ID        string    `db:"id" json:"id"`
	ChatJID   string    `db:"chat_jid" json:"chatJid"`
	CallerJID string    `db:"caller_jid" json:"callerJid"`
	IsVideo   bool      `db:"is_video" json:"isVideo"`
	Outcome   *string   `db:"outcome" json:"outcome,omitempty"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
