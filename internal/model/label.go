package model

import "time"

type Label struct {
	SessionID string     `db:"session_id" json:"sessionId"`
	ID        string     `db:"id" json:"id"`
	Name      *string    `db:"name" json:"name,omitempty"`
	Color     *int       `db:"color" json:"color,omitempty"`
	Deleted   bool       `db:"deleted" json:"deleted"`
	DeletedAt *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time  `db:"updated_at" json:"updatedAt"`
}

// LabelAssociation links a label to a chat or message.
type LabelAssociation struct {
	SessionID string    `db:"session_id" json:"sessionId"`
	LabelID   string    `db:"label_id" json:"labelId"`
	TargetJID string    `db:"target_jid" json:"targetJid"`
	MessageID *string   `db:"message_id" json:"messageId,omitempty"`
	Labeled   bool      `db:"labeled" json:"labeled"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
