package model

import "time"

type Chat struct {
	SessionID   string     `db:"session_id" json:"sessionId"`
	JID         string     `db:"jid" json:"jid"`
	Name        *string    `db:"name" json:"name,omitempty"`
	UnreadCount int        `db:"unread_count" json:"unreadCount"`
	Archived    bool       `db:"archived" json:"archived"`
	Pinned      bool       `db:"pinned" json:"pinned"`
	MutedUntil  *time.Time `db:"muted_until" json:"mutedUntil,omitempty"`
	LastMsgAt   *time.Time `db:"last_msg_at" json:"lastMsgAt,omitempty"`
	Deleted     bool       `db:"deleted" json:"deleted"`
	DeletedAt   *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
}
