package model

import "time"

type Contact struct {
	SessionID    string     `db:"session_id" json:"sessionId"`
	JID          string     `db:"jid" json:"jid"`
	LID          *string    `db:"lid" json:"lid,omitempty"`
	Name         *string    `db:"name" json:"name,omitempty"`
	Notify       *string    `db:"notify" json:"notify,omitempty"`
	BusinessName *string    `db:"business_name" json:"businessName,omitempty"`
	Online       bool       `db:"online" json:"online"`
	LastSeen     *time.Time `db:"last_seen" json:"lastSeen,omitempty"`
	Blocked      bool       `db:"blocked" json:"blocked"`
	Deleted      bool       `db:"deleted" json:"deleted"`
	DeletedAt    *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
}
