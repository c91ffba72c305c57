package model

import "time"

type Group struct {
	SessionID    string     `db:"session_id" json:"sessionId"`
	JID          string     `db:"jid" json:"jid"`
	Name         *string    `db:"name" json:"name,omitempty"`
	Topic        *string    `db:"topic" json:"topic,omitempty"`
	OwnerJID     *string    `db:"owner_jid" json:"ownerJid,omitempty"`
	Announce     bool       `db:"announce" json:"announce"`
	Locked       bool       `db:"locked" json:"locked"`
	Participants int        `db:"participants" json:"participants"`
	Deleted      bool       `db:"deleted" json:"deleted"`
	DeletedAt    *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
}

type GroupMember struct {
	SessionID string    `db:"session_id" json:"sessionId"`
	GroupJID  string    `db:"group_jid" json:"groupJid"`
	MemberJID string    `db:"member_jid" json:"memberJid"`
	IsAdmin   bool      `db:"is_admin" json:"isAdmin"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
