package model

import "time"

type Message struct {
	SessionID string     `db:"session_id" json:"sessionId"`
	ID        string     `db:"id" json:"id"`
	ChatJID   string     `db:"chat_jid" json:"chatJid"`
	SenderJID string     `db:"sender_jid" json:"senderJid"`
	FromMe    bool       `db:"from_me" json:"fromMe"`
	Type      string     `db:"type" json:"type"`
	Body      *string    `db:"body" json:"body,omitempty"`
	MediaURL  *string    `db:"media_url" json:"mediaUrl,omitempty"`
	Status    *string    `db:"status" json:"status,omitempty"`
	Timestamp time.Time  `db:"timestamp" json:"timestamp"`
	Meta      JSONMap    `db:"meta" json:"meta,omitempty"`
	Deleted   bool       `db:"deleted" json:"deleted"`
	DeletedAt *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time  `db:"updated_at" json:"updatedAt"`
}

type Reaction struct {
	SessionID string    `db:"session_id" json:"sessionId"`
	MessageID string    `db:"message_id" json:"messageId"`
	ChatJID   string    `db:"chat_jid" json:"chatJid"`
	SenderJID string    `db:"sender_jid" json:"senderJid"`
	Emoji     string    `db:"emoji" json:"emoji"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
