package model

import "time"

// Session is the persisted row for one protocol session. One row per id;
// created on the first connect attempt, mutated on every connection-state
// transition and credential rotation, removed only by explicit deletion.
type Session struct {
	ID        string        `db:"id" json:"id"`
	DeviceID  *string       `db:"device_id" json:"deviceId,omitempty"`
	Phone     *string       `db:"phone" json:"phone,omitempty"`
	Platform  *string       `db:"platform" json:"platform,omitempty"`
	Status    SessionStatus `db:"status" json:"status"`
	QR        *string       `db:"qr" json:"qr,omitempty"`
	LoggedIn  bool          `db:"logged_in" json:"loggedIn"`
	Creds     JSONMap       `db:"creds" json:"-"`
	LastSeen  *time.Time    `db:"last_seen" json:"lastSeen,omitempty"`
	CreatedAt time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time     `db:"updated_at" json:"updatedAt"`
}
