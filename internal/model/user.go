package model

import "time"

type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	APIKey       string    `db:"api_key" json:"-"`
	Role         UserRole  `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

type CreateUserParams struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Role     UserRole `json:"role,omitempty"`
}

// UserSession assigns a session to its owning user. Deactivating the
// assignment detaches the session without losing its history.
type UserSession struct {
	UserID    string    `db:"user_id" json:"userId"`
	SessionID string    `db:"session_id" json:"sessionId"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
