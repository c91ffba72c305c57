package model

import "time"

// Webhook is an outbound HTTP callback registered per (session, event).
// At most one row exists per pair; re-registering replaces it.
type Webhook struct {
	ID           string       `db:"id" json:"id"`
	SessionID    string       `db:"session_id" json:"sessionId"`
	Event        WebhookEvent `db:"event" json:"event"`
	URL          string       `db:"url" json:"url"`
	Headers      JSONMap      `db:"headers" json:"headers,omitempty"`
	Enabled      bool         `db:"enabled" json:"enabled"`
	RetryCount   int          `db:"retry_count" json:"retryCount"`
	RetryDelayMS int          `db:"retry_delay_ms" json:"retryDelayMs"`
	TimeoutMS    int          `db:"timeout_ms" json:"timeoutMs"`
	FailureCount int          `db:"failure_count" json:"failureCount"`
	LastSuccess  *time.Time   `db:"last_success" json:"lastSuccess,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updatedAt"`
}

type CreateWebhookParams struct {
	SessionID    string       `json:"-"`
	Event        WebhookEvent `json:"event"`
	URL          string       `json:"url"`
	Headers      JSONMap      `json:"headers,omitempty"`
	// Enabled defaults to true when omitted.
	Enabled      *bool        `json:"enabled,omitempty"`
	RetryCount   int          `json:"retryCount,omitempty"`
	RetryDelayMS int          `json:"retryDelayMs,omitempty"`
	TimeoutMS    int          `json:"timeoutMs,omitempty"`
}

// WebhookDelivery is one logged delivery attempt. Rows are append-only and
// pruned by the cleanup job after the delivery retention window.
type WebhookDelivery struct {
	ID         string         `db:"id" json:"id"`
	WebhookID  string         `db:"webhook_id" json:"webhookId"`
	SessionID  string         `db:"session_id" json:"sessionId"`
	Event      WebhookEvent   `db:"event" json:"event"`
	Attempt    int            `db:"attempt" json:"attempt"`
	Status     DeliveryStatus `db:"status" json:"status"`
	StatusCode *int           `db:"status_code" json:"statusCode,omitempty"`
	Error      *string        `db:"error" json:"error,omitempty"`
	ElapsedMS  int64          `db:"elapsed_ms" json:"elapsedMs"`
	CreatedAt  time.Time      `db:"created_at" json:"createdAt"`
}
