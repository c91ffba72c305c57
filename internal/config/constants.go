package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
	DBBusyTimeout     = 5 * time.Second
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job interval: idle-session eviction, delivery-log pruning and
// soft-delete retention all run on this tick.
const CleanupJobInterval = 5 * time.Minute

// Store write retry policy for lock contention
const (
	StoreWriteRetries   = 3
	StoreRetryBaseDelay = 100 * time.Millisecond
)

// Reconnect backoff base for session sockets
const ReconnectBaseDelay = 1 * time.Second

// Send queue behaviour while a session is not yet open
const (
	SendQueuePollInterval = 1 * time.Second
	SendQueueMaxAge       = 5 * time.Minute
)

// Webhook lookup results are cached at most this long per session.
const WebhookCacheTTL = 5 * time.Minute

// How long webhook delivery rows are kept before the cleanup job prunes them.
const WebhookDeliveryRetention = 30 * 24 * time.Hour
