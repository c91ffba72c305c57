package model

// SessionStatus is the persisted connection state of a session.
type SessionStatus string

const (
	SessionStatusDisconnected SessionStatus = "disconnected"
	SessionStatusConnecting   SessionStatus = "connecting"
	SessionStatusOpen         SessionStatus = "open"
	SessionStatusClose        SessionStatus = "close"
	SessionStatusLoggedOut    SessionStatus = "logged_out"
)

// Terminal reports whether the status permits no further automatic transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusLoggedOut
}

type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

// WebhookEvent is the event type a webhook subscribes to. One active webhook
// may exist per (session, event) pair.
type WebhookEvent string

const (
	WebhookEventMessage  WebhookEvent = "message"
	WebhookEventPresence WebhookEvent = "presence"
	WebhookEventChat     WebhookEvent = "chat"
	WebhookEventReaction WebhookEvent = "reaction"
	WebhookEventGroup    WebhookEvent = "group"
	WebhookEventCall     WebhookEvent = "call"
	WebhookEventLabel    WebhookEvent = "label"
	WebhookEventState    WebhookEvent = "state"
)

func ValidWebhookEvents() []string {
	return []string{
		string(WebhookEventMessage),
		string(WebhookEventPresence),
		string(WebhookEventChat),
		string(WebhookEventReaction),
		string(WebhookEventGroup),
		string(WebhookEventCall),
		string(WebhookEventLabel),
		string(WebhookEventState),
	}
}

func (e WebhookEvent) Valid() bool {
	switch e {
	case WebhookEventMessage, WebhookEventPresence, WebhookEventChat,
		WebhookEventReaction, WebhookEventGroup, WebhookEventCall,
		WebhookEventLabel, WebhookEventState:
		return true
	}
	return false
}

type DeliveryStatus string

const (
	DeliveryStatusSuccess DeliveryStatus = "success"
	DeliveryStatusFailed  DeliveryStatus = "failed"
)
