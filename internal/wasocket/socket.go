package wasocket

import (
	"context"

	"github.com/wahub/wahub/internal/store"
)

// Event is the normalized protocol event handed to the session layer. The
// variants mirror what the store handlers can persist; anything else arrives
// as Unrecognized so new upstream event types never crash the pipeline.
type Event interface {
	eventName() string
}

// QR carries one pairing code rotation: the raw code plus a rendered PNG
// data URI ready for embedding.
type QR struct {
	Code string
	PNG  string
}

// PairSuccess reports a completed pairing with the device identity.
type PairSuccess struct {
	DeviceID string
	Phone    string
	Platform string
}

// Connected fires when the socket reaches the open state.
type Connected struct{}

// Disconnected fires on any connection loss that is not a logout.
type Disconnected struct{}

// LoggedOut is terminal: the credentials are gone and reconnecting is
// pointless until the session pairs again.
type LoggedOut struct {
	Reason string
}

// StreamReplaced means another client took over the connection.
type StreamReplaced struct{}

type Messages struct {
	Items []store.MessageInput
}

type MessageStatus struct {
	ChatJID   string
	SenderJID string
	IDs       []string
	Status    string
}

type MessageRevoke struct {
	ChatJID   string
	MessageID string
}

type Presence struct {
	Item store.PresenceInput
}

type Reactions struct {
	Items []store.ReactionInput
}

type Chats struct {
	Items []store.ChatInput
}

type Contacts struct {
	Items []store.ContactInput
}

type GroupUpdate struct {
	Item store.GroupInput
}

type GroupMembersLeft struct {
	GroupJID string
	Members  []string
}

type LIDMappings struct {
	Items []store.LIDMappingInput
}

type Call struct {
	Item store.CallInput
}

type LabelEdit struct {
	Item store.LabelInput
}

type LabelAssociation struct {
	Item store.LabelAssociationInput
}

type BlocklistChange struct {
	JIDs    []string
	Blocked bool
}

// Unrecognized wraps an upstream event that has no normalized form yet.
type Unrecognized struct {
	Raw any
}

func (QR) eventName() string               { return "qr" }
func (PairSuccess) eventName() string      { return "pair_success" }
func (Connected) eventName() string        { return "connected" }
func (Disconnected) eventName() string     { return "disconnected" }
func (LoggedOut) eventName() string        { return "logged_out" }
func (StreamReplaced) eventName() string   { return "stream_replaced" }
func (Messages) eventName() string         { return "messages" }
func (MessageStatus) eventName() string    { return "message_status" }
func (MessageRevoke) eventName() string    { return "message_revoke" }
func (Presence) eventName() string         { return "presence" }
func (Reactions) eventName() string        { return "reactions" }
func (Chats) eventName() string            { return "chats" }
func (Contacts) eventName() string         { return "contacts" }
func (GroupUpdate) eventName() string      { return "group_update" }
func (GroupMembersLeft) eventName() string { return "group_members_left" }
func (LIDMappings) eventName() string      { return "lid_mappings" }
func (Call) eventName() string             { return "call" }
func (LabelEdit) eventName() string        { return "label_edit" }
func (LabelAssociation) eventName() string { return "label_association" }
func (BlocklistChange) eventName() string  { return "blocklist" }
func (Unrecognized) eventName() string     { return "unrecognized" }

// Handler consumes normalized events. Called from the socket's own
// goroutines; implementations must not block.
type Handler func(Event)

// GroupParticipantAction selects what UpdateGroupParticipants does.
type GroupParticipantAction string

const (
	ParticipantAdd     GroupParticipantAction = "add"
	ParticipantRemove  GroupParticipantAction = "remove"
	ParticipantPromote GroupParticipantAction = "promote"
	ParticipantDemote  GroupParticipantAction = "demote"
)

// Socket is one live protocol connection. Implementations own the underlying
// transport; the session layer owns lifecycle and event routing.
type Socket interface {
	Connect(ctx context.Context) error
	Disconnect()
	Logout(ctx context.Context) error
	IsConnected() bool
	IsLoggedIn() bool

	SendText(ctx context.Context, toJID, body string) (string, error)
	SendReaction(ctx context.Context, chatJID, senderJID, messageID, emoji string) error
	MarkRead(ctx context.Context, chatJID, senderJID string, messageIDs []string) error
	SendPresence(ctx context.Context, available bool) error
	SendChatPresence(ctx context.Context, chatJID string, typing bool) error

	CreateGroup(ctx context.Context, name string, memberJIDs []string) (string, error)
	UpdateGroupParticipants(ctx context.Context, groupJID string, memberJIDs []string, action GroupParticipantAction) error
	SetGroupName(ctx context.Context, groupJID, name string) error
	SetGroupTopic(ctx context.Context, groupJID, topic string) error
	GetGroupInviteLink(ctx context.Context, groupJID string, reset bool) (string, error)
	JoinGroupWithLink(ctx context.Context, code string) (string, error)

	UpdateBlocklist(ctx context.Context, jid string, block bool) error
	SetStatusMessage(ctx context.Context, message string) error
	ProfilePictureURL(ctx context.Context, jid string) (string, error)

	SyncContacts(ctx context.Context) ([]store.ContactInput, error)
	SyncGroups(ctx context.Context) ([]store.GroupInput, error)
}

// Dialer builds sockets. The production implementation opens a whatsmeow
// client per session; tests substitute fakes.
type Dialer interface {
	Dial(ctx context.Context, sessionID string, handler Handler) (Socket, error)
}
