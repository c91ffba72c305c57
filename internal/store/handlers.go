package store

import (
	"context"
	"time"

	apperrors "github.com/wahub/wahub/internal/errors"
	"github.com/wahub/wahub/internal/model"
)

// Normalized inbound payloads. The session layer decodes protocol events
// into these; the handlers below turn each item into rows plus a best-effort
// emitted event. Inbound batches are untrusted and heterogeneous, so one
// malformed item is reported through the error event and skipped rather than
// aborting its siblings.

type MessageInput struct {
	ID        string         `json:"id"`
	ChatJID   string         `json:"chatJid"`
	SenderJID string         `json:"senderJid"`
	FromMe    bool           `json:"fromMe"`
	Type      string         `json:"type"`
	Body      string         `json:"body,omitempty"`
	MediaURL  string         `json:"mediaUrl,omitempty"`
	Status    string         `json:"status,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Meta      map[string]any `json:"meta,omitempty"`
}

type PresenceInput struct {
	JID         string     `json:"jid"`
	Unavailable bool       `json:"unavailable"`
	LastSeen    *time.Time `json:"lastSeen,omitempty"`
}

type ReactionInput struct {
	MessageID string    `json:"messageId"`
	ChatJID   string    `json:"chatJid"`
	SenderJID string    `json:"senderJid"`
	Emoji     string    `json:"emoji"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatInput struct {
	JID         string     `json:"jid"`
	Name        string     `json:"name,omitempty"`
	UnreadCount *int       `json:"unreadCount,omitempty"`
	Archived    *bool      `json:"archived,omitempty"`
	Pinned      *bool      `json:"pinned,omitempty"`
	LastMsgAt   *time.Time `json:"lastMsgAt,omitempty"`
}

type ContactInput struct {
	JID          string `json:"jid"`
	Name         string `json:"name,omitempty"`
	Notify       string `json:"notify,omitempty"`
	BusinessName string `json:"businessName,omitempty"`
}

type GroupMemberInput struct {
	JID     string `json:"jid"`
	IsAdmin bool   `json:"isAdmin"`
}

type GroupInput struct {
	JID      string             `json:"jid"`
	Name     string             `json:"name,omitempty"`
	Topic    string             `json:"topic,omitempty"`
	OwnerJID string             `json:"ownerJid,omitempty"`
	Announce bool               `json:"announce"`
	Locked   bool               `json:"locked"`
	Members  []GroupMemberInput `json:"members,omitempty"`
}

type LIDMappingInput struct {
	LID string `json:"lid"`
	PN  string `json:"pn"`
}

type CallInput struct {
	ID        string    `json:"id"`
	ChatJID   string    `json:"chatJid"`
	CallerJID string    `json:"callerJid"`
	IsVideo   bool      `json:"isVideo"`
	Outcome   string    `json:"outcome,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type LabelInput struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Color   *int   `json:"color,omitempty"`
	Deleted bool   `json:"deleted"`
}

type LabelAssociationInput struct {
	LabelID   string `json:"labelId"`
	TargetJID string `json:"targetJid"`
	MessageID string `json:"messageId,omitempty"`
	Labeled   bool   `json:"labeled"`
}

// HandleMessages persists a batch of inbound messages. Each message also
// refreshes its chat's last_msg_at so chat listings stay ordered without a
// separate chat event.
func (s *Store) HandleMessages(ctx context.Context, msgs []MessageInput) {
	for _, m := range msgs {
		if err := s.handleMessage(ctx, m); err != nil {
			s.emitError("message", err)
			continue
		}
		s.emitter.emit(Event{Kind: EventMessage, SessionID: s.sessionID, Data: m})
	}
}

func (s *Store) handleMessage(ctx context.Context, m MessageInput) error {
	if m.ID == "" {
		return apperrors.MissingRequired("message id")
	}
	if m.ChatJID == "" {
		return apperrors.MissingRequired("chat jid")
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	if m.Type == "" {
		m.Type = "text"
	}

	row := map[string]any{
		"id":         m.ID,
		"chat_jid":   m.ChatJID,
		"sender_jid": m.SenderJID,
		"from_me":    boolToInt(m.FromMe),
		"type":       m.Type,
		"body":       nullIfEmpty(m.Body),
		"media_url":  nullIfEmpty(m.MediaURL),
		"status":     nullIfEmpty(m.Status),
		"timestamp":  m.Timestamp,
		"meta":       jsonOrNil(m.Meta),
	}
	if err := s.Upsert(ctx, "messages", row, []string{"session_id", "id"}); err != nil {
		return err
	}

	return s.Upsert(ctx, "chats", map[string]any{
		"jid":         m.ChatJID,
		"last_msg_at": m.Timestamp,
	}, []string{"session_id", "jid"})
}

// HandleMessageStatus records a delivery/read status change for one message.
func (s *Store) HandleMessageStatus(ctx context.Context, chatJID string, ids []string, status string) {
	for _, id := range ids {
		if id == "" {
			s.emitError("message_status", apperrors.MissingRequired("message id"))
			continue
		}
		// Status changes arrive after the message itself; only the status
		// column moves, everything else stays as delivered.
		err := s.Upsert(ctx, "messages", map[string]any{
			"id":       id,
			"chat_jid": chatJID,
			"status":   status,
		}, []string{"session_id", "id"})
		if err != nil {
			s.emitError("message_status", err)
			continue
		}
		s.emitter.emit(Event{Kind: EventMessage, SessionID: s.sessionID, Data: map[string]any{
			"id": id, "chatJid": chatJID, "status": status,
		}})
	}
}

// HandleMessageDelete soft-deletes a message (revoked or locally removed).
func (s *Store) HandleMessageDelete(ctx context.Context, chatJID, id string) {
	if id == "" {
		s.emitError("message_delete", apperrors.MissingRequired("message id"))
		return
	}
	if err := s.Delete(ctx, "messages", []string{"id"}, []any{id}, true); err != nil {
		s.emitError("message_delete", err)
		return
	}
	s.emitter.emit(Event{Kind: EventMessage, SessionID: s.sessionID, Data: map[string]any{
		"id": id, "chatJid": chatJID, "deleted": true,
	}})
}

// HandlePresence updates the contact's availability.
func (s *Store) HandlePresence(ctx context.Context, p PresenceInput) {
	if p.JID == "" {
		s.emitError("presence", apperrors.MissingRequired("jid"))
		return
	}
	row := map[string]any{
		"jid":    p.JID,
		"online": boolToInt(!p.Unavailable),
	}
	if p.LastSeen != nil {
		row["last_seen"] = *p.LastSeen
	}
	if err := s.Upsert(ctx, "contacts", row, []string{"session_id", "jid"}); err != nil {
		s.emitError("presence", err)
		return
	}
	s.emitter.emit(Event{Kind: EventPresence, SessionID: s.sessionID, Data: p})
}

// HandleReactions persists reactions; an empty emoji removes the sender's
// reaction from the message.
func (s *Store) HandleReactions(ctx context.Context, reactions []ReactionInput) {
	for _, r := range reactions {
		if err := s.handleReaction(ctx, r); err != nil {
			s.emitError("reaction", err)
			continue
		}
		s.emitter.emit(Event{Kind: EventReaction, SessionID: s.sessionID, Data: r})
	}
}

func (s *Store) handleReaction(ctx context.Context, r ReactionInput) error {
	if r.MessageID == "" {
		return apperrors.MissingRequired("message id")
	}
	if r.SenderJID == "" {
		return apperrors.MissingRequired("sender jid")
	}
	keys := []string{"message_id", "sender_jid"}
	if r.Emoji == "" {
		return s.Delete(ctx, "reactions", keys, []any{r.MessageID, r.SenderJID}, false)
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	return s.Upsert(ctx, "reactions", map[string]any{
		"message_id": r.MessageID,
		"chat_jid":   r.ChatJID,
		"sender_jid": r.SenderJID,
		"emoji":      r.Emoji,
		"timestamp":  r.Timestamp,
	}, []string{"session_id", "message_id", "sender_jid"})
}

// HandleChats upserts chat metadata from history sync or chat updates.
func (s *Store) HandleChats(ctx context.Context, chats []ChatInput) {
	for _, c := range chats {
		if c.JID == "" {
			s.emitError("chat", apperrors.MissingRequired("jid"))
			continue
		}
		row := map[string]any{"jid": c.JID}
		if c.Name != "" {
			row["name"] = c.Name
		}
		if c.UnreadCount != nil {
			row["unread_count"] = *c.UnreadCount
		}
		if c.Archived != nil {
			row["archived"] = boolToInt(*c.Archived)
		}
		if c.Pinned != nil {
			row["pinned"] = boolToInt(*c.Pinned)
		}
		if c.LastMsgAt != nil {
			row["last_msg_at"] = *c.LastMsgAt
		}
		if err := s.Upsert(ctx, "chats", row, []string{"session_id", "jid"}); err != nil {
			s.emitError("chat", err)
			continue
		}
		s.emitter.emit(Event{Kind: EventChat, SessionID: s.sessionID, Data: c})
	}
}

// HandleContacts upserts contact book entries.
func (s *Store) HandleContacts(ctx context.Context, contacts []ContactInput) {
	for _, c := range contacts {
		if c.JID == "" {
			s.emitError("contact", apperrors.MissingRequired("jid"))
			continue
		}
		row := map[string]any{"jid": c.JID}
		if c.Name != "" {
			row["name"] = c.Name
		}
		if c.Notify != "" {
			row["notify"] = c.Notify
		}
		if c.BusinessName != "" {
			row["business_name"] = c.BusinessName
		}
		if err := s.Upsert(ctx, "contacts", row, []string{"session_id", "jid"}); err != nil {
			s.emitError("contact", err)
			continue
		}
		s.emitter.emit(Event{Kind: EventChat, SessionID: s.sessionID, Data: c})
	}
}

// HandleGroupUpdate upserts a group and, when the payload carries a member
// list, replaces the membership rows in the same pass.
func (s *Store) HandleGroupUpdate(ctx context.Context, g GroupInput) {
	if g.JID == "" {
		s.emitError("group", apperrors.MissingRequired("jid"))
		return
	}

	row := map[string]any{
		"jid":      g.JID,
		"announce": boolToInt(g.Announce),
		"locked":   boolToInt(g.Locked),
	}
	if g.Name != "" {
		row["name"] = g.Name
	}
	if g.Topic != "" {
		row["topic"] = g.Topic
	}
	if g.OwnerJID != "" {
		row["owner_jid"] = g.OwnerJID
	}
	if len(g.Members) > 0 {
		row["participants"] = len(g.Members)
	}
	if err := s.Upsert(ctx, "groups", row, []string{"session_id", "jid"}); err != nil {
		s.emitError("group", err)
		return
	}

	for _, m := range g.Members {
		if m.JID == "" {
			s.emitError("group_member", apperrors.MissingRequired("member jid"))
			continue
		}
		err := s.Upsert(ctx, "group_members", map[string]any{
			"group_jid":  g.JID,
			"member_jid": m.JID,
			"is_admin":   boolToInt(m.IsAdmin),
		}, []string{"session_id", "group_jid", "member_jid"})
		if err != nil {
			s.emitError("group_member", err)
		}
	}

	s.emitter.emit(Event{Kind: EventGroup, SessionID: s.sessionID, Data: g})
}

// HandleGroupMemberRemove drops membership rows after a leave/remove update.
func (s *Store) HandleGroupMemberRemove(ctx context.Context, groupJID string, memberJIDs []string) {
	for _, jid := range memberJIDs {
		err := s.Delete(ctx, "group_members",
			[]string{"group_jid", "member_jid"}, []any{groupJID, jid}, false)
		if err != nil {
			s.emitError("group_member", err)
		}
	}
	s.emitter.emit(Event{Kind: EventGroup, SessionID: s.sessionID, Data: map[string]any{
		"jid": groupJID, "removed": memberJIDs,
	}})
}

// HandleLIDMapping records alternate-identifier mappings on the contact rows.
func (s *Store) HandleLIDMapping(ctx context.Context, mappings []LIDMappingInput) {
	for _, m := range mappings {
		if m.LID == "" || m.PN == "" {
			s.emitError("lid", apperrors.ValidationError("lid mapping requires both identifiers"))
			continue
		}
		err := s.Upsert(ctx, "contacts", map[string]any{
			"jid": m.PN,
			"lid": m.LID,
		}, []string{"session_id", "jid"})
		if err != nil {
			s.emitError("lid", err)
			continue
		}
		s.emitter.emit(Event{Kind: EventLID, SessionID: s.sessionID, Data: m})
	}
}

// HandleCall records an incoming or finished call.
func (s *Store) HandleCall(ctx context.Context, c CallInput) {
	if c.ID == "" {
		s.emitError("call", apperrors.MissingRequired("call id"))
		return
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	err := s.Upsert(ctx, "calls", map[string]any{
		"id":         c.ID,
		"chat_jid":   c.ChatJID,
		"caller_jid": c.CallerJID,
		"is_video":   boolToInt(c.IsVideo),
		"outcome":    nullIfEmpty(c.Outcome),
		"timestamp":  c.Timestamp,
	}, []string{"session_id", "id"})
	if err != nil {
		s.emitError("call", err)
		return
	}
	s.emitter.emit(Event{Kind: EventCall, SessionID: s.sessionID, Data: c})
}

// HandleLabelEdit upserts or soft-deletes a label definition.
func (s *Store) HandleLabelEdit(ctx context.Context, l LabelInput) {
	if l.ID == "" {
		s.emitError("label", apperrors.MissingRequired("label id"))
		return
	}
	if l.Deleted {
		if err := s.Delete(ctx, "labels", []string{"id"}, []any{l.ID}, true); err != nil {
			s.emitError("label", err)
			return
		}
	} else {
		row := map[string]any{"id": l.ID}
		if l.Name != "" {
			row["name"] = l.Name
		}
		if l.Color != nil {
			row["color"] = *l.Color
		}
		if err := s.Upsert(ctx, "labels", row, []string{"session_id", "id"}); err != nil {
			s.emitError("label", err)
			return
		}
	}
	s.emitter.emit(Event{Kind: EventLabel, SessionID: s.sessionID, Data: l})
}

// HandleLabelAssociation links or unlinks a label and a chat/message.
func (s *Store) HandleLabelAssociation(ctx context.Context, a LabelAssociationInput) {
	if a.LabelID == "" || a.TargetJID == "" {
		s.emitError("label_association", apperrors.ValidationError("label association requires label id and target"))
		return
	}
	keys := []string{"label_id", "target_jid", "message_id"}
	values := []any{a.LabelID, a.TargetJID, a.MessageID}
	var err error
	if a.Labeled {
		err = s.Upsert(ctx, "label_associations", map[string]any{
			"label_id":   a.LabelID,
			"target_jid": a.TargetJID,
			"message_id": a.MessageID,
			"labeled":    1,
		}, append([]string{"session_id"}, keys...))
	} else {
		err = s.Delete(ctx, "label_associations", keys, values, false)
	}
	if err != nil {
		s.emitError("label_association", err)
		return
	}
	s.emitter.emit(Event{Kind: EventLabel, SessionID: s.sessionID, Data: a})
}

// HandleBlocklist flips the blocked flag for the listed contacts.
func (s *Store) HandleBlocklist(ctx context.Context, jids []string, blocked bool) {
	for _, jid := range jids {
		if jid == "" {
			continue
		}
		err := s.Upsert(ctx, "contacts", map[string]any{
			"jid":     jid,
			"blocked": boolToInt(blocked),
		}, []string{"session_id", "jid"})
		if err != nil {
			s.emitError("blocklist", err)
		}
	}
	s.emitter.emit(Event{Kind: EventChat, SessionID: s.sessionID, Data: map[string]any{
		"blocked": blocked, "jids": jids,
	}})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func jsonOrNil(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	return model.JSONMap(m)
}
