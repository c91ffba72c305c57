package session

import (
	"context"

	apperrors "github.com/wahub/wahub/internal/errors"
	"github.com/wahub/wahub/internal/util"
	"github.com/wahub/wahub/internal/wasocket"
)

// Outbound operations. JIDs are validated before touching the socket so a
// malformed target never costs a round trip or a queue slot.

// SendText delivers a text message, queueing it when the session is not yet
// open. Blocks until the send resolves, the queue expires it, or ctx ends.
func (s *Session) SendText(ctx context.Context, toJID, body string) (string, error) {
	if !util.IsValidJID(toJID) {
		return "", apperrors.InvalidJID(toJID)
	}
	if body == "" {
		return "", apperrors.MissingRequired("body")
	}
	s.Touch()

	if sock := s.socket(); sock != nil && s.Connected() {
		return sock.SendText(ctx, toJID, body)
	}
	if s.Status().Terminal() {
		return "", apperrors.LoggedOut(s.ID)
	}

	done := s.queue.enqueue(toJID, body)
	select {
	case res := <-done:
		return res.messageID, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// QueueDepth reports how many sends wait on the connection.
func (s *Session) QueueDepth() int {
	return s.queue.depth()
}

func (s *Session) React(ctx context.Context, chatJID, senderJID, messageID, emoji string) error {
	if !util.IsValidJID(chatJID) {
		return apperrors.InvalidJID(chatJID)
	}
	sock, err := s.liveSocket()
	if err != nil {
		return err
	}
	s.Touch()
	return sock.SendReaction(ctx, chatJID, senderJID, messageID, emoji)
}

func (s *Session) MarkRead(ctx context.Context, chatJID, senderJID string, messageIDs []string) error {
	if !util.IsValidJID(chatJID) {
		return apperrors.InvalidJID(chatJID)
	}
	if len(messageIDs) == 0 {
		return apperrors.MissingRequired("messageIds")
	}
	sock, err := s.liveSocket()
	if err != nil {
		return err
	}
	s.Touch()
	return sock.MarkRead(ctx, chatJID, senderJID, messageIDs)
}

func (s *Session) SetPresence(ctx context.Context, available bool) error {
	sock, err := s.liveSocket()
	if err != nil {
		return err
	}
	s.Touch()
	return sock.SendPresence(ctx, available)
}

func (s *Session) SetTyping(ctx context.Context, chatJID string, typing bool) error {
	if !util.IsValidJID(chatJID) {
		return apperrors.InvalidJID(chatJID)
	}
	sock, err := s.liveSocket()
	if err != nil {
		return err
	}
	s.Touch()
	return sock.SendChatPresence(ctx, chatJID, typing)
}

func (s *Session) CreateGroup(ctx context.Context, name string, memberJIDs []string) (string, error) {
	if name == "" {
		return "", apperrors.MissingRequired("name")
	}
	for _, jid := range memberJIDs {
		if !util.IsValidJID(jid) {
			return "", apperrors.InvalidJID(jid)
		}
	}
	sock, err := s.liveSocket()
	if err != nil {
		return "", err
	}
	s.Touch()
	return sock.CreateGroup(ctx, name, memberJIDs)
}

func (s *Session) UpdateGroupParticipants(ctx context.Context, groupJID string, memberJIDs []string, action wasocket.GroupParticipantAction) error {
	if !util.IsGroupJID(groupJID) {
		return apperrors.InvalidJID(groupJID)
	}
	for _, jid := range memberJIDs {
		if !util.IsValidJID(jid) {
			return apperrors.InvalidJID(jid)
		}
	}
	sock, err := s.liveSocket()
	if err != nil {
		return err
	}
	s.Touch()
	return sock.UpdateGroupParticipants(ctx, groupJID, memberJIDs, action)
}

func (s *Session) SetGroupName(ctx context.Context, groupJID, name string) error {
	if !util.IsGroupJID(groupJID) {
		return apperrors.InvalidJID(groupJID)
	}
	if name == "" {
		return apperrors.MissingRequired("name")
	}
	sock, err := s.liveSocket()
	if err != nil {
		return err
	}
	s.Touch()
	return sock.SetGroupName(ctx, groupJID, name)
}

func (s *Session) SetGroupTopic(ctx context.Context, groupJID, topic string) error {
	if !util.IsGroupJID(groupJID) {
		return apperrors.InvalidJID(groupJID)
	}
	sock, err := s.liveSocket()
	if err != nil {
		return err
	}
	s.Touch()
	return sock.SetGroupTopic(ctx, groupJID, topic)
}

func (s *Session) GroupInviteLink(ctx context.Context, groupJID string, reset bool) (string, error) {
	if !util.IsGroupJID(groupJID) {
		return "", apperrors.InvalidJID(groupJID)
	}
	sock, err := s.liveSocket()
	if err != nil {
		return "", err
	}
	s.Touch()
	return sock.GetGroupInviteLink(ctx, groupJID, reset)
}

func (s *Session) JoinGroupWithLink(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", apperrors.MissingRequired("code")
	}
	sock, err := s.liveSocket()
	if err != nil {
		return "", err
	}
	s.Touch()
	return sock.JoinGroupWithLink(ctx, code)
}

func (s *Session) SetBlocked(ctx context.Context, jid string, blocked bool) error {
	if !util.IsValidJID(jid) {
		return apperrors.InvalidJID(jid)
	}
	sock, err := s.liveSocket()
	if err != nil {
		return err
	}
	s.Touch()
	if err := sock.UpdateBlocklist(ctx, jid, blocked); err != nil {
		return err
	}
	s.store.HandleBlocklist(ctx, []string{jid}, blocked)
	return nil
}

func (s *Session) SetStatusMessage(ctx context.Context, message string) error {
	sock, err := s.liveSocket()
	if err != nil {
		return err
	}
	s.Touch()
	return sock.SetStatusMessage(ctx, message)
}

func (s *Session) ProfilePictureURL(ctx context.Context, jid string) (string, error) {
	if !util.IsValidJID(jid) {
		return "", apperrors.InvalidJID(jid)
	}
	sock, err := s.liveSocket()
	if err != nil {
		return "", err
	}
	s.Touch()
	return sock.ProfilePictureURL(ctx, jid)
}

// liveSocket returns the socket only when the connection is open; every
// non-queuing action requires it.
func (s *Session) liveSocket() (wasocket.Socket, error) {
	if s.Status().Terminal() {
		return nil, apperrors.LoggedOut(s.ID)
	}
	sock := s.socket()
	if sock == nil || !sock.IsConnected() {
		return nil, apperrors.NotConnected(s.ID)
	}
	return sock, nil
}
