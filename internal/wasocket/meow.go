package wasocket

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waevents "go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	apperrors "github.com/wahub/wahub/internal/errors"
	"github.com/wahub/wahub/internal/store"
	"github.com/wahub/wahub/internal/util"
)

const qrImageSize = 256

// MeowDialer opens one whatsmeow client per session, each backed by its own
// sqlite credential store under baseDir.
type MeowDialer struct {
	baseDir string
}

func NewMeowDialer(baseDir string) *MeowDialer {
	return &MeowDialer{baseDir: baseDir}
}

func (d *MeowDialer) Dial(ctx context.Context, sessionID string, handler Handler) (Socket, error) {
	if err := os.MkdirAll(d.baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create socket store dir: %w", err)
	}

	dbPath := filepath.Join(d.baseDir, sessionID+".db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	container, err := sqlstore.New(ctx, "sqlite", dsn, nil)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	sock := &meowSocket{
		sessionID: sessionID,
		client:    whatsmeow.NewClient(device, nil),
		handler:   handler,
	}
	sock.client.AddEventHandler(sock.translate)
	return sock, nil
}

type meowSocket struct {
	sessionID string
	client    *whatsmeow.Client
	handler   Handler
}

// Connect starts the websocket. Unpaired devices get a QR subscription
// first; the channel must be claimed before the connection opens.
func (s *meowSocket) Connect(ctx context.Context) error {
	if s.client.Store.ID == nil {
		qrChan, err := s.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		go s.pumpQR(qrChan)
	}
	if err := s.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (s *meowSocket) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			png, err := qrcode.Encode(item.Code, qrcode.Medium, qrImageSize)
			if err != nil {
				log.Error().Err(err).Str("sessionId", s.sessionID).Msg("qr render failed")
				continue
			}
			s.handler(QR{
				Code: item.Code,
				PNG:  "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
			})
		case "success":
			// PairSuccess is emitted from the event stream with the
			// device identity attached.
		case "timeout":
			s.handler(Disconnected{})
		}
	}
}

func (s *meowSocket) Disconnect() {
	s.client.Disconnect()
}

func (s *meowSocket) Logout(ctx context.Context) error {
	if err := s.client.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (s *meowSocket) IsConnected() bool {
	return s.client.IsConnected()
}

func (s *meowSocket) IsLoggedIn() bool {
	return s.client.IsLoggedIn()
}

func (s *meowSocket) SendText(ctx context.Context, toJID, body string) (string, error) {
	to, err := parseJID(toJID)
	if err != nil {
		return "", err
	}
	resp, err := s.client.SendMessage(ctx, to, &waProto.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

func (s *meowSocket) SendReaction(ctx context.Context, chatJID, senderJID, messageID, emoji string) error {
	chat, err := parseJID(chatJID)
	if err != nil {
		return err
	}
	sender, err := parseJID(senderJID)
	if err != nil {
		return err
	}
	msg := s.client.BuildReaction(chat, sender, types.MessageID(messageID), emoji)
	if _, err := s.client.SendMessage(ctx, chat, msg); err != nil {
		return fmt.Errorf("send reaction: %w", err)
	}
	return nil
}

func (s *meowSocket) MarkRead(ctx context.Context, chatJID, senderJID string, messageIDs []string) error {
	chat, err := parseJID(chatJID)
	if err != nil {
		return err
	}
	sender, err := parseJID(senderJID)
	if err != nil {
		return err
	}
	ids := make([]types.MessageID, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = types.MessageID(id)
	}
	if err := s.client.MarkRead(ids, time.Now(), chat, sender); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (s *meowSocket) SendPresence(ctx context.Context, available bool) error {
	state := types.PresenceAvailable
	if !available {
		state = types.PresenceUnavailable
	}
	if err := s.client.SendPresence(state); err != nil {
		return fmt.Errorf("send presence: %w", err)
	}
	return nil
}

func (s *meowSocket) SendChatPresence(ctx context.Context, chatJID string, typing bool) error {
	chat, err := parseJID(chatJID)
	if err != nil {
		return err
	}
	state := types.ChatPresenceComposing
	if !typing {
		state = types.ChatPresencePaused
	}
	if err := s.client.SendChatPresence(chat, state, types.ChatPresenceMediaText); err != nil {
		return fmt.Errorf("send chat presence: %w", err)
	}
	return nil
}

func (s *meowSocket) CreateGroup(ctx context.Context, name string, memberJIDs []string) (string, error) {
	members := make([]types.JID, 0, len(memberJIDs))
	for _, raw := range memberJIDs {
		jid, err := parseJID(raw)
		if err != nil {
			return "", err
		}
		members = append(members, jid)
	}
	info, err := s.client.CreateGroup(whatsmeow.ReqCreateGroup{
		Name:         name,
		Participants: members,
	})
	if err != nil {
		return "", fmt.Errorf("create group: %w", err)
	}
	return info.JID.String(), nil
}

func (s *meowSocket) UpdateGroupParticipants(ctx context.Context, groupJID string, memberJIDs []string, action GroupParticipantAction) error {
	group, err := parseJID(groupJID)
	if err != nil {
		return err
	}
	members := make([]types.JID, 0, len(memberJIDs))
	for _, raw := range memberJIDs {
		jid, parseErr := parseJID(raw)
		if parseErr != nil {
			return parseErr
		}
		members = append(members, jid)
	}
	if _, err := s.client.UpdateGroupParticipants(group, members, whatsmeow.ParticipantChange(action)); err != nil {
		return fmt.Errorf("update participants: %w", err)
	}
	return nil
}

func (s *meowSocket) SetGroupName(ctx context.Context, groupJID, name string) error {
	group, err := parseJID(groupJID)
	if err != nil {
		return err
	}
	if err := s.client.SetGroupName(group, name); err != nil {
		return fmt.Errorf("set group name: %w", err)
	}
	return nil
}

func (s *meowSocket) SetGroupTopic(ctx context.Context, groupJID, topic string) error {
	group, err := parseJID(groupJID)
	if err != nil {
		return err
	}
	if err := s.client.SetGroupTopic(group, "", "", topic); err != nil {
		return fmt.Errorf("set group topic: %w", err)
	}
	return nil
}

func (s *meowSocket) GetGroupInviteLink(ctx context.Context, groupJID string, reset bool) (string, error) {
	group, err := parseJID(groupJID)
	if err != nil {
		return "", err
	}
	link, err := s.client.GetGroupInviteLink(group, reset)
	if err != nil {
		return "", fmt.Errorf("invite link: %w", err)
	}
	return link, nil
}

func (s *meowSocket) JoinGroupWithLink(ctx context.Context, code string) (string, error) {
	jid, err := s.client.JoinGroupWithLink(code)
	if err != nil {
		return "", fmt.Errorf("join group: %w", err)
	}
	return jid.String(), nil
}

func (s *meowSocket) UpdateBlocklist(ctx context.Context, jid string, block bool) error {
	target, err := parseJID(jid)
	if err != nil {
		return err
	}
	action := waevents.BlocklistChangeActionBlock
	if !block {
		action = waevents.BlocklistChangeActionUnblock
	}
	if _, err := s.client.UpdateBlocklist(target, action); err != nil {
		return fmt.Errorf("update blocklist: %w", err)
	}
	return nil
}

func (s *meowSocket) SetStatusMessage(ctx context.Context, message string) error {
	if err := s.client.SetStatusMessage(message); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

func (s *meowSocket) ProfilePictureURL(ctx context.Context, jid string) (string, error) {
	target, err := parseJID(jid)
	if err != nil {
		return "", err
	}
	info, err := s.client.GetProfilePictureInfo(target, &whatsmeow.GetProfilePictureParams{})
	if err != nil {
		return "", fmt.Errorf("profile picture: %w", err)
	}
	if info == nil {
		return "", nil
	}
	return info.URL, nil
}

// SyncContacts pulls the full contact book from the credential store.
func (s *meowSocket) SyncContacts(ctx context.Context) ([]store.ContactInput, error) {
	all, err := s.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("get contacts: %w", err)
	}
	out := make([]store.ContactInput, 0, len(all))
	for jid, info := range all {
		out = append(out, store.ContactInput{
			JID:          jid.String(),
			Name:         info.FullName,
			Notify:       info.PushName,
			BusinessName: info.BusinessName,
		})
	}
	return out, nil
}

// SyncGroups pulls the joined-group list from the server.
func (s *meowSocket) SyncGroups(ctx context.Context) ([]store.GroupInput, error) {
	groups, err := s.client.GetJoinedGroups()
	if err != nil {
		return nil, fmt.Errorf("get groups: %w", err)
	}
	out := make([]store.GroupInput, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupInput(g))
	}
	return out, nil
}

func groupInput(g *types.GroupInfo) store.GroupInput {
	in := store.GroupInput{
		JID:      g.JID.String(),
		Name:     g.GroupName.Name,
		Topic:    g.GroupTopic.Topic,
		OwnerJID: g.OwnerJID.String(),
		Announce: g.GroupAnnounce.IsAnnounce,
		Locked:   g.GroupLocked.IsLocked,
	}
	for _, p := range g.Participants {
		in.Members = append(in.Members, store.GroupMemberInput{
			JID:     p.JID.String(),
			IsAdmin: p.IsAdmin || p.IsSuperAdmin,
		})
	}
	return in
}

// translate converts raw protocol events into the normalized form. Unknown
// event types pass through as Unrecognized.
func (s *meowSocket) translate(raw any) {
	switch evt := raw.(type) {
	case *waevents.Connected:
		s.handler(Connected{})

	case *waevents.PairSuccess:
		s.handler(PairSuccess{
			DeviceID: evt.ID.String(),
			Phone:    evt.ID.User,
			Platform: evt.Platform,
		})

	case *waevents.Disconnected:
		s.handler(Disconnected{})

	case *waevents.StreamReplaced:
		s.handler(StreamReplaced{})

	case *waevents.LoggedOut:
		s.handler(LoggedOut{Reason: evt.Reason.String()})

	case *waevents.Message:
		s.translateMessage(evt)

	case *waevents.Receipt:
		if status := receiptStatus(evt.Type); status != "" {
			ids := make([]string, len(evt.MessageIDs))
			for i, id := range evt.MessageIDs {
				ids[i] = string(id)
			}
			s.handler(MessageStatus{
				ChatJID:   evt.Chat.String(),
				SenderJID: evt.Sender.String(),
				IDs:       ids,
				Status:    status,
			})
		}

	case *waevents.Presence:
		p := store.PresenceInput{
			JID:         evt.From.String(),
			Unavailable: evt.Unavailable,
		}
		if !evt.LastSeen.IsZero() {
			last := evt.LastSeen
			p.LastSeen = &last
		}
		s.handler(Presence{Item: p})

	case *waevents.Contact:
		s.handler(Contacts{Items: []store.ContactInput{{
			JID:  evt.JID.String(),
			Name: evt.Action.GetFullName(),
		}}})

	case *waevents.PushName:
		s.handler(Contacts{Items: []store.ContactInput{{
			JID:    evt.JID.String(),
			Notify: evt.NewPushName,
		}}})

	case *waevents.GroupInfo:
		in := store.GroupInput{JID: evt.JID.String()}
		if evt.Name != nil {
			in.Name = evt.Name.Name
		}
		if evt.Topic != nil {
			in.Topic = evt.Topic.Topic
		}
		s.handler(GroupUpdate{Item: in})
		if len(evt.Leave) > 0 {
			left := make([]string, len(evt.Leave))
			for i, jid := range evt.Leave {
				left[i] = jid.String()
			}
			s.handler(GroupMembersLeft{GroupJID: evt.JID.String(), Members: left})
		}

	case *waevents.JoinedGroup:
		s.handler(GroupUpdate{Item: groupInput(&evt.GroupInfo)})

	case *waevents.CallOffer:
		s.handler(Call{Item: store.CallInput{
			ID:        evt.CallID,
			ChatJID:   evt.From.String(),
			CallerJID: evt.CallCreator.String(),
			Timestamp: evt.Timestamp,
		}})

	case *waevents.CallTerminate:
		s.handler(Call{Item: store.CallInput{
			ID:        evt.CallID,
			ChatJID:   evt.From.String(),
			CallerJID: evt.CallCreator.String(),
			Outcome:   evt.Reason,
			Timestamp: evt.Timestamp,
		}})

	case *waevents.LabelEdit:
		s.handler(LabelEdit{Item: store.LabelInput{
			ID:      evt.LabelID,
			Name:    evt.Action.GetName(),
			Deleted: evt.Action.GetDeleted(),
		}})

	case *waevents.LabelAssociationChat:
		s.handler(LabelAssociation{Item: store.LabelAssociationInput{
			LabelID:   evt.LabelID,
			TargetJID: evt.JID.String(),
			Labeled:   evt.Action.GetLabeled(),
		}})

	case *waevents.LabelAssociationMessage:
		s.handler(LabelAssociation{Item: store.LabelAssociationInput{
			LabelID:   evt.LabelID,
			TargetJID: evt.JID.String(),
			MessageID: evt.MessageID,
			Labeled:   evt.Action.GetLabeled(),
		}})

	case *waevents.HistorySync:
		s.translateHistorySync(evt)

	case *waevents.Blocklist:
		var blocked, unblocked []string
		for _, change := range evt.Changes {
			if change.Action == waevents.BlocklistChangeActionBlock {
				blocked = append(blocked, change.JID.String())
			} else {
				unblocked = append(unblocked, change.JID.String())
			}
		}
		if len(blocked) > 0 {
			s.handler(BlocklistChange{JIDs: blocked, Blocked: true})
		}
		if len(unblocked) > 0 {
			s.handler(BlocklistChange{JIDs: unblocked, Blocked: false})
		}

	default:
		s.handler(Unrecognized{Raw: raw})
	}
}

// translateHistorySync unpacks the server's backfill payload: conversations
// become chat rows, their embedded messages ride the normal message path and
// phone-number/LID pairs feed the identifier mapping table.
func (s *meowSocket) translateHistorySync(evt *waevents.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	chats := make([]store.ChatInput, 0, len(data.GetConversations()))
	for _, conv := range data.GetConversations() {
		jid, err := types.ParseJID(conv.GetID())
		if err != nil {
			continue
		}
		in := store.ChatInput{JID: jid.String(), Name: conv.GetName()}
		if ts := conv.GetConversationTimestamp(); ts > 0 {
			last := time.Unix(int64(ts), 0)
			in.LastMsgAt = &last
		}
		chats = append(chats, in)

		for _, hmsg := range conv.GetMessages() {
			parsed, parseErr := s.client.ParseWebMessage(jid, hmsg.GetMessage())
			if parseErr != nil {
				log.Debug().Err(parseErr).Str("sessionId", s.sessionID).
					Str("chat", jid.String()).Msg("history message skipped")
				continue
			}
			s.translateMessage(parsed)
		}
	}
	if len(chats) > 0 {
		s.handler(Chats{Items: chats})
	}

	mappings := make([]store.LIDMappingInput, 0, len(data.GetPhoneNumberToLidMappings()))
	for _, m := range data.GetPhoneNumberToLidMappings() {
		if m.GetLidJID() == "" || m.GetPnJID() == "" {
			continue
		}
		mappings = append(mappings, store.LIDMappingInput{LID: m.GetLidJID(), PN: m.GetPnJID()})
	}
	if len(mappings) > 0 {
		s.handler(LIDMappings{Items: mappings})
	}
}

func (s *meowSocket) translateMessage(evt *waevents.Message) {
	msg := evt.Message
	if msg == nil {
		return
	}

	// Reactions and revokes ride the message stream but persist elsewhere.
	if r := msg.GetReactionMessage(); r != nil {
		s.handler(Reactions{Items: []store.ReactionInput{{
			MessageID: r.GetKey().GetID(),
			ChatJID:   evt.Info.Chat.String(),
			SenderJID: evt.Info.Sender.String(),
			Emoji:     r.GetText(),
			Timestamp: evt.Info.Timestamp,
		}}})
		return
	}
	if p := msg.GetProtocolMessage(); p != nil && p.GetType() == waProto.ProtocolMessage_REVOKE {
		s.handler(MessageRevoke{
			ChatJID:   evt.Info.Chat.String(),
			MessageID: p.GetKey().GetID(),
		})
		return
	}

	body := msg.GetConversation()
	if body == "" {
		body = msg.GetExtendedTextMessage().GetText()
	}
	s.handler(Messages{Items: []store.MessageInput{{
		ID:        string(evt.Info.ID),
		ChatJID:   evt.Info.Chat.String(),
		SenderJID: evt.Info.Sender.String(),
		FromMe:    evt.Info.IsFromMe,
		Type:      evt.Info.Type,
		Body:      body,
		Timestamp: evt.Info.Timestamp,
	}}})
}

func receiptStatus(t types.ReceiptType) string {
	switch t {
	case types.ReceiptTypeDelivered:
		return "delivered"
	case types.ReceiptTypeRead:
		return "read"
	default:
		return ""
	}
}

func parseJID(raw string) (types.JID, error) {
	if !util.IsValidJID(raw) {
		return types.JID{}, apperrors.InvalidJID(raw)
	}
	jid, err := types.ParseJID(raw)
	if err != nil {
		return types.JID{}, apperrors.InvalidJID(raw)
	}
	return jid, nil
}
