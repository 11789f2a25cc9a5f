package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/matheus3301/campus/internal/bus"
	"github.com/matheus3301/campus/internal/tree"
	"go.uber.org/zap"
)

// Notifier delivers device pushes. Implementations must not block on
// delivery; errors only mean the push could not be queued.
type Notifier interface {
	Notify(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}

// SentEvent is the payload of message.sent.
type SentEvent struct {
	ChatID    string
	MessageID string
	Kind      MessageKind
	SentBy    string
}

// FanoutEvent is the payload of message.fanout_failed.
type FanoutEvent struct {
	Op     string
	ChatID string
	Failed []string
}

// Messaging owns the message lifecycle: send with per-member fan-out,
// starring, and the two kinds of delete.
type Messaging struct {
	tree     *tree.Tree
	users    *Users
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewMessaging creates the messaging service. A nil notifier disables pushes.
func NewMessaging(t *tree.Tree, users *Users, notifier Notifier, logger *zap.Logger) *Messaging {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Messaging{
		tree:     t,
		users:    users,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Messaging) stamp() string {
	return s.now().UTC().Format(TimeLayout)
}

// SendTextMessage sends text to the chat, optionally as a reply.
func (s *Messaging) SendTextMessage(ctx context.Context, chatID, senderID, text, replyTo string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, invalid("empty message")
	}
	return s.send(ctx, Message{ChatID: chatID, Kind: KindText, SentBy: senderID, Text: text, ReplyTo: replyTo})
}

// SendImage sends an uploaded image. The chat preview reads "Image".
func (s *Messaging) SendImage(ctx context.Context, chatID, senderID, imageURL, replyTo string) (Message, error) {
	if imageURL == "" {
		return Message{}, invalid("image url is required")
	}
	return s.send(ctx, Message{ChatID: chatID, Kind: KindImage, SentBy: senderID, Text: "Image", ImageURL: imageURL, ReplyTo: replyTo})
}

// SendDocument sends an uploaded document; its name is the message text.
func (s *Messaging) SendDocument(ctx context.Context, chatID, senderID, documentURL, documentName, replyTo string) (Message, error) {
	if documentURL == "" {
		return Message{}, invalid("document url is required")
	}
	if strings.TrimSpace(documentName) == "" {
		return Message{}, invalid("document name is required")
	}
	return s.send(ctx, Message{ChatID: chatID, Kind: KindDocument, SentBy: senderID, Text: documentName, DocumentURL: documentURL, ReplyTo: replyTo})
}

// SendInfoMessage records a membership or admin event. No push is sent.
func (s *Messaging) SendInfoMessage(ctx context.Context, chatID, senderID, text string) (Message, error) {
	if text == "" {
		return Message{}, invalid("empty info message")
	}
	return s.send(ctx, Message{ChatID: chatID, Kind: KindInfo, SentBy: senderID, Text: text})
}

// send stores the message, stamps the chat, links the message for every
// current member and notifies the others. Each step is its own write; a
// *FanoutError is returned with the message when some links failed.
func (s *Messaging) send(ctx context.Context, m Message) (Message, error) {
	if m.ChatID == "" || m.SentBy == "" {
		return Message{}, invalid("chat id and sender are required")
	}
	if _, err := readChat(ctx, s.tree, m.ChatID); err != nil {
		return Message{}, err
	}

	m.SentAt = s.now()
	id, err := s.tree.Push(ctx, MessagesPath(m.ChatID), m.record())
	if err != nil {
		return Message{}, fmt.Errorf("store message: %w", err)
	}
	m.ID = id

	if err := s.tree.Update(ctx, ChatPath(m.ChatID), map[string]any{
		"updatedBy":         m.SentBy,
		"updatedAt":         m.SentAt.UTC().Format(TimeLayout),
		"latestMessageText": m.Text,
	}); err != nil {
		return m, fmt.Errorf("update chat %s: %w", m.ChatID, err)
	}

	// Members are read after the message is stored so late joiners are included.
	chat, err := readChat(ctx, s.tree, m.ChatID)
	if err != nil {
		return m, err
	}
	fan := fanout{op: "deliver message"}
	for _, member := range chat.Users {
		if err := s.tree.Set(ctx, userMessagePath(member, m.ChatID, m.ID), true); err != nil {
			s.logger.Warn("message link failed",
				zap.String("chat_id", m.ChatID), zap.String("message_id", m.ID),
				zap.String("member", member), zap.Error(err))
			fan.fail(member, err)
		}
	}
	fanErr := fan.result()
	if fanErr != nil {
		s.tree.Bus().Emit(bus.KindMessageFanoutFail, FanoutEvent{Op: fan.op, ChatID: m.ChatID, Failed: fan.failed})
	}

	if m.Kind != KindInfo {
		s.notify(ctx, chat, m)
	}

	s.logger.Debug("message sent",
		zap.String("chat_id", m.ChatID), zap.String("message_id", m.ID), zap.String("kind", string(m.Kind)))
	s.tree.Bus().Emit(bus.KindMessageSent, SentEvent{ChatID: m.ChatID, MessageID: m.ID, Kind: m.Kind, SentBy: m.SentBy})
	return m, fanErr
}

// notify queues a push for every member except the sender. Failures are
// logged only.
func (s *Messaging) notify(ctx context.Context, chat *Chat, m Message) {
	if s.notifier == nil {
		return
	}
	var tokens []string
	for _, member := range chat.Users {
		if member == m.SentBy {
			continue
		}
		t, err := s.users.PushTokens(ctx, member)
		if err != nil {
			s.logger.Warn("push token lookup failed", zap.String("user_id", member), zap.Error(err))
			continue
		}
		tokens = append(tokens, t...)
	}
	if len(tokens) == 0 {
		return
	}

	title := s.users.fullName(ctx, m.SentBy)
	var body string
	switch m.Kind {
	case KindImage:
		body = s.users.firstName(ctx, m.SentBy) + " sent an image"
	case KindDocument:
		body = s.users.firstName(ctx, m.SentBy) + " sent a document"
	default:
		body = m.Text
	}
	if err := s.notifier.Notify(ctx, tokens, title, body, map[string]string{"chatId": m.ChatID}); err != nil {
		s.logger.Warn("push notify failed",
			zap.String("chat_id", m.ChatID), zap.Int("tokens", len(tokens)), zap.Error(err))
	}
}

// StarMessage toggles the star and reports whether the message is now starred.
func (s *Messaging) StarMessage(ctx context.Context, messageID, chatID, userID string) (bool, error) {
	path := starredPath(userID, chatID, messageID)
	snap, err := s.tree.Get(ctx, path)
	if err != nil {
		return false, err
	}
	if snap.Exists() {
		if err := s.tree.Remove(ctx, path); err != nil {
			return true, fmt.Errorf("unstar: %w", err)
		}
		return false, nil
	}
	rec := StarredMessage{MessageID: messageID, ChatID: chatID, StarredAt: s.stamp()}
	if err := s.tree.Set(ctx, path, rec); err != nil {
		return false, fmt.Errorf("star: %w", err)
	}
	return true, nil
}

// UnstarMessage removes the star if present.
func (s *Messaging) UnstarMessage(ctx context.Context, messageID, chatID, userID string) error {
	return s.tree.Remove(ctx, starredPath(userID, chatID, messageID))
}

// DeleteMessageForUser hides the message from userID only.
func (s *Messaging) DeleteMessageForUser(ctx context.Context, userID, chatID, messageID string) error {
	if err := s.tree.Set(ctx, userMessagePath(userID, chatID, messageID), false); err != nil {
		return fmt.Errorf("hide message: %w", err)
	}
	return s.UnstarMessage(ctx, messageID, chatID, userID)
}

// DeleteMessageForAll retracts the message for every member and re-derives
// the chat preview. Whether userID may do this is checked by the caller
// with CanDeleteForAll.
func (s *Messaging) DeleteMessageForAll(ctx context.Context, userID, chatID, messageID string) error {
	snap, err := s.tree.Get(ctx, messagePath(chatID, messageID))
	if err != nil {
		return err
	}
	if !snap.Exists() {
		return notFound("message %s in chat %s", messageID, chatID)
	}

	if err := s.tree.Update(ctx, messagePath(chatID, messageID), map[string]any{
		"isDeleted": true,
		"text":      DeletedText,
	}); err != nil {
		return fmt.Errorf("retract message: %w", err)
	}
	if err := s.UnstarMessage(ctx, messageID, chatID, userID); err != nil {
		return err
	}

	msgs, err := s.Messages(ctx, chatID)
	if err != nil {
		return err
	}
	latest := ""
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].Deleted {
			latest = msgs[i].Text
			break
		}
	}
	return s.tree.Update(ctx, ChatPath(chatID), map[string]any{"latestMessageText": latest})
}

// CanDeleteForAll reports whether userID sent the message or admins the chat.
func (s *Messaging) CanDeleteForAll(ctx context.Context, userID, chatID, messageID string) (bool, error) {
	m, err := s.Message(ctx, chatID, messageID)
	if err != nil {
		return false, err
	}
	if m.SentBy == userID {
		return true, nil
	}
	chat, err := readChat(ctx, s.tree, chatID)
	if err != nil {
		return false, err
	}
	return chat.HasAdmin(userID), nil
}

// DeleteAllMessages hides every message of the chat from userID.
func (s *Messaging) DeleteAllMessages(ctx context.Context, userID, chatID string) error {
	links, err := s.UserMessages(ctx, userID, chatID)
	if err != nil {
		return err
	}
	if len(links) == 0 {
		return nil
	}
	fields := make(map[string]any, len(links))
	for id := range links {
		fields[id] = false
	}
	if err := s.tree.Update(ctx, UserMessagesPath(userID, chatID), fields); err != nil {
		return fmt.Errorf("hide messages of %s: %w", chatID, err)
	}
	return nil
}

// LastMessage returns the text of the newest message still visible to userID.
func (s *Messaging) LastMessage(ctx context.Context, userID, chatID string) (string, bool, error) {
	links, err := s.UserMessages(ctx, userID, chatID)
	if err != nil {
		return "", false, err
	}
	ids := visibleIDs(links)
	for i := len(ids) - 1; i >= 0; i-- {
		m, err := s.Message(ctx, chatID, ids[i])
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return "", false, err
		}
		return m.Text, true, nil
	}
	return "", false, nil
}

// UserMessages returns userID's visibility links for the chat.
func (s *Messaging) UserMessages(ctx context.Context, userID, chatID string) (map[string]bool, error) {
	snap, err := s.tree.Get(ctx, UserMessagesPath(userID, chatID))
	if err != nil {
		return nil, err
	}
	return boolMap(snap), nil
}

// Message reads one message.
func (s *Messaging) Message(ctx context.Context, chatID, messageID string) (Message, error) {
	snap, err := s.tree.Get(ctx, messagePath(chatID, messageID))
	if err != nil {
		return Message{}, err
	}
	if !snap.Exists() {
		return Message{}, notFound("message %s in chat %s", messageID, chatID)
	}
	var rec messageRecord
	if err := snap.Decode(&rec); err != nil {
		return Message{}, err
	}
	return rec.message(chatID, messageID), nil
}

// Messages returns every stored message of the chat in send order.
func (s *Messaging) Messages(ctx context.Context, chatID string) ([]Message, error) {
	snap, err := s.tree.Get(ctx, MessagesPath(chatID))
	if err != nil {
		return nil, err
	}
	return DecodeMessages(snap)
}

// VisibleMessages joins userID's links with the stored messages: only
// messages linked true and still stored are returned, retracted ones redacted.
func (s *Messaging) VisibleMessages(ctx context.Context, userID, chatID string) ([]Message, error) {
	links, err := s.UserMessages(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	all, err := s.Messages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return Visible(all, links), nil
}

// StarredMessages lists userID's stars, oldest first.
func (s *Messaging) StarredMessages(ctx context.Context, userID string) ([]StarredMessage, error) {
	snap, err := s.tree.Get(ctx, UserStarredPath(userID))
	if err != nil {
		return nil, err
	}
	return DecodeStarred(snap)
}

// DecodeMessages decodes a messages/{chatId} snapshot in key order.
func DecodeMessages(snap tree.Snapshot) ([]Message, error) {
	children := snap.Children()
	out := make([]Message, 0, len(children))
	for _, c := range children {
		var rec messageRecord
		if err := c.Decode(&rec); err != nil {
			return nil, err
		}
		out = append(out, rec.message(snap.Key(), c.Key()))
	}
	return out, nil
}

// DecodeStarred decodes a userStarredMessages/{userId} snapshot.
func DecodeStarred(snap tree.Snapshot) ([]StarredMessage, error) {
	var out []StarredMessage
	for _, byChat := range snap.Children() {
		for _, c := range byChat.Children() {
			var sm StarredMessage
			if err := c.Decode(&sm); err != nil {
				return nil, err
			}
			if sm.ChatID == "" {
				sm.ChatID = byChat.Key()
			}
			if sm.MessageID == "" {
				sm.MessageID = c.Key()
			}
			out = append(out, sm)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StarredAt < out[j].StarredAt })
	return out, nil
}

// Visible filters msgs to those linked true, redacting retracted ones.
func Visible(msgs []Message, links map[string]bool) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if links[m.ID] {
			out = append(out, m.Redacted())
		}
	}
	return out
}

func visibleIDs(links map[string]bool) []string {
	ids := make([]string, 0, len(links))
	for id, ok := range links {
		if ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func boolMap(snap tree.Snapshot) map[string]bool {
	out := map[string]bool{}
	for _, c := range snap.Children() {
		out[c.Key()] = c.Bool()
	}
	return out
}
