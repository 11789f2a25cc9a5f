package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/campus/internal/tree"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// InviteScheme prefixes the payload of invitation QR codes.
const InviteScheme = "campus://join/"

// Membership owns the chat lifecycle: creation, members, admins,
// invitations and blocks. Every operation reads the chat fresh by id and
// then issues ordered writes; nothing is transactional across paths.
type Membership struct {
	tree      *tree.Tree
	users     *Users
	messaging *Messaging
	logger    *zap.Logger
	now       func() time.Time
}

// NewMembership creates the membership service. Info messages go through messaging.
func NewMembership(t *tree.Tree, users *Users, messaging *Messaging, logger *zap.Logger) *Membership {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Membership{
		tree:      t,
		users:     users,
		messaging: messaging,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Membership) stamp() string {
	return s.now().UTC().Format(TimeLayout)
}

// CreateChat validates spec, writes the chat and links it for every member.
// The chat id is returned once the chat record is written; link failures
// come back as a *FanoutError next to it.
func (s *Membership) CreateChat(ctx context.Context, creatorID string, spec NewChat) (string, error) {
	users := dedup(spec.Users)
	switch {
	case creatorID == "":
		return "", invalid("creator is required")
	case !slices.Contains(users, creatorID):
		return "", invalid("users must include the creator")
	case !spec.IsGroupChat && len(users) != 2:
		return "", invalid("a one-to-one chat has exactly 2 users, got %d", len(users))
	case spec.IsGroupChat && strings.TrimSpace(spec.ChatName) == "":
		return "", invalid("a group chat needs a name")
	}

	now := s.stamp()
	chat := Chat{
		ChatID:         tree.NewKey(),
		Users:          users,
		Admins:         []string{creatorID},
		IsGroupChat:    spec.IsGroupChat,
		IsCourseChat:   spec.IsCourseChat,
		ChatName:       strings.TrimSpace(spec.ChatName),
		ChatImage:      spec.ChatImage,
		InvitationCode: uuid.NewString(),
		CreatedBy:      creatorID,
		UpdatedBy:      creatorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.tree.Set(ctx, ChatPath(chat.ChatID), chat); err != nil {
		return "", fmt.Errorf("create chat: %w", err)
	}

	fan := fanout{op: "create chat"}
	for _, u := range users {
		if err := s.tree.Set(ctx, userChatPath(u, chat.ChatID), true); err != nil {
			s.logger.Warn("chat link failed", zap.String("chat_id", chat.ChatID), zap.String("member", u), zap.Error(err))
			fan.fail(u, err)
		}
	}
	s.logger.Info("chat created",
		zap.String("chat_id", chat.ChatID), zap.Bool("group", chat.IsGroupChat), zap.Int("users", len(users)))
	return chat.ChatID, fan.result()
}

// Chat reads a chat fresh from the tree.
func (s *Membership) Chat(ctx context.Context, chatID string) (*Chat, error) {
	return readChat(ctx, s.tree, chatID)
}

// FindOneToOne returns the existing non-group chat between a and b, if
// a's chat list has one. Callers use it before CreateChat to avoid
// opening a second conversation with the same person.
func (s *Membership) FindOneToOne(ctx context.Context, a, b string) (*Chat, error) {
	links, err := s.UserChats(ctx, a)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(links))
	for id := range links {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		chat, err := readChat(ctx, s.tree, id)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if !chat.IsGroupChat && chat.HasUser(a) && chat.HasUser(b) {
			return chat, nil
		}
	}
	return nil, nil
}

// IsUserInGroup finds the chat carrying code and reports whether userID is
// already a member. It scans every chat.
func (s *Membership) IsUserInGroup(ctx context.Context, userID, code string) (JoinResult, error) {
	if code == "" {
		return JoinResult{}, invalid("empty invitation code")
	}
	snap, err := s.tree.Get(ctx, chatsRoot)
	if err != nil {
		return JoinResult{}, err
	}
	for _, c := range snap.Children() {
		if c.Child("invitationCode").Value != code {
			continue
		}
		chat, err := DecodeChat(c)
		if err != nil {
			return JoinResult{}, err
		}
		return JoinResult{Chat: chat, AlreadyMember: chat.HasUser(userID)}, nil
	}
	return JoinResult{}, notFound("no chat for invitation %s", code)
}

// JoinByInvitation joins userID to the chat carrying code.
func (s *Membership) JoinByInvitation(ctx context.Context, userID, code string) (JoinResult, error) {
	res, err := s.IsUserInGroup(ctx, userID, code)
	if err != nil {
		return JoinResult{}, err
	}
	if res.AlreadyMember {
		return res, nil
	}
	return s.JoinChat(ctx, userID, res.Chat.ChatID)
}

// JoinChat adds userID to the chat. Existing members are left alone.
func (s *Membership) JoinChat(ctx context.Context, userID, chatID string) (JoinResult, error) {
	chat, err := readChat(ctx, s.tree, chatID)
	if err != nil {
		return JoinResult{}, err
	}
	if chat.HasUser(userID) {
		return JoinResult{Chat: chat, AlreadyMember: true}, nil
	}

	if err := s.tree.Set(ctx, userChatPath(userID, chatID), true); err != nil {
		return JoinResult{}, fmt.Errorf("link chat: %w", err)
	}
	chat.Users = append(chat.Users, userID)
	chat.UpdatedBy = userID
	chat.UpdatedAt = s.stamp()
	if err := s.tree.Update(ctx, ChatPath(chatID), map[string]any{
		"users":     chat.Users,
		"updatedBy": chat.UpdatedBy,
		"updatedAt": chat.UpdatedAt,
	}); err != nil {
		return JoinResult{}, fmt.Errorf("join chat: %w", err)
	}

	text := s.users.firstName(ctx, userID) + " joined the chat"
	if err := s.info(ctx, chatID, userID, text); err != nil {
		return JoinResult{Chat: chat}, err
	}
	return JoinResult{Chat: chat}, nil
}

// IsUserInChat reports whether userID is a member of the chat.
func (s *Membership) IsUserInChat(ctx context.Context, userID, chatID string) (bool, error) {
	chat, err := readChat(ctx, s.tree, chatID)
	if err != nil {
		return false, err
	}
	return chat.HasUser(userID), nil
}

// AddUsersToChat adds the users that are not members yet and returns them.
// Nothing is written when every user is already a member.
func (s *Membership) AddUsersToChat(ctx context.Context, actorID string, userIDs []string, chatID string) ([]string, error) {
	chat, err := readChat(ctx, s.tree, chatID)
	if err != nil {
		return nil, err
	}
	var added []string
	for _, u := range dedup(userIDs) {
		if !chat.HasUser(u) {
			added = append(added, u)
		}
	}
	if len(added) == 0 {
		return nil, nil
	}

	fan := fanout{op: "add users"}
	for _, u := range added {
		if err := s.tree.Set(ctx, userChatPath(u, chatID), true); err != nil {
			s.logger.Warn("chat link failed", zap.String("chat_id", chatID), zap.String("member", u), zap.Error(err))
			fan.fail(u, err)
		}
	}
	if err := s.tree.Update(ctx, ChatPath(chatID), map[string]any{
		"users":     append(slices.Clone(chat.Users), added...),
		"updatedBy": actorID,
		"updatedAt": s.stamp(),
	}); err != nil {
		return nil, fmt.Errorf("add users: %w", err)
	}

	text := fmt.Sprintf("%s added %s to the chat",
		s.users.firstName(ctx, actorID), s.users.firstName(ctx, added[0]))
	if n := len(added) - 1; n > 0 {
		text = fmt.Sprintf("%s added %s and %d others to the chat",
			s.users.firstName(ctx, actorID), s.users.firstName(ctx, added[0]), n)
	}
	if err := s.info(ctx, chatID, actorID, text); err != nil {
		return added, err
	}
	return added, fan.result()
}

// RemoveUserFromChat removes targetID on behalf of actorID.
func (s *Membership) RemoveUserFromChat(ctx context.Context, actorID, targetID, chatID string) error {
	return s.removeMember(ctx, actorID, targetID, chatID)
}

// LeaveChat removes userID from the chat on their own behalf.
func (s *Membership) LeaveChat(ctx context.Context, userID, chatID string) error {
	return s.removeMember(ctx, userID, userID, chatID)
}

// removeMember drops target from users and admins in one write, promotes
// the first remaining member when no admin is left, retracts the target's
// chat and message links and records an info message. A target that is no
// longer a member only has its links retracted, so an interrupted removal
// can be repeated.
func (s *Membership) removeMember(ctx context.Context, actorID, targetID, chatID string) error {
	chat, err := readChat(ctx, s.tree, chatID)
	if err != nil {
		return err
	}
	if !chat.HasUser(targetID) {
		return s.DeleteUserChat(ctx, targetID, chatID)
	}

	users := without(chat.Users, targetID)
	var admins []string
	for _, a := range chat.Admins {
		if a != targetID && slices.Contains(users, a) {
			admins = append(admins, a)
		}
	}
	if len(admins) == 0 && len(users) > 0 {
		admins = []string{users[0]}
		s.logger.Info("admin promoted", zap.String("chat_id", chatID), zap.String("user_id", users[0]))
	}

	if err := s.tree.Update(ctx, ChatPath(chatID), map[string]any{
		"users":     users,
		"admins":    admins,
		"updatedBy": actorID,
		"updatedAt": s.stamp(),
	}); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if err := s.DeleteUserChat(ctx, targetID, chatID); err != nil {
		return err
	}

	text := s.users.firstName(ctx, actorID) + " left the chat"
	if actorID != targetID {
		text = fmt.Sprintf("%s removed %s from the chat",
			s.users.firstName(ctx, actorID), s.users.firstName(ctx, targetID))
	}
	return s.info(ctx, chatID, actorID, text)
}

// AddAdmin promotes a member. Promoting an admin again is a no-op.
func (s *Membership) AddAdmin(ctx context.Context, userID, chatID string) error {
	chat, err := readChat(ctx, s.tree, chatID)
	if err != nil {
		return err
	}
	if !chat.HasUser(userID) {
		return invalid("%s is not a member of %s", userID, chatID)
	}
	if chat.HasAdmin(userID) {
		return nil
	}
	return s.tree.Update(ctx, ChatPath(chatID), map[string]any{
		"admins": append(slices.Clone(chat.Admins), userID),
	})
}

// RemoveAdmin demotes userID. Demoting a non-admin is a no-op.
func (s *Membership) RemoveAdmin(ctx context.Context, userID, chatID string) error {
	chat, err := readChat(ctx, s.tree, chatID)
	if err != nil {
		return err
	}
	if !chat.HasAdmin(userID) {
		return nil
	}
	return s.tree.Update(ctx, ChatPath(chatID), map[string]any{
		"admins": without(chat.Admins, userID),
	})
}

// IsAdmin reads the chat fresh and reports whether userID administers it.
func (s *Membership) IsAdmin(ctx context.Context, userID, chatID string) (bool, error) {
	chat, err := readChat(ctx, s.tree, chatID)
	if err != nil {
		return false, err
	}
	return chat.HasAdmin(userID), nil
}

// UpdateChatData merges name and image changes and stamps the editor.
// Who may edit is decided by the caller.
func (s *Membership) UpdateChatData(ctx context.Context, chatID, actorID string, upd ChatUpdate) error {
	chat, err := readChat(ctx, s.tree, chatID)
	if err != nil {
		return err
	}
	fields := map[string]any{
		"updatedBy": actorID,
		"updatedAt": s.stamp(),
	}
	if upd.ChatName != nil {
		name := strings.TrimSpace(*upd.ChatName)
		if name == "" && chat.IsGroupChat {
			return invalid("a group chat needs a name")
		}
		fields["chatName"] = optional(name)
	}
	if upd.ChatImage != nil {
		fields["chatImage"] = optional(*upd.ChatImage)
	}
	return s.tree.Update(ctx, ChatPath(chatID), fields)
}

// UpdateInvitationLink replaces the invitation code. The old code stops
// working at once.
func (s *Membership) UpdateInvitationLink(ctx context.Context, chatID string) (string, error) {
	if _, err := readChat(ctx, s.tree, chatID); err != nil {
		return "", err
	}
	code := uuid.NewString()
	if err := s.tree.Update(ctx, ChatPath(chatID), map[string]any{"invitationCode": code}); err != nil {
		return "", fmt.Errorf("update invitation: %w", err)
	}
	return code, nil
}

// InvitationQR renders code as a PNG QR image of size pixels.
func InvitationQR(code string, size int) ([]byte, error) {
	if code == "" {
		return nil, invalid("empty invitation code")
	}
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(InviteScheme+code, qrcode.Medium, size)
}

// AddBlock records that userID blocks targetID.
func (s *Membership) AddBlock(ctx context.Context, userID, targetID string) error {
	if userID == "" || targetID == "" || userID == targetID {
		return invalid("cannot block %q as %q", targetID, userID)
	}
	return s.tree.Set(ctx, blockPath(userID, targetID), true)
}

// RemoveBlock clears userID's block of targetID.
func (s *Membership) RemoveBlock(ctx context.Context, userID, targetID string) error {
	if userID == "" || targetID == "" {
		return invalid("user ids are required")
	}
	return s.tree.Set(ctx, blockPath(userID, targetID), false)
}

// IsBlocked reports whether either user blocks the other.
func (s *Membership) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	for _, p := range []string{blockPath(a, b), blockPath(b, a)} {
		snap, err := s.tree.Get(ctx, p)
		if err != nil {
			return false, err
		}
		if snap.Bool() {
			return true, nil
		}
	}
	return false, nil
}

// Blocks lists the users userID currently blocks.
func (s *Membership) Blocks(ctx context.Context, userID string) ([]string, error) {
	snap, err := s.tree.Get(ctx, UserBlocksPath(userID))
	if err != nil {
		return nil, err
	}
	var out []string
	for id, on := range boolMap(snap) {
		if on {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

// DeleteUserChat hides the chat and all of its messages from userID. The
// user stays a member.
func (s *Membership) DeleteUserChat(ctx context.Context, userID, chatID string) error {
	if err := s.messaging.DeleteAllMessages(ctx, userID, chatID); err != nil {
		return err
	}
	if err := s.tree.Set(ctx, userChatPath(userID, chatID), false); err != nil {
		return fmt.Errorf("hide chat: %w", err)
	}
	return nil
}

// DeleteChat removes the chat for everyone: its messages, every member's
// links and finally the chat record.
func (s *Membership) DeleteChat(ctx context.Context, chatID string) error {
	chat, err := readChat(ctx, s.tree, chatID)
	if err != nil {
		return err
	}
	if err := s.tree.Remove(ctx, MessagesPath(chatID)); err != nil {
		return fmt.Errorf("remove messages: %w", err)
	}
	fan := fanout{op: "delete chat"}
	for _, u := range chat.Users {
		if err := s.DeleteUserChat(ctx, u, chatID); err != nil {
			s.logger.Warn("retract chat failed", zap.String("chat_id", chatID), zap.String("member", u), zap.Error(err))
			fan.fail(u, err)
		}
	}
	if err := s.tree.Remove(ctx, ChatPath(chatID)); err != nil {
		return fmt.Errorf("remove chat: %w", err)
	}
	s.logger.Info("chat deleted", zap.String("chat_id", chatID))
	return fan.result()
}

// UserChats returns userID's chat links; false marks a hidden conversation.
func (s *Membership) UserChats(ctx context.Context, userID string) (map[string]bool, error) {
	snap, err := s.tree.Get(ctx, UserChatsPath(userID))
	if err != nil {
		return nil, err
	}
	return boolMap(snap), nil
}

func (s *Membership) info(ctx context.Context, chatID, senderID, text string) error {
	_, err := s.messaging.SendInfoMessage(ctx, chatID, senderID, text)
	return err
}

func readChat(ctx context.Context, t *tree.Tree, chatID string) (*Chat, error) {
	if chatID == "" {
		return nil, invalid("chat id is required")
	}
	snap, err := t.Get(ctx, ChatPath(chatID))
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, notFound("chat %s", chatID)
	}
	return DecodeChat(snap)
}

// DecodeChat decodes a chats/{chatId} snapshot.
func DecodeChat(snap tree.Snapshot) (*Chat, error) {
	var c Chat
	if err := snap.Decode(&c); err != nil {
		return nil, err
	}
	c.ChatID = snap.Key()
	return &c, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func dedup(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
