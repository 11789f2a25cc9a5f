package rpc

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/matheus3301/campus/internal/chat"
	"github.com/matheus3301/campus/internal/media"
	"github.com/matheus3301/campus/internal/posts"
	"github.com/matheus3301/campus/internal/projection"
	"github.com/matheus3301/campus/internal/status"
	"github.com/matheus3301/campus/internal/store"
	"github.com/matheus3301/campus/internal/tree"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// PushLog is the part of the push outbox the service reports on.
type PushLog interface {
	CountQueuedPushes(ctx context.Context) (int, error)
	RecentPushes(ctx context.Context, limit int) ([]store.PushEntry, error)
}

// Deps are the collaborators of a Service. Projection, Posts, Pushes and
// Media may be nil.
type Deps struct {
	Session     string
	UserID      string
	Backend     string
	PushGateway string
	Machine     *status.Machine
	Tree        *tree.Tree
	Users       *chat.Users
	Messaging   *chat.Messaging
	Membership  *chat.Membership
	Projection  *projection.Projection
	Posts       *posts.Service
	Pushes      PushLog
	Media       *media.Store
	Logger      *zap.Logger
}

// Service implements campus.v1.Campus, acting as the session's user.
type Service struct {
	Deps
	startedAt time.Time
}

// NewService creates the service.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Machine == nil {
		d.Machine = status.NewMachine(nil)
	}
	return &Service{Deps: d, startedAt: time.Now()}
}

// UserID returns the signed-in user, if any.
func (s *Service) UserID() string {
	return s.Deps.UserID
}

func (s *Service) me() (string, error) {
	if s.Deps.UserID == "" {
		return "", grpcstatus.Errorf(codes.FailedPrecondition,
			"no user signed in for session %q; run campusctl login", s.Session)
	}
	return s.Deps.UserID, nil
}

// toStatus maps domain errors to gRPC codes. Unexpected errors are logged.
func (s *Service) toStatus(method string, err error) error {
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	var code codes.Code
	switch {
	case errors.Is(err, chat.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, chat.ErrInvalid):
		code = codes.InvalidArgument
	case errors.Is(err, chat.ErrForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, media.ErrDisabled):
		code = codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
		s.Logger.Error("rpc failed", zap.String("method", method), zap.Error(err))
	}
	return grpcstatus.Error(code, err.Error())
}

// partial turns a *chat.FanoutError into the failed member list; the
// operation itself went through. Other errors pass unchanged.
func (s *Service) partial(err error) ([]string, error) {
	var fe *chat.FanoutError
	if errors.As(err, &fe) {
		s.Logger.Warn("partial fan-out", zap.String("op", fe.Op), zap.Strings("failed", fe.Failed), zap.Error(fe.Err))
		return fe.Failed, nil
	}
	return nil, err
}

func forbidden(msg string) error {
	return grpcstatus.Error(codes.PermissionDenied, msg)
}

func required(field string) error {
	return grpcstatus.Errorf(codes.InvalidArgument, "%s is required", field)
}

// member reads the chat and checks that the user belongs to it.
func (s *Service) member(ctx context.Context, chatID string) (string, *chat.Chat, error) {
	me, err := s.me()
	if err != nil {
		return "", nil, err
	}
	if chatID == "" {
		return "", nil, required("chatId")
	}
	c, err := s.Membership.Chat(ctx, chatID)
	if err != nil {
		return "", nil, err
	}
	if !c.HasUser(me) {
		return "", nil, forbidden("not a member of this chat")
	}
	return me, c, nil
}

// admin is member plus the admin check.
func (s *Service) admin(ctx context.Context, chatID string) (string, *chat.Chat, error) {
	me, c, err := s.member(ctx, chatID)
	if err != nil {
		return "", nil, err
	}
	if !c.HasAdmin(me) {
		return "", nil, forbidden("only admins can do this")
	}
	return me, c, nil
}

// sendable is member plus the block check for one-to-one chats.
func (s *Service) sendable(ctx context.Context, chatID string) (string, error) {
	me, c, err := s.member(ctx, chatID)
	if err != nil {
		return "", err
	}
	if c.IsGroupChat {
		return me, nil
	}
	for _, other := range c.Users {
		if other == me {
			continue
		}
		blocked, err := s.Membership.IsBlocked(ctx, me, other)
		if err != nil {
			return "", err
		}
		if blocked {
			return "", forbidden("messages to a blocked user are not allowed")
		}
	}
	return me, nil
}

func (s *Service) status(ctx context.Context, _ *Empty) (any, error) {
	resp := StatusResponse{
		Session:     s.Session,
		UserID:      s.Deps.UserID,
		Status:      string(s.Machine.Current()),
		Reason:      s.Machine.Reason(),
		UptimeMs:    time.Since(s.startedAt).Milliseconds(),
		Backend:     s.Backend,
		PushGateway: s.PushGateway,
		Media:       s.Media != nil,
	}
	if s.Pushes != nil {
		if n, err := s.Pushes.CountQueuedPushes(ctx); err == nil {
			resp.PushQueued = n
		}
	}
	if s.Projection != nil {
		resp.Watches = len(s.Projection.Watched())
	}
	return resp, nil
}

func (s *Service) listChats(ctx context.Context, req *ListChatsRequest) (any, error) {
	if _, err := s.me(); err != nil {
		return nil, err
	}
	filter, ok := projection.ParseChatFilter(req.Filter)
	if !ok {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "unknown filter %q, want all, chats or courses", req.Filter)
	}
	if s.Projection == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "chat list is not running")
	}
	items := s.Projection.Chats(filter)
	resp := ListChatsResponse{Chats: make([]ChatSummary, 0, len(items))}
	for _, it := range items {
		resp.Chats = append(resp.Chats, ChatSummary{
			ChatID:       it.Chat.ChatID,
			Title:        s.Projection.Title(ctx, it.Chat),
			Preview:      it.Preview,
			HasPreview:   it.HasPreview,
			IsGroupChat:  it.Chat.IsGroupChat,
			IsCourseChat: it.Chat.IsCourseChat,
			Users:        it.Chat.Users,
			Admins:       it.Chat.Admins,
			UpdatedAt:    it.Chat.UpdatedAt,
		})
	}
	return resp, nil
}

func (s *Service) getChat(ctx context.Context, req *ChatRequest) (any, error) {
	_, c, err := s.member(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}
	return ChatResponse{Chat: *c}, nil
}

func (s *Service) listMessages(ctx context.Context, req *ChatRequest) (any, error) {
	me, err := s.me()
	if err != nil {
		return nil, err
	}
	if req.ChatID == "" {
		return nil, required("chatId")
	}
	msgs, err := s.Messaging.VisibleMessages(ctx, me, req.ChatID)
	if err != nil {
		return nil, err
	}
	resp := ListMessagesResponse{Messages: make([]MessageView, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, messageView(m))
	}
	return resp, nil
}

func (s *Service) listStarred(ctx context.Context, _ *Empty) (any, error) {
	me, err := s.me()
	if err != nil {
		return nil, err
	}
	starred, err := s.Messaging.StarredMessages(ctx, me)
	if err != nil {
		return nil, err
	}
	resp := ListStarredResponse{Starred: make([]StarredView, 0, len(starred))}
	for _, st := range starred {
		v := StarredView{ChatID: st.ChatID, MessageID: st.MessageID, StarredAt: st.StarredAt}
		if m, err := s.Messaging.Message(ctx, st.ChatID, st.MessageID); err == nil {
			mv := messageView(m.Redacted())
			v.Message = &mv
		}
		resp.Starred = append(resp.Starred, v)
	}
	return resp, nil
}

func (s *Service) createChat(ctx context.Context, req *CreateChatRequest) (any, error) {
	me, err := s.me()
	if err != nil {
		return nil, err
	}
	users := req.Users
	if !slices.Contains(users, me) {
		users = append([]string{me}, users...)
	}
	if !req.IsGroupChat && len(users) == 2 {
		if existing, err := s.Membership.FindOneToOne(ctx, users[0], users[1]); err == nil && existing != nil {
			return CreateChatResponse{ChatID: existing.ChatID}, nil
		}
	}
	chatID, err := s.Membership.CreateChat(ctx, me, chat.NewChat{
		Users:        users,
		IsGroupChat:  req.IsGroupChat,
		IsCourseChat: req.IsCourseChat,
		ChatName:     req.ChatName,
		ChatImage:    req.ChatImage,
	})
	failed, err := s.partial(err)
	if err != nil {
		return nil, err
	}
	return CreateChatResponse{ChatID: chatID, FanoutResult: FanoutResult{FailedMembers: failed}}, nil
}

func inviteCode(code string) string {
	return strings.TrimPrefix(strings.TrimSpace(code), chat.InviteScheme)
}

func (s *Service) joinChat(ctx context.Context, req *InvitationRequest) (any, error) {
	me, err := s.me()
	if err != nil {
		return nil, err
	}
	res, err := s.Membership.JoinByInvitation(ctx, me, inviteCode(req.Code))
	if err != nil {
		return nil, err
	}
	return JoinResponse{ChatID: res.Chat.ChatID, ChatName: res.Chat.ChatName, AlreadyMember: res.AlreadyMember}, nil
}

func (s *Service) checkInvitation(ctx context.Context, req *InvitationRequest) (any, error) {
	me, err := s.me()
	if err != nil {
		return nil, err
	}
	res, err := s.Membership.IsUserInGroup(ctx, me, inviteCode(req.Code))
	if err != nil {
		return nil, err
	}
	return JoinResponse{ChatID: res.Chat.ChatID, ChatName: res.Chat.ChatName, AlreadyMember: res.AlreadyMember}, nil
}

func (s *Service) addUsers(ctx context.Context, req *MembersRequest) (any, error) {
	me, c, err := s.admin(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}
	if !c.IsGroupChat {
		return nil, grpcstatus.Error(codes.InvalidArgument, "users can only be added to group chats")
	}
	added, err := s.Membership.AddUsersToChat(ctx, me, req.Users, req.ChatID)
	failed, err := s.partial(err)
	if err != nil {
		return nil, err
	}
	if added == nil {
		added = []string{}
	}
	return AddUsersResponse{Added: added, FanoutResult: FanoutResult{FailedMembers: failed}}, nil
}

func (s *Service) removeUser(ctx context.Context, req *MemberRequest) (any, error) {
	if req.UserID == "" {
		return nil, required("userId")
	}
	me, _, err := s.admin(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}
	return Empty{}, s.Membership.RemoveUserFromChat(ctx, me, req.UserID, req.ChatID)
}

func (s *Service) leaveChat(ctx context.Context, req *ChatRequest) (any, error) {
	me, c, err := s.member(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}
	if !c.IsGroupChat {
		return nil, grpcstatus.Error(codes.InvalidArgument, "only group chats can be left; use HideChat for a one-to-one chat")
	}
	return Empty{}, s.Membership.LeaveChat(ctx, me, req.ChatID)
}

func (s *Service) addAdmin(ctx context.Context, req *MemberRequest) (any, error) {
	if req.UserID == "" {
		return nil, required("userId")
	}
	if _, _, err := s.admin(ctx, req.ChatID); err != nil {
		return nil, err
	}
	return Empty{}, s.Membership.AddAdmin(ctx, req.UserID, req.ChatID)
}

func (s *Service) removeAdmin(ctx context.Context, req *MemberRequest) (any, error) {
	if req.UserID == "" {
		return nil, required("userId")
	}
	if _, _, err := s.admin(ctx, req.ChatID); err != nil {
		return nil, err
	}
	return Empty{}, s.Membership.RemoveAdmin(ctx, req.UserID, req.ChatID)
}

func (s *Service) updateChat(ctx context.Context, req *UpdateChatRequest) (any, error) {
	me, _, err := s.admin(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}
	return Empty{}, s.Membership.UpdateChatData(ctx, req.ChatID, me, chat.ChatUpdate{
		ChatName:  req.ChatName,
		ChatImage: req.ChatImage,
	})
}

func (s *Service) regenerateInvite(ctx context.Context, req *ChatRequest) (any, error) {
	if _, _, err := s.admin(ctx, req.ChatID); err != nil {
		return nil, err
	}
	code, err := s.Membership.UpdateInvitationLink(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}
	return InviteResponse{Code: code, Link: chat.InviteScheme + code}, nil
}

func (s *Service) inviteQR(ctx context.Context, req *InviteQRRequest) (any, error) {
	_, c, err := s.member(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}
	png, err := chat.InvitationQR(c.InvitationCode, req.Size)
	if err != nil {
		return nil, err
	}
	return InviteQRResponse{Link: chat.InviteScheme + c.InvitationCode, PNG: png}, nil
}

func (s *Service) block(ctx context.Context, req *UserRequest) (any, error) {
	me, err := s.me()
	if err != nil {
		return nil, err
	}
	return Empty{}, s.Membership.AddBlock(ctx, me, req.UserID)
}

func (s *Service) unblock(ctx context.Context, req *UserRequest) (any, error) {
	me, err := s.me()
	if err != nil {
		return nil, err
	}
	return Empty{}, s.Membership.RemoveBlock(ctx, me, req.UserID)
}

func (s *Service) listBlocks(ctx context.Context, _ *Empty) (any, error) {
	me, err := s.me()
	if err != nil {
		return nil, err
	}
	users, err := s.Membership.Blocks(ctx, me)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []string{}
	}
	return BlocksResponse{Users: users}, nil
}

func (s *Service) sent(m chat.Message, err error) (any, error) {
	failed, err := s.partial(err)
	if err != nil {
		return nil, err
	}
	return SendResponse{Message: messageView(m), FanoutResult: FanoutResult{FailedMembers: failed}}, nil
}

func (s *Service) sendText(ctx context.Context, req *SendTextRequest) (any, error) {
	me, err := s.sendable(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}
	return s.sent(s.Messaging.SendTextMessage(ctx, req.ChatID, me, req.Text, req.ReplyTo))
}

// upload stores a local file under prefix and returns its URL and
// detected content type.
func (s *Service) upload(ctx context.Context, prefix, file string) (string, string, error) {
	if s.Media == nil {
		return "", "", media.ErrDisabled
	}
	return s.Media.UploadFile(ctx, prefix, file)
}

func (s *Service) sendImage(ctx context.Context, req *SendImageRequest) (any, error) {
	me, err := s.sendable(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}
	imageURL := req.ImageURL
	if req.File != "" {
		u, contentType, err := s.upload(ctx, media.ChatPrefix(req.ChatID), req.File)
		if err != nil {
			return nil, err
		}
		if !media.IsImage(contentType) {
			return nil, grpcstatus.Errorf(codes.InvalidArgument, "%s is %s, not an image", filepath.Base(req.File), contentType)
		}
		imageURL = u
	}
	return s.sent(s.Messaging.SendImage(ctx, req.ChatID, me, imageURL, req.ReplyTo))
}

func (s *Service) sendDocument(ctx context.Context, req *SendDocumentRequest) (any, error) {
	me, err := s.sendable(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}
	docURL, name := req.DocumentURL, req.Name
	if req.File != "" {
		u, _, err := s.upload(ctx, media.ChatPrefix(req.ChatID), req.File)
		if err != nil {
			return nil, err
		}
		docURL = u
		if name == "" {
			name = filepath.Base(req.File)
		}
	}
	return s.sent(s.Messaging.SendDocument(ctx, req.ChatID, me, docURL, name, req.ReplyTo))
}

// message is member plus a read of the message, so that stars and hidden
// links are only written for messages that exist.
func (s *Service) message(ctx context.Context, req *MessageRequest) (string, error) {
	me, _, err := s.member(ctx, req.ChatID)
	if err != nil {
		return "", err
	}
	if req.MessageID == "" {
		return "", required("messageId")
	}
	if _, err := s.Messaging.Message(ctx, req.ChatID, req.MessageID); err != nil {
		return "", err
	}
	return me, nil
}

func (s *Service) starMessage(ctx context.Context, req *MessageRequest) (any, error) {
	me, err := s.message(ctx, req)
	if err != nil {
		return nil, err
	}
	starred, err := s.Messaging.StarMessage(ctx, req.MessageID, req.ChatID, me)
	if err != nil {
		return nil, err
	}
	return StarResponse{Starred: starred}, nil
}

func (s *Service) deleteForMe(ctx context.Context, req *MessageRequest) (any, error) {
	me, err := s.message(ctx, req)
	if err != nil {
		return nil, err
	}
	return Empty{}, s.Messaging.DeleteMessageForUser(ctx, me, req.ChatID, req.MessageID)
}

func (s *Service) deleteForAll(ctx context.Context, req *MessageRequest) (any, error) {
	me, err := s.me()
	if err != nil {
		return nil, err
	}
	ok, err := s.Messaging.CanDeleteForAll(ctx, me, req.ChatID, req.MessageID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, forbidden("only the sender or a chat admin can delete for everyone")
	}
	return Empty{}, s.Messaging.DeleteMessageForAll(ctx, me, req.ChatID, req.MessageID)
}

func (s *Service) deleteAllMessages(ctx context.Context, req *ChatRequest) (any, error) {
	me, _, err := s.member(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}
	return Empty{}, s.Messaging.DeleteAllMessages(ctx, me, req.ChatID)
}

// hideChat removes the chat from the caller's list and hides its messages
// for the caller only. Other members keep everything.
func (s *Service) hideChat(ctx context.Context, req *ChatRequest) (any, error) {
	me, err := s.me()
	if err != nil {
		return nil, err
	}
	if req.ChatID == "" {
		return nil, required("chatId")
	}
	return Empty{}, s.Membership.DeleteUserChat(ctx, me, req.ChatID)
}

// deleteChat removes a group chat for every member. One-to-one chats are
// only ever hidden per member.
func (s *Service) deleteChat(ctx context.Context, req *ChatRequest) (any, error) {
	me, c, err := s.member(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}
	if !c.IsGroupChat {
		return nil, grpcstatus.Error(codes.InvalidArgument, "one-to-one chats cannot be deleted for everyone; use HideChat")
	}
	if !c.HasAdmin(me) {
		return nil, forbidden("only admins can delete a group chat")
	}
	failed, err := s.partial(s.Membership.DeleteChat(ctx, req.ChatID))
	if err != nil {
		return nil, err
	}
	return DeleteChatResponse{FanoutResult: FanoutResult{FailedMembers: failed}}, nil
}

// saveUser writes the signed-in user's own profile.
func (s *Service) saveUser(ctx context.Context, req *chat.User) (any, error) {
	me, err := s.me()
	if err != nil {
		return nil, err
	}
	if req.UserID != "" && req.UserID != me {
		return nil, forbidden("only your own profile can be saved")
	}
	req.UserID = me
	if err := s.Users.SaveUser(ctx, *req); err != nil {
		return nil, err
	}
	if s.Projection != nil {
		s.Projection.ForgetUser(req.UserID)
	}
	return Empty{}, nil
}

func (s *Service) getUser(ctx context.Context, req *UserRequest) (any, error) {
	id := req.UserID
	if id == "" {
		id = s.Deps.UserID
	}
	if id == "" {
		return nil, required("userId")
	}
	u, err := s.Users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return UserResponse{User: *u}, nil
}

func (s *Service) searchUsers(ctx context.Context, req *SearchUsersRequest) (any, error) {
	users, err := s.Users.SearchUsers(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []chat.User{}
	}
	return SearchUsersResponse{Users: users}, nil
}

func (s *Service) addPushToken(ctx context.Context, req *PushTokenRequest) (any, error) {
	me, err := s.me()
	if err != nil {
		return nil, err
	}
	return Empty{}, s.Users.AddPushToken(ctx, me, req.Token)
}

func (s *Service) listPushes(ctx context.Context, req *ListPushesRequest) (any, error) {
	if s.Pushes == nil {
		return ListPushesResponse{Pushes: []PushView{}}, nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	entries, err := s.Pushes.RecentPushes(ctx, limit)
	if err != nil {
		return nil, err
	}
	resp := ListPushesResponse{Pushes: make([]PushView, 0, len(entries))}
	for _, e := range entries {
		resp.Pushes = append(resp.Pushes, pushView(e))
	}
	return resp, nil
}
