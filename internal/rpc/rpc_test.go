package rpc

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/campus/internal/bus"
	"github.com/matheus3301/campus/internal/chat"
	"github.com/matheus3301/campus/internal/posts"
	"github.com/matheus3301/campus/internal/projection"
	"github.com/matheus3301/campus/internal/tree"
	"github.com/matheus3301/campus/internal/tree/bunt"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

type harness struct {
	ctx    context.Context
	tree   *tree.Tree
	users  *chat.Users
	msg    *chat.Messaging
	mem    *chat.Membership
	posts  *posts.Service
	client *Client
}

// newHarness serves a Service acting as userID on a socket in a temp dir.
func newHarness(t *testing.T, userID string) *harness {
	t.Helper()
	// Short path for the Unix socket length limit.
	dir, err := os.MkdirTemp("/tmp", "campus-rpc-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	backend, err := bunt.Open(bunt.Memory)
	require.NoError(t, err)
	tr := tree.New(backend, bus.New(), nil)
	t.Cleanup(func() { _ = tr.Close() })

	ctx := context.Background()
	users := chat.NewUsers(tr)
	msg := chat.NewMessaging(tr, users, nil, nil)
	mem := chat.NewMembership(tr, users, msg, nil)
	for _, u := range []chat.User{
		{UserID: "alice", FirstName: "Alice", LastName: "Smith"},
		{UserID: "bob", FirstName: "Bob", LastName: "Jones"},
		{UserID: "carol", FirstName: "Carol", LastName: "White", SelectedRole: chat.RoleFacultyMember},
	} {
		require.NoError(t, users.SaveUser(ctx, u))
	}

	var proj *projection.Projection
	if userID != "" {
		proj, err = projection.New(tr, users, userID, 16, nil)
		require.NoError(t, err)
		proj.Start(ctx)
		t.Cleanup(proj.Stop)
	}

	timeline := posts.NewService(tr, users, nil)
	svc := NewService(Deps{
		Session:    "test",
		UserID:     userID,
		Backend:    "bunt",
		Tree:       tr,
		Users:      users,
		Messaging:  msg,
		Membership: mem,
		Projection: proj,
		Posts:      timeline,
	})
	srv := grpc.NewServer()
	Register(srv, svc)
	socket := filepath.Join(dir, "d.sock")
	lis, err := net.Listen("unix", socket)
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := Dial(socket)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return &harness{ctx: ctx, tree: tr, users: users, msg: msg, mem: mem, posts: timeline, client: c}
}

func requireCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, want, grpcstatus.Code(err), "err = %v", err)
}

func TestStatus(t *testing.T) {
	h := newHarness(t, "alice")
	var resp StatusResponse
	require.NoError(t, h.client.Call(h.ctx, "Status", nil, &resp))
	require.Equal(t, "test", resp.Session)
	require.Equal(t, "alice", resp.UserID)
	require.Equal(t, "BOOTING", resp.Status)
	require.Equal(t, "bunt", resp.Backend)
	require.False(t, resp.Media)
}

func TestNoUserIsFailedPrecondition(t *testing.T) {
	h := newHarness(t, "")
	err := h.client.Call(h.ctx, "SendText", SendTextRequest{ChatID: "c", Text: "x"}, nil)
	requireCode(t, err, codes.FailedPrecondition)

	// User lookups work without a signed-in user.
	var resp UserResponse
	require.NoError(t, h.client.Call(h.ctx, "GetUser", UserRequest{UserID: "bob"}, &resp))
	require.Equal(t, "Bob", resp.User.FirstName)
}

func TestCreateSendAndList(t *testing.T) {
	h := newHarness(t, "alice")

	var created CreateChatResponse
	require.NoError(t, h.client.Call(h.ctx, "CreateChat",
		CreateChatRequest{Users: []string{"bob", "carol"}, IsGroupChat: true, ChatName: "Algebra"}, &created))
	require.NotEmpty(t, created.ChatID)
	require.Empty(t, created.FailedMembers)

	var sent SendResponse
	require.NoError(t, h.client.Call(h.ctx, "SendText", SendTextRequest{ChatID: created.ChatID, Text: "hi"}, &sent))
	require.Equal(t, "hi", sent.Message.Text)
	require.Equal(t, "alice", sent.Message.SentBy)
	require.Equal(t, "text", sent.Message.Kind)

	var msgs ListMessagesResponse
	require.NoError(t, h.client.Call(h.ctx, "ListMessages", ChatRequest{ChatID: created.ChatID}, &msgs))
	require.Len(t, msgs.Messages, 1)
	require.Equal(t, sent.Message.ID, msgs.Messages[0].ID)

	require.Eventually(t, func() bool {
		var chats ListChatsResponse
		if err := h.client.Call(h.ctx, "ListChats", nil, &chats); err != nil {
			return false
		}
		return len(chats.Chats) == 1 && chats.Chats[0].Title == "Algebra" && chats.Chats[0].Preview == "hi"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOneToOneIsReused(t *testing.T) {
	h := newHarness(t, "alice")
	var first, second CreateChatResponse
	require.NoError(t, h.client.Call(h.ctx, "CreateChat", CreateChatRequest{Users: []string{"bob"}}, &first))
	require.NoError(t, h.client.Call(h.ctx, "CreateChat", CreateChatRequest{Users: []string{"alice", "bob"}}, &second))
	require.Equal(t, first.ChatID, second.ChatID)
}

func TestErrorCodes(t *testing.T) {
	h := newHarness(t, "alice")

	requireCode(t, h.client.Call(h.ctx, "GetChat", ChatRequest{ChatID: "missing"}, nil), codes.NotFound)
	requireCode(t, h.client.Call(h.ctx, "GetChat", ChatRequest{}, nil), codes.InvalidArgument)
	requireCode(t, h.client.Call(h.ctx, "CreateChat",
		CreateChatRequest{Users: []string{"bob"}, IsGroupChat: true}, nil), codes.InvalidArgument)

	chatID, err := h.mem.CreateChat(h.ctx, "bob", chat.NewChat{Users: []string{"bob", "carol"}, IsGroupChat: true, ChatName: "closed"})
	require.NoError(t, err)
	requireCode(t, h.client.Call(h.ctx, "SendText", SendTextRequest{ChatID: chatID, Text: "let me in"}, nil), codes.PermissionDenied)

	requireCode(t, h.client.Call(h.ctx, "SendImage", SendImageRequest{ChatID: chatID, File: "/tmp/x.png"}, nil), codes.PermissionDenied)
}

func TestSendEmptyTextIsInvalid(t *testing.T) {
	h := newHarness(t, "alice")
	var created CreateChatResponse
	require.NoError(t, h.client.Call(h.ctx, "CreateChat", CreateChatRequest{Users: []string{"bob"}}, &created))
	requireCode(t, h.client.Call(h.ctx, "SendText", SendTextRequest{ChatID: created.ChatID, Text: "  "}, nil), codes.InvalidArgument)
}

func TestUploadWithoutMediaIsFailedPrecondition(t *testing.T) {
	h := newHarness(t, "alice")
	var created CreateChatResponse
	require.NoError(t, h.client.Call(h.ctx, "CreateChat", CreateChatRequest{Users: []string{"bob"}}, &created))
	err := h.client.Call(h.ctx, "SendDocument", SendDocumentRequest{ChatID: created.ChatID, File: "/tmp/notes.pdf"}, nil)
	requireCode(t, err, codes.FailedPrecondition)
}

func TestDeleteForAllGate(t *testing.T) {
	h := newHarness(t, "alice")
	chatID, err := h.mem.CreateChat(h.ctx, "carol", chat.NewChat{Users: []string{"carol", "alice", "bob"}, IsGroupChat: true, ChatName: "g"})
	require.NoError(t, err)
	fromBob, err := h.msg.SendTextMessage(h.ctx, chatID, "bob", "mine", "")
	require.NoError(t, err)

	err = h.client.Call(h.ctx, "DeleteForAll", MessageRequest{ChatID: chatID, MessageID: fromBob.ID}, nil)
	requireCode(t, err, codes.PermissionDenied)
	stored, err := h.msg.Message(h.ctx, chatID, fromBob.ID)
	require.NoError(t, err)
	require.False(t, stored.Deleted)

	var sent SendResponse
	require.NoError(t, h.client.Call(h.ctx, "SendText", SendTextRequest{ChatID: chatID, Text: "oops"}, &sent))
	require.NoError(t, h.client.Call(h.ctx, "DeleteForAll", MessageRequest{ChatID: chatID, MessageID: sent.Message.ID}, nil))
	stored, err = h.msg.Message(h.ctx, chatID, sent.Message.ID)
	require.NoError(t, err)
	require.True(t, stored.Deleted)
}

func TestBlockedOneToOneRefusesSend(t *testing.T) {
	h := newHarness(t, "alice")
	var created CreateChatResponse
	require.NoError(t, h.client.Call(h.ctx, "CreateChat", CreateChatRequest{Users: []string{"bob"}}, &created))

	require.NoError(t, h.mem.AddBlock(h.ctx, "bob", "alice"))
	requireCode(t, h.client.Call(h.ctx, "SendText", SendTextRequest{ChatID: created.ChatID, Text: "hey"}, nil), codes.PermissionDenied)

	require.NoError(t, h.mem.RemoveBlock(h.ctx, "bob", "alice"))
	require.NoError(t, h.client.Call(h.ctx, "SendText", SendTextRequest{ChatID: created.ChatID, Text: "hey"}, nil))

	require.NoError(t, h.client.Call(h.ctx, "Block", UserRequest{UserID: "bob"}, nil))
	var blocks BlocksResponse
	require.NoError(t, h.client.Call(h.ctx, "ListBlocks", nil, &blocks))
	require.Equal(t, []string{"bob"}, blocks.Users)
	requireCode(t, h.client.Call(h.ctx, "SendText", SendTextRequest{ChatID: created.ChatID, Text: "hey"}, nil), codes.PermissionDenied)
}

func TestAdminOnlyMembershipChanges(t *testing.T) {
	h := newHarness(t, "alice")
	chatID, err := h.mem.CreateChat(h.ctx, "bob", chat.NewChat{Users: []string{"bob", "alice"}, IsGroupChat: true, ChatName: "g"})
	require.NoError(t, err)

	requireCode(t, h.client.Call(h.ctx, "AddUsers", MembersRequest{ChatID: chatID, Users: []string{"carol"}}, nil), codes.PermissionDenied)
	requireCode(t, h.client.Call(h.ctx, "RemoveUser", MemberRequest{ChatID: chatID, UserID: "bob"}, nil), codes.PermissionDenied)

	require.NoError(t, h.mem.AddAdmin(h.ctx, "alice", chatID))
	var added AddUsersResponse
	require.NoError(t, h.client.Call(h.ctx, "AddUsers", MembersRequest{ChatID: chatID, Users: []string{"carol", "bob"}}, &added))
	require.Equal(t, []string{"carol"}, added.Added)

	require.NoError(t, h.client.Call(h.ctx, "LeaveChat", ChatRequest{ChatID: chatID}, nil))
	c, err := h.mem.Chat(h.ctx, chatID)
	require.NoError(t, err)
	require.NotContains(t, c.Users, "alice")
}

func TestInvitations(t *testing.T) {
	h := newHarness(t, "alice")
	chatID, err := h.mem.CreateChat(h.ctx, "bob", chat.NewChat{Users: []string{"bob", "carol"}, IsGroupChat: true, ChatName: "Physics"})
	require.NoError(t, err)
	c, err := h.mem.Chat(h.ctx, chatID)
	require.NoError(t, err)

	var check JoinResponse
	require.NoError(t, h.client.Call(h.ctx, "CheckInvitation", InvitationRequest{Code: c.InvitationCode}, &check))
	require.False(t, check.AlreadyMember)
	require.Equal(t, "Physics", check.ChatName)

	var joined JoinResponse
	require.NoError(t, h.client.Call(h.ctx, "JoinChat", InvitationRequest{Code: chat.InviteScheme + c.InvitationCode}, &joined))
	require.Equal(t, chatID, joined.ChatID)
	require.False(t, joined.AlreadyMember)

	var qr InviteQRResponse
	require.NoError(t, h.client.Call(h.ctx, "InviteQR", InviteQRRequest{ChatID: chatID, Size: 128}, &qr))
	require.Equal(t, chat.InviteScheme+c.InvitationCode, qr.Link)
	require.True(t, bytes.HasPrefix(qr.PNG, []byte("\x89PNG")), "png header")

	requireCode(t, h.client.Call(h.ctx, "RegenerateInvite", ChatRequest{ChatID: chatID}, nil), codes.PermissionDenied)
}

func TestStarAndList(t *testing.T) {
	h := newHarness(t, "alice")
	var created CreateChatResponse
	require.NoError(t, h.client.Call(h.ctx, "CreateChat", CreateChatRequest{Users: []string{"bob"}}, &created))
	var sent SendResponse
	require.NoError(t, h.client.Call(h.ctx, "SendText", SendTextRequest{ChatID: created.ChatID, Text: "remember"}, &sent))

	var star StarResponse
	require.NoError(t, h.client.Call(h.ctx, "StarMessage", MessageRequest{ChatID: created.ChatID, MessageID: sent.Message.ID}, &star))
	require.True(t, star.Starred)

	var list ListStarredResponse
	require.NoError(t, h.client.Call(h.ctx, "ListStarred", nil, &list))
	require.Len(t, list.Starred, 1)
	require.NotNil(t, list.Starred[0].Message)
	require.Equal(t, "remember", list.Starred[0].Message.Text)
}

func TestMessageActionsNeedAnExistingMessage(t *testing.T) {
	h := newHarness(t, "alice")
	var created CreateChatResponse
	require.NoError(t, h.client.Call(h.ctx, "CreateChat", CreateChatRequest{Users: []string{"bob"}}, &created))

	ghost := MessageRequest{ChatID: created.ChatID, MessageID: "ghost"}
	requireCode(t, h.client.Call(h.ctx, "StarMessage", ghost, nil), codes.NotFound)
	requireCode(t, h.client.Call(h.ctx, "DeleteForMe", ghost, nil), codes.NotFound)
	requireCode(t, h.client.Call(h.ctx, "StarMessage", MessageRequest{ChatID: created.ChatID}, nil), codes.InvalidArgument)

	starred, err := h.msg.StarredMessages(h.ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, starred)
	links, err := h.msg.UserMessages(h.ctx, "alice", created.ChatID)
	require.NoError(t, err)
	require.NotContains(t, links, "ghost")
}

func TestMessageActionsNeedMembership(t *testing.T) {
	h := newHarness(t, "alice")
	chatID, err := h.mem.CreateChat(h.ctx, "bob", chat.NewChat{Users: []string{"bob", "carol"}})
	require.NoError(t, err)
	m, err := h.msg.SendTextMessage(h.ctx, chatID, "bob", "private", "")
	require.NoError(t, err)

	req := MessageRequest{ChatID: chatID, MessageID: m.ID}
	requireCode(t, h.client.Call(h.ctx, "StarMessage", req, nil), codes.PermissionDenied)
	requireCode(t, h.client.Call(h.ctx, "DeleteForMe", req, nil), codes.PermissionDenied)
	requireCode(t, h.client.Call(h.ctx, "DeleteAllMessages", ChatRequest{ChatID: chatID}, nil), codes.PermissionDenied)

	starred, err := h.msg.StarredMessages(h.ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, starred)
}

func TestDeleteChatNeedsGroupAdmin(t *testing.T) {
	h := newHarness(t, "bob")
	direct, err := h.mem.CreateChat(h.ctx, "alice", chat.NewChat{Users: []string{"alice", "bob"}})
	require.NoError(t, err)
	m, err := h.msg.SendTextMessage(h.ctx, direct, "alice", "keep this", "")
	require.NoError(t, err)

	requireCode(t, h.client.Call(h.ctx, "DeleteChat", ChatRequest{ChatID: direct}, nil), codes.InvalidArgument)

	_, err = h.mem.Chat(h.ctx, direct)
	require.NoError(t, err)
	_, err = h.msg.Message(h.ctx, direct, m.ID)
	require.NoError(t, err)
	links, err := h.msg.UserMessages(h.ctx, "alice", direct)
	require.NoError(t, err)
	require.True(t, links[m.ID])
	aliceChats, err := h.mem.UserChats(h.ctx, "alice")
	require.NoError(t, err)
	require.True(t, aliceChats[direct])

	group, err := h.mem.CreateChat(h.ctx, "alice", chat.NewChat{Users: []string{"alice", "bob", "carol"}, IsGroupChat: true, ChatName: "g"})
	require.NoError(t, err)
	requireCode(t, h.client.Call(h.ctx, "DeleteChat", ChatRequest{ChatID: group}, nil), codes.PermissionDenied)

	require.NoError(t, h.mem.AddAdmin(h.ctx, "bob", group))
	var deleted DeleteChatResponse
	require.NoError(t, h.client.Call(h.ctx, "DeleteChat", ChatRequest{ChatID: group}, &deleted))
	require.Empty(t, deleted.FailedMembers)
	_, err = h.mem.Chat(h.ctx, group)
	require.ErrorIs(t, err, chat.ErrNotFound)
}

func TestHideChatOnlyAffectsCaller(t *testing.T) {
	h := newHarness(t, "bob")
	direct, err := h.mem.CreateChat(h.ctx, "alice", chat.NewChat{Users: []string{"alice", "bob"}})
	require.NoError(t, err)
	m, err := h.msg.SendTextMessage(h.ctx, direct, "alice", "hello", "")
	require.NoError(t, err)

	require.NoError(t, h.client.Call(h.ctx, "HideChat", ChatRequest{ChatID: direct}, nil))

	bobChats, err := h.mem.UserChats(h.ctx, "bob")
	require.NoError(t, err)
	require.False(t, bobChats[direct])
	bobLinks, err := h.msg.UserMessages(h.ctx, "bob", direct)
	require.NoError(t, err)
	require.False(t, bobLinks[m.ID])

	aliceChats, err := h.mem.UserChats(h.ctx, "alice")
	require.NoError(t, err)
	require.True(t, aliceChats[direct])
	aliceLinks, err := h.msg.UserMessages(h.ctx, "alice", direct)
	require.NoError(t, err)
	require.True(t, aliceLinks[m.ID])

	requireCode(t, h.client.Call(h.ctx, "HideChat", ChatRequest{}, nil), codes.InvalidArgument)
}

func TestLeaveChatIsForGroups(t *testing.T) {
	h := newHarness(t, "bob")
	direct, err := h.mem.CreateChat(h.ctx, "alice", chat.NewChat{Users: []string{"alice", "bob"}})
	require.NoError(t, err)

	requireCode(t, h.client.Call(h.ctx, "LeaveChat", ChatRequest{ChatID: direct}, nil), codes.InvalidArgument)
	c, err := h.mem.Chat(h.ctx, direct)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alice", "bob"}, c.Users)
}

func TestSaveUserOnlyOwnProfile(t *testing.T) {
	h := newHarness(t, "alice")

	err := h.client.Call(h.ctx, "SaveUser", chat.User{UserID: "bob", FirstName: "Hacked"}, nil)
	requireCode(t, err, codes.PermissionDenied)
	bob, err := h.users.GetUser(h.ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, "Bob", bob.FirstName)

	require.NoError(t, h.client.Call(h.ctx, "SaveUser", chat.User{FirstName: "Alicia", LastName: "Smith"}, nil))
	me, err := h.users.GetUser(h.ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "Alicia", me.FirstName)
	require.Equal(t, "alicia smith", me.FirstLast)

	anon := newHarness(t, "")
	err = anon.client.Call(anon.ctx, "SaveUser", chat.User{UserID: "bob", FirstName: "Hacked"}, nil)
	requireCode(t, err, codes.FailedPrecondition)
}

func TestListChatsFilter(t *testing.T) {
	h := newHarness(t, "alice")
	var direct, course CreateChatResponse
	require.NoError(t, h.client.Call(h.ctx, "CreateChat", CreateChatRequest{Users: []string{"bob"}}, &direct))
	require.NoError(t, h.client.Call(h.ctx, "CreateChat", CreateChatRequest{
		Users: []string{"bob", "carol"}, IsGroupChat: true, IsCourseChat: true, ChatName: "Calculus I",
	}, &course))

	list := func(filter string) []string {
		var resp ListChatsResponse
		require.NoError(t, h.client.Call(h.ctx, "ListChats", ListChatsRequest{Filter: filter}, &resp))
		ids := make([]string, 0, len(resp.Chats))
		for _, c := range resp.Chats {
			ids = append(ids, c.ChatID)
		}
		return ids
	}
	require.Eventually(t, func() bool {
		var resp ListChatsResponse
		err := h.client.Call(h.ctx, "ListChats", ListChatsRequest{}, &resp)
		return err == nil && len(resp.Chats) == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{direct.ChatID}, list("chats"))
	require.Equal(t, []string{course.ChatID}, list("courses"))

	requireCode(t, h.client.Call(h.ctx, "ListChats", ListChatsRequest{Filter: "groups"}, nil), codes.InvalidArgument)
}

func TestPostsArePublishedByFaculty(t *testing.T) {
	h := newHarness(t, "carol")

	var created CreatePostResponse
	require.NoError(t, h.client.Call(h.ctx, "CreatePost", CreatePostRequest{
		Title: "Office hours", Text: "Tuesdays 14h", DocURLs: []string{"https://cdn.example.edu/syllabus.pdf"},
	}, &created))
	require.NotEmpty(t, created.PostID)

	var got PostResponse
	require.NoError(t, h.client.Call(h.ctx, "GetPost", PostRequest{PostID: created.PostID}, &got))
	require.Equal(t, "Office hours", got.Post.Title)
	require.Equal(t, "carol white", got.Post.CreatorName)
	require.Equal(t, []string{"https://cdn.example.edu/syllabus.pdf"}, got.Post.DocURLs)

	text := "Thursdays 10h"
	require.NoError(t, h.client.Call(h.ctx, "UpdatePost", UpdatePostRequest{PostID: created.PostID, Text: &text}, nil))
	var list ListPostsResponse
	require.NoError(t, h.client.Call(h.ctx, "ListPosts", nil, &list))
	require.Len(t, list.Posts, 1)
	require.Equal(t, "Thursdays 10h", list.Posts[0].Text)
	require.Equal(t, "Office hours", list.Posts[0].Title)

	requireCode(t, h.client.Call(h.ctx, "CreatePost", CreatePostRequest{Title: "x", Files: []string{"/tmp/a.png"}}, nil), codes.FailedPrecondition)

	require.NoError(t, h.client.Call(h.ctx, "DeletePost", PostRequest{PostID: created.PostID}, nil))
	requireCode(t, h.client.Call(h.ctx, "GetPost", PostRequest{PostID: created.PostID}, nil), codes.NotFound)
	requireCode(t, h.client.Call(h.ctx, "DeletePost", PostRequest{PostID: created.PostID}, nil), codes.NotFound)
}

func TestStudentsCannotPublish(t *testing.T) {
	h := newHarness(t, "alice")
	id, err := h.posts.CreatePost(h.ctx, "carol", "", posts.NewPost{Title: "Exam"})
	require.NoError(t, err)

	requireCode(t, h.client.Call(h.ctx, "CreatePost", CreatePostRequest{Title: "mine"}, nil), codes.PermissionDenied)
	title := "changed"
	requireCode(t, h.client.Call(h.ctx, "UpdatePost", UpdatePostRequest{PostID: id, Title: &title}, nil), codes.PermissionDenied)
	requireCode(t, h.client.Call(h.ctx, "DeletePost", PostRequest{PostID: id}, nil), codes.PermissionDenied)

	var got PostResponse
	require.NoError(t, h.client.Call(h.ctx, "GetPost", PostRequest{PostID: id}, &got))
	require.Equal(t, "Exam", got.Post.Title)
}

func TestWatchStreamsRelatedChanges(t *testing.T) {
	h := newHarness(t, "alice")
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()

	got := make(chan WatchEvent, 8)
	go func() {
		_ = h.client.Watch(ctx, "users/bob", func(evt WatchEvent) error {
			got <- evt
			return nil
		})
	}()

	// The stream is open once a write to a watched path comes through.
	require.Eventually(t, func() bool {
		_ = h.tree.Set(h.ctx, "users/carol/about", "unrelated")
		_ = h.tree.Set(h.ctx, "users/bob/about", "hello")
		select {
		case evt := <-got:
			return evt.Kind == "tree" && len(evt.Paths) == 1 && evt.Paths[0] == "users/bob/about"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
}

func TestMethodsAreRegistered(t *testing.T) {
	names := Methods()
	require.Contains(t, names, "SendText")
	require.Contains(t, names, "DeleteForAll")
	require.Contains(t, names, "HideChat")
	require.Contains(t, names, "CreatePost")
	require.Len(t, ServiceDesc.Methods, len(names))
	require.Equal(t, "/campus.v1.Campus/SendText", fullMethod("SendText"))
}
