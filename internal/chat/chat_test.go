package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/matheus3301/campus/internal/bus"
	"github.com/matheus3301/campus/internal/tree"
	"github.com/matheus3301/campus/internal/tree/bunt"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type notifierMock struct {
	mock.Mock
}

func (m *notifierMock) Notify(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	args := m.Called(ctx, tokens, title, body, data)
	return args.Error(0)
}

// flakyBackend fails writes to paths matched by fail.
type flakyBackend struct {
	tree.Backend
	fail func(path string) bool
}

func (f flakyBackend) Apply(ctx context.Context, ops []tree.Op) error {
	for _, op := range ops {
		if f.fail != nil && f.fail(op.Path) {
			return errors.New("injected write failure")
		}
	}
	return f.Backend.Apply(ctx, ops)
}

type fixture struct {
	ctx      context.Context
	tree     *tree.Tree
	backend  *flakyBackend
	users    *Users
	msg      *Messaging
	mem      *Membership
	notifier *notifierMock
}

const (
	alice = "alice"
	bob   = "bob"
	carol = "carol"
	dave  = "dave"
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	inner, err := bunt.Open(bunt.Memory)
	require.NoError(t, err)
	backend := &flakyBackend{Backend: inner}
	tr := tree.New(backend, bus.New(), nil)
	t.Cleanup(func() { _ = tr.Close() })

	n := &notifierMock{}
	n.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	users := NewUsers(tr)
	msg := NewMessaging(tr, users, n, nil)
	f := &fixture{
		ctx:      context.Background(),
		tree:     tr,
		backend:  backend,
		users:    users,
		msg:      msg,
		mem:      NewMembership(tr, users, msg, nil),
		notifier: n,
	}
	for _, u := range []User{
		{UserID: alice, FirstName: "Alice", LastName: "Smith", Email: "alice@uni.edu"},
		{UserID: bob, FirstName: "Bob", LastName: "Jones", Email: "bob@uni.edu"},
		{UserID: carol, FirstName: "Carol", LastName: "White", Email: "carol@uni.edu", SelectedRole: RoleFacultyMember},
		{UserID: dave, FirstName: "Dave", LastName: "Brown", Email: "dave@uni.edu"},
	} {
		require.NoError(t, users.SaveUser(f.ctx, u))
		require.NoError(t, users.AddPushToken(f.ctx, u.UserID, "tok-"+u.UserID))
	}
	return f
}

func (f *fixture) group(t *testing.T, members ...string) string {
	t.Helper()
	id, err := f.mem.CreateChat(f.ctx, members[0], NewChat{Users: members, IsGroupChat: true, ChatName: "Study group"})
	require.NoError(t, err)
	return id
}

func (f *fixture) chat(t *testing.T, chatID string) *Chat {
	t.Helper()
	c, err := f.mem.Chat(f.ctx, chatID)
	require.NoError(t, err)
	return c
}

func (f *fixture) link(t *testing.T, userID, chatID, messageID string) tree.Snapshot {
	t.Helper()
	snap, err := f.tree.Get(f.ctx, userMessagePath(userID, chatID, messageID))
	require.NoError(t, err)
	return snap
}

func requireAdminsSubset(t *testing.T, c *Chat) {
	t.Helper()
	for _, a := range c.Admins {
		require.Contains(t, c.Users, a, "admin %s is not a member", a)
	}
}

func lastInfo(t *testing.T, f *fixture, chatID string) string {
	t.Helper()
	msgs, err := f.msg.Messages(f.ctx, chatID)
	require.NoError(t, err)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind == KindInfo {
			return msgs[i].Text
		}
	}
	return ""
}

func TestEndToEndGroupScenario(t *testing.T) {
	f := newFixture(t)

	chatID := f.group(t, alice, bob, carol)
	c := f.chat(t, chatID)
	require.Equal(t, []string{alice}, c.Admins)
	require.ElementsMatch(t, []string{alice, bob, carol}, c.Users)
	for _, u := range []string{alice, bob, carol} {
		links, err := f.mem.UserChats(f.ctx, u)
		require.NoError(t, err)
		require.True(t, links[chatID], "chat link for %s", u)
	}

	m, err := f.msg.SendTextMessage(f.ctx, chatID, alice, "hello", "")
	require.NoError(t, err)
	stored, err := f.msg.Message(f.ctx, chatID, m.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", stored.Text)
	require.Equal(t, KindText, stored.Kind)
	for _, u := range []string{alice, bob, carol} {
		require.True(t, f.link(t, u, chatID, m.ID).Bool(), "message link for %s", u)
	}
	require.Equal(t, "hello", f.chat(t, chatID).LatestMessageText)

	require.NoError(t, f.msg.DeleteMessageForUser(f.ctx, bob, chatID, m.ID))
	bobLink := f.link(t, bob, chatID, m.ID)
	require.True(t, bobLink.Exists())
	require.False(t, bobLink.Bool())
	require.True(t, f.link(t, alice, chatID, m.ID).Bool())
	require.True(t, f.link(t, carol, chatID, m.ID).Bool())
	stored, err = f.msg.Message(f.ctx, chatID, m.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", stored.Text)
	require.False(t, stored.Deleted)

	can, err := f.msg.CanDeleteForAll(f.ctx, alice, chatID, m.ID)
	require.NoError(t, err)
	require.True(t, can)
	require.NoError(t, f.msg.DeleteMessageForAll(f.ctx, alice, chatID, m.ID))
	stored, err = f.msg.Message(f.ctx, chatID, m.ID)
	require.NoError(t, err)
	require.True(t, stored.Deleted)
	require.Equal(t, DeletedText, stored.Text)
	require.Equal(t, "", f.chat(t, chatID).LatestMessageText)
}

func TestCreateChatValidation(t *testing.T) {
	tests := []struct {
		name    string
		creator string
		spec    NewChat
	}{
		{"creator missing from users", alice, NewChat{Users: []string{bob, carol}, IsGroupChat: true, ChatName: "x"}},
		{"one-to-one with three users", alice, NewChat{Users: []string{alice, bob, carol}}},
		{"one-to-one with duplicate user", alice, NewChat{Users: []string{alice, alice}}},
		{"group without name", alice, NewChat{Users: []string{alice, bob}, IsGroupChat: true, ChatName: "  "}},
		{"no creator", "", NewChat{Users: []string{alice, bob}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.mem.CreateChat(f.ctx, tt.creator, tt.spec)
			require.ErrorIs(t, err, ErrInvalid)

			snap, err := f.tree.Get(f.ctx, chatsRoot)
			require.NoError(t, err)
			require.False(t, snap.Exists(), "no chat should be written")
		})
	}
}

func TestCreateChatPartialFanout(t *testing.T) {
	f := newFixture(t)
	f.backend.fail = func(p string) bool { return strings.HasPrefix(p, UserChatsPath(bob)) }

	chatID, err := f.mem.CreateChat(f.ctx, alice, NewChat{Users: []string{alice, bob, carol}, IsGroupChat: true, ChatName: "g"})
	require.NotEmpty(t, chatID)
	var fe *FanoutError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, []string{bob}, fe.Failed)

	f.backend.fail = nil
	require.True(t, f.chat(t, chatID).HasUser(bob), "chat record keeps bob")
	links, err := f.mem.UserChats(f.ctx, carol)
	require.NoError(t, err)
	require.True(t, links[chatID])
}

func TestSendFanoutCoversCurrentMembers(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, alice, bob)

	_, err := f.mem.AddUsersToChat(f.ctx, alice, []string{carol}, chatID)
	require.NoError(t, err)

	m, err := f.msg.SendTextMessage(f.ctx, chatID, bob, "hi all", "")
	require.NoError(t, err)
	for _, u := range f.chat(t, chatID).Users {
		require.True(t, f.link(t, u, chatID, m.ID).Bool(), "member %s", u)
	}
}

func TestSendPartialFanoutKeepsMessage(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, alice, bob, carol)
	f.backend.fail = func(p string) bool { return strings.HasPrefix(p, "userMessages/"+bob+"/") }

	m, err := f.msg.SendTextMessage(f.ctx, chatID, alice, "partial", "")
	var fe *FanoutError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, []string{bob}, fe.Failed)
	require.NotEmpty(t, m.ID)

	f.backend.fail = nil
	_, err = f.msg.Message(f.ctx, chatID, m.ID)
	require.NoError(t, err)
	require.True(t, f.link(t, alice, chatID, m.ID).Bool())
	require.True(t, f.link(t, carol, chatID, m.ID).Bool())
	require.False(t, f.link(t, bob, chatID, m.ID).Exists())
}

func TestSendToMissingChat(t *testing.T) {
	f := newFixture(t)
	_, err := f.msg.SendTextMessage(f.ctx, "nope", alice, "x", "")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.msg.SendTextMessage(f.ctx, "nope", alice, "   ", "")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestSendNotifiesOthers(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, alice, bob, carol)

	n := &notifierMock{}
	f.msg.notifier = n
	data := map[string]string{"chatId": chatID}
	n.On("Notify", mock.Anything, []string{"tok-bob", "tok-carol"}, "Alice Smith", "hello", data).Return(nil).Once()
	n.On("Notify", mock.Anything, []string{"tok-bob", "tok-carol"}, "Alice Smith", "Alice sent an image", data).Return(nil).Once()
	n.On("Notify", mock.Anything, []string{"tok-bob", "tok-carol"}, "Alice Smith", "Alice sent a document", data).
		Return(errors.New("queue full")).Once()

	_, err := f.msg.SendTextMessage(f.ctx, chatID, alice, "hello", "")
	require.NoError(t, err)
	img, err := f.msg.SendImage(f.ctx, chatID, alice, "https://cdn/img.png", "")
	require.NoError(t, err)
	require.Equal(t, "Image", f.chat(t, chatID).LatestMessageText)
	doc, err := f.msg.SendDocument(f.ctx, chatID, alice, "https://cdn/notes.pdf", "notes.pdf", img.ID)
	require.NoError(t, err, "push failures never reach the sender")
	require.Equal(t, "notes.pdf", f.chat(t, chatID).LatestMessageText)

	got, err := f.msg.Message(f.ctx, chatID, doc.ID)
	require.NoError(t, err)
	require.Equal(t, KindDocument, got.Kind)
	require.Equal(t, img.ID, got.ReplyTo)

	_, err = f.msg.SendInfoMessage(f.ctx, chatID, alice, "note")
	require.NoError(t, err)
	n.AssertExpectations(t)
	n.AssertNumberOfCalls(t, "Notify", 3)
}

func TestDeleteForUserLeavesOthers(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, alice, bob)
	m, err := f.msg.SendTextMessage(f.ctx, chatID, alice, "secret", "")
	require.NoError(t, err)

	starred, err := f.msg.StarMessage(f.ctx, m.ID, chatID, bob)
	require.NoError(t, err)
	require.True(t, starred)

	require.NoError(t, f.msg.DeleteMessageForUser(f.ctx, bob, chatID, m.ID))
	require.False(t, f.link(t, bob, chatID, m.ID).Bool())
	require.True(t, f.link(t, alice, chatID, m.ID).Bool())

	stars, err := f.msg.StarredMessages(f.ctx, bob)
	require.NoError(t, err)
	require.Empty(t, stars)

	visible, err := f.msg.VisibleMessages(f.ctx, bob, chatID)
	require.NoError(t, err)
	require.Empty(t, visible)
	visible, err = f.msg.VisibleMessages(f.ctx, alice, chatID)
	require.NoError(t, err)
	require.Len(t, visible, 1)
}

func TestDeleteForAllRecomputesPreview(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, alice, bob)
	first, err := f.msg.SendTextMessage(f.ctx, chatID, alice, "first", "")
	require.NoError(t, err)
	second, err := f.msg.SendImage(f.ctx, chatID, bob, "https://cdn/x.png", "")
	require.NoError(t, err)

	require.NoError(t, f.msg.DeleteMessageForAll(f.ctx, bob, chatID, second.ID))
	require.Equal(t, "first", f.chat(t, chatID).LatestMessageText)

	visible, err := f.msg.VisibleMessages(f.ctx, alice, chatID)
	require.NoError(t, err)
	require.Len(t, visible, 2)
	require.Equal(t, DeletedText, visible[1].Text)
	require.Empty(t, visible[1].ImageURL, "media is hidden once retracted")

	require.NoError(t, f.msg.DeleteMessageForAll(f.ctx, alice, chatID, first.ID))
	require.Equal(t, "", f.chat(t, chatID).LatestMessageText)

	err = f.msg.DeleteMessageForAll(f.ctx, alice, chatID, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCanDeleteForAll(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, alice, bob, carol)
	m, err := f.msg.SendTextMessage(f.ctx, chatID, bob, "mine", "")
	require.NoError(t, err)

	for user, want := range map[string]bool{alice: true, bob: true, carol: false} {
		got, err := f.msg.CanDeleteForAll(f.ctx, user, chatID, m.ID)
		require.NoError(t, err)
		require.Equal(t, want, got, user)
	}
}

func TestStarToggle(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, alice, bob)
	m, err := f.msg.SendTextMessage(f.ctx, chatID, alice, "star me", "")
	require.NoError(t, err)

	on, err := f.msg.StarMessage(f.ctx, m.ID, chatID, alice)
	require.NoError(t, err)
	require.True(t, on)
	stars, err := f.msg.StarredMessages(f.ctx, alice)
	require.NoError(t, err)
	require.Len(t, stars, 1)
	require.Equal(t, StarredMessage{MessageID: m.ID, ChatID: chatID, StarredAt: stars[0].StarredAt}, stars[0])

	on, err = f.msg.StarMessage(f.ctx, m.ID, chatID, alice)
	require.NoError(t, err)
	require.False(t, on)
	stars, err = f.msg.StarredMessages(f.ctx, alice)
	require.NoError(t, err)
	require.Empty(t, stars)
}

func TestAdminSubsetAfterMembershipChanges(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, alice, bob, carol)
	require.NoError(t, f.mem.AddAdmin(f.ctx, bob, chatID))

	steps := []func() error{
		func() error { _, err := f.mem.AddUsersToChat(f.ctx, alice, []string{dave}, chatID); return err },
		func() error { return f.mem.RemoveUserFromChat(f.ctx, alice, bob, chatID) },
		func() error { return f.mem.LeaveChat(f.ctx, alice, chatID) },
		func() error { return f.mem.LeaveChat(f.ctx, carol, chatID) },
	}
	for i, step := range steps {
		require.NoError(t, step(), "step %d", i)
		requireAdminsSubset(t, f.chat(t, chatID))
	}
	c := f.chat(t, chatID)
	require.Equal(t, []string{dave}, c.Users)
	require.Equal(t, []string{dave}, c.Admins)
}

func TestLeaveChatPromotesFirstMember(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, alice, bob, carol)
	m, err := f.msg.SendTextMessage(f.ctx, chatID, bob, "before", "")
	require.NoError(t, err)

	require.NoError(t, f.mem.LeaveChat(f.ctx, alice, chatID))
	c := f.chat(t, chatID)
	require.Equal(t, []string{bob, carol}, c.Users)
	require.Equal(t, []string{bob}, c.Admins)
	require.Equal(t, "Alice left the chat", lastInfo(t, f, chatID))

	links, err := f.mem.UserChats(f.ctx, alice)
	require.NoError(t, err)
	require.False(t, links[chatID])
	require.False(t, f.link(t, alice, chatID, m.ID).Bool(), "messages are retracted for the leaver")
	require.True(t, f.link(t, bob, chatID, m.ID).Bool())
}

func TestRemoveLastAdminHeals(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, alice, bob, carol)

	require.NoError(t, f.mem.RemoveUserFromChat(f.ctx, bob, alice, chatID))
	c := f.chat(t, chatID)
	require.NotEmpty(t, c.Admins)
	requireAdminsSubset(t, c)
	require.Equal(t, "Bob removed Alice from the chat", lastInfo(t, f, chatID))

	// Repeating the removal only retracts links again.
	before, err := f.msg.Messages(f.ctx, chatID)
	require.NoError(t, err)
	require.NoError(t, f.mem.RemoveUserFromChat(f.ctx, bob, alice, chatID))
	after, err := f.msg.Messages(f.ctx, chatID)
	require.NoError(t, err)
	require.Len(t, after, len(before))
}

func TestAddUsersToChat(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, alice, bob)

	added, err := f.mem.AddUsersToChat(f.ctx, alice, []string{bob}, chatID)
	require.NoError(t, err)
	require.Empty(t, added)
	msgs, err := f.msg.Messages(f.ctx, chatID)
	require.NoError(t, err)
	require.Empty(t, msgs, "no info message for an empty batch")

	added, err = f.mem.AddUsersToChat(f.ctx, alice, []string{carol}, chatID)
	require.NoError(t, err)
	require.Equal(t, []string{carol}, added)
	require.Equal(t, "Alice added Carol to the chat", lastInfo(t, f, chatID))

	require.NoError(t, f.mem.RemoveUserFromChat(f.ctx, alice, carol, chatID))
	added, err = f.mem.AddUsersToChat(f.ctx, bob, []string{carol, dave, bob, dave}, chatID)
	require.NoError(t, err)
	require.Equal(t, []string{carol, dave}, added)
	require.Equal(t, "Bob added Carol and 1 others to the chat", lastInfo(t, f, chatID))
	require.ElementsMatch(t, []string{alice, bob, carol, dave}, f.chat(t, chatID).Users)
}

func TestJoinByInvitationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, alice, bob)
	code := f.chat(t, chatID).InvitationCode

	res, err := f.mem.IsUserInGroup(f.ctx, carol, code)
	require.NoError(t, err)
	require.False(t, res.AlreadyMember)
	require.Equal(t, chatID, res.Chat.ChatID)

	res, err = f.mem.JoinByInvitation(f.ctx, carol, code)
	require.NoError(t, err)
	require.False(t, res.AlreadyMember)
	require.Equal(t, "Carol joined the chat", lastInfo(t, f, chatID))

	for i := 0; i < 2; i++ {
		res, err = f.mem.IsUserInGroup(f.ctx, carol, code)
		require.NoError(t, err)
		require.True(t, res.AlreadyMember)
		res, err = f.mem.JoinByInvitation(f.ctx, carol, code)
		require.NoError(t, err)
		require.True(t, res.AlreadyMember)
	}
	users := f.chat(t, chatID).Users
	require.Equal(t, []string{alice, bob, carol}, users)

	_, err = f.mem.IsUserInGroup(f.ctx, carol, "unknown")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateInvitationLinkInvalidatesOldCode(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, alice, bob)
	old := f.chat(t, chatID).InvitationCode

	code, err := f.mem.UpdateInvitationLink(f.ctx, chatID)
	require.NoError(t, err)
	require.NotEqual(t, old, code)

	_, err = f.mem.IsUserInGroup(f.ctx, carol, old)
	require.ErrorIs(t, err, ErrNotFound)
	res, err := f.mem.IsUserInGroup(f.ctx, carol, code)
	require.NoError(t, err)
	require.Equal(t, chatID, res.Chat.ChatID)

	png, err := InvitationQR(code, 128)
	require.NoError(t, err)
	require.Equal(t, []byte("\x89PNG"), png[:4])
}

func TestBlockIsSymmetricForGating(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mem.AddBlock(f.ctx, alice, bob))

	for _, pair := range [][2]string{{alice, bob}, {bob, alice}} {
		blocked, err := f.mem.IsBlocked(f.ctx, pair[0], pair[1])
		require.NoError(t, err)
		require.True(t, blocked, "%s/%s", pair[0], pair[1])
	}
	blocks, err := f.mem.Blocks(f.ctx, alice)
	require.NoError(t, err)
	require.Equal(t, []string{bob}, blocks)

	require.NoError(t, f.mem.RemoveBlock(f.ctx, alice, bob))
	blocked, err := f.mem.IsBlocked(f.ctx, bob, alice)
	require.NoError(t, err)
	require.False(t, blocked)

	require.ErrorIs(t, f.mem.AddBlock(f.ctx, alice, alice), ErrInvalid)
}

func TestAdmins(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, alice, bob)

	require.ErrorIs(t, f.mem.AddAdmin(f.ctx, carol, chatID), ErrInvalid)
	require.NoError(t, f.mem.AddAdmin(f.ctx, bob, chatID))
	require.NoError(t, f.mem.AddAdmin(f.ctx, bob, chatID))
	require.Equal(t, []string{alice, bob}, f.chat(t, chatID).Admins)

	ok, err := f.mem.IsAdmin(f.ctx, bob, chatID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.mem.RemoveAdmin(f.ctx, bob, chatID))
	require.NoError(t, f.mem.RemoveAdmin(f.ctx, bob, chatID))
	require.Equal(t, []string{alice}, f.chat(t, chatID).Admins)

	_, err = f.mem.IsAdmin(f.ctx, bob, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateChatData(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, alice, bob)

	name := "Algebra"
	require.NoError(t, f.mem.UpdateChatData(f.ctx, chatID, bob, ChatUpdate{ChatName: &name}))
	c := f.chat(t, chatID)
	require.Equal(t, "Algebra", c.ChatName)
	require.Equal(t, bob, c.UpdatedBy)

	empty := ""
	require.ErrorIs(t, f.mem.UpdateChatData(f.ctx, chatID, bob, ChatUpdate{ChatName: &empty}), ErrInvalid)
	require.ErrorIs(t, f.mem.UpdateChatData(f.ctx, "missing", bob, ChatUpdate{ChatName: &name}), ErrNotFound)
}

func TestLastMessageFollowsVisibility(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, alice, bob)

	_, ok, err := f.msg.LastMessage(f.ctx, bob, chatID)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = f.msg.SendTextMessage(f.ctx, chatID, alice, "one", "")
	require.NoError(t, err)
	two, err := f.msg.SendTextMessage(f.ctx, chatID, alice, "two", "")
	require.NoError(t, err)
	require.NoError(t, f.msg.DeleteMessageForUser(f.ctx, bob, chatID, two.ID))

	text, ok, err := f.msg.LastMessage(f.ctx, bob, chatID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one", text)

	text, _, err = f.msg.LastMessage(f.ctx, alice, chatID)
	require.NoError(t, err)
	require.Equal(t, "two", text)
}

func TestDeleteUserChatAndDeleteChat(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, alice, bob)
	m, err := f.msg.SendTextMessage(f.ctx, chatID, alice, "x", "")
	require.NoError(t, err)

	require.NoError(t, f.mem.DeleteUserChat(f.ctx, bob, chatID))
	require.True(t, f.chat(t, chatID).HasUser(bob), "hiding a conversation keeps membership")
	require.False(t, f.link(t, bob, chatID, m.ID).Bool())

	require.NoError(t, f.mem.DeleteChat(f.ctx, chatID))
	_, err = f.mem.Chat(f.ctx, chatID)
	require.ErrorIs(t, err, ErrNotFound)
	msgs, err := f.msg.Messages(f.ctx, chatID)
	require.NoError(t, err)
	require.Empty(t, msgs)
	links, err := f.mem.UserChats(f.ctx, alice)
	require.NoError(t, err)
	require.False(t, links[chatID])
}

func TestFindOneToOne(t *testing.T) {
	f := newFixture(t)
	_ = f.group(t, alice, bob, carol)
	direct, err := f.mem.CreateChat(f.ctx, alice, NewChat{Users: []string{alice, bob}})
	require.NoError(t, err)

	c, err := f.mem.FindOneToOne(f.ctx, alice, bob)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, direct, c.ChatID)

	c, err = f.mem.FindOneToOne(f.ctx, alice, carol)
	require.NoError(t, err)
	require.Nil(t, c)
}

func TestUsers(t *testing.T) {
	f := newFixture(t)

	u, err := f.users.GetUser(f.ctx, carol)
	require.NoError(t, err)
	require.Equal(t, "carol white", u.FirstLast)
	require.Equal(t, RoleFacultyMember, u.SelectedRole)

	hits, err := f.users.SearchUsers(f.ctx, "B")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, bob, hits[0].UserID)

	require.NoError(t, f.users.AddPushToken(f.ctx, bob, "tok-bob"))
	require.NoError(t, f.users.AddPushToken(f.ctx, bob, "tok-bob-2"))
	tokens, err := f.users.PushTokens(f.ctx, bob)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"tok-bob", "tok-bob-2"}, tokens)

	// Saving the profile again keeps the tokens.
	require.NoError(t, f.users.SaveUser(f.ctx, User{UserID: bob, FirstName: "Robert", LastName: "Jones"}))
	tokens, err = f.users.PushTokens(f.ctx, bob)
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	_, err = f.users.GetUser(f.ctx, "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAllMessagesHidesOnlyForCaller(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, alice, bob)
	for _, text := range []string{"one", "two"} {
		_, err := f.msg.SendTextMessage(f.ctx, chatID, alice, text, "")
		require.NoError(t, err)
	}

	require.NoError(t, f.msg.DeleteAllMessages(f.ctx, bob, chatID))

	links, err := f.msg.UserMessages(f.ctx, bob, chatID)
	require.NoError(t, err)
	require.NotEmpty(t, links)
	for id, ok := range links {
		require.False(t, ok, "message %s still visible to bob", id)
	}
	_, ok, err := f.msg.LastMessage(f.ctx, bob, chatID)
	require.NoError(t, err)
	require.False(t, ok)

	text, ok, err := f.msg.LastMessage(f.ctx, alice, chatID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "two", text)

	// Nothing left to hide.
	require.NoError(t, f.msg.DeleteAllMessages(f.ctx, dave, chatID))
}

func TestDeleteForUserDropsStar(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, alice, bob)
	m, err := f.msg.SendTextMessage(f.ctx, chatID, bob, "keep?", "")
	require.NoError(t, err)
	_, err = f.msg.StarMessage(f.ctx, m.ID, chatID, alice)
	require.NoError(t, err)

	require.NoError(t, f.msg.DeleteMessageForUser(f.ctx, alice, chatID, m.ID))
	stars, err := f.msg.StarredMessages(f.ctx, alice)
	require.NoError(t, err)
	require.Empty(t, stars)
	require.NoError(t, f.msg.UnstarMessage(f.ctx, m.ID, chatID, alice))
}

func TestJoinChatAndIsUserInChat(t *testing.T) {
	f := newFixture(t)
	chatID := f.group(t, alice, bob)

	in, err := f.mem.IsUserInChat(f.ctx, carol, chatID)
	require.NoError(t, err)
	require.False(t, in)

	res, err := f.mem.JoinChat(f.ctx, carol, chatID)
	require.NoError(t, err)
	require.False(t, res.AlreadyMember)
	require.Contains(t, res.Chat.Users, carol)
	require.Equal(t, "Carol joined the chat", lastInfo(t, f, chatID))

	in, err = f.mem.IsUserInChat(f.ctx, carol, chatID)
	require.NoError(t, err)
	require.True(t, in)

	res, err = f.mem.JoinChat(f.ctx, carol, chatID)
	require.NoError(t, err)
	require.True(t, res.AlreadyMember)
	require.Len(t, f.chat(t, chatID).Users, 3)

	_, err = f.mem.IsUserInChat(f.ctx, carol, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
