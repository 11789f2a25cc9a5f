// Package projection keeps one user's view of the tree current: the chat
// list, visible messages, stars and blocks. It re-derives previews and
// visibility from the per-user links instead of trusting denormalized fields.
package projection

import (
	"context"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/matheus3301/campus/internal/chat"
	"github.com/matheus3301/campus/internal/tree"
	"go.uber.org/zap"
)

// ChatItem is one row of the chat list.
type ChatItem struct {
	Chat    chat.Chat
	Preview string
	// HasPreview is false when no message of the chat is visible to the user.
	HasPreview bool
}

// Projection is the signed-in user's live view.
type Projection struct {
	userID string
	tree   *tree.Tree
	users  *chat.Users
	logger *zap.Logger
	subs   *Manager
	fixed  *Manager
	cache  *lru.Cache

	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	links     map[string]bool
	chats     map[string]*chat.Chat
	messages  map[string][]chat.Message
	visible   map[string]map[string]bool
	starred   []chat.StarredMessage
	blocks    map[string]bool
	blockedBy map[string]bool

	refreshCh chan struct{}
}

// New creates a projection for userID. cacheSize bounds the profile cache.
func New(t *tree.Tree, users *chat.Users, userID string, cacheSize int, logger *zap.Logger) (*Projection, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Projection{
		userID:    userID,
		tree:      t,
		users:     users,
		logger:    logger,
		subs:      NewManager(t),
		fixed:     NewManager(t),
		cache:     cache,
		links:     map[string]bool{},
		chats:     map[string]*chat.Chat{},
		messages:  map[string][]chat.Message{},
		visible:   map[string]map[string]bool{},
		blocks:    map[string]bool{},
		blockedBy: map[string]bool{},
		refreshCh: make(chan struct{}, 1),
	}, nil
}

// RefreshCh signals that the view changed. Bursts collapse into one signal.
func (p *Projection) RefreshCh() <-chan struct{} {
	return p.refreshCh
}

func (p *Projection) signalRefresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

// Start watches the user's chat links, stars and blocks. Per-chat watches
// follow the chat links.
func (p *Projection) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.ctx, p.cancel = ctx, cancel
	p.mu.Unlock()

	p.fixed.Watch(ctx, chat.UserChatsPath(p.userID), p.onUserChats)
	p.fixed.Watch(ctx, chat.UserStarredPath(p.userID), p.onStarred)
	p.fixed.Watch(ctx, chat.UserBlocksPath(p.userID), p.onBlocks)
	p.logger.Info("projection started", zap.String("user_id", p.userID))
}

// Stop closes every watch.
func (p *Projection) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.fixed.CloseAll()
	p.subs.CloseAll()
}

// Watched lists the per-chat paths currently watched.
func (p *Projection) Watched() []string {
	return p.subs.Paths()
}

func (p *Projection) onUserChats(snap tree.Snapshot) {
	links := map[string]bool{}
	for _, c := range snap.Children() {
		links[c.Key()] = c.Bool()
	}
	p.mu.Lock()
	p.links = links
	for id := range p.chats {
		if !links[id] {
			delete(p.chats, id)
			delete(p.messages, id)
			delete(p.visible, id)
		}
	}
	p.mu.Unlock()
	p.resync()
	p.signalRefresh()
}

// resync opens watches for every linked chat (and, for one-to-one chats,
// the partner's block of this user) and closes the others.
func (p *Projection) resync() {
	p.mu.RLock()
	ctx := p.ctx
	want := map[string]func(tree.Snapshot){}
	for id, ok := range p.links {
		if !ok {
			continue
		}
		want[chat.ChatPath(id)] = p.onChat(id)
		want[chat.MessagesPath(id)] = p.onMessages(id)
		want[chat.UserMessagesPath(p.userID, id)] = p.onUserMessages(id)
		if c := p.chats[id]; c != nil && !c.IsGroupChat {
			if other := partner(c, p.userID); other != "" {
				want[tree.Join(chat.UserBlocksPath(other), p.userID)] = p.onBlockedBy(other)
			}
		}
	}
	p.mu.RUnlock()
	if ctx == nil {
		return
	}
	p.subs.Sync(ctx, want)
}

func (p *Projection) onChat(chatID string) func(tree.Snapshot) {
	return func(snap tree.Snapshot) {
		var c *chat.Chat
		if snap.Exists() {
			var err error
			if c, err = chat.DecodeChat(snap); err != nil {
				p.logger.Warn("bad chat record", zap.String("chat_id", chatID), zap.Error(err))
				return
			}
		}
		p.mu.Lock()
		if !p.links[chatID] {
			p.mu.Unlock()
			return
		}
		prev := p.chats[chatID]
		if c == nil {
			delete(p.chats, chatID)
		} else {
			p.chats[chatID] = c
		}
		partnerChanged := c != nil && (prev == nil || partner(prev, p.userID) != partner(c, p.userID))
		p.mu.Unlock()
		if partnerChanged && !c.IsGroupChat {
			p.resync()
		}
		p.signalRefresh()
	}
}

func (p *Projection) onMessages(chatID string) func(tree.Snapshot) {
	return func(snap tree.Snapshot) {
		msgs, err := chat.DecodeMessages(snap)
		if err != nil {
			p.logger.Warn("bad messages", zap.String("chat_id", chatID), zap.Error(err))
			return
		}
		p.mu.Lock()
		if p.links[chatID] {
			p.messages[chatID] = msgs
		}
		p.mu.Unlock()
		p.signalRefresh()
	}
}

func (p *Projection) onUserMessages(chatID string) func(tree.Snapshot) {
	return func(snap tree.Snapshot) {
		links := map[string]bool{}
		for _, c := range snap.Children() {
			links[c.Key()] = c.Bool()
		}
		p.mu.Lock()
		if p.links[chatID] {
			p.visible[chatID] = links
		}
		p.mu.Unlock()
		p.signalRefresh()
	}
}

func (p *Projection) onStarred(snap tree.Snapshot) {
	starred, err := chat.DecodeStarred(snap)
	if err != nil {
		p.logger.Warn("bad starred messages", zap.Error(err))
		return
	}
	p.mu.Lock()
	p.starred = starred
	p.mu.Unlock()
	p.signalRefresh()
}

func (p *Projection) onBlocks(snap tree.Snapshot) {
	blocks := map[string]bool{}
	for _, c := range snap.Children() {
		if c.Bool() {
			blocks[c.Key()] = true
		}
	}
	p.mu.Lock()
	p.blocks = blocks
	p.mu.Unlock()
	p.signalRefresh()
}

func (p *Projection) onBlockedBy(other string) func(tree.Snapshot) {
	return func(snap tree.Snapshot) {
		p.mu.Lock()
		p.blockedBy[other] = snap.Bool()
		p.mu.Unlock()
		p.signalRefresh()
	}
}

// ChatFilter selects which kind of chats a list shows.
type ChatFilter string

const (
	AllChats ChatFilter = ""
	// OnlyConversations leaves course chats out, as the chats screen does.
	OnlyConversations ChatFilter = "chats"
	// OnlyCourses keeps course chats only.
	OnlyCourses ChatFilter = "courses"
)

// ParseChatFilter accepts "", "all", "chats" and "courses".
func ParseChatFilter(s string) (ChatFilter, bool) {
	switch ChatFilter(strings.ToLower(strings.TrimSpace(s))) {
	case AllChats, "all":
		return AllChats, true
	case OnlyConversations:
		return OnlyConversations, true
	case OnlyCourses:
		return OnlyCourses, true
	}
	return AllChats, false
}

func (f ChatFilter) keep(c *chat.Chat) bool {
	switch f {
	case OnlyConversations:
		return !c.IsCourseChat
	case OnlyCourses:
		return c.IsCourseChat
	}
	return true
}

// ChatList returns every chat visible to the user.
func (p *Projection) ChatList() []ChatItem {
	return p.Chats(AllChats)
}

// Chats returns the chats visible to the user that pass f, most recently
// updated first. Chats the user was removed from are left out even while
// the link is still set.
func (p *Projection) Chats(f ChatFilter) []ChatItem {
	p.mu.RLock()
	defer p.mu.RUnlock()

	items := make([]ChatItem, 0, len(p.chats))
	for id, c := range p.chats {
		if !p.links[id] || !c.HasUser(p.userID) || !f.keep(c) {
			continue
		}
		item := ChatItem{Chat: *c}
		if vis := chat.Visible(p.messages[id], p.visible[id]); len(vis) > 0 {
			item.Preview = vis[len(vis)-1].Text
			item.HasPreview = true
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		ti, tj := items[i].Chat.Updated(), items[j].Chat.Updated()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return items[i].Chat.ChatID < items[j].Chat.ChatID
	})
	return items
}

// Chat returns the cached chat record.
func (p *Projection) Chat(chatID string) (chat.Chat, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.chats[chatID]
	if !ok {
		return chat.Chat{}, false
	}
	return *c, true
}

// Messages returns the chat's messages visible to the user, in send order.
func (p *Projection) Messages(chatID string) []chat.Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return chat.Visible(p.messages[chatID], p.visible[chatID])
}

// Starred returns the user's starred messages.
func (p *Projection) Starred() []chat.StarredMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]chat.StarredMessage(nil), p.starred...)
}

// IsBlocked reports whether the user and other block each other in
// either direction. The reverse direction is known for one-to-one partners.
func (p *Projection) IsBlocked(other string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.blocks[other] || p.blockedBy[other]
}

// User returns a member profile, served from the cache when possible.
func (p *Projection) User(ctx context.Context, userID string) (*chat.User, error) {
	if v, ok := p.cache.Get(userID); ok {
		return v.(*chat.User), nil
	}
	u, err := p.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.cache.Add(userID, u)
	return u, nil
}

// ForgetUser drops a cached profile so the next User call re-reads it.
func (p *Projection) ForgetUser(userID string) {
	p.cache.Remove(userID)
}

// Title is what the chat list shows for c: the group name, or the other
// member's full name for a one-to-one chat.
func (p *Projection) Title(ctx context.Context, c chat.Chat) string {
	if c.IsGroupChat || c.ChatName != "" {
		return c.ChatName
	}
	other := partner(&c, p.userID)
	if other == "" {
		return "(empty chat)"
	}
	u, err := p.User(ctx, other)
	if err != nil {
		return other
	}
	return strings.TrimSpace(u.FullName())
}

func partner(c *chat.Chat, me string) string {
	for _, u := range c.Users {
		if u != me {
			return u
		}
	}
	return ""
}
