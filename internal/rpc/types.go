package rpc

import (
	"time"

	"github.com/matheus3301/campus/internal/chat"
	"github.com/matheus3301/campus/internal/store"
)

// Empty is the request and response of methods that carry nothing.
type Empty struct{}

type StatusResponse struct {
	Session     string `json:"session"`
	UserID      string `json:"userId"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	UptimeMs    int64  `json:"uptimeMs"`
	Backend     string `json:"backend"`
	PushGateway string `json:"pushGateway"`
	PushQueued  int    `json:"pushQueued"`
	Watches     int    `json:"watches"`
	Media       bool   `json:"media"`
}

type ChatRequest struct {
	ChatID string `json:"chatId"`
}

// ListChatsRequest picks the chats to list: "chats", "courses" or, when
// empty, all of them.
type ListChatsRequest struct {
	Filter string `json:"filter,omitempty"`
}

type ChatSummary struct {
	ChatID       string   `json:"chatId"`
	Title        string   `json:"title"`
	Preview      string   `json:"preview,omitempty"`
	HasPreview   bool     `json:"hasPreview"`
	IsGroupChat  bool     `json:"isGroupChat"`
	IsCourseChat bool     `json:"isCourseChat"`
	Users        []string `json:"users"`
	Admins       []string `json:"admins"`
	UpdatedAt    string   `json:"updatedAt"`
}

type ListChatsResponse struct {
	Chats []ChatSummary `json:"chats"`
}

type ChatResponse struct {
	Chat chat.Chat `json:"chat"`
}

type MessageView struct {
	ID          string `json:"id"`
	ChatID      string `json:"chatId"`
	Kind        string `json:"kind"`
	SentBy      string `json:"sentBy"`
	SentAt      string `json:"sentAt"`
	Text        string `json:"text"`
	ImageURL    string `json:"imageUrl,omitempty"`
	DocumentURL string `json:"documentUrl,omitempty"`
	ReplyTo     string `json:"replyTo,omitempty"`
	Deleted     bool   `json:"deleted,omitempty"`
}

func messageView(m chat.Message) MessageView {
	return MessageView{
		ID:          m.ID,
		ChatID:      m.ChatID,
		Kind:        string(m.Kind),
		SentBy:      m.SentBy,
		SentAt:      m.SentAt.UTC().Format(chat.TimeLayout),
		Text:        m.Text,
		ImageURL:    m.ImageURL,
		DocumentURL: m.DocumentURL,
		ReplyTo:     m.ReplyTo,
		Deleted:     m.Deleted,
	}
}

type ListMessagesResponse struct {
	Messages []MessageView `json:"messages"`
}

type StarredView struct {
	ChatID    string       `json:"chatId"`
	MessageID string       `json:"messageId"`
	StarredAt string       `json:"starredAt"`
	Message   *MessageView `json:"message,omitempty"`
}

type ListStarredResponse struct {
	Starred []StarredView `json:"starred"`
}

type CreateChatRequest struct {
	Users        []string `json:"users"`
	IsGroupChat  bool     `json:"isGroupChat"`
	IsCourseChat bool     `json:"isCourseChat"`
	ChatName     string   `json:"chatName"`
	ChatImage    string   `json:"chatImage"`
}

// FanoutResult is embedded in responses of writes that fan out per member.
// FailedMembers lists the members whose links were not written.
type FanoutResult struct {
	FailedMembers []string `json:"failedMembers,omitempty"`
}

type CreateChatResponse struct {
	ChatID string `json:"chatId"`
	FanoutResult
}

type InvitationRequest struct {
	Code string `json:"code"`
}

type JoinResponse struct {
	ChatID        string `json:"chatId"`
	ChatName      string `json:"chatName,omitempty"`
	AlreadyMember bool   `json:"alreadyMember"`
}

type MembersRequest struct {
	ChatID string   `json:"chatId"`
	Users  []string `json:"users"`
}

type AddUsersResponse struct {
	Added []string `json:"added"`
	FanoutResult
}

type MemberRequest struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

type UpdateChatRequest struct {
	ChatID    string  `json:"chatId"`
	ChatName  *string `json:"chatName,omitempty"`
	ChatImage *string `json:"chatImage,omitempty"`
}

type InviteResponse struct {
	Code string `json:"code"`
	Link string `json:"link"`
}

type InviteQRRequest struct {
	ChatID string `json:"chatId"`
	Size   int    `json:"size"`
}

type InviteQRResponse struct {
	Link string `json:"link"`
	PNG  []byte `json:"png"`
}

type UserRequest struct {
	UserID string `json:"userId"`
}

type BlocksResponse struct {
	Users []string `json:"users"`
}

type SendTextRequest struct {
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
	ReplyTo string `json:"replyTo,omitempty"`
}

// SendImageRequest carries either a hosted ImageURL or a local File the
// daemon uploads first.
type SendImageRequest struct {
	ChatID   string `json:"chatId"`
	ImageURL string `json:"imageUrl,omitempty"`
	File     string `json:"file,omitempty"`
	ReplyTo  string `json:"replyTo,omitempty"`
}

type SendDocumentRequest struct {
	ChatID      string `json:"chatId"`
	DocumentURL string `json:"documentUrl,omitempty"`
	Name        string `json:"name,omitempty"`
	File        string `json:"file,omitempty"`
	ReplyTo     string `json:"replyTo,omitempty"`
}

type SendResponse struct {
	Message MessageView `json:"message"`
	FanoutResult
}

type MessageRequest struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

type StarResponse struct {
	Starred bool `json:"starred"`
}

type DeleteChatResponse struct {
	FanoutResult
}

type UserResponse struct {
	User chat.User `json:"user"`
}

type SearchUsersRequest struct {
	Query string `json:"query"`
}

type SearchUsersResponse struct {
	Users []chat.User `json:"users"`
}

type PushTokenRequest struct {
	Token string `json:"token"`
}

type ListPushesRequest struct {
	Limit int `json:"limit"`
}

type PushView struct {
	ID        int64  `json:"id"`
	Token     string `json:"token"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Attempts  int    `json:"attempts"`
	CreatedAt string `json:"createdAt"`
}

func pushView(e store.PushEntry) PushView {
	return PushView{
		ID:        e.ID,
		Token:     e.Token,
		Title:     e.Title,
		Body:      e.Body,
		Status:    e.Status,
		Error:     e.ErrorMessage,
		Attempts:  e.Attempts,
		CreatedAt: time.UnixMilli(e.CreatedAt).UTC().Format(chat.TimeLayout),
	}
}

type ListPushesResponse struct {
	Pushes []PushView `json:"pushes"`
}

// WatchRequest narrows the stream to changes related to Path. An empty
// Path streams every change.
type WatchRequest struct {
	Path string `json:"path"`
}

// WatchEvent is one streamed change. Kind is "tree" or "status".
type WatchEvent struct {
	Kind   string   `json:"kind"`
	Paths  []string `json:"paths,omitempty"`
	Remote bool     `json:"remote,omitempty"`
	Status string   `json:"status,omitempty"`
	Reason string   `json:"reason,omitempty"`
	At     string   `json:"at"`
}

type PostRequest struct {
	PostID string `json:"postId"`
}

// CreatePostRequest carries hosted attachment URLs and local Files the
// daemon uploads first. Uploaded images join ImageURLs, anything else
// joins DocURLs.
type CreatePostRequest struct {
	Title     string   `json:"title"`
	Text      string   `json:"text"`
	ImageURLs []string `json:"imageUrls,omitempty"`
	DocURLs   []string `json:"docUrls,omitempty"`
	Files     []string `json:"files,omitempty"`
}

type CreatePostResponse struct {
	PostID string `json:"postId"`
}

// UpdatePostRequest changes only the fields that are set. Files are
// uploaded and appended to the attachment lists.
type UpdatePostRequest struct {
	PostID    string    `json:"postId"`
	Title     *string   `json:"title,omitempty"`
	Text      *string   `json:"text,omitempty"`
	ImageURLs *[]string `json:"imageUrls,omitempty"`
	DocURLs   *[]string `json:"docUrls,omitempty"`
	Files     []string  `json:"files,omitempty"`
}

type PostView struct {
	PostID      string   `json:"postId"`
	Title       string   `json:"title"`
	Text        string   `json:"text"`
	CreatedBy   string   `json:"createdBy"`
	CreatorName string   `json:"creatorName"`
	UpdatedBy   string   `json:"updatedBy"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt"`
	ImageURLs   []string `json:"imageUrls,omitempty"`
	DocURLs     []string `json:"docUrls,omitempty"`
}

type PostResponse struct {
	Post PostView `json:"post"`
}

type ListPostsResponse struct {
	Posts []PostView `json:"posts"`
}
