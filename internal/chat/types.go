package chat

import (
	"slices"
	"time"
)

// TimeLayout is the ISO-8601 form every timestamp is stored in.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// DeletedText replaces the text of a message deleted for everyone.
const DeletedText = "This message was deleted"

// Role is the campus role a user picked at sign-up.
type Role string

const (
	RoleStudent       Role = "student"
	RoleFacultyMember Role = "facultyMember"
)

// User is a profile stored at users/{userId}.
type User struct {
	UserID         string            `json:"userId"`
	FirstName      string            `json:"firstName"`
	LastName       string            `json:"lastName"`
	FirstLast      string            `json:"firstLast"`
	Email          string            `json:"email"`
	ProfilePicture string            `json:"profilePicture,omitempty"`
	About          string            `json:"about,omitempty"`
	SelectedRole   Role              `json:"selectedRole"`
	StudentNumber  string            `json:"studentNumber,omitempty"`
	PushTokens     map[string]string `json:"pushTokens,omitempty"`
}

// FullName is "first last", trimmed when either part is missing.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Chat is the shared record at chats/{chatId}.
type Chat struct {
	ChatID            string   `json:"chatId"`
	Users             []string `json:"users"`
	Admins            []string `json:"admins"`
	IsGroupChat       bool     `json:"isGroupChat"`
	IsCourseChat      bool     `json:"isCourseChat"`
	ChatName          string   `json:"chatName,omitempty"`
	ChatImage         string   `json:"chatImage,omitempty"`
	InvitationCode    string   `json:"invitationCode"`
	CreatedBy         string   `json:"createdBy"`
	UpdatedBy         string   `json:"updatedBy"`
	CreatedAt         string   `json:"createdAt"`
	UpdatedAt         string   `json:"updatedAt"`
	LatestMessageText string   `json:"latestMessageText"`
}

// HasUser reports whether userID is a member.
func (c *Chat) HasUser(userID string) bool {
	return slices.Contains(c.Users, userID)
}

// HasAdmin reports whether userID is an admin.
func (c *Chat) HasAdmin(userID string) bool {
	return slices.Contains(c.Admins, userID)
}

// Updated parses UpdatedAt. The zero time is returned for bad input.
func (c *Chat) Updated() time.Time {
	t, _ := time.Parse(TimeLayout, c.UpdatedAt)
	return t
}

// NewChat is the input of CreateChat.
type NewChat struct {
	Users        []string
	IsGroupChat  bool
	IsCourseChat bool
	ChatName     string
	ChatImage    string
}

// ChatUpdate holds the fields UpdateChatData may change. Nil leaves a field as is.
type ChatUpdate struct {
	ChatName  *string
	ChatImage *string
}

// JoinResult reports the chat behind an invitation and whether the user
// was already in it.
type JoinResult struct {
	Chat          *Chat
	AlreadyMember bool
}

// MessageKind tags what a message carries.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindDocument MessageKind = "document"
	KindInfo     MessageKind = "info"
)

// Message is a chat entry. Which of the media fields is set follows Kind:
// ImageURL for images, DocumentURL (with Text as the file name) for documents.
type Message struct {
	ID          string
	ChatID      string
	Kind        MessageKind
	SentBy      string
	SentAt      time.Time
	Text        string
	ImageURL    string
	DocumentURL string
	ReplyTo     string
	Deleted     bool
}

// Redacted returns the message as members see it once deleted for everyone.
func (m Message) Redacted() Message {
	if !m.Deleted {
		return m
	}
	m.Text = DeletedText
	m.ImageURL = ""
	m.DocumentURL = ""
	return m
}

// messageRecord is the stored form of a Message.
type messageRecord struct {
	SentBy      string `json:"sentBy"`
	SentAt      string `json:"sentAt"`
	Text        string `json:"text"`
	ImageURL    string `json:"imageUrl,omitempty"`
	DocumentURL string `json:"documentUrl,omitempty"`
	ReplyTo     string `json:"replyTo,omitempty"`
	Type        string `json:"type,omitempty"`
	IsDeleted   bool   `json:"isDeleted,omitempty"`
}

func (m Message) record() messageRecord {
	rec := messageRecord{
		SentBy:      m.SentBy,
		SentAt:      m.SentAt.UTC().Format(TimeLayout),
		Text:        m.Text,
		ImageURL:    m.ImageURL,
		DocumentURL: m.DocumentURL,
		ReplyTo:     m.ReplyTo,
		IsDeleted:   m.Deleted,
	}
	if m.Kind == KindInfo {
		rec.Type = string(KindInfo)
	}
	return rec
}

func (r messageRecord) message(chatID, id string) Message {
	m := Message{
		ID:          id,
		ChatID:      chatID,
		SentBy:      r.SentBy,
		Text:        r.Text,
		ImageURL:    r.ImageURL,
		DocumentURL: r.DocumentURL,
		ReplyTo:     r.ReplyTo,
		Deleted:     r.IsDeleted,
	}
	m.SentAt, _ = time.Parse(TimeLayout, r.SentAt)
	switch {
	case r.Type == string(KindInfo):
		m.Kind = KindInfo
	case r.ImageURL != "":
		m.Kind = KindImage
	case r.DocumentURL != "":
		m.Kind = KindDocument
	default:
		m.Kind = KindText
	}
	return m
}

// StarredMessage is stored at userStarredMessages/{userId}/{chatId}/{messageId}.
type StarredMessage struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	StarredAt string `json:"starredAt"`
}
