// Package posts is the campus timeline: announcements faculty members
// publish to everyone, stored at posts/{postId}.
package posts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/matheus3301/campus/internal/chat"
	"github.com/matheus3301/campus/internal/tree"
	"go.uber.org/zap"
)

const root = "posts"

// Post is the record at posts/{postId}. ImageURLs and DocURLs keep the
// stored field names imageUrl and docUrl.
type Post struct {
	PostID    string   `json:"postId"`
	CreatedBy string   `json:"createdBy"`
	UpdatedBy string   `json:"updatedBy"`
	Title     string   `json:"title"`
	Text      string   `json:"text"`
	CreatedAt string   `json:"createdAt"`
	UpdatedAt string   `json:"updatedAt"`
	ImageURLs []string `json:"imageUrl,omitempty"`
	DocURLs   []string `json:"docUrl,omitempty"`
}

// Updated parses UpdatedAt. The zero time is returned for bad input.
func (p *Post) Updated() time.Time {
	t, _ := time.Parse(chat.TimeLayout, p.UpdatedAt)
	return t
}

// NewPost is the input of CreatePost.
type NewPost struct {
	Title     string
	Text      string
	ImageURLs []string
	DocURLs   []string
}

// PostUpdate holds the fields UpdatePost may change. Nil leaves a field as
// is; an empty slice clears the attachments.
type PostUpdate struct {
	Title     *string
	Text      *string
	ImageURLs *[]string
	DocURLs   *[]string
}

// Service reads and writes the timeline.
type Service struct {
	tree   *tree.Tree
	users  *chat.Users
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates the timeline service.
func NewService(t *tree.Tree, users *chat.Users, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{tree: t, users: users, logger: logger, now: time.Now}
}

func (s *Service) stamp() string {
	return s.now().UTC().Format(chat.TimeLayout)
}

func postPath(postID string) string {
	return tree.Join(root, postID)
}

// ReservePostID returns the id CreatePost will use when given it, so that
// attachments can be uploaded under the post before it exists.
func ReservePostID() string {
	return tree.NewKey()
}

// CreatePost writes a new post under postID (empty picks a fresh one) and
// returns its id.
func (s *Service) CreatePost(ctx context.Context, authorID, postID string, in NewPost) (string, error) {
	switch {
	case authorID == "":
		return "", fmt.Errorf("%w: author is required", chat.ErrInvalid)
	case strings.TrimSpace(in.Title) == "":
		return "", fmt.Errorf("%w: title is required", chat.ErrInvalid)
	}
	if postID == "" {
		postID = ReservePostID()
	}
	now := s.stamp()
	p := Post{
		PostID:    postID,
		CreatedBy: authorID,
		UpdatedBy: authorID,
		Title:     in.Title,
		Text:      in.Text,
		CreatedAt: now,
		UpdatedAt: now,
		ImageURLs: compact(in.ImageURLs),
		DocURLs:   compact(in.DocURLs),
	}
	if err := s.tree.Set(ctx, postPath(postID), p); err != nil {
		return "", fmt.Errorf("create post: %w", err)
	}
	s.logger.Info("post created", zap.String("post_id", postID), zap.String("author", authorID))
	return postID, nil
}

// Post reads one post.
func (s *Service) Post(ctx context.Context, postID string) (*Post, error) {
	if postID == "" {
		return nil, fmt.Errorf("%w: post id is required", chat.ErrInvalid)
	}
	snap, err := s.tree.Get(ctx, postPath(postID))
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, fmt.Errorf("%w: post %s", chat.ErrNotFound, postID)
	}
	return decode(snap)
}

// Posts returns the timeline, most recently updated first.
func (s *Service) Posts(ctx context.Context) ([]Post, error) {
	snap, err := s.tree.Get(ctx, root)
	if err != nil {
		return nil, err
	}
	out := make([]Post, 0, len(snap.Children()))
	for _, c := range snap.Children() {
		p, err := decode(c)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].Updated(), out[j].Updated()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].PostID > out[j].PostID
	})
	return out, nil
}

// UpdatePost merges upd into the post and stamps updatedBy/updatedAt.
func (s *Service) UpdatePost(ctx context.Context, postID, actorID string, upd PostUpdate) error {
	if _, err := s.Post(ctx, postID); err != nil {
		return err
	}
	fields := map[string]any{
		"updatedBy": actorID,
		"updatedAt": s.stamp(),
	}
	if upd.Title != nil {
		if strings.TrimSpace(*upd.Title) == "" {
			return fmt.Errorf("%w: title cannot be empty", chat.ErrInvalid)
		}
		fields["title"] = *upd.Title
	}
	if upd.Text != nil {
		fields["text"] = *upd.Text
	}
	if upd.ImageURLs != nil {
		fields["imageUrl"] = listOrNil(compact(*upd.ImageURLs))
	}
	if upd.DocURLs != nil {
		fields["docUrl"] = listOrNil(compact(*upd.DocURLs))
	}
	if err := s.tree.Update(ctx, postPath(postID), fields); err != nil {
		return fmt.Errorf("update post %s: %w", postID, err)
	}
	return nil
}

// DeletePost removes the post. Uploaded attachments stay in storage.
func (s *Service) DeletePost(ctx context.Context, postID string) error {
	if _, err := s.Post(ctx, postID); err != nil {
		return err
	}
	if err := s.tree.Remove(ctx, postPath(postID)); err != nil {
		return fmt.Errorf("delete post %s: %w", postID, err)
	}
	s.logger.Info("post deleted", zap.String("post_id", postID))
	return nil
}

// CanPublish reports whether userID may create, edit and delete posts:
// only faculty members can.
func (s *Service) CanPublish(ctx context.Context, userID string) (bool, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.SelectedRole == chat.RoleFacultyMember, nil
}

// CreatorName is the stored "first last" search name of the author, or the
// user id when the profile is gone.
func (s *Service) CreatorName(ctx context.Context, userID string) string {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil || u.FirstLast == "" {
		return userID
	}
	return u.FirstLast
}

func decode(snap tree.Snapshot) (*Post, error) {
	var p Post
	if err := snap.Decode(&p); err != nil {
		return nil, err
	}
	p.PostID = snap.Key()
	return &p, nil
}

// compact drops empty URLs.
func compact(urls []string) []string {
	var out []string
	for _, u := range urls {
		if strings.TrimSpace(u) != "" {
			out = append(out, u)
		}
	}
	return out
}

func listOrNil(urls []string) any {
	if len(urls) == 0 {
		return nil
	}
	return urls
}
