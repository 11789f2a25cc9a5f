package rpc

import (
	"context"

	"github.com/matheus3301/campus/internal/media"
	"github.com/matheus3301/campus/internal/posts"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

func (s *Service) timeline() error {
	if s.Posts == nil {
		return grpcstatus.Error(codes.Unavailable, "timeline is not running")
	}
	return nil
}

// publisher returns the signed-in user if they may write posts.
func (s *Service) publisher(ctx context.Context) (string, error) {
	if err := s.timeline(); err != nil {
		return "", err
	}
	me, err := s.me()
	if err != nil {
		return "", err
	}
	ok, err := s.Posts.CanPublish(ctx, me)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", forbidden("only faculty members can publish posts")
	}
	return me, nil
}

// attach uploads files under the post and sorts the URLs into images
// and documents.
func (s *Service) attach(ctx context.Context, postID string, files []string) (images, docs []string, err error) {
	for _, f := range files {
		u, contentType, err := s.upload(ctx, media.PostPrefix(postID), f)
		if err != nil {
			return nil, nil, err
		}
		if media.IsImage(contentType) {
			images = append(images, u)
		} else {
			docs = append(docs, u)
		}
	}
	return images, docs, nil
}

func (s *Service) postView(ctx context.Context, p posts.Post) PostView {
	return PostView{
		PostID:      p.PostID,
		Title:       p.Title,
		Text:        p.Text,
		CreatedBy:   p.CreatedBy,
		CreatorName: s.Posts.CreatorName(ctx, p.CreatedBy),
		UpdatedBy:   p.UpdatedBy,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		ImageURLs:   p.ImageURLs,
		DocURLs:     p.DocURLs,
	}
}

func (s *Service) listPosts(ctx context.Context, _ *Empty) (any, error) {
	if err := s.timeline(); err != nil {
		return nil, err
	}
	list, err := s.Posts.Posts(ctx)
	if err != nil {
		return nil, err
	}
	resp := ListPostsResponse{Posts: make([]PostView, 0, len(list))}
	for _, p := range list {
		resp.Posts = append(resp.Posts, s.postView(ctx, p))
	}
	return resp, nil
}

func (s *Service) getPost(ctx context.Context, req *PostRequest) (any, error) {
	if err := s.timeline(); err != nil {
		return nil, err
	}
	if req.PostID == "" {
		return nil, required("postId")
	}
	p, err := s.Posts.Post(ctx, req.PostID)
	if err != nil {
		return nil, err
	}
	return PostResponse{Post: s.postView(ctx, *p)}, nil
}

func (s *Service) createPost(ctx context.Context, req *CreatePostRequest) (any, error) {
	me, err := s.publisher(ctx)
	if err != nil {
		return nil, err
	}
	postID := posts.ReservePostID()
	images, docs, err := s.attach(ctx, postID, req.Files)
	if err != nil {
		return nil, err
	}
	id, err := s.Posts.CreatePost(ctx, me, postID, posts.NewPost{
		Title:     req.Title,
		Text:      req.Text,
		ImageURLs: append(req.ImageURLs, images...),
		DocURLs:   append(req.DocURLs, docs...),
	})
	if err != nil {
		return nil, err
	}
	return CreatePostResponse{PostID: id}, nil
}

func (s *Service) updatePost(ctx context.Context, req *UpdatePostRequest) (any, error) {
	me, err := s.publisher(ctx)
	if err != nil {
		return nil, err
	}
	if req.PostID == "" {
		return nil, required("postId")
	}
	upd := posts.PostUpdate{
		Title:     req.Title,
		Text:      req.Text,
		ImageURLs: req.ImageURLs,
		DocURLs:   req.DocURLs,
	}
	if len(req.Files) > 0 {
		cur, err := s.Posts.Post(ctx, req.PostID)
		if err != nil {
			return nil, err
		}
		images, docs, err := s.attach(ctx, req.PostID, req.Files)
		if err != nil {
			return nil, err
		}
		upd.ImageURLs = appended(upd.ImageURLs, cur.ImageURLs, images)
		upd.DocURLs = appended(upd.DocURLs, cur.DocURLs, docs)
	}
	return Empty{}, s.Posts.UpdatePost(ctx, req.PostID, me, upd)
}

// appended adds uploaded URLs to the requested list, or to the stored
// one when the request leaves the list alone.
func appended(requested *[]string, stored, uploaded []string) *[]string {
	if len(uploaded) == 0 {
		return requested
	}
	base := stored
	if requested != nil {
		base = *requested
	}
	out := append(append([]string{}, base...), uploaded...)
	return &out
}

func (s *Service) deletePost(ctx context.Context, req *PostRequest) (any, error) {
	if _, err := s.publisher(ctx); err != nil {
		return nil, err
	}
	if req.PostID == "" {
		return nil, required("postId")
	}
	return Empty{}, s.Posts.DeletePost(ctx, req.PostID)
}
