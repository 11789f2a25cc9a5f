// Package media uploads chat images and documents to S3-compatible storage
// and returns the URL stored in the message.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// ErrDisabled is returned when no object storage is configured.
var ErrDisabled = errors.New("media storage is not configured")

// Config selects the bucket uploads go to.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Secure    bool
	// PublicURL is the base of returned links. Defaults to the endpoint.
	PublicURL string
}

// Store uploads files into one bucket.
type Store struct {
	client *minio.Client
	cfg    Config
	logger *zap.Logger
}

// New connects to the object store. A zero Endpoint yields ErrDisabled.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("media client: %w", err)
	}
	return &Store{client: client, cfg: cfg, logger: logger}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.cfg.Bucket, err)
	}
	if ok {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.cfg.Bucket, err)
	}
	s.logger.Info("media bucket created", zap.String("bucket", s.cfg.Bucket))
	return nil
}

// Upload stores r under prefix (see ChatPrefix, PostPrefix) and returns
// its public URL.
func (s *Store) Upload(ctx context.Context, prefix, filename string, r io.Reader, size int64, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := ObjectKey(prefix, filename)
	info, err := s.client.PutObject(ctx, s.cfg.Bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}
	s.logger.Info("media uploaded",
		zap.String("key", key), zap.Int64("size", info.Size), zap.String("content_type", contentType))
	return PublicURL(s.baseURL(), s.cfg.Bucket, key), nil
}

// UploadFile uploads a local file, detecting its content type from its bytes.
func (s *Store) UploadFile(ctx context.Context, prefix, file string) (string, string, error) {
	mt, err := mimetype.DetectFile(file)
	if err != nil {
		return "", "", fmt.Errorf("detect type of %s: %w", file, err)
	}
	f, err := os.Open(file)
	if err != nil {
		return "", "", err
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil {
		return "", "", err
	}
	u, err := s.Upload(ctx, prefix, filepath.Base(file), f, st.Size(), mt.String())
	return u, mt.String(), err
}

func (s *Store) baseURL() string {
	if s.cfg.PublicURL != "" {
		return s.cfg.PublicURL
	}
	scheme := "http"
	if s.cfg.Secure {
		scheme = "https"
	}
	return scheme + "://" + s.cfg.Endpoint
}

// IsImage reports whether a detected content type is an image.
func IsImage(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}

// ChatPrefix is where a chat's uploads live.
func ChatPrefix(chatID string) string {
	return path.Join("chats", chatID)
}

// PostPrefix is where a timeline post's attachments live.
func PostPrefix(postID string) string {
	return path.Join("posts", postID)
}

// ObjectKey places an upload under prefix with a unique, time-ordered name
// that keeps the original extension.
func ObjectKey(prefix, filename string) string {
	ext := strings.ToLower(path.Ext(filepath.Base(filename)))
	return path.Join(prefix, uuid.Must(uuid.NewV7()).String()+ext)
}

// PublicURL joins base, bucket and key into a link.
func PublicURL(base, bucket, key string) string {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return strings.TrimRight(base, "/") + "/" + bucket + "/" + key
	}
	return u.JoinPath(bucket, key).String()
}
