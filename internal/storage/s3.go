package storage

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"teamchat/internal/apperr"
)

// MaxObjectBytes bounds a single upload.
const MaxObjectBytes = 10 << 20

const (
	PrefixAttachments = "attachments"
	PrefixAvatars     = "avatars"
)

var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
	"text/plain":      ".txt",
}

// IsImage reports whether mimeType is an accepted image type.
func IsImage(mimeType string) bool {
	_, ok := extensions[mimeType]
	return ok && strings.HasPrefix(mimeType, "image/")
}

type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// PublicURL is the base clients fetch objects from. Defaults to the
	// path-style bucket URL on Endpoint.
	PublicURL string
}

// ObjectStore keeps blobs in an S3 compatible bucket. A nil *ObjectStore
// is valid and rejects every call, which is how a deployment without
// object storage behaves.
type ObjectStore struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

func NewObjectStore(cfg Config) (*ObjectStore, error) {
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	return &ObjectStore{client: cl, bucket: cfg.Bucket, baseURL: baseURL(cfg)}, nil
}

// EnsureBucket creates the bucket when it is missing.
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
}

// Store uploads data under prefix/ownerID and returns its public URL.
func (s *ObjectStore) Store(ctx context.Context, prefix string, ownerID int64, data []byte, mimeType string) (string, error) {
	if s == nil {
		return "", apperr.Validation("object storage is not configured")
	}
	ext, ok := extensions[mimeType]
	if !ok {
		return "", apperr.Validation("unsupported file type %q", mimeType)
	}
	if len(data) == 0 {
		return "", apperr.Validation("file is empty")
	}
	if len(data) > MaxObjectBytes {
		return "", apperr.Validation("file exceeds %d bytes", MaxObjectBytes)
	}

	key := ownerPath(prefix, ownerID) + uuid.NewString() + ext
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.baseURL + "/" + key, nil
}

// OwnsAttachment reports whether url names an attachment ownerID uploaded
// through this store.
func (s *ObjectStore) OwnsAttachment(url string, ownerID int64) bool {
	if s == nil {
		return false
	}
	key, ok := keyFromURL(s.baseURL, url)
	if !ok {
		return false
	}
	prefix, owner, ok := splitKey(key)
	return ok && prefix == PrefixAttachments && owner == ownerID
}

// Delete removes the object behind a URL returned by Store. URLs that do
// not belong to this store, or keys Store never produces, are ignored.
func (s *ObjectStore) Delete(ctx context.Context, url string) error {
	if s == nil || url == "" {
		return nil
	}
	key, ok := keyFromURL(s.baseURL, url)
	if !ok {
		return nil
	}
	if _, _, ok := splitKey(key); !ok {
		return apperr.Forbidden("refusing to delete object %s", key)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

func baseURL(cfg Config) string {
	if cfg.PublicURL != "" {
		return strings.TrimRight(cfg.PublicURL, "/")
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return scheme + "://" + cfg.Endpoint + "/" + cfg.Bucket
}

func keyFromURL(base, url string) (string, bool) {
	key, ok := strings.CutPrefix(url, base+"/")
	if !ok || key == "" || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}

func ownerPath(prefix string, ownerID int64) string {
	return prefix + "/" + strconv.FormatInt(ownerID, 10) + "/"
}

// splitKey parses a key of the form prefix/ownerID/name.
func splitKey(key string) (prefix string, ownerID int64, ok bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[2] == "" {
		return "", 0, false
	}
	if parts[0] != PrefixAttachments && parts[0] != PrefixAvatars {
		return "", 0, false
	}
	ownerID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || ownerID <= 0 {
		return "", 0, false
	}
	return parts[0], ownerID, true
}
