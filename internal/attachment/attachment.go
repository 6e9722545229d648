package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"linear/api/internal/util"
)

var (
	ErrTooLarge   = errors.New("attachment too large")
	ErrInvalidKey = errors.New("invalid attachment key")
)

const presignTTL = 15 * time.Minute

// objectAPI is the part of *minio.Client the store needs.
type objectAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, params url.Values) (*url.URL, error)
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	MaxBytes  int64
}

// Store keeps ticket and comment attachments in an S3-compatible bucket.
type Store struct {
	objects  objectAPI
	bucket   string
	maxBytes int64
	logger   *slog.Logger
}

// Open connects to MinIO and creates the bucket when it does not exist yet.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	s := newStore(client, opts.Bucket, opts.MaxBytes, logger)
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newStore(objects objectAPI, bucket string, maxBytes int64, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{objects: objects, bucket: bucket, maxBytes: maxBytes, logger: logger.With("component", "attachment")}
}

func (s *Store) ensureBucket(ctx context.Context) error {
	exists, err := s.objects.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.objects.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("created attachment bucket", "bucket", s.bucket)
	return nil
}

func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// Put uploads one file and returns its object key.
func (s *Store) Put(ctx context.Context, filename, contentType string, r io.Reader, size int64) (string, error) {
	if s.maxBytes > 0 && size > s.maxBytes {
		return "", fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, filename, size, s.maxBytes)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := util.NewID("att") + "/" + SafeName(filename)
	if _, err := s.objects.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}

// PresignedURL returns a short-lived download link for key.
func (s *Store) PresignedURL(ctx context.Context, key string) (string, error) {
	if !ValidKey(key) {
		return "", ErrInvalidKey
	}
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("inline; filename=%q", path.Base(key)))
	u, err := s.objects.PresignedGetObject(ctx, s.bucket, key, presignTTL, params)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

var (
	unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	dotRuns    = regexp.MustCompile(`\.{2,}`)
)

// SafeName reduces a client-supplied file name to a single path segment.
func SafeName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	name = dotRuns.ReplaceAllString(unsafeName.ReplaceAllString(name, "-"), ".")
	name = strings.Trim(name, "-.")
	if name == "" {
		return "file"
	}
	if len(name) > 100 {
		name = name[len(name)-100:]
	}
	return name
}

var keyPattern = regexp.MustCompile(`^att_[a-f0-9]+/[A-Za-z0-9._-]+$`)

func ValidKey(key string) bool {
	return keyPattern.MatchString(key) && !strings.Contains(key, "..")
}
