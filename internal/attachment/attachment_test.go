package attachment

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
)

type fakeObjects struct {
	buckets map[string]bool
	objects map[string][]byte
	types   map[string]string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{buckets: map[string]bool{}, objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeObjects) BucketExists(_ context.Context, bucket string) (bool, error) {
	return f.buckets[bucket], nil
}

func (f *fakeObjects) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.buckets[bucket] = true
	return nil
}

func (f *fakeObjects) PutObject(_ context.Context, bucket, object string, reader io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if !f.buckets[bucket] {
		return minio.UploadInfo{}, errors.New("no such bucket")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[object] = data
	f.types[object] = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: int64(len(data))}, nil
}

func (f *fakeObjects) PresignedGetObject(_ context.Context, bucket, object string, _ time.Duration, _ url.Values) (*url.URL, error) {
	return url.Parse("http://minio.local/" + bucket + "/" + object + "?X-Amz-Signature=abc")
}

func TestPutCreatesBucketAndStoresObject(t *testing.T) {
	objects := newFakeObjects()
	s := newStore(objects, "attachments", 1<<10, nil)
	if err := s.ensureBucket(context.Background()); err != nil {
		t.Fatalf("ensureBucket() error = %v", err)
	}

	key, err := s.Put(context.Background(), "../../etc/screen shot.png", "", bytes.NewReader([]byte("png")), 3)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !strings.HasSuffix(key, "/screen-shot.png") || !ValidKey(key) {
		t.Fatalf("key = %q", key)
	}
	if string(objects.objects[key]) != "png" {
		t.Fatalf("stored bytes = %q", objects.objects[key])
	}
	if objects.types[key] != "application/octet-stream" {
		t.Fatalf("content type = %q", objects.types[key])
	}

	link, err := s.PresignedURL(context.Background(), key)
	if err != nil {
		t.Fatalf("PresignedURL() error = %v", err)
	}
	if !strings.Contains(link, key) {
		t.Fatalf("link = %q", link)
	}
}

func TestPutRejectsOversizedFile(t *testing.T) {
	s := newStore(newFakeObjects(), "attachments", 4, nil)
	_, err := s.Put(context.Background(), "big.bin", "application/octet-stream", bytes.NewReader(make([]byte, 5)), 5)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Put() error = %v, want ErrTooLarge", err)
	}
}

func TestPresignedURLRejectsForeignKeys(t *testing.T) {
	s := newStore(newFakeObjects(), "attachments", 0, nil)
	for _, key := range []string{"", "secrets.txt", "att_ab/../x", "att_zz/file"} {
		if _, err := s.PresignedURL(context.Background(), key); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("PresignedURL(%q) error = %v", key, err)
		}
	}
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"report.pdf":           "report.pdf",
		`C:\Users\me\log.txt`:  "log.txt",
		"..":                   "file",
		"héllo wörld.md":       "h-llo-w-rld.md",
		"a...b":                "a.b",
		"":                     "file",
	}
	for in, want := range tests {
		if got := SafeName(in); got != want {
			t.Fatalf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}
}
