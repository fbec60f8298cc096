package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrNotConfigured = errors.New("s3: transcript archive is not configured")

const defaultLinkTTL = 24 * time.Hour

// Archive stores exported transcripts in a private S3-compatible bucket and hands out
// time-limited download links.
type Archive struct {
	bucket   string
	linkTTL  time.Duration
	client   *minio.Client
	logger   *slog.Logger
	initOnce sync.Once
	initErr  error
}

type ArchiveOptions struct {
	Endpoint  string
	UseSSL    bool
	AccessKey string
	SecretKey string
	Bucket    string
	LinkTTL   time.Duration
	Logger    *slog.Logger
}

func NewArchive(opts ArchiveOptions) (*Archive, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, ErrNotConfigured
	}
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	client, err := minio.New(hostOf(endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(opts.AccessKey), strings.TrimSpace(opts.SecretKey), ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	ttl := opts.LinkTTL
	if ttl <= 0 {
		ttl = defaultLinkTTL
	}
	return &Archive{bucket: bucket, linkTTL: ttl, client: client, logger: opts.Logger}, nil
}

// Put stores an object and returns a presigned download URL.
func (a *Archive) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
	if reader == nil {
		return "", errors.New("s3: reader is required")
	}
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("s3: object key is required")
	}
	if err := a.ensureBucket(ctx); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := a.client.PutObject(ctx, a.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType:        contentType,
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", lastSegment(key)),
	}); err != nil {
		return "", fmt.Errorf("s3: put object: %w", err)
	}
	link, err := a.client.PresignedGetObject(ctx, a.bucket, key, a.linkTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("s3: presign: %w", err)
	}
	if a.logger != nil {
		a.logger.Info("transcript archived", "bucket", a.bucket, "key", key, "size", size)
	}
	return link.String(), nil
}

func (a *Archive) ensureBucket(ctx context.Context) error {
	a.initOnce.Do(func() {
		exists, err := a.client.BucketExists(ctx, a.bucket)
		if err != nil {
			a.initErr = fmt.Errorf("s3: check bucket: %w", err)
			return
		}
		if exists {
			return
		}
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			a.initErr = fmt.Errorf("s3: create bucket: %w", err)
		}
	})
	return a.initErr
}

func hostOf(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return endpoint
}

func lastSegment(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}
