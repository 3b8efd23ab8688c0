package minio

import (
	"context"
	"errors"
	"net/url"
	"time"

	"clientops-controlplane/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("minio.storage", fx.Provide(NewStorage))

// ErrNotConfigured is returned by every call when no endpoint is set.
var ErrNotConfigured = errors.New("object storage not configured")

// Storage issues short-lived upload URLs for client evidence files.
type Storage interface {
	PresignUpload(ctx context.Context, objectKey string) (*url.URL, time.Time, error)
}

type storage struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
	now    func() time.Time
}

type disabled struct{}

func (disabled) PresignUpload(context.Context, string) (*url.URL, time.Time, error) {
	return nil, time.Time{}, ErrNotConfigured
}

func NewStorage(c *config.Config) (Storage, error) {
	if c.Minio.Endpoint == "" {
		zap.L().Info("MinIO endpoint not set, evidence uploads disabled")
		return disabled{}, nil
	}

	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
	})
	if err != nil {
		zap.L().Error("failed to create MinIO client", zap.Error(err))
		return nil, err
	}

	exists, err := client.BucketExists(context.Background(), c.Minio.BucketName)
	if err != nil {
		zap.L().Error("failed to check if bucket exists", zap.String("bucket", c.Minio.BucketName), zap.Error(err))
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(context.Background(), c.Minio.BucketName, minio.MakeBucketOptions{}); err != nil {
			zap.L().Error("failed to create bucket", zap.String("bucket", c.Minio.BucketName), zap.Error(err))
			return nil, err
		}
	}
	zap.L().Info("MinIO client initialized", zap.String("endpoint", c.Minio.Endpoint), zap.String("bucket", c.Minio.BucketName))

	ttl := c.Minio.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &storage{client: client, bucket: c.Minio.BucketName, ttl: ttl, now: time.Now}, nil
}

func (s *storage) PresignUpload(ctx context.Context, objectKey string) (*url.URL, time.Time, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, objectKey, s.ttl)
	if err != nil {
		return nil, time.Time{}, err
	}
	return u, s.now().Add(s.ttl), nil
}
