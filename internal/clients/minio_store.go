package clients

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

// MinioStore is an S3 compatible object store for invoice artifacts.
type MinioStore struct {
	client    *minio.Client
	urlExpiry time.Duration
	logger    logger.Logger
}

// NewMinioStore connects to endpoint with static credentials.
func NewMinioStore(endpoint, accessKey, secretKey string, useSSL bool, urlExpiry time.Duration, logger logger.Logger) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})

	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	return &MinioStore{
		client:    client,
		urlExpiry: urlExpiry,
		logger:    logger,
	}, nil
}

// EnsureBucket creates bucket when it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)

	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}

	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}

	s.logger.Info("Created object store bucket", "bucket", bucket)
	return nil
}

// Put uploads data under bucket/key.
func (s *MinioStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})

	if err != nil {
		return fmt.Errorf("failed to upload %s/%s: %w", bucket, key, err)
	}

	return nil
}

// URL returns a presigned GET url for bucket/key.
func (s *MinioStore) URL(ctx context.Context, bucket, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, bucket, key, s.urlExpiry, url.Values{})

	if err != nil {
		return "", fmt.Errorf("failed to sign url for %s/%s: %w", bucket, key, err)
	}

	return u.String(), nil
}
