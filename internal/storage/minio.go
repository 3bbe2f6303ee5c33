package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinIOStore implements ArtifactStore on an S3-compatible bucket.
type MinIOStore struct {
	client  *minio.Client
	bucket  string
	maxSize int64
	logger  *zap.Logger
}

// NewMinIOStore connects to the endpoint and creates the bucket if it does not exist.
func NewMinIOStore(ctx context.Context, cfg Config, logger *zap.Logger) (*MinIOStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	s := &MinIOStore{
		client:  client,
		bucket:  cfg.Bucket,
		maxSize: cfg.MaxObjectSize,
		logger:  logger.With(zap.String("system", "storage"), zap.String("driver", DriverMinIO), zap.String("bucket", cfg.Bucket)),
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, classifyMinIOError(err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		s.logger.Info("created artifact bucket")
	}

	return s, nil
}

// Get downloads the object, refusing anything larger than the configured maximum.
func (s *MinIOStore) Get(ctx context.Context, ref string) ([]byte, error) {
	key, err := validateKey(ref)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyMinIOError(err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, classifyMinIOError(err)
	}
	if s.maxSize > 0 && info.Size > s.maxSize {
		return nil, ErrTooLarge
	}

	var r io.Reader = obj
	if s.maxSize > 0 {
		r = io.LimitReader(obj, s.maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, classifyMinIOError(err)
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return nil, ErrTooLarge
	}
	return data, nil
}

// Put uploads data with its content type.
func (s *MinIOStore) Put(ctx context.Context, ref string, data []byte, mediaType string) error {
	key, err := validateKey(ref)
	if err != nil {
		return err
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return ErrTooLarge
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mediaType,
	})
	if err != nil {
		return classifyMinIOError(err)
	}

	s.logger.Debug("artifact stored", zap.String("ref", key), zap.Int("size_bytes", len(data)))
	return nil
}

// Delete removes the object. S3 deletes are already idempotent.
func (s *MinIOStore) Delete(ctx context.Context, ref string) error {
	key, err := validateKey(ref)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return classifyMinIOError(err)
	}
	return nil
}

// classifyMinIOError maps an S3 error response onto the storage sentinels.
func classifyMinIOError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.Code == "AccessDenied" || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: access denied: %s", ErrUnavailable, resp.Message)
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
