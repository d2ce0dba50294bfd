package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/taugalabs/villageproposals/config"
	"github.com/taugalabs/villageproposals/model"
)

// ObjectStore is the object-storage collaborator: upload bytes, hand out
// time-limited access URLs.
type ObjectStore interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	SignedURL(ctx context.Context, objectName string, ttl time.Duration) (string, error)
}

// StorageService stores submission artifacts in a MinIO bucket.
type StorageService struct {
	client *minio.Client
	bucket string
}

func NewStorageService(cfg *config.MinioConfig) (*StorageService, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &StorageService{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *StorageService) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// Upload stores an artifact under the given object name.
func (s *StorageService) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload artifact: %w", err)
	}

	return nil
}

// SignedURL generates a presigned GET URL valid for ttl.
func (s *StorageService) SignedURL(ctx context.Context, objectName string, ttl time.Duration) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}

	return url.String(), nil
}

// URLTTLFor resolves the configured access-URL lifetime for a category.
// Approval documents stay reachable for days so the reviewing authority
// can work through a backlog; invoice artifacts only need to outlive the
// grading pass.
func URLTTLFor(cfg *config.MinioConfig, category string) time.Duration {
	switch category {
	case model.CategoryCommitteeApproval, model.CategoryChargeNotice:
		return time.Duration(cfg.ApprovalURLExpireDays) * 24 * time.Hour
	default:
		return time.Duration(cfg.ArtifactURLExpireHours) * time.Hour
	}
}

// ObjectName builds the storage path for an artifact:
// {projectID}/{category}_{ordinal}_{timestamp}.{ext}. The nanosecond
// timestamp keeps concurrent uploads unique without coordination; ordinal
// is dropped for project-level artifacts (pass a negative value).
func ObjectName(projectID, category, fileName string, ordinal int) string {
	ext := strings.TrimPrefix(filepath.Ext(fileName), ".")
	if ext == "" {
		ext = "pdf"
	}
	ts := time.Now().UnixNano()
	if ordinal < 0 {
		return fmt.Sprintf("%s/%s_%d.%s", projectID, category, ts, ext)
	}
	return fmt.Sprintf("%s/%s_%d_%d.%s", projectID, category, ordinal, ts, ext)
}
