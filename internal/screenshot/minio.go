package screenshot

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/visionward/sitewatch/internal/logger"
)

// MinioConfig configures the object-storage screenshot store
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore uploads screenshots to an S3-compatible bucket. The
// returned reference is the object URL.
type MinioStore struct {
	client *minio.Client
	bucket string
	useSSL bool
	logger *logger.Logger
}

// NewMinioStore connects to the endpoint and ensures the bucket exists
func NewMinioStore(cfg MinioConfig, log *logger.Logger) (*MinioStore, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio credentials not configured")
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "sitewatch-screenshots"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		exists, existsErr := client.BucketExists(ctx, bucket)
		if existsErr != nil || !exists {
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}

	return &MinioStore{
		client: client,
		bucket: bucket,
		useSSL: cfg.UseSSL,
		logger: log,
	}, nil
}

// Save uploads the image and returns its object URL
func (s *MinioStore) Save(ctx context.Context, cameraID string, category string, imageData []byte) (string, error) {
	key := fmt.Sprintf("%s/%s_%s.jpg", cameraID,
		time.Now().UTC().Format("20060102-150405.000"), category)

	_, err := s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(imageData), int64(len(imageData)),
		minio.PutObjectOptions{ContentType: "image/jpeg"},
	)
	if err != nil {
		return "", fmt.Errorf("failed to upload screenshot: %w", err)
	}

	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s/%s/%s", scheme, s.client.EndpointURL().Host, s.bucket, key)
	s.logger.Debug("Screenshot uploaded", "url", url, "bytes", len(imageData))
	return url, nil
}
