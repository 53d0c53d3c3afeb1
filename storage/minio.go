package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"airadio/config"
	"airadio/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	minioClient *minio.Client
	bucket      string
)

// InitMinio connects to the object store used for TTS audio/transcript
// artifacts and cached artwork bytes, creating the configured bucket if
// it does not already exist.
func InitMinio(cfg *config.Config) error {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return fmt.Errorf("create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		logger.Info("created object storage bucket", logger.String("bucket", cfg.MinioBucket))
	}

	minioClient = client
	bucket = cfg.MinioBucket
	logger.Info("object storage ready", logger.String("endpoint", cfg.MinioEndpoint), logger.String("bucket", bucket))
	return nil
}

// GetMinioClient exposes the raw client for callers that need operations
// this package doesn't wrap.
func GetMinioClient() *minio.Client {
	return minioClient
}

// Bucket returns the configured bucket name.
func Bucket() string {
	return bucket
}

// PutBytes uploads content under key, returning the object key stored so
// callers can persist it as an artifact reference (TTSArtifact.AudioPath,
// ArtworkCacheEntry.LocalPath, etc).
func PutBytes(ctx context.Context, key string, content []byte, contentType string) (string, error) {
	if minioClient == nil {
		return "", fmt.Errorf("object storage not initialized")
	}
	_, err := minioClient.PutObject(ctx, bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}

// GetBytes downloads the full contents of an object.
func GetBytes(ctx context.Context, key string) ([]byte, error) {
	if minioClient == nil {
		return nil, fmt.Errorf("object storage not initialized")
	}
	obj, err := minioClient.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

// StatSize reports the byte size of a stored object without a full read.
func StatSize(ctx context.Context, key string) (int64, error) {
	if minioClient == nil {
		return 0, fmt.Errorf("object storage not initialized")
	}
	info, err := minioClient.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("stat object %s: %w", key, err)
	}
	return info.Size, nil
}

// RemoveObject deletes a stored object, used when the artwork janitor
// evicts a cold entry.
func RemoveObject(ctx context.Context, key string) error {
	if minioClient == nil {
		return fmt.Errorf("object storage not initialized")
	}
	return minioClient.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
}
