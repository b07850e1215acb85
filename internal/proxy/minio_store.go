package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore keeps artifacts as bucket objects, one object per GUID, with
// content type and format carried as object metadata. Retention beyond
// process lifetime is delegated to bucket lifecycle rules.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the object store and ensures the bucket exists.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to minio: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &MinioStore{client: client, bucket: bucket}, nil
}

func (s *MinioStore) Put(ctx context.Context, artifact Artifact) error {
	_, err := s.client.PutObject(ctx, s.bucket, artifact.GUID,
		bytes.NewReader(artifact.Data), int64(len(artifact.Data)),
		minio.PutObjectOptions{
			ContentType: artifact.ContentType,
			UserMetadata: map[string]string{
				"Format":     artifact.Format,
				"Created-At": artifact.CreatedAt.UTC().Format(time.RFC3339),
			},
		})
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, guid string) (Artifact, error) {
	object, err := s.client.GetObject(ctx, s.bucket, guid, minio.GetObjectOptions{})
	if err != nil {
		return Artifact{}, fmt.Errorf("lookup artifact: %w", err)
	}
	defer object.Close()

	stat, err := object.Stat()
	if err != nil {
		if isNoSuchKey(err) {
			return Artifact{}, ErrNotFound
		}
		return Artifact{}, fmt.Errorf("stat artifact: %w", err)
	}

	data, err := io.ReadAll(object)
	if err != nil {
		return Artifact{}, fmt.Errorf("read artifact: %w", err)
	}

	artifact := Artifact{
		GUID:        guid,
		Data:        data,
		ContentType: stat.ContentType,
		Format:      stat.UserMetadata["Format"],
	}
	if raw, ok := stat.UserMetadata["Created-At"]; ok {
		if createdAt, err := time.Parse(time.RFC3339, raw); err == nil {
			artifact.CreatedAt = createdAt
		}
	}
	return artifact, nil
}

func (s *MinioStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

func (s *MinioStore) Close() error { return nil }

func isNoSuchKey(err error) bool {
	var response minio.ErrorResponse
	if errors.As(err, &response) {
		return response.Code == "NoSuchKey"
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
