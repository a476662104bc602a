// Package filestore stores note attachment objects in S3-compatible storage.
package filestore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and creates the bucket if it does not
// exist yet.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
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

	return &Store{client: client, bucket: bucket}, nil
}

// Put uploads an attachment body under the given file id.
func (s *Store) Put(ctx context.Context, fileID string, body io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, fileID, body, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("put attachment %s: %w", fileID, err)
	}
	return nil
}

// Get streams an attachment body. The caller closes the reader.
func (s *Store) Get(ctx context.Context, fileID string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, fileID, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get attachment %s: %w", fileID, err)
	}
	return obj, nil
}

// Remove deletes an attachment object. Removing a missing object is not an
// error.
func (s *Store) Remove(ctx context.Context, fileID string) error {
	err := s.client.RemoveObject(ctx, s.bucket, fileID, minio.RemoveObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("remove attachment %s: %w", fileID, err)
	}
	return nil
}
