// Package blobstore implements the abstract blob put/get/remove interface
// (§7) backed by MinIO, the object store original_source's
// brain/config/minio.py wires the Python system to.
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
)

// Store is the blob-store interface the dispatcher and nestedalter package
// depend on.
type Store interface {
	Put(ctx context.Context, bucket, object string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, object string) ([]byte, string, error)
	Remove(ctx context.Context, bucket, object string) error
}

// MinioStore is the production Store. Buckets are created lazily on first
// write, matching original_source's minio config module, which ensures each
// artifact-kind bucket exists at startup rather than failing writes to a
// missing one.
type MinioStore struct {
	client *minio.Client

	ensuredMu     chanGate
	ensuredBucket map[string]bool
}

// chanGate is a binary semaphore used instead of sync.Mutex so the zero
// value isn't usable; NewMinioStore always initializes it.
type chanGate chan struct{}

func (g chanGate) lock()   { g <- struct{}{} }
func (g chanGate) unlock() { <-g }

// NewMinioStore wraps an already-configured *minio.Client.
func NewMinioStore(client *minio.Client) *MinioStore {
	return &MinioStore{
		client:        client,
		ensuredMu:     make(chanGate, 1),
		ensuredBucket: make(map[string]bool),
	}
}

func (s *MinioStore) ensureBucket(ctx context.Context, bucket string) error {
	s.ensuredMu.lock()
	defer s.ensuredMu.unlock()

	if s.ensuredBucket[bucket] {
		return nil
	}

	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("blobstore: check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("blobstore: make bucket %s: %w", bucket, err)
		}
	}
	s.ensuredBucket[bucket] = true
	return nil
}

// Put stores data under bucket/object, creating bucket if needed. Put is
// idempotent per object name (§8): re-putting the same object overwrites it
// with identical content.
func (s *MinioStore) Put(ctx context.Context, bucket, object string, data []byte, contentType string) error {
	if err := s.ensureBucket(ctx, bucket); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, bucket, object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("blobstore: put %s/%s: %w", bucket, object, err)
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, bucket, object string) ([]byte, string, error) {
	obj, err := s.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("blobstore: get %s/%s: %w", bucket, object, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("blobstore: read %s/%s: %w", bucket, object, err)
	}

	info, err := obj.Stat()
	if err != nil {
		return nil, "", fmt.Errorf("blobstore: stat %s/%s: %w", bucket, object, err)
	}
	return data, info.ContentType, nil
}

func (s *MinioStore) Remove(ctx context.Context, bucket, object string) error {
	if err := s.client.RemoveObject(ctx, bucket, object, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("blobstore: remove %s/%s: %w", bucket, object, err)
	}
	return nil
}

var _ Store = (*MinioStore)(nil)
