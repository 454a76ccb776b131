package storage

import (
	"context"
	"errors"
	"fmt"
)

// Store errors
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrBucketNotFound = errors.New("bucket not found")
)

// Object is a stored blob together with its content type.
type Object struct {
	Data        []byte
	ContentType string
}

// Store is bucket-scoped blob storage.
type Store interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket string) error
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) (Object, error)
}

// EnsureBucket creates bucket if it does not exist yet. Losing a creation race
// to another process counts as success.
func EnsureBucket(ctx context.Context, s Store, bucket string) error {
	found, err := s.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", bucket, err)
	}
	if found {
		return nil
	}
	if err := s.CreateBucket(ctx, bucket); err != nil {
		return fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	return nil
}

// EnsureBuckets calls EnsureBucket for every name in order.
func EnsureBuckets(ctx context.Context, s Store, buckets ...string) error {
	for _, b := range buckets {
		if err := EnsureBucket(ctx, s, b); err != nil {
			return err
		}
	}
	return nil
}
