// Package objectstore implements C1, the Object Store Adapter: put/get/delete
// of opaque byte blobs keyed by forward-slash paths within three logical
// buckets (pdfs, pages, output), backed by MinIO per spec §6.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/castlemilk/pricelake/backend/internal/apperr"
)

const (
	BucketPDFs   = "pdfs"
	BucketPages  = "pages"
	BucketOutput = "output"
)

var allBuckets = []string{BucketPDFs, BucketPages, BucketOutput}

// Store is the thin put/get/delete/exists contract spec §4.1 describes.
// A caller never writes the same key concurrently except through ingest,
// which the Ingest Pipeline already serializes per-upload (spec §5), so no
// per-key locking is required here.
type Store struct {
	client *minio.Client
}

// New dials a MinIO endpoint and lazily creates the three logical buckets.
func New(ctx context.Context, endpoint, accessKey, secretKey string, secure bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	s := &Store{client: client}
	for _, bucket := range allBuckets {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}
	return s, nil
}

// Put uploads bytes to bucket/key, overwriting any existing object.
func (s *Store) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return apperr.Upstream(err, "put object %s/%s", bucket, key)
	}
	return nil
}

// Get fetches bucket/key. A missing object is fatal to the calling
// operation per spec §4.1: callers should not treat it as "try again".
func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, apperr.Upstream(err, "get object %s/%s", bucket, key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if errResp := minio.ToErrorResponse(err); errResp.Code == "NoSuchKey" {
			return nil, apperr.NotFound("object %s/%s", bucket, key)
		}
		return nil, apperr.Upstream(err, "read object %s/%s", bucket, key)
	}
	return data, nil
}

// Exists reports whether key is present in bucket.
func (s *Store) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if errResp := minio.ToErrorResponse(err); errResp.Code == "NoSuchKey" {
		return false, nil
	}
	return false, apperr.Upstream(err, "stat object %s/%s", bucket, key)
}

// DeletePrefix removes every object under bucket/prefix. Best-effort
// idempotent: a prefix with no objects is not an error.
func (s *Store) DeletePrefix(ctx context.Context, bucket, prefix string) error {
	objectsCh := s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})

	keysCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(keysCh)
		for obj := range objectsCh {
			if obj.Err != nil {
				continue
			}
			keysCh <- obj
		}
	}()

	for removeErr := range s.client.RemoveObjects(ctx, bucket, keysCh, minio.RemoveObjectsOptions{}) {
		if removeErr.Err != nil {
			return apperr.Upstream(removeErr.Err, "delete prefix %s/%s", bucket, prefix)
		}
	}
	return nil
}
