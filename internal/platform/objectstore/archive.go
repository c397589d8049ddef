package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
)

// Archive keeps a copy of every deployed artifact binary in the artifacts
// bucket, keyed by execution, stage and artifact name.
type Archive struct {
	client *minio.Client
	bucket string
}

func NewArchive(client *minio.Client, bucket string) *Archive {
	if client == nil || strings.TrimSpace(bucket) == "" {
		return nil
	}
	return &Archive{client: client, bucket: bucket}
}

func (a *Archive) Put(ctx context.Context, key string, content []byte) error {
	if a == nil || a.client == nil {
		return fmt.Errorf("archive not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("object key is required")
	}
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}
