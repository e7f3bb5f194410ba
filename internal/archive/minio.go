// Package archive writes a final copy of a document and its full version
// history to object storage before the database rows are destroyed.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"lexora/api/internal/store"
)

type MinioArchive struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// envelope is the archived object layout.
type envelope struct {
	ArchivedAt time.Time               `json:"archivedAt"`
	Document   store.Document          `json:"document"`
	Versions   []store.VersionSnapshot `json:"versions"`
}

func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool, logger *zap.Logger) (*MinioArchive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &MinioArchive{client: client, bucket: bucket, logger: logger}, nil
}

// ArchiveDocument stores the document's final state. Object keys include
// the timestamp so repeated create/delete cycles of the same id never
// overwrite an earlier archive.
func (a *MinioArchive) ArchiveDocument(ctx context.Context, doc store.Document, history []store.VersionSnapshot) error {
	data, err := json.Marshal(envelope{
		ArchivedAt: time.Now().UTC(),
		Document:   doc,
		Versions:   history,
	})
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}

	key := fmt.Sprintf("documents/%d/%s.json", doc.ID, time.Now().UTC().Format("20060102T150405Z"))
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put archive object: %w", err)
	}

	a.logger.Info("archived document",
		zap.Int64("document_id", doc.ID),
		zap.Int("versions", len(history)),
		zap.String("key", key),
	)
	return nil
}
