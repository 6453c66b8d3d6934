package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"

	"github.com/referlut/referlut-api/internal/bankdata"
)

// GCSArchiver writes raw provider feeds to a Cloud Storage bucket before
// normalization, one object per fetch. The archive is an audit trail; the
// ingestion path treats archive failures as non-fatal.
type GCSArchiver struct {
	client *storage.Client
	bucket string
	log    zerolog.Logger
}

// NewGCSArchiver opens a storage client using Application Default
// Credentials.
func NewGCSArchiver(ctx context.Context, bucket string, log zerolog.Logger) (*GCSArchiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSArchiver{client: client, bucket: bucket, log: log}, nil
}

// ArchiveFeed uploads the feed as JSON under feeds/<account>/<timestamp>.json.
func (a *GCSArchiver) ArchiveFeed(ctx context.Context, accountID string, feed bankdata.TransactionFeed, fetchedAt time.Time) error {
	data, err := json.Marshal(feed)
	if err != nil {
		return fmt.Errorf("marshal feed for %s: %w", accountID, err)
	}

	objectName := ObjectName(accountID, fetchedAt)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := a.client.Bucket(a.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write feed object %s: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close feed object %s: %w", objectName, err)
	}

	a.log.Debug().
		Str("account_id", accountID).
		Str("object", objectName).
		Int("bytes", len(data)).
		Msg("Raw feed archived")
	return nil
}

// Close releases the underlying storage client.
func (a *GCSArchiver) Close() error {
	return a.client.Close()
}

// ObjectName is the bucket path for one account's feed fetched at the given
// time.
func ObjectName(accountID string, fetchedAt time.Time) string {
	return fmt.Sprintf("feeds/%s/%s.json", accountID, fetchedAt.UTC().Format("20060102T150405Z"))
}
