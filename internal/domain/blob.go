package domain

import (
	"context"
	"io"
)

// Content types used for archive objects.
const (
	ContentTypeCSV   = "text/csv"
	ContentTypeJSONL = "application/x-ndjson"
)

// BlobWriter stores archive objects under a key in the configured bucket.
// PutMultipart is for payloads too large to buffer in one request.
type BlobWriter interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, key string, data io.Reader, partSize int64) error
}

// BlobLister lists object keys under a prefix.
type BlobLister interface {
	List(ctx context.Context, prefix string) ([]string, error)
}
