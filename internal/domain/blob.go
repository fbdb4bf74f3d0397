package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one archived object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads archive objects.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves archive objects.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves aged records from the database to cold storage. Audit rows
// are pruned after a verified upload; the position ledger is exported but
// never deleted because risk reconstruction reads it.
type Archiver interface {
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
	ArchivePositions(ctx context.Context, before time.Time) (int64, error)
}
