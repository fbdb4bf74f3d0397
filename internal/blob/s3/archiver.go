package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kaelweather/weatherbot/internal/domain"
)

// Narrow store interfaces required by the archiver. The archiver only needs
// the time-ranged query methods it actually calls, not the full domain store
// interfaces; the Postgres and memory stores satisfy these through extra
// methods beyond their domain contracts.

// AuditArchiveStore provides read and prune access to audit rows for
// archival.
type AuditArchiveStore interface {
	// ListBefore returns all audit entries created strictly before the
	// given cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PositionArchiveStore provides read access to settled positions for
// archival.
type PositionArchiveStore interface {
	// ListSettledBefore returns all positions settled strictly before the
	// given cutoff.
	ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Position, error)
}

// ArchiveImpl implements domain.Archiver by querying the stores for aged
// records, serializing them to JSONL, and uploading the result to object
// storage.
//
// Audit rows are pruned from the primary store only after the upload has
// been verified with a HeadObject round trip. The position ledger is
// exported but never pruned: it stays the source of truth for risk
// reconstruction.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	audit     AuditArchiveStore
	positions PositionArchiveStore
	logger    *slog.Logger
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	audit AuditArchiveStore,
	positions PositionArchiveStore,
	logger *slog.Logger,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		reader:    reader,
		audit:     audit,
		positions: positions,
		logger:    logger.With("component", "archiver"),
	}
}

// ArchiveAudit uploads all audit entries older than the cutoff, verifies
// the object exists, and then deletes the archived rows from the primary
// store. It returns the number of rows archived.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archiveAuditPath(before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit verify: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("s3blob: archive audit verify: object %s missing after upload", path)
	}

	deleted, err := a.audit.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit prune: %w", err)
	}

	a.logger.Info("archived audit entries",
		"path", path,
		"archived", len(entries),
		"pruned", deleted,
		"before", before.Format(time.RFC3339))
	return int64(len(entries)), nil
}

// ArchivePositions uploads all positions settled before the cutoff to
// archive/positions/YYYY-MM.jsonl. The ledger rows are left in place.
func (a *ArchiveImpl) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.positions.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(positions)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	path := archivePath("positions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	a.logger.Info("archived settled positions",
		"path", path,
		"archived", len(positions),
		"before", before.Format(time.RFC3339))
	return int64(len(positions)), nil
}

// archiveAuditPath keys each audit export by its cutoff timestamp, under a
// year-month partition. Audit rows are pruned from the database after
// upload, so the object is the only remaining copy; successive exports must
// never share a key or a later Put would overwrite earlier rows.
//
//	archive/audit/2026-07/2026-07-30T120000Z.jsonl
func archiveAuditPath(before time.Time) string {
	t := before.UTC()
	return fmt.Sprintf("archive/audit/%s/%s.jsonl",
		t.Format("2006-01"), t.Format("2006-01-02T150405Z"))
}

// archivePath builds the object key for a never-pruned export, partitioned
// by the year-month of the cutoff time. The database keeps these rows, so
// overwriting the monthly object with a fresh superset is safe.
//
//	archive/positions/2026-07.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
