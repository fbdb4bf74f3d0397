package s3blob

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/kaelweather/weatherbot/internal/domain"
	"github.com/kaelweather/weatherbot/internal/store/memory"
)

// fakeBlob records uploads in a map, standing in for object storage.
type fakeBlob struct {
	objects map[string]string
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: make(map[string]string)}
}

func (b *fakeBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.objects[path] = string(raw)
	return nil
}

func (b *fakeBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return b.Put(ctx, path, data, "")
}

func (b *fakeBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (b *fakeBlob) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for path := range b.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, domain.BlobInfo{Path: path, Size: int64(len(b.objects[path]))})
		}
	}
	return out, nil
}

func (b *fakeBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := b.objects[path]
	return ok, nil
}

func TestArchiveAuditSuccessiveRunsKeepEarlierBatches(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	audit := memory.NewAuditStore()
	positions := memory.NewPositionStore()
	blob := newFakeBlob()
	arch := NewArchiver(blob, blob, audit, positions, logger)

	day1 := time.Date(2026, 7, 10, 9, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	if err := audit.Log(ctx, domain.AuditEntry{
		MarketID: "KXHIGHPHX-26JUL09-B105", Kind: domain.KindFilterReject,
		Reason: "volume-floor", CreatedAt: day1.Add(-time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	n, err := arch.ArchiveAudit(ctx, day1)
	if err != nil {
		t.Fatalf("first archive: %v", err)
	}
	if n != 1 {
		t.Fatalf("first archive rows = %d, want 1", n)
	}

	// Rows that arrived after the first cutoff get exported by the next
	// daily run. The first batch was pruned from the store, so its object
	// must survive the second upload.
	if err := audit.Log(ctx, domain.AuditEntry{
		MarketID: "KXHIGHSEA-26JUL10-B85", Kind: domain.KindRiskReject,
		Reason: "daily-trade-limit", CreatedAt: day2.Add(-time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	n, err = arch.ArchiveAudit(ctx, day2)
	if err != nil {
		t.Fatalf("second archive: %v", err)
	}
	if n != 1 {
		t.Fatalf("second archive rows = %d, want 1", n)
	}

	infos, err := blob.List(ctx, "archive/audit/2026-07/")
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("archived objects = %d, want 2 distinct keys", len(infos))
	}

	var combined strings.Builder
	for _, info := range infos {
		combined.WriteString(blob.objects[info.Path])
	}
	for _, want := range []string{"volume-floor", "daily-trade-limit"} {
		if !strings.Contains(combined.String(), want) {
			t.Errorf("archive lost entry %q", want)
		}
	}

	// Store is fully pruned; a third run has nothing to export.
	n, err = arch.ArchiveAudit(ctx, day2)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("third archive rows = %d, want 0", n)
	}
}

func TestArchiveAuditKeyIncludesCutoffTimestamp(t *testing.T) {
	cutoff := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	got := archiveAuditPath(cutoff)
	want := "archive/audit/2026-07/2026-07-30T120000Z.jsonl"
	if got != want {
		t.Fatalf("archiveAuditPath = %q, want %q", got, want)
	}
}

func TestArchivePositionsLeavesLedgerIntact(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	audit := memory.NewAuditStore()
	positions := memory.NewPositionStore()
	blob := newFakeBlob()
	arch := NewArchiver(blob, blob, audit, positions, logger)

	opened := time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)
	p := domain.Position{
		ID:             "pos-1",
		MarketID:       "KXHIGHDEN-26JUN01-B95",
		Location:       "denver",
		SettlementDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Side:           domain.SideYes,
		Contracts:      10,
		EntryCostCents: 450,
		Status:         domain.PositionOpen,
		Mode:           domain.ModePaper,
		OpenedAt:       opened,
	}
	if err := positions.Create(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := positions.Settle(ctx, p.ID, domain.PositionSettledWin, 550, opened.Add(24*time.Hour)); err != nil {
		t.Fatal(err)
	}

	n, err := arch.ArchivePositions(ctx, opened.AddDate(0, 1, 0))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("archived positions = %d, want 1", n)
	}
	if _, ok := blob.objects["archive/positions/2026-07.jsonl"]; !ok {
		t.Fatal("positions object missing")
	}

	// The ledger is never pruned: risk reconstruction reads it.
	remaining, err := positions.ListSettledBefore(ctx, opened.AddDate(0, 1, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 {
		t.Fatalf("ledger rows after archive = %d, want 1", len(remaining))
	}
}
