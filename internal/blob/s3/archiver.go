package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// DecisionSource lists decisions for archival.
type DecisionSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Decision, error)
}

// TradeSource lists orders for archival.
type TradeSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Order, error)
}

// ArchiveImpl implements domain.Archiver: it reads journal rows older than a
// cutoff, encodes them as JSONL and uploads one object per kind and month.
// Rows are never deleted from the primary store here.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	decisions DecisionSource
	trades    TradeSource
	logger    *slog.Logger
}

// NewArchiver creates an ArchiveImpl. reader may be nil, in which case
// existing archive objects are overwritten.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	decisions DecisionSource,
	trades TradeSource,
	logger *slog.Logger,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		reader:    reader,
		decisions: decisions,
		trades:    trades,
		logger:    logger.With(slog.String("component", "s3_archiver")),
	}
}

// ArchiveDecisions uploads decisions taken before the cutoff to
// archive/decisions/YYYY-MM.jsonl and returns how many were written.
func (a *ArchiveImpl) ArchiveDecisions(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.decisions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive decisions query: %w", err)
	}
	return archive(ctx, a, "decisions", before, rows)
}

// ArchiveTrades uploads orders created before the cutoff to
// archive/trades/YYYY-MM.jsonl and returns how many were written.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	return archive(ctx, a, "trades", before, rows)
}

func archive[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, rows []T) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	path := archivePath(kind, before)
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}
		if exists {
			a.logger.InfoContext(ctx, "archive object already present, skipping",
				slog.String("path", path))
			return 0, nil
		}
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(rows))
	a.logger.InfoContext(ctx, "archive uploaded",
		slog.String("kind", kind),
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Time("before", before),
	)
	return count, nil
}

// archivePath partitions archives by the cutoff's month:
//
//	archive/decisions/2025-03.jsonl
//	archive/trades/2025-03.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL encodes records as newline-delimited JSON.
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

var _ domain.Archiver = (*ArchiveImpl)(nil)
