package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// Archiver writes closed trades to object storage: one JSON object per
// trade as it closes, and one JSONL file per trading day.
type Archiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
}

var _ domain.TradeArchiver = (*Archiver)(nil)

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, audit: audit}
}

// TradePath is the object key of one archived trade.
func TradePath(t domain.Trade) string {
	at := t.EntryTime
	if t.CompletedAt != nil {
		at = *t.CompletedAt
	}
	return fmt.Sprintf("closed/%s/%s.json", at.UTC().Format("2006/01/02"), t.ID)
}

// DayPath is the object key of a day's JSONL batch.
func DayPath(day time.Time) string {
	return fmt.Sprintf("daily/%s.jsonl", day.UTC().Format("2006-01-02"))
}

// ArchiveTrade uploads t as a single JSON object. Only terminal trades are
// archived.
func (a *Archiver) ArchiveTrade(ctx context.Context, t domain.Trade) error {
	if !t.Status.Terminal() {
		return fmt.Errorf("s3blob: archive trade %s: status %s is not terminal", t.ID, t.Status)
	}
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("s3blob: archive trade %s marshal: %w", t.ID, err)
	}
	if err := a.writer.Put(ctx, TradePath(t), bytes.NewReader(body), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive trade %s: %w", t.ID, err)
	}
	return nil
}

// ArchiveDay uploads trades as JSONL under the day's key and records the
// upload in the audit log. Batches above the multipart threshold use the
// multipart uploader. It returns the number of trades written.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time, trades []domain.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive day marshal: %w", err)
	}

	path := DayPath(day)
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive day upload: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.trades", map[string]any{
			"path":  path,
			"count": len(trades),
			"day":   day.UTC().Format("2006-01-02"),
		}); err != nil {
			return len(trades), fmt.Errorf("s3blob: archive day audit log: %w", err)
		}
	}
	return len(trades), nil
}

// marshalJSONL encodes items one JSON object per line.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range items {
		if err := enc.Encode(items[i]); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
