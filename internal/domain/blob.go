package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// TradeArchiver moves closed trades to cold storage.
type TradeArchiver interface {
	ArchiveTrade(ctx context.Context, t Trade) error
}
