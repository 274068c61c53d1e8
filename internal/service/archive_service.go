package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// DayArchiver uploads one day's closed trades as a batch.
type DayArchiver interface {
	ArchiveDay(ctx context.Context, day time.Time, trades []domain.Trade) (int, error)
}

// DailyArchive batches each finished UTC day's closed trades into cold
// storage.
type DailyArchive struct {
	trades   domain.TradeStore
	archiver DayArchiver
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	last time.Time
}

// NewDailyArchive creates a DailyArchive that checks for a finished day
// every interval (default one hour).
func NewDailyArchive(trades domain.TradeStore, archiver DayArchiver, interval time.Duration, logger *slog.Logger) *DailyArchive {
	if interval <= 0 {
		interval = time.Hour
	}
	return &DailyArchive{
		trades:   trades,
		archiver: archiver,
		interval: interval,
		logger:   logger.With(slog.String("component", "daily-archive")),
		now:      time.Now,
	}
}

// Run archives yesterday on start and then every finished day until ctx
// is cancelled.
func (d *DailyArchive) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *DailyArchive) tick(ctx context.Context) {
	day := startOfDay(d.now()).AddDate(0, 0, -1)
	if !d.last.Before(day) {
		return
	}
	n, err := d.Archive(ctx, day)
	if err != nil {
		d.logger.WarnContext(ctx, "daily_archive: archive failed",
			slog.String("day", day.Format("2006-01-02")),
			slog.String("error", err.Error()),
		)
		return
	}
	d.last = day
	if n > 0 {
		d.logger.InfoContext(ctx, "daily_archive: archived trades",
			slog.String("day", day.Format("2006-01-02")),
			slog.Int("count", n),
		)
	}
}

// Archive uploads the trades closed during the UTC day containing day.
func (d *DailyArchive) Archive(ctx context.Context, day time.Time) (int, error) {
	from := startOfDay(day)
	until := from.Add(24*time.Hour - time.Nanosecond)
	trades, err := d.trades.ListClosed(ctx, domain.ListOpts{Since: &from, Until: &until})
	if err != nil {
		return 0, fmt.Errorf("daily_archive: list closed: %w", err)
	}
	return d.archiver.ArchiveDay(ctx, from, trades)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
