package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// alpacaData is the subset of *marketdata.Client the source uses.
type alpacaData interface {
	GetSnapshot(symbol string, req marketdata.GetSnapshotRequest) (*marketdata.Snapshot, error)
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaSource reads quotes and bars from the Alpaca market data API.
type AlpacaSource struct {
	client alpacaData
}

var _ Source = (*AlpacaSource)(nil)

// AlpacaOpts configures the market data client.
type AlpacaOpts struct {
	APIKey    string
	APISecret string
	BaseURL   string
}

// NewAlpacaSource builds a source backed by a new marketdata client.
func NewAlpacaSource(opts AlpacaOpts) *AlpacaSource {
	return &AlpacaSource{
		client: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
			BaseURL:   opts.BaseURL,
		}),
	}
}

// Name implements Source.
func (a *AlpacaSource) Name() string { return "alpaca" }

// Quote implements Source using the symbol snapshot so the daily range is
// available for quality checks.
func (a *AlpacaSource) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return domain.Quote{}, err
	}
	snap, err := a.client.GetSnapshot(symbol, marketdata.GetSnapshotRequest{})
	if err != nil {
		return domain.Quote{}, fmt.Errorf("alpaca: snapshot %s: %w", symbol, err)
	}
	if snap == nil || snap.LatestTrade == nil {
		return domain.Quote{}, fmt.Errorf("alpaca: snapshot %s: %w", symbol, domain.ErrNoData)
	}

	q := domain.Quote{
		Symbol: symbol,
		Last:   snap.LatestTrade.Price,
		Time:   snap.LatestTrade.Timestamp,
		Source: a.Name(),
	}
	if d := snap.DailyBar; d != nil {
		q.Open = d.Open
		q.High = d.High
		q.Low = d.Low
		q.Volume = float64(d.Volume)
	}
	if p := snap.PrevDailyBar; p != nil {
		q.PrevClose = p.Close
	}
	return q, nil
}

// Bars implements Source.
func (a *AlpacaSource) Bars(ctx context.Context, symbol string, from, to time.Time, interval domain.Interval) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tf, err := alpacaTimeFrame(interval)
	if err != nil {
		return nil, err
	}
	raw, err := a.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     from,
		End:       to,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca: bars %s: %w", symbol, err)
	}
	out := make([]domain.Bar, 0, len(raw))
	for _, b := range raw {
		out = append(out, domain.Bar{
			Time:   b.Timestamp,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		})
	}
	return out, nil
}

func alpacaTimeFrame(interval domain.Interval) (marketdata.TimeFrame, error) {
	switch interval {
	case domain.IntervalMinute:
		return marketdata.OneMin, nil
	case domain.IntervalHour:
		return marketdata.OneHour, nil
	case domain.IntervalDay, "":
		return marketdata.OneDay, nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("alpaca: unsupported interval %q", interval)
}
