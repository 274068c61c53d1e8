package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

type fakeAlpacaData struct {
	snap    *marketdata.Snapshot
	bars    []marketdata.Bar
	err     error
	lastReq marketdata.GetBarsRequest
}

func (f *fakeAlpacaData) GetSnapshot(string, marketdata.GetSnapshotRequest) (*marketdata.Snapshot, error) {
	return f.snap, f.err
}

func (f *fakeAlpacaData) GetBars(_ string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	f.lastReq = req
	return f.bars, f.err
}

func TestAlpacaSource_Quote(t *testing.T) {
	ts := time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)
	src := &AlpacaSource{client: &fakeAlpacaData{snap: &marketdata.Snapshot{
		LatestTrade:  &marketdata.Trade{Price: 187.2, Timestamp: ts},
		DailyBar:     &marketdata.Bar{Open: 185, High: 188, Low: 184, Close: 187, Volume: 5000},
		PrevDailyBar: &marketdata.Bar{Close: 180},
	}}}

	q, err := src.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 187.2, q.Last)
	assert.Equal(t, 188.0, q.High)
	assert.Equal(t, 184.0, q.Low)
	assert.Equal(t, 180.0, q.PrevClose)
	assert.Equal(t, 5000.0, q.Volume)
	assert.Equal(t, ts, q.Time)
}

func TestAlpacaSource_QuoteMissingTrade(t *testing.T) {
	src := &AlpacaSource{client: &fakeAlpacaData{snap: &marketdata.Snapshot{}}}
	_, err := src.Quote(context.Background(), "AAPL")
	assert.ErrorIs(t, err, domain.ErrNoData)

	src = &AlpacaSource{client: &fakeAlpacaData{err: errors.New("403")}}
	_, err = src.Quote(context.Background(), "AAPL")
	assert.Error(t, err)
}

func TestAlpacaSource_Bars(t *testing.T) {
	fake := &fakeAlpacaData{bars: []marketdata.Bar{
		{Timestamp: time.Unix(1, 0), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
	}}
	src := &AlpacaSource{client: fake}
	from := time.Unix(0, 0)
	to := time.Unix(100, 0)

	bars, err := src.Bars(context.Background(), "AAPL", from, to, domain.IntervalDay)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 1.5, bars[0].Close)
	assert.Equal(t, 10.0, bars[0].Volume)
	assert.Equal(t, marketdata.OneDay, fake.lastReq.TimeFrame)
	assert.Equal(t, from, fake.lastReq.Start)

	_, err = src.Bars(context.Background(), "AAPL", from, to, "7d")
	assert.Error(t, err)
}
