package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// ChartSource reads the public Yahoo Finance chart endpoint. It is the
// backup source: no credentials, coarser data.
type ChartSource struct {
	baseURL    string
	httpClient *resty.Client
}

var _ Source = (*ChartSource)(nil)

// NewChartSource creates a chart source against baseURL.
func NewChartSource(baseURL string, timeout time.Duration) *ChartSource {
	return &ChartSource{
		baseURL: baseURL,
		httpClient: resty.New().
			SetTimeout(timeout).
			SetRetryCount(2).
			SetHeader("User-Agent", "gaptrader/1.0"),
	}
}

// Name implements Source.
func (c *ChartSource) Name() string { return "yahoo" }

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		RegularMarketPrice   float64 `json:"regularMarketPrice"`
		RegularMarketDayHigh float64 `json:"regularMarketDayHigh"`
		RegularMarketDayLow  float64 `json:"regularMarketDayLow"`
		RegularMarketVolume  float64 `json:"regularMarketVolume"`
		RegularMarketTime    int64   `json:"regularMarketTime"`
		ChartPreviousClose   float64 `json:"chartPreviousClose"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

func (c *ChartSource) fetch(ctx context.Context, symbol string, params url.Values) (chartResult, error) {
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), params.Encode())

	resp, err := c.httpClient.R().SetContext(ctx).Get(endpoint)
	if err != nil {
		return chartResult{}, fmt.Errorf("yahoo: request %s: %w", symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return chartResult{}, fmt.Errorf("yahoo: unexpected status code: %d", resp.StatusCode())
	}

	var out chartResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return chartResult{}, fmt.Errorf("yahoo: decode response: %w", err)
	}
	if out.Chart.Error != nil {
		return chartResult{}, fmt.Errorf("yahoo: %s: %s", out.Chart.Error.Code, out.Chart.Error.Description)
	}
	if len(out.Chart.Result) == 0 {
		return chartResult{}, fmt.Errorf("yahoo: %s: %w", symbol, domain.ErrNoData)
	}
	return out.Chart.Result[0], nil
}

// Quote implements Source.
func (c *ChartSource) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	params := url.Values{}
	params.Set("range", "1d")
	params.Set("interval", "1m")
	res, err := c.fetch(ctx, symbol, params)
	if err != nil {
		return domain.Quote{}, err
	}
	m := res.Meta
	q := domain.Quote{
		Symbol:    symbol,
		Last:      m.RegularMarketPrice,
		High:      m.RegularMarketDayHigh,
		Low:       m.RegularMarketDayLow,
		PrevClose: m.ChartPreviousClose,
		Volume:    m.RegularMarketVolume,
		Source:    c.Name(),
	}
	if m.RegularMarketTime > 0 {
		q.Time = time.Unix(m.RegularMarketTime, 0).UTC()
	}
	return q, nil
}

// Bars implements Source. Rows with missing values are skipped.
func (c *ChartSource) Bars(ctx context.Context, symbol string, from, to time.Time, interval domain.Interval) ([]domain.Bar, error) {
	iv, err := chartInterval(interval)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("period1", strconv.FormatInt(from.Unix(), 10))
	params.Set("period2", strconv.FormatInt(to.Unix(), 10))
	params.Set("interval", iv)
	res, err := c.fetch(ctx, symbol, params)
	if err != nil {
		return nil, err
	}
	if len(res.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo: bars %s: %w", symbol, domain.ErrNoData)
	}
	ind := res.Indicators.Quote[0]
	out := make([]domain.Bar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		o, okO := at(ind.Open, i)
		h, okH := at(ind.High, i)
		l, okL := at(ind.Low, i)
		cl, okC := at(ind.Close, i)
		if !okO || !okH || !okL || !okC {
			continue
		}
		v, _ := at(ind.Volume, i)
		out = append(out, domain.Bar{
			Time:   time.Unix(ts, 0).UTC(),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  cl,
			Volume: v,
		})
	}
	return out, nil
}

func at(vals []*float64, i int) (float64, bool) {
	if i >= len(vals) || vals[i] == nil {
		return 0, false
	}
	return *vals[i], true
}

func chartInterval(interval domain.Interval) (string, error) {
	switch interval {
	case domain.IntervalMinute:
		return "1m", nil
	case domain.IntervalHour:
		return "60m", nil
	case domain.IntervalDay, "":
		return "1d", nil
	}
	return "", fmt.Errorf("yahoo: unsupported interval %q", interval)
}
