package risk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeVol struct {
	profile domain.VolatilityProfile
	err     error
}

func (f fakeVol) Profile(context.Context, string) (domain.VolatilityProfile, error) {
	return f.profile, f.err
}

type fakePerf struct{ stats domain.PerformanceStats }

func (f fakePerf) Performance(context.Context) (domain.PerformanceStats, error) {
	return f.stats, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev domain.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) kinds() []domain.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.EventKind, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Kind
	}
	return out
}

func defaultConfig() Config {
	return Config{
		RiskPerTrade:       0.02,
		MaxPositionSize:    10000,
		MinPositionSize:    1000,
		MaxDailyLoss:       5000,
		MaxOpenPositions:   5,
		MaxDrawdownPct:     0.10,
		PortfolioHeatLimit: 0.15,
	}
}

func flatCapital(balance float64) domain.CapitalSnapshot {
	return domain.CapitalSnapshot{
		Balance:           balance,
		PeakBalance:       balance,
		DailyStartBalance: balance,
	}
}

func newTestGate(vol VolatilitySource, perf PerformanceSource) (*Gate, *recordingNotifier) {
	n := &recordingNotifier{}
	g := New(defaultConfig(), vol, perf, n, testLogger())
	return g, n
}

func reliance(confidence float64) domain.Signal {
	return domain.Signal{
		Symbol:       "RELIANCE",
		Direction:    domain.GapUp,
		EntryPrice:   2475,
		StopLoss:     2400,
		ProfitTarget: 2600,
		Confidence:   confidence,
	}
}

func hasAlert(alerts []domain.RiskAlert, typ domain.AlertType, sev domain.Severity) bool {
	for _, a := range alerts {
		if a.Type == typ && a.Severity == sev {
			return true
		}
	}
	return false
}

func TestValidate_CappedAtMaxPosition(t *testing.T) {
	g, _ := newTestGate(fakeVol{}, nil)

	ok, d, alerts := g.Validate(context.Background(), reliance(85), flatCapital(100000))
	require.True(t, ok)
	require.NotNil(t, d)
	assert.Empty(t, alerts)

	assert.InDelta(t, 66000, d.BaseSize, 1e-6)
	assert.InDelta(t, 66000, d.VolatilityAdjusted, 1e-6)
	assert.InDelta(t, 66000, d.PerformanceAdjusted, 1e-6)
	assert.InDelta(t, 10000, d.MaxAllowed, 1e-9)
	assert.InDelta(t, 10000, d.FinalSize, 1e-9)
	assert.InDelta(t, 10, d.SizePercent, 1e-9)
	assert.InDelta(t, 10000.0/2475*75, d.RiskAmount, 1e-9)
	assert.Equal(t, "Base: 66000, Limited by max size (-85%)", d.Rationale)
	assert.Equal(t, int64(4), int64(d.FinalSize/2475))
}

func TestValidate_LowConfidenceShrinks(t *testing.T) {
	g, _ := newTestGate(fakeVol{}, nil)

	ok, d, alerts := g.Validate(context.Background(), reliance(45), flatCapital(100000))
	require.True(t, ok)
	require.NotNil(t, d)
	assert.InDelta(t, 7000, d.FinalSize, 1e-9)
	assert.InDelta(t, 7, d.SizePercent, 1e-9)
	assert.Contains(t, d.Rationale, "(reduced for low confidence)")
	assert.True(t, hasAlert(alerts, domain.AlertPositionSize, domain.SeverityMedium))
}

func TestValidate_HaltedRejectsEverything(t *testing.T) {
	g, _ := newTestGate(fakeVol{}, nil)
	g.Halt(context.Background(), "manual")

	ok, d, alerts := g.Validate(context.Background(), reliance(99), flatCapital(1_000_000))
	assert.False(t, ok)
	assert.Nil(t, d)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertEmergencyStop, alerts[0].Type)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, "Trading halted: manual", alerts[0].Message)
}

func TestValidate_Deterministic(t *testing.T) {
	vol := fakeVol{profile: domain.VolatilityProfile{ATRPercent: 6, HasATR: true, Percentile: 10, HasPercentile: true, Regime: domain.RegimeTrending}}
	perf := fakePerf{stats: domain.PerformanceStats{Trades: 12, WinRate: 0.75, AvgReturn: 0.01, ConsecutiveLosses: 2}}
	capital := flatCapital(250000)
	sig := domain.Signal{Symbol: "TCS", Direction: domain.GapUp, EntryPrice: 3500, StopLoss: 3400, Confidence: 80}

	g, _ := newTestGate(vol, perf)
	_, first, _ := g.Validate(context.Background(), sig, capital)
	require.NotNil(t, first)
	for i := 0; i < 10; i++ {
		g2, _ := newTestGate(vol, perf)
		_, d, _ := g2.Validate(context.Background(), sig, capital)
		require.NotNil(t, d)
		assert.Equal(t, *first, *d)
	}
}

func TestValidate_BelowMinimumSize(t *testing.T) {
	g, _ := newTestGate(fakeVol{}, nil)
	// 5000 of capital caps the position at 500.
	ok, d, alerts := g.Validate(context.Background(), reliance(90), flatCapital(5000))
	assert.False(t, ok)
	require.NotNil(t, d)
	assert.InDelta(t, 500, d.FinalSize, 1e-9)
	assert.True(t, hasAlert(alerts, domain.AlertPositionSize, domain.SeverityHigh))
	assert.False(t, g.Halted())
}

func TestValidate_VolatilityErrorIsNeutral(t *testing.T) {
	g, _ := newTestGate(fakeVol{err: errors.New("no bars")}, nil)
	ok, d, _ := g.Validate(context.Background(), reliance(85), flatCapital(100000))
	require.True(t, ok)
	assert.InDelta(t, 66000, d.VolatilityAdjusted, 1e-6)
}

func TestValidate_CriticalBreachHalts(t *testing.T) {
	tests := []struct {
		name    string
		capital domain.CapitalSnapshot
		alert   domain.AlertType
	}{
		{
			name:    "daily loss",
			capital: domain.CapitalSnapshot{Balance: 96500, PeakBalance: 100000, DailyStartBalance: 100000},
			alert:   domain.AlertDailyLoss,
		},
		{
			name:    "drawdown",
			capital: domain.CapitalSnapshot{Balance: 90000, PeakBalance: 100000, DailyStartBalance: 90000},
			alert:   domain.AlertDrawdown,
		},
		{
			name:    "portfolio heat",
			capital: domain.CapitalSnapshot{Balance: 100000, PeakBalance: 100000, DailyStartBalance: 100000, OpenRisk: 15000},
			alert:   domain.AlertPortfolioHeat,
		},
		{
			name:    "open positions",
			capital: domain.CapitalSnapshot{Balance: 100000, PeakBalance: 100000, DailyStartBalance: 100000, OpenPositions: 5},
			alert:   domain.AlertPositionCount,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, n := newTestGate(fakeVol{}, nil)
			ok, d, alerts := g.Validate(context.Background(), reliance(90), tt.capital)
			assert.False(t, ok)
			assert.Nil(t, d)
			assert.True(t, hasAlert(alerts, tt.alert, domain.SeverityCritical))
			assert.True(t, g.Halted())
			assert.Contains(t, n.kinds(), domain.EventCircuitBreaker)

			// Stays halted for a healthy account until resumed.
			ok, _, _ = g.Validate(context.Background(), reliance(90), flatCapital(100000))
			assert.False(t, ok)
			g.Resume(context.Background(), "reviewed")
			ok, _, _ = g.Validate(context.Background(), reliance(90), flatCapital(100000))
			assert.True(t, ok)
		})
	}
}

func TestValidate_MonotonicDailyLoss(t *testing.T) {
	g, _ := newTestGate(fakeVol{}, nil)
	limits := defaultConfig().limits()

	prevRank := -1
	seenCritical := false
	for loss := 0.0; loss <= 6000; loss += 250 {
		capital := domain.CapitalSnapshot{Balance: 100000 - loss, PeakBalance: 100000, DailyStartBalance: 100000}
		snap := ComputeSnapshot(capital, nil, limits.PortfolioHeatLimit)

		rank := -1
		for _, a := range CheckBreakers(snap, limits) {
			if a.Type == domain.AlertDailyLoss {
				rank = a.Severity.Rank()
			}
		}
		assert.GreaterOrEqual(t, rank, prevRank, "loss %v", loss)
		prevRank = rank

		ok, _, _ := g.Validate(context.Background(), reliance(90), capital)
		if rank == domain.SeverityCritical.Rank() {
			seenCritical = true
		}
		if seenCritical {
			assert.False(t, ok, "loss %v", loss)
		}
	}
	assert.True(t, seenCritical)
}

func TestEmergency_FiresOnce(t *testing.T) {
	g, n := newTestGate(fakeVol{}, nil)
	var calls atomic.Int32
	done := make(chan struct{}, 4)
	g.SetEmergencyHandler(func(_ context.Context, reason string) {
		calls.Add(1)
		assert.Contains(t, reason, "drawdown")
		done <- struct{}{}
	})

	capital := domain.CapitalSnapshot{Balance: 87000, PeakBalance: 100000, DailyStartBalance: 87000}
	src := capitalFunc(func(context.Context) (domain.CapitalSnapshot, error) { return capital, nil })

	g.Reevaluate(context.Background(), src)
	g.Resume(context.Background(), "test")
	g.Reevaluate(context.Background(), src)
	ok, _, _ := g.Validate(context.Background(), reliance(90), capital)
	assert.False(t, ok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emergency handler not invoked")
	}
	g.WaitEmergency()
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, g.EmergencyStatus().Active)
	assert.False(t, g.TriggerEmergency(context.Background(), "again"))
	assert.Contains(t, n.kinds(), domain.EventEmergencyStop)
}

type capitalFunc func(context.Context) (domain.CapitalSnapshot, error)

func (f capitalFunc) CapitalSnapshot(ctx context.Context) (domain.CapitalSnapshot, error) {
	return f(ctx)
}

func TestReevaluate_CapitalErrorKeepsState(t *testing.T) {
	g, _ := newTestGate(fakeVol{}, nil)
	g.Reevaluate(context.Background(), capitalFunc(func(context.Context) (domain.CapitalSnapshot, error) {
		return domain.CapitalSnapshot{}, errors.New("broker down")
	}))
	assert.False(t, g.Halted())
	assert.Equal(t, domain.RiskSnapshot{}, g.Snapshot())
}

func TestGateRun_StopsOnCancel(t *testing.T) {
	cfg := defaultConfig()
	cfg.ReevaluateInterval = 5 * time.Millisecond
	g := New(cfg, nil, nil, nil, testLogger())

	var calls atomic.Int32
	src := capitalFunc(func(context.Context) (domain.CapitalSnapshot, error) {
		calls.Add(1)
		return flatCapital(100000), nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- g.Run(ctx, src) }()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, 100000.0, g.Snapshot().TotalCapital)
}

func TestDashboard_RecentAlerts(t *testing.T) {
	g, _ := newTestGate(fakeVol{}, nil)
	now := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	_, _, _ = g.Validate(context.Background(), reliance(45), flatCapital(100000))
	now = now.Add(2 * time.Hour)
	_, _, _ = g.Validate(context.Background(), reliance(45), domain.CapitalSnapshot{Balance: 97500, PeakBalance: 100000, DailyStartBalance: 100000})

	d := g.Dashboard()
	require.Len(t, d.RecentAlerts, 2)
	assert.True(t, hasAlert(d.RecentAlerts, domain.AlertDailyLoss, domain.SeverityHigh))
	assert.True(t, hasAlert(d.RecentAlerts, domain.AlertPositionSize, domain.SeverityMedium))
	assert.Equal(t, 97500.0, d.Snapshot.TotalCapital)
	assert.False(t, d.Breaker.Halted)
}

func TestMonitorPosition(t *testing.T) {
	spike := fakeVol{profile: domain.VolatilityProfile{Percentile: 97, HasPercentile: true}}
	tests := []struct {
		name    string
		vol     VolatilitySource
		dir     domain.GapDirection
		current float64
		want    []domain.AlertType
	}{
		{name: "long within range", vol: fakeVol{}, dir: domain.GapUp, current: 95},
		{name: "long adverse", vol: fakeVol{}, dir: domain.GapUp, current: 89, want: []domain.AlertType{domain.AlertAdverseMove}},
		{name: "short adverse", vol: fakeVol{}, dir: domain.GapDown, current: 112, want: []domain.AlertType{domain.AlertAdverseMove}},
		{name: "short favourable", vol: fakeVol{}, dir: domain.GapDown, current: 85},
		{name: "volatility spike", vol: spike, dir: domain.GapUp, current: 101, want: []domain.AlertType{domain.AlertVolatilitySpike}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGate(tt.vol, nil)
			trade := domain.Trade{Signal: domain.Signal{Symbol: "INFY", Direction: tt.dir}, FillPrice: 100, Quantity: 10}
			alerts := g.MonitorPosition(context.Background(), trade, tt.current)
			var got []domain.AlertType
			for _, a := range alerts {
				got = append(got, a.Type)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
