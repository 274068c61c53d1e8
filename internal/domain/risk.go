package domain

import "time"

// Severity grades a risk alert.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities from LOW (0) to CRITICAL (3).
func (s Severity) Rank() int {
	switch s {
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

// AlertType classifies a risk alert.
type AlertType string

const (
	AlertPositionSize    AlertType = "POSITION_SIZE_LIMIT"
	AlertDailyLoss       AlertType = "DAILY_LOSS_LIMIT"
	AlertDrawdown        AlertType = "DRAWDOWN_LIMIT"
	AlertPortfolioHeat   AlertType = "PORTFOLIO_HEAT_LIMIT"
	AlertPositionCount   AlertType = "POSITION_COUNT_LIMIT"
	AlertVolatilitySpike AlertType = "VOLATILITY_SPIKE"
	AlertAdverseMove     AlertType = "ADVERSE_MOVE"
	AlertEmergencyStop   AlertType = "EMERGENCY_STOP"
)

// RiskAlert is a single risk finding.
type RiskAlert struct {
	Type            AlertType `json:"type"`
	Severity        Severity  `json:"severity"`
	Symbol          string    `json:"symbol,omitempty"`
	Message         string    `json:"message"`
	Current         float64   `json:"current"`
	Limit           float64   `json:"limit"`
	RequiresAction  bool      `json:"requires_action"`
	SuggestedAction string    `json:"suggested_action,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// PositionSizeDecision is the immutable sizing result for one trade.
type PositionSizeDecision struct {
	Symbol              string  `json:"symbol"`
	BaseSize            float64 `json:"base_size"`
	VolatilityAdjusted  float64 `json:"volatility_adjusted"`
	PerformanceAdjusted float64 `json:"performance_adjusted"`
	MaxAllowed          float64 `json:"max_allowed"`
	FinalSize           float64 `json:"final_size"`
	SizePercent         float64 `json:"size_percent"`
	RiskAmount          float64 `json:"risk_amount"`
	Rationale           string  `json:"rationale"`
}

// MarketRegime classifies recent price behaviour.
type MarketRegime string

const (
	RegimeUnknown  MarketRegime = ""
	RegimeTrending MarketRegime = "TRENDING"
	RegimeChoppy   MarketRegime = "CHOPPY"
	RegimeVolatile MarketRegime = "VOLATILE"
	RegimeCalm     MarketRegime = "CALM"
)

// VolatilityProfile carries the inputs to the volatility size adjustment.
// A missing input contributes a factor of 1.
type VolatilityProfile struct {
	ATRPercent    float64      `json:"atr_percent"`
	HasATR        bool         `json:"has_atr"`
	Percentile    float64      `json:"percentile"`
	HasPercentile bool         `json:"has_percentile"`
	Regime        MarketRegime `json:"regime"`
}

// PerformanceStats summarises trailing closed trades.
type PerformanceStats struct {
	Trades            int     `json:"trades"`
	WinRate           float64 `json:"win_rate"`
	AvgReturn         float64 `json:"avg_return"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
}

// CapitalSnapshot is the account state handed to the risk gate.
type CapitalSnapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	Balance           float64   `json:"balance"`
	PeakBalance       float64   `json:"peak_balance"`
	DailyStartBalance float64   `json:"daily_start_balance"`
	PortfolioValue    float64   `json:"portfolio_value"`
	OpenPositions     int       `json:"open_positions"`
	// OpenRisk is the aggregate loss to the protective stops of all open
	// positions, in account currency.
	OpenRisk float64 `json:"open_risk"`
}

// RiskSnapshot is recomputed wholesale from a CapitalSnapshot.
type RiskSnapshot struct {
	Timestamp            time.Time    `json:"timestamp"`
	TotalCapital         float64      `json:"total_capital"`
	AvailableCapital     float64      `json:"available_capital"`
	PortfolioValue       float64      `json:"portfolio_value"`
	DailyPnL             float64      `json:"daily_pnl"`
	DailyPnLPercent      float64      `json:"daily_pnl_percent"`
	CurrentDrawdown      float64      `json:"current_drawdown"`
	PortfolioHeat        float64      `json:"portfolio_heat"`
	OpenPositions        int          `json:"open_positions"`
	RiskUtilization      float64      `json:"risk_utilization"`
	VolatilityPercentile float64      `json:"volatility_percentile"`
	Regime               MarketRegime `json:"regime"`
	RiskLevel            Severity     `json:"risk_level"`
}

// CircuitBreakerState is the process-wide trading halt.
type CircuitBreakerState struct {
	Halted   bool      `json:"halted"`
	Reason   string    `json:"reason,omitempty"`
	HaltedAt time.Time `json:"halted_at,omitempty"`
}
