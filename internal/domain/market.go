package domain

import "time"

// Interval is a bar timeframe.
type Interval string

const (
	IntervalMinute Interval = "1m"
	IntervalHour   Interval = "1h"
	IntervalDay    Interval = "1d"
)

// Duration is the length of one bar, or zero for an unknown interval.
func (i Interval) Duration() time.Duration {
	switch i {
	case IntervalMinute:
		return time.Minute
	case IntervalHour:
		return time.Hour
	case IntervalDay:
		return 24 * time.Hour
	}
	return 0
}

// Bar is one OHLCV candle.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Valid reports whether the OHLC values are positive and consistent.
func (b Bar) Valid() bool {
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return false
	}
	if b.High < b.Low {
		return false
	}
	return b.Open >= b.Low && b.Open <= b.High && b.Close >= b.Low && b.Close <= b.High
}

// Quote is a last-traded price observation.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	Open      float64   `json:"open,omitempty"`
	High      float64   `json:"high,omitempty"`
	Low       float64   `json:"low,omitempty"`
	PrevClose float64   `json:"prev_close,omitempty"`
	Volume    float64   `json:"volume,omitempty"`
	Source    string    `json:"source"`
	Time      time.Time `json:"time"`
}
