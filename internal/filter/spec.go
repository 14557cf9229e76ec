package filter

import (
	"time"

	"github.com/0xmuggle/cc-ax-bot/internal/surge"
)

const (
	// DefaultMinAge and DefaultMaxAge bound the age at which a strategy may act.
	DefaultMinAge = 2 * time.Minute
	DefaultMaxAge = 15 * time.Minute
)

// Range is an optional closed interval. A nil bound is unconstrained.
type Range struct {
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// Between returns the range [min, max].
func Between(min, max float64) Range { return Range{Min: &min, Max: &max} }

// AtLeast returns the range [min, +inf).
func AtLeast(min float64) Range { return Range{Min: &min} }

// AtMost returns the range (-inf, max].
func AtMost(max float64) Range { return Range{Max: &max} }

// Set reports whether either bound is configured.
func (r Range) Set() bool { return r.Min != nil || r.Max != nil }

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// TimeWindow is a half-open clock-time interval [From, To) in minutes since
// midnight. A window whose From is after To wraps past midnight.
type TimeWindow struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Contains reports whether the clock time of t falls in the window.
func (w TimeWindow) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	if w.From <= w.To {
		return m >= w.From && m < w.To
	}
	return m >= w.From || m < w.To
}

// Spec is a typed filter. Every field is optional; the zero Spec matches any
// token whose age is inside the default timing window.
type Spec struct {
	// Timing window applied when matching strategies. Zero uses the defaults.
	MinAge time.Duration `json:"min_age,omitempty"`
	MaxAge time.Duration `json:"max_age,omitempty"`

	Ticker      string `json:"ticker,omitempty"`
	TickerExact bool   `json:"ticker_exact,omitempty"`

	// Market caps are in USD.
	MarketCap           Range                      `json:"market_cap,omitempty"`
	CheckpointMarketCap map[surge.Checkpoint]Range `json:"checkpoint_market_cap,omitempty"`

	Top10Max   *float64 `json:"top10_max,omitempty"`
	DevHoldMax *float64 `json:"dev_hold_max,omitempty"`

	// PriceChangeMin is the minimum maxSurgedPrice/surgedPrice multiple.
	PriceChangeMin *float64 `json:"price_change_min,omitempty"`

	VolumeK  Range `json:"volume_k,omitempty"` // thousands of USD
	TxCount  Range `json:"tx_count,omitempty"`
	Bundlers Range `json:"bundlers,omitempty"`

	Platforms []string `json:"platforms,omitempty"`
	Socials   []string `json:"socials,omitempty"`

	// HighMultiple only drives highlighting in the read model.
	HighMultiple *float64 `json:"high_multiple,omitempty"`

	// MinSignals requires at least MinSignals-1 earlier sightings.
	MinSignals int `json:"min_signals,omitempty"`

	TimeOfDay  []TimeWindow `json:"time_of_day,omitempty"`
	OnlyRising bool         `json:"only_rising,omitempty"`
}

// WithDefaultTiming fills an unset timing window.
func (s Spec) WithDefaultTiming(minAge, maxAge time.Duration) Spec {
	if s.MinAge == 0 {
		s.MinAge = minAge
	}
	if s.MaxAge == 0 {
		s.MaxAge = maxAge
	}
	return s
}

func (s Spec) ageWindow() (time.Duration, time.Duration) {
	minAge, maxAge := s.MinAge, s.MaxAge
	if minAge == 0 {
		minAge = DefaultMinAge
	}
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	return minAge, maxAge
}

// DefaultMainSpec is the dashboard's initial main filter.
func DefaultMainSpec() Spec {
	top10, dev, bundlers, high := 45.0, 10.0, 45.0, 3.0
	return Spec{
		Platforms:    []string{"pump"},
		Top10Max:     &top10,
		DevHoldMax:   &dev,
		Bundlers:     Range{Max: &bundlers},
		HighMultiple: &high,
	}
}
