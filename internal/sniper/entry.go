package sniper

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/0xmuggle/cc-ax-bot/internal/strategy"
	"github.com/0xmuggle/cc-ax-bot/internal/surge"
)

// ---------------------------------------------------------------------------
// Entry guards: floor, deviation from the estimated entry, retracement from peak
// ---------------------------------------------------------------------------

// EntryConfig configures the entry sanity guards.
type EntryConfig struct {
	FloorUSD     float64 `yaml:"floor_usd"`      // reject below this market cap
	MaxDeviation float64 `yaml:"max_deviation"`  // reject when current > estimate * this
	MaxPeakRatio float64 `yaml:"max_peak_ratio"` // reject when peak / current > this
	TargetMargin float64 `yaml:"target_margin"`  // take-profit hint = estimate * this
}

// DefaultEntryConfig returns the guard thresholds used by the dashboard.
func DefaultEntryConfig() EntryConfig {
	return EntryConfig{
		FloorUSD:     12_000,
		MaxDeviation: 1.32,
		MaxPeakRatio: 1.81,
		TargetMargin: 1.15,
	}
}

// GuardReason tags the guard that rejected an entry.
type GuardReason string

const (
	GuardNone      GuardReason = ""
	GuardFloor     GuardReason = "floor"
	GuardDeviation GuardReason = "deviation"
	GuardPeak      GuardReason = "peak"
)

// EntryDecision is the outcome of an entry attempt.
type EntryDecision struct {
	Accepted                   bool
	Reason                     GuardReason
	Description                string
	CurrentMarketCapUSD        float64
	EstimatedEntryMarketCapUSD float64
	PeakMarketCapUSD           float64
	TargetPriceK               decimal.Decimal // take-profit hint in thousands of USD
}

// EntryGuard runs the entry guards in order; the first failing guard wins.
type EntryGuard struct {
	config EntryConfig
}

// NewEntryGuard creates an entry guard.
func NewEntryGuard(config EntryConfig) *EntryGuard {
	return &EntryGuard{config: config}
}

// Config returns the guard thresholds.
func (g *EntryGuard) Config() EntryConfig { return g.config }

// Attempt decides whether tok may be bought for strat. A non-positive
// estimateUSD falls back to the current market cap.
func (g *EntryGuard) Attempt(tok *surge.Token, strat strategy.Strategy, solPriceUSD, estimateUSD float64) EntryDecision {
	cur := tok.CurrentMarketCapUSD(solPriceUSD)
	if estimateUSD <= 0 {
		estimateUSD = cur
	}
	peak := tok.MarketCapUSD(tok.MaxPrice, solPriceUSD)

	d := EntryDecision{
		CurrentMarketCapUSD:        cur,
		EstimatedEntryMarketCapUSD: estimateUSD,
		PeakMarketCapUSD:           peak,
	}

	switch {
	case cur < g.config.FloorUSD:
		d.Reason = GuardFloor
		d.Description = fmt.Sprintf("strategy [%s] matched, not bought: market cap %s below floor %s",
			strat.Name, FormatK(cur), FormatK(g.config.FloorUSD))
	case estimateUSD*g.config.MaxDeviation < cur:
		d.Reason = GuardDeviation
		d.Description = fmt.Sprintf("strategy [%s] matched, not bought: market cap %s above estimate limit %s",
			strat.Name, FormatK(cur), FormatK(estimateUSD*g.config.MaxDeviation))
	case cur > 0 && peak/cur > g.config.MaxPeakRatio:
		d.Reason = GuardPeak
		d.Description = fmt.Sprintf("strategy [%s] matched, not bought: peak %s is %sx above market cap %s",
			strat.Name, FormatK(peak), decimal.NewFromFloat(peak/cur).StringFixed(2), FormatK(cur))
	default:
		d.Accepted = true
		d.TargetPriceK = decimal.NewFromFloat(estimateUSD).
			Mul(decimal.NewFromFloat(g.config.TargetMargin)).
			Div(decimal.NewFromInt(1000)).
			Round(2)
		d.Description = fmt.Sprintf("strategy [%s] matched, bought %s %s SOL",
			strat.Name, tok.Current.TokenTicker, decimal.NewFromFloat(strat.Amount).String())
	}
	return d
}

// FormatK renders a USD amount in thousands with two decimals, e.g. "15.00K".
func FormatK(usd float64) string {
	return decimal.NewFromFloat(usd).Div(decimal.NewFromInt(1000)).StringFixed(2) + "K"
}
