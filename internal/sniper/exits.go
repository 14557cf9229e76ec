package sniper

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0xmuggle/cc-ax-bot/internal/surge"
)

// ---------------------------------------------------------------------------
// Exit logic: manual, stop loss, timeout, drawdown from peak, take profit
// ---------------------------------------------------------------------------

// ExitConfig configures the exit engine.
type ExitConfig struct {
	StopLossGain   float64 `yaml:"stop_loss_gain"`   // sell when price/buy < this
	TimeoutMinutes int     `yaml:"timeout_minutes"`  // sell when held longer
	LetRunGain     float64 `yaml:"let_run_gain"`     // timeout is skipped at or above this gain
	TakeProfitGain float64 `yaml:"take_profit_gain"` // sell when price/buy > this

	DrawdownEnabled bool                 `yaml:"drawdown_enabled"`
	Retracement     []RetracementSegment `yaml:"retracement"`
	MinRetracement  float64              `yaml:"min_retracement"`
}

// DefaultExitConfig returns the dashboard's exit thresholds.
func DefaultExitConfig() ExitConfig {
	return ExitConfig{
		StopLossGain:    0.7,
		TimeoutMinutes:  30,
		LetRunGain:      3,
		TakeProfitGain:  1.4,
		DrawdownEnabled: true,
		Retracement:     DefaultRetracement(),
		MinRetracement:  0.2,
	}
}

// ExitReason tags why a position was closed.
type ExitReason string

const (
	ExitManual     ExitReason = "manual"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTimeout    ExitReason = "timeout"
	ExitDrawdown   ExitReason = "drawdown"
	ExitTakeProfit ExitReason = "take_profit"
)

// ExitDecision represents what the exit engine wants to do.
type ExitDecision struct {
	ShouldSell        bool
	Reason            ExitReason
	Description       string
	Gain              float64 // current price / buy price
	HoldFor           time.Duration
	EntryMarketCapUSD float64
	ExitMarketCapUSD  float64
	PeakMarketCapUSD  float64 // highest market cap since entry
	SellPriceK        float64 // drawdown threshold in thousands of USD
}

// ExitEngine evaluates exit conditions for an open position.
type ExitEngine struct {
	config ExitConfig
}

// NewExitEngine creates a new exit engine.
func NewExitEngine(config ExitConfig) *ExitEngine {
	if len(config.Retracement) == 0 {
		config.Retracement = DefaultRetracement()
	}
	return &ExitEngine{config: config}
}

// Config returns the exit thresholds.
func (ee *ExitEngine) Config() ExitConfig { return ee.config }

// Evaluate checks the exit conditions in priority order and returns the first
// that holds. The caller must have folded the latest price into
// AfterBuyMaxPrice. Closed tokens never sell.
func (ee *ExitEngine) Evaluate(tok *surge.Token, solPriceUSD float64, now time.Time, manual bool) ExitDecision {
	if !tok.Open() {
		return ExitDecision{}
	}

	d := ExitDecision{
		HoldFor:           now.Sub(tok.BuyAt),
		EntryMarketCapUSD: tok.MarketCapUSD(tok.BuyPrice, solPriceUSD),
		ExitMarketCapUSD:  tok.CurrentMarketCapUSD(solPriceUSD),
		PeakMarketCapUSD:  tok.MarketCapUSD(tok.AfterBuyMaxPrice, solPriceUSD),
	}
	if tok.BuyPrice > 0 {
		d.Gain = tok.Current.CurrentPriceSol / tok.BuyPrice
	}
	peakK := d.PeakMarketCapUSD / 1000
	d.SellPriceK = DynamicSellPriceK(ee.config.Retracement, peakK, ee.config.MinRetracement)

	switch {
	case manual:
		d.Reason = ExitManual
	case tok.BuyPrice <= 0:
		return ExitDecision{}
	case d.Gain < ee.config.StopLossGain:
		d.Reason = ExitStopLoss
	case ee.config.TimeoutMinutes > 0 &&
		d.HoldFor > time.Duration(ee.config.TimeoutMinutes)*time.Minute &&
		d.Gain < ee.config.LetRunGain:
		d.Reason = ExitTimeout
	case ee.config.DrawdownEnabled && d.ExitMarketCapUSD/1000 <= d.SellPriceK:
		d.Reason = ExitDrawdown
	case d.Gain > ee.config.TakeProfitGain:
		d.Reason = ExitTakeProfit
	default:
		return ExitDecision{}
	}

	d.ShouldSell = true
	d.Description = fmt.Sprintf("%s sell %s %sx entry:%s now:%s peak:%s held %s",
		d.Reason, tok.Current.TokenTicker,
		decimal.NewFromFloat(d.Gain).StringFixed(2),
		FormatK(d.EntryMarketCapUSD), FormatK(d.ExitMarketCapUSD), FormatK(d.PeakMarketCapUSD),
		d.HoldFor.Truncate(time.Second))
	return d
}
