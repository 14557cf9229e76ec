package sniper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmuggle/cc-ax-bot/internal/strategy"
	"github.com/0xmuggle/cc-ax-bot/internal/surge"
)

const solUSD = 150.0

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

var testStrategy = strategy.Strategy{ID: "s1", Name: "early-fast", Priority: 3, BotID: "b1", Amount: 0.5, Enabled: true}

// newTestToken returns a token with supply 1M; a price of 0.0001 SOL is a
// 15K USD market cap at 150 USD/SOL.
func newTestToken(price float64) *surge.Token {
	return surge.NewToken(surge.Snapshot{
		TokenAddress:    "9wFFyRfZBsuAha4YcuxcXLKwMxJR43S7fPfQLusDBzvT",
		TokenTicker:     "KNIFE",
		DetectedAt:      t0,
		Supply:          1_000_000,
		SurgedPrice:     0.0001,
		CurrentPriceSol: price,
		MaxSurgedPrice:  price,
	}, t0)
}

func setPrice(tok *surge.Token, price float64, at time.Time) {
	snap := tok.Current.Snapshot
	snap.CurrentPriceSol = price
	tok.Merge(snap, at)
	if tok.Open() {
		tok.TrackAfterBuy()
	}
}

// newOpenToken opens a position at buy, walks the price through path and
// returns the token.
func newOpenToken(buy float64, path ...float64) *surge.Token {
	tok := newTestToken(buy)
	tok.Bind("s1", "b1")
	tok.OpenPosition(t0)
	for i, p := range path {
		setPrice(tok, p, t0.Add(time.Duration(i+1)*time.Second))
	}
	return tok
}

// ---------------------------------------------------------------------------
// Entry guards
// ---------------------------------------------------------------------------

func TestEntryGuard_Accepts(t *testing.T) {
	g := NewEntryGuard(DefaultEntryConfig())
	d := g.Attempt(newTestToken(0.0001), testStrategy, solUSD, 15_000)

	require.True(t, d.Accepted)
	assert.Equal(t, GuardNone, d.Reason)
	assert.InDelta(t, 15_000, d.CurrentMarketCapUSD, 1e-6)
	assert.Equal(t, "17.25", d.TargetPriceK.StringFixed(2))
	assert.Contains(t, d.Description, "bought KNIFE 0.5 SOL")
}

func TestEntryGuard_Floor(t *testing.T) {
	g := NewEntryGuard(DefaultEntryConfig())
	d := g.Attempt(newTestToken(0.00006), testStrategy, solUSD, 9_000)

	assert.False(t, d.Accepted)
	assert.Equal(t, GuardFloor, d.Reason)
	assert.Contains(t, d.Description, "below floor 12.00K")
	assert.True(t, d.TargetPriceK.IsZero())
}

func TestEntryGuard_FloorWinsOverDeviation(t *testing.T) {
	g := NewEntryGuard(DefaultEntryConfig())
	// 9K current is both under the floor and above 5K*1.32.
	d := g.Attempt(newTestToken(0.00006), testStrategy, solUSD, 5_000)
	assert.Equal(t, GuardFloor, d.Reason)
}

func TestEntryGuard_Deviation(t *testing.T) {
	g := NewEntryGuard(DefaultEntryConfig())
	d := g.Attempt(newTestToken(0.0002), testStrategy, solUSD, 15_000)

	assert.False(t, d.Accepted)
	assert.Equal(t, GuardDeviation, d.Reason)
	assert.Contains(t, d.Description, "19.80K")
}

func TestEntryGuard_PeakRetracement(t *testing.T) {
	g := NewEntryGuard(DefaultEntryConfig())
	tok := newTestToken(0.0004)
	setPrice(tok, 0.0002, t0.Add(time.Minute))

	d := g.Attempt(tok, testStrategy, solUSD, 30_000)
	assert.False(t, d.Accepted)
	assert.Equal(t, GuardPeak, d.Reason)
	assert.InDelta(t, 60_000, d.PeakMarketCapUSD, 1e-6)
}

func TestEntryGuard_EstimateFallsBackToCurrent(t *testing.T) {
	g := NewEntryGuard(DefaultEntryConfig())
	d := g.Attempt(newTestToken(0.0001), testStrategy, solUSD, 0)
	require.True(t, d.Accepted)
	assert.InDelta(t, 15_000, d.EstimatedEntryMarketCapUSD, 1e-6)
}

func TestFormatK(t *testing.T) {
	assert.Equal(t, "15.00K", FormatK(15_000))
	assert.Equal(t, "33.18K", FormatK(33_175))
}

// ---------------------------------------------------------------------------
// Exit engine
// ---------------------------------------------------------------------------

func TestExitEngine_StopLoss(t *testing.T) {
	ee := NewExitEngine(DefaultExitConfig())
	tok := newOpenToken(0.0001, 0.00006)

	d := ee.Evaluate(tok, solUSD, t0.Add(time.Minute), false)
	require.True(t, d.ShouldSell)
	assert.Equal(t, ExitStopLoss, d.Reason)
	assert.InDelta(t, 0.6, d.Gain, 1e-9)
}

func TestExitEngine_StopLossBeatsTimeout(t *testing.T) {
	ee := NewExitEngine(DefaultExitConfig())
	tok := newOpenToken(0.0001, 0.00005)

	d := ee.Evaluate(tok, solUSD, t0.Add(45*time.Minute), false)
	assert.Equal(t, ExitStopLoss, d.Reason)
}

func TestExitEngine_ManualOverride(t *testing.T) {
	ee := NewExitEngine(DefaultExitConfig())
	tok := newOpenToken(0.0001, 0.00011)

	d := ee.Evaluate(tok, solUSD, t0.Add(time.Minute), true)
	require.True(t, d.ShouldSell)
	assert.Equal(t, ExitManual, d.Reason)
}

func TestExitEngine_Timeout(t *testing.T) {
	ee := NewExitEngine(DefaultExitConfig())

	t.Run("stale position is closed", func(t *testing.T) {
		tok := newOpenToken(0.0001, 0.0001)
		d := ee.Evaluate(tok, solUSD, t0.Add(31*time.Minute), false)
		require.True(t, d.ShouldSell)
		assert.Equal(t, ExitTimeout, d.Reason)
		assert.Equal(t, 31*time.Minute, d.HoldFor)
	})

	t.Run("runner above let-run gain is not timed out", func(t *testing.T) {
		tok := newOpenToken(0.0001, 0.00035)
		d := ee.Evaluate(tok, solUSD, t0.Add(31*time.Minute), false)
		require.True(t, d.ShouldSell)
		assert.Equal(t, ExitTakeProfit, d.Reason)
	})
}

func TestExitEngine_Drawdown(t *testing.T) {
	ee := NewExitEngine(DefaultExitConfig())
	// Peak 60K, dynamic sell price 60*(1-0.353) = 38.82K, current 37.5K.
	tok := newOpenToken(0.0001, 0.0004, 0.00025)

	d := ee.Evaluate(tok, solUSD, t0.Add(5*time.Minute), false)
	require.True(t, d.ShouldSell)
	assert.Equal(t, ExitDrawdown, d.Reason)
	assert.InDelta(t, 38.82, d.SellPriceK, 1e-9)
	assert.InDelta(t, 60_000, d.PeakMarketCapUSD, 1e-6)
	assert.Contains(t, d.Description, "peak:60.00K")
}

func TestExitEngine_TakeProfit(t *testing.T) {
	ee := NewExitEngine(DefaultExitConfig())
	tok := newOpenToken(0.0001, 0.00015)

	d := ee.Evaluate(tok, solUSD, t0.Add(2*time.Minute), false)
	require.True(t, d.ShouldSell)
	assert.Equal(t, ExitTakeProfit, d.Reason)
	assert.InDelta(t, 1.5, d.Gain, 1e-9)
}

func TestExitEngine_Holds(t *testing.T) {
	ee := NewExitEngine(DefaultExitConfig())
	tok := newOpenToken(0.0001, 0.00012)

	d := ee.Evaluate(tok, solUSD, t0.Add(2*time.Minute), false)
	assert.False(t, d.ShouldSell)
}

func TestExitEngine_ClosedIsTerminal(t *testing.T) {
	ee := NewExitEngine(DefaultExitConfig())
	tok := newOpenToken(0.0001, 0.00005)
	tok.ClosePosition(string(ExitStopLoss), t0.Add(time.Minute))

	assert.False(t, ee.Evaluate(tok, solUSD, t0.Add(2*time.Minute), false).ShouldSell)
	assert.False(t, ee.Evaluate(tok, solUSD, t0.Add(2*time.Minute), true).ShouldSell)
}

func TestExitEngine_DrawdownDisabled(t *testing.T) {
	cfg := DefaultExitConfig()
	cfg.DrawdownEnabled = false
	ee := NewExitEngine(cfg)
	tok := newOpenToken(0.0001, 0.0004, 0.00025)

	d := ee.Evaluate(tok, solUSD, t0.Add(5*time.Minute), false)
	assert.Equal(t, ExitTakeProfit, d.Reason)
}

// ---------------------------------------------------------------------------
// Retracement curve
// ---------------------------------------------------------------------------

func TestRetracementRatio(t *testing.T) {
	segs := DefaultRetracement()

	tests := []struct {
		peakK     float64
		ratio     float64
		sellPrice float64
	}{
		{50, 0.3365, 33.175},
		{60, 0.353, 38.82},
		{100, 0.337, 66.3},
		{140, 0.321, 95.06},
		{240, 0.301, 167.76},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.ratio, RetracementRatio(segs, tt.peakK, 0.2), 1e-9, "ratio at %v", tt.peakK)
		assert.InDelta(t, tt.sellPrice, DynamicSellPriceK(segs, tt.peakK, 0.2), 1e-9, "sell price at %v", tt.peakK)
	}
}

func TestRetracementRatio_Floor(t *testing.T) {
	segs := DefaultRetracement()
	// 0.321 - 0.0002*(1000-140) = 0.149, floored.
	assert.InDelta(t, 0.2, RetracementRatio(segs, 1000, 0.2), 1e-9)
	assert.InDelta(t, 800, DynamicSellPriceK(segs, 1000, 0.2), 1e-9)
}

func TestValidateRetracement(t *testing.T) {
	require.NoError(t, ValidateRetracement(DefaultRetracement()))

	broken := DefaultRetracement()
	broken[1].Base = 0.36
	assert.Error(t, ValidateRetracement(broken))

	unordered := DefaultRetracement()
	unordered[1].UpToK = 50
	assert.Error(t, ValidateRetracement(unordered))

	bounded := DefaultRetracement()
	bounded[2].UpToK = 500
	assert.Error(t, ValidateRetracement(bounded))

	assert.Error(t, ValidateRetracement(nil))
}
