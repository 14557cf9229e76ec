package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmuggle/cc-ax-bot/internal/audit"
	"github.com/0xmuggle/cc-ax-bot/internal/bus"
	"github.com/0xmuggle/cc-ax-bot/internal/filter"
	"github.com/0xmuggle/cc-ax-bot/internal/notify"
	"github.com/0xmuggle/cc-ax-bot/internal/persist"
	"github.com/0xmuggle/cc-ax-bot/internal/sniper"
	"github.com/0xmuggle/cc-ax-bot/internal/strategy"
	"github.com/0xmuggle/cc-ax-bot/internal/surge"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type sentCommand struct {
	text string
	bot  string
}

type recordingSink struct {
	mu   sync.Mutex
	sent []sentCommand
}

func (s *recordingSink) Dispatch(cmd notify.Command, bot strategy.Bot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentCommand{text: cmd.String(), bot: bot.ID})
	return true
}

func (s *recordingSink) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, c := range s.sent {
		out[i] = c.text
	}
	return out
}

type harness struct {
	eng      *Engine
	sink     *recordingSink
	producer *bus.StubProducer
	store    *persist.MemoryStore
	now      time.Time
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		sink:     &recordingSink{},
		producer: bus.NewStubProducer(),
		store:    persist.NewMemoryStore(""),
		now:      t0,
	}
	cfg.SolPriceUSD = 150
	h.eng = New(cfg, Deps{
		Sink:     h.sink,
		Producer: h.producer,
		Store:    h.store,
		Clock:    func() time.Time { return h.now },
	})
	return h
}

func (h *harness) addBot(t *testing.T, id, name string) {
	t.Helper()
	_, err := h.eng.UpsertBot(context.Background(), strategy.Bot{ID: id, Name: name, APIKey: "k", ChatID: "c"})
	require.NoError(t, err)
}

func (h *harness) addStrategy(t *testing.T, s strategy.Strategy) strategy.Strategy {
	t.Helper()
	if s.Amount == 0 {
		s.Amount = 0.5
	}
	if s.Priority == 0 {
		s.Priority = 3
	}
	s.Enabled = true
	stored, err := h.eng.UpsertStrategy(context.Background(), s)
	require.NoError(t, err)
	return stored
}

// newSnapshot builds a token with supply 1M: price 0.0001 SOL is 15K USD at 150.
func newSnapshot(addr string, detected time.Time, price float64) surge.Snapshot {
	return surge.Snapshot{
		TokenAddress:    addr,
		TokenTicker:     "SURGE",
		Protocol:        "Pump V1",
		DetectedAt:      detected,
		Supply:          1_000_000,
		MarketCapSol:    price * 1_000_000,
		SurgedPrice:     0.0001,
		CurrentPriceSol: price,
		MaxSurgedPrice:  price,
	}
}

func (h *harness) apply(snaps ...surge.Snapshot) []Decision {
	return h.eng.ApplyUpdates(context.Background(), snaps)
}

// openPosition detects Mint111 three minutes ago at 15K and buys it.
func openPosition(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, DefaultConfig())
	h.addBot(t, "b1", "main-fast")
	h.addStrategy(t, strategy.Strategy{Name: "s-fast", BotID: "b1"})

	ds := h.apply(newSnapshot("Mint111", t0.Add(-3*time.Minute), 0.0001))
	require.Len(t, ds, 1)
	require.Equal(t, DecisionBuy, ds[0].Kind)
	return h
}

// ---------------------------------------------------------------------------
// Merge
// ---------------------------------------------------------------------------

func TestApplyUpdates_IdempotentRefresh(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	s := newSnapshot("A", t0.Add(-4*time.Minute), 0.0002)

	h.apply(s)
	first, err := h.eng.Token("A")
	require.NoError(t, err)

	h.advance(2 * time.Minute)
	h.apply(s)
	second, err := h.eng.Token("A")
	require.NoError(t, err)

	assert.Empty(t, second.Surges)
	assert.Equal(t, first.MaxPrice, second.MaxPrice)
	p, ok := second.Current.PriceAt(surge.At3M)
	require.True(t, ok)
	assert.Equal(t, 0.0002, p)
}

func TestApplyUpdates_NewSightingPrepended(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.apply(newSnapshot("A", t0.Add(-20*time.Minute), 0.0001))
	h.apply(newSnapshot("A", t0.Add(-10*time.Minute), 0.0003))
	h.apply(newSnapshot("A", t0.Add(-5*time.Minute), 0.0002))

	tok, err := h.eng.Token("A")
	require.NoError(t, err)
	require.Len(t, tok.Surges, 2)
	assert.True(t, tok.Surges[0].DetectedAt.Equal(t0.Add(-5*time.Minute)))
	assert.True(t, tok.Surges[1].DetectedAt.Equal(t0.Add(-10*time.Minute)))
	assert.Equal(t, 0.0003, tok.MaxPrice)
}

func TestApplyUpdates_MonotonicMaxPrice(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	det := t0.Add(-time.Minute * 30)
	for _, p := range []float64{0.0001, 0.0005, 0.0002, 0.0004} {
		h.apply(newSnapshot("A", det, p))
	}
	tok, err := h.eng.Token("A")
	require.NoError(t, err)
	assert.Equal(t, 0.0005, tok.MaxPrice)
	assert.Equal(t, 0.0004, tok.Current.CurrentPriceSol)
}

func TestApplyUpdates_SortedNewestFirst(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.apply(
		newSnapshot("old", t0.Add(-30*time.Minute), 0.0001),
		newSnapshot("new", t0.Add(-1*time.Minute), 0.0001),
		newSnapshot("mid", t0.Add(-10*time.Minute), 0.0001),
	)
	toks := h.eng.Tokens()
	require.Len(t, toks, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{toks[0].Address(), toks[1].Address(), toks[2].Address()})
}

func TestApplyUpdates_TruncatesOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTokens = 10
	h := newHarness(t, cfg)

	var batch []surge.Snapshot
	for i := 0; i < 11; i++ {
		batch = append(batch, newSnapshot(fmt.Sprintf("T%02d", i), t0.Add(-time.Duration(60-i)*time.Minute), 0.0001))
	}
	h.apply(batch...)

	toks := h.eng.Tokens()
	require.Len(t, toks, 8)
	assert.Equal(t, "T10", toks[0].Address())
	assert.Equal(t, "T03", toks[7].Address())
	_, err := h.eng.Token("T00")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestApplyUpdates_TruncationKeepsOpenPositions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTokens = 10
	h := newHarness(t, cfg)
	h.addBot(t, "b1", "main-fast")
	h.addStrategy(t, strategy.Strategy{Name: "s-fast", BotID: "b1"})

	ds := h.apply(newSnapshot("OLD", t0.Add(-3*time.Minute), 0.0001))
	require.Len(t, ds, 1)
	require.Equal(t, DecisionBuy, ds[0].Kind)

	// eleven newer tokens, all too young to match
	var batch []surge.Snapshot
	for i := 0; i < 11; i++ {
		batch = append(batch, newSnapshot(fmt.Sprintf("T%02d", i), t0.Add(-time.Duration(100-i)*time.Second), 0.0001))
	}
	assert.Empty(t, h.apply(batch...))

	toks := h.eng.Tokens()
	require.Len(t, toks, 9)
	assert.Equal(t, "T10", toks[0].Address())
	assert.Equal(t, "OLD", toks[8].Address())

	tok, err := h.eng.Token("OLD")
	require.NoError(t, err)
	assert.True(t, tok.Open())
	_, err = h.eng.Token("T02")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestApplyUpdates_EmptyBatch(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	assert.Nil(t, h.apply())
	assert.Empty(t, h.eng.Tokens())
}

// ---------------------------------------------------------------------------
// Entry
// ---------------------------------------------------------------------------

func TestEntry_AcceptedScenario(t *testing.T) {
	h := openPosition(t)

	tok, err := h.eng.Token("Mint111")
	require.NoError(t, err)
	assert.Equal(t, surge.PositionFull, tok.Position)
	assert.Equal(t, 0.0001, tok.BuyPrice)
	assert.True(t, tok.BuyAt.Equal(t0))
	assert.Equal(t, 0.0001, tok.AfterBuyMaxPrice)
	assert.Equal(t, "b1", tok.BotID)

	assert.Equal(t, []string{"Mint111--ON--17.25--fastbuy--0.5"}, h.sink.texts())

	hist := h.eng.History().List(0)
	require.Len(t, hist, 1)
	assert.Equal(t, audit.StatusBuy, hist[0].Status)
	assert.InDelta(t, 15000, hist[0].MarketCapAtTrigger, 1e-6)
	assert.InDelta(t, 15000, hist[0].EstimateAtTrigger, 1e-6)
	assert.Equal(t, 0.5, hist[0].Amount)
	assert.Equal(t, "s-fast", hist[0].StrategyName)

	assert.Len(t, h.producer.Messages(bus.TopicDecisions), 1)
	assert.Len(t, h.producer.Messages(bus.TopicHistory), 1)
}

func TestEntry_FloorRejectionBindsAnyway(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.addBot(t, "b1", "main-fast")
	h.addStrategy(t, strategy.Strategy{Name: "s-fast", BotID: "b1"})

	ds := h.apply(newSnapshot("Mint111", t0.Add(-3*time.Minute), 0.00006))
	require.Len(t, ds, 1)
	assert.Equal(t, DecisionNo, ds[0].Kind)
	assert.Equal(t, string(sniper.GuardFloor), ds[0].Reason())
	assert.Contains(t, ds[0].Description(), "below floor 12.00K")
	assert.Nil(t, ds[0].Command)
	assert.Empty(t, h.sink.texts())

	tok, _ := h.eng.Token("Mint111")
	assert.True(t, tok.Bound())
	assert.False(t, tok.Open())

	// bound tokens are not matched again
	assert.Empty(t, h.apply(newSnapshot("Mint111", t0.Add(-3*time.Minute), 0.0001)))

	hist := h.eng.History().List(0)
	require.Len(t, hist, 1)
	assert.Equal(t, audit.StatusNo, hist[0].Status)
	assert.Equal(t, "floor", hist[0].Reason)
}

func TestEntry_TimingWindow(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.addBot(t, "b1", "main-fast")
	h.addStrategy(t, strategy.Strategy{Name: "s-fast", BotID: "b1"})

	det := t0.Add(-time.Minute)
	assert.Empty(t, h.apply(newSnapshot("A", det, 0.0001)))
	tok, _ := h.eng.Token("A")
	assert.False(t, tok.Bound())

	h.advance(2 * time.Minute)
	ds := h.apply(newSnapshot("A", det, 0.0001))
	require.Len(t, ds, 1)
	assert.Equal(t, DecisionBuy, ds[0].Kind)
}

func TestEntry_PriorityOrder(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.addBot(t, "b1", "main-slow")
	h.addBot(t, "b2", "main-fast")
	h.addStrategy(t, strategy.Strategy{Name: "low-slow", BotID: "b1", Priority: 1})
	h.addStrategy(t, strategy.Strategy{Name: "high-fast", BotID: "b2", Priority: 5})

	ds := h.apply(newSnapshot("A", t0.Add(-3*time.Minute), 0.0001))
	require.Len(t, ds, 1)
	assert.Equal(t, "high-fast", ds[0].Strategy.Name)
	assert.Equal(t, "b2", ds[0].Bot.ID)
}

func TestEntry_MissingBotLeavesUnbound(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.addBot(t, "b1", "main-slow")
	h.addStrategy(t, strategy.Strategy{Name: "ghost-x", BotID: "nope", Priority: 5})
	h.addStrategy(t, strategy.Strategy{Name: "real-slow", BotID: "b1", Priority: 1})

	assert.Empty(t, h.apply(newSnapshot("A", t0.Add(-3*time.Minute), 0.0001)))
	tok, _ := h.eng.Token("A")
	assert.False(t, tok.Bound(), "lower priority strategy must not take over")
	assert.Empty(t, h.sink.texts())
	assert.Zero(t, h.eng.History().Len())

	h.addBot(t, "nope", "ghost-x")
	ds := h.apply(newSnapshot("A", t0.Add(-3*time.Minute), 0.0001))
	require.Len(t, ds, 1)
	assert.Equal(t, "ghost-x", ds[0].Strategy.Name)
}

func TestEntry_FilterMissLeavesUnbound(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.addBot(t, "b1", "main-fast")
	h.addStrategy(t, strategy.Strategy{
		Name:    "s-fast",
		BotID:   "b1",
		Filters: filter.Spec{Platforms: []string{"bonk"}},
	})

	assert.Empty(t, h.apply(newSnapshot("A", t0.Add(-3*time.Minute), 0.0001)))
	tok, _ := h.eng.Token("A")
	assert.False(t, tok.Bound())
}

func TestEntry_SkippedWithoutSolPrice(t *testing.T) {
	h := &harness{sink: &recordingSink{}, now: t0}
	h.eng = New(DefaultConfig(), Deps{Sink: h.sink, Clock: func() time.Time { return h.now }})
	h.addBot(t, "b1", "main-fast")
	h.addStrategy(t, strategy.Strategy{Name: "s-fast", BotID: "b1"})

	assert.Empty(t, h.apply(newSnapshot("A", t0.Add(-3*time.Minute), 0.0001)))

	require.NoError(t, h.eng.SetSolPrice(context.Background(), 150))
	assert.Len(t, h.apply(newSnapshot("A", t0.Add(-3*time.Minute), 0.0001)), 1)
}

// ---------------------------------------------------------------------------
// Exit
// ---------------------------------------------------------------------------

func TestExit_StopLoss(t *testing.T) {
	h := openPosition(t)

	ds := h.apply(newSnapshot("Mint111", t0.Add(-3*time.Minute), 0.00006))
	require.Len(t, ds, 1)
	assert.Equal(t, DecisionSell, ds[0].Kind)
	assert.Equal(t, string(sniper.ExitStopLoss), ds[0].Reason())

	assert.Equal(t, "Mint111--ON--0--fastsell--100", h.sink.texts()[1])

	tok, _ := h.eng.Token("Mint111")
	assert.False(t, tok.Open())
	assert.True(t, tok.Bound())
	assert.Equal(t, "stop_loss", tok.ExitReason)

	hist := h.eng.History().List(0)
	assert.Equal(t, audit.StatusSell, hist[0].Status)
	assert.Equal(t, "main-fast", hist[0].StrategyName, "sells are labelled with the bot")
	assert.Equal(t, "s-fast", hist[1].StrategyName)
	assert.InDelta(t, 0.6, hist[0].Amount, 1e-9)
	assert.InDelta(t, 15000, hist[0].EstimateAtTrigger, 1e-6)

	// closed is terminal
	assert.Empty(t, h.apply(newSnapshot("Mint111", t0.Add(-3*time.Minute), 0.00001)))
}

func TestExit_TakeProfit(t *testing.T) {
	h := openPosition(t)

	ds := h.apply(newSnapshot("Mint111", t0.Add(-3*time.Minute), 0.00015))
	require.Len(t, ds, 1)
	assert.Equal(t, string(sniper.ExitTakeProfit), ds[0].Reason())
}

func TestExit_Timeout(t *testing.T) {
	h := openPosition(t)

	h.advance(20 * time.Minute)
	assert.Empty(t, h.apply(newSnapshot("Mint111", t0.Add(-3*time.Minute), 0.0001)))

	h.advance(11 * time.Minute)
	ds := h.apply(newSnapshot("Mint111", t0.Add(-3*time.Minute), 0.0001))
	require.Len(t, ds, 1)
	assert.Equal(t, string(sniper.ExitTimeout), ds[0].Reason())
	assert.Equal(t, 31*time.Minute, ds[0].Exit.HoldFor)
}

func TestExit_Drawdown(t *testing.T) {
	h := openPosition(t)

	// 20.25K peak, gain 1.35 stays under take-profit
	assert.Empty(t, h.apply(newSnapshot("Mint111", t0.Add(-3*time.Minute), 0.000135)))

	// sell price at 20.25K peak is about 14.43K
	ds := h.apply(newSnapshot("Mint111", t0.Add(-3*time.Minute), 0.000095))
	require.Len(t, ds, 1)
	assert.Equal(t, string(sniper.ExitDrawdown), ds[0].Reason())
	assert.InDelta(t, 20250, ds[0].Exit.PeakMarketCapUSD, 1e-6)
	assert.InDelta(t, 14.43, ds[0].Exit.SellPriceK, 0.01)
}

func TestExit_NoOpenPositionNoEvaluation(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.apply(newSnapshot("A", t0.Add(-3*time.Minute), 0.0001))
	assert.Empty(t, h.apply(newSnapshot("A", t0.Add(-3*time.Minute), 0.00001)))
}

// ---------------------------------------------------------------------------
// Manual trades
// ---------------------------------------------------------------------------

func TestManualBuyAndSell(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	h.apply(newSnapshot("A", t0.Add(-30*time.Second), 0.0001))

	_, err := h.eng.ManualBuy(ctx, "A")
	assert.ErrorIs(t, err, ErrNoManualStrategy)

	h.addBot(t, "b1", "main-hand")
	h.addStrategy(t, strategy.Strategy{Name: strategy.ManualName, BotID: "b1", Amount: 1})

	_, err = h.eng.ManualBuy(ctx, "missing")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	d, err := h.eng.ManualBuy(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, DecisionBuy, d.Kind)
	assert.True(t, d.Manual)

	_, err = h.eng.ManualBuy(ctx, "A")
	assert.ErrorIs(t, err, ErrPositionOpen)

	d, err = h.eng.ManualSell(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, string(sniper.ExitManual), d.Reason())

	_, err = h.eng.ManualSell(ctx, "A")
	assert.ErrorIs(t, err, ErrNoPosition)

	assert.Equal(t, []string{
		"A--ON--17.25--buy--1",
		"A--ON--0--handsell--100",
	}, h.sink.texts())
}

func TestManualBuy_MeasuredAgainstCurrentMarketCap(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.addBot(t, "b1", "main-hand")
	h.addStrategy(t, strategy.Strategy{Name: strategy.ManualName, BotID: "b1", Amount: 1})

	// surged at 15K, now 22.5K: above 1.32x of the surge estimate
	h.apply(newSnapshot("A", t0.Add(-30*time.Second), 0.00015))

	d, err := h.eng.ManualBuy(context.Background(), "A")
	require.NoError(t, err)
	require.Equal(t, DecisionBuy, d.Kind, d.Description())
	require.NotNil(t, d.Entry)

	cur := d.Entry.CurrentMarketCapUSD
	assert.InDelta(t, 22500, cur, 1e-6)
	assert.Equal(t, cur, d.Entry.EstimatedEntryMarketCapUSD)
	want := decimal.NewFromFloat(cur).Mul(decimal.NewFromFloat(1.15)).Div(decimal.NewFromInt(1000)).Round(2)
	assert.True(t, want.Equal(d.Entry.TargetPriceK), "target %s, want %s", d.Entry.TargetPriceK, want)
	assert.Equal(t, []string{"A--ON--" + want.StringFixed(2) + "--buy--1"}, h.sink.texts())
}

func TestManualBuy_GuardsApply(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.addBot(t, "b1", "main-hand")
	h.addStrategy(t, strategy.Strategy{Name: strategy.ManualName, BotID: "b1", Amount: 1})
	h.apply(newSnapshot("A", t0.Add(-30*time.Second), 0.00005))

	d, err := h.eng.ManualBuy(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, DecisionNo, d.Kind)
	assert.Empty(t, h.sink.texts())
}

func TestManualBuy_MissingBot(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.addStrategy(t, strategy.Strategy{Name: strategy.ManualName, BotID: "gone", Amount: 1})
	h.apply(newSnapshot("A", t0, 0.0001))

	_, err := h.eng.ManualBuy(context.Background(), "A")
	assert.ErrorIs(t, err, ErrBotNotFound)
}

// ---------------------------------------------------------------------------
// Collection, filters, signals, persistence
// ---------------------------------------------------------------------------

func TestRemoveAndClearTokens(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	h.apply(newSnapshot("A", t0, 0.0001), newSnapshot("B", t0.Add(-time.Minute), 0.0001))

	require.NoError(t, h.eng.RemoveToken(ctx, "A"))
	assert.ErrorIs(t, h.eng.RemoveToken(ctx, "A"), ErrTokenNotFound)
	assert.Len(t, h.eng.Tokens(), 1)

	h.eng.ClearTokens(ctx)
	assert.Empty(t, h.eng.Tokens())
}

func TestSetSolPrice(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	assert.ErrorIs(t, h.eng.SetSolPrice(context.Background(), 0), ErrInvalidPrice)
	require.NoError(t, h.eng.SetSolPrice(context.Background(), 200))
	assert.Equal(t, 200.0, h.eng.SolPrice())

	var saved float64
	require.NoError(t, h.store.Load(context.Background(), persist.SliceSolPrice, &saved))
	assert.Equal(t, 200.0, saved)
}

func TestView_MainFilterAndHighMultiple(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	high := newSnapshot("high", t0, 0.0001)
	high.MaxSurgedPrice = 0.0004
	other := newSnapshot("bonk", t0.Add(-time.Minute), 0.0001)
	other.Protocol = "Bonk"
	h.apply(high, other)

	all := h.eng.View(false)
	assert.Equal(t, 2, all.Total)
	assert.Len(t, all.Tokens, 2)

	v := h.eng.View(true)
	require.Len(t, v.Tokens, 1)
	assert.Equal(t, "high", v.Tokens[0].Token.Address())
	assert.True(t, v.Tokens[0].HighMultiple)
	assert.Equal(t, 1, v.HighMultipleCount)
	assert.InDelta(t, 15000, v.Tokens[0].MarketCapUSD, 1e-6)

	h.eng.SetFilters(context.Background(), filter.Spec{})
	assert.Len(t, h.eng.View(true).Tokens, 2)
	h.eng.ResetFilters(context.Background())
	assert.Len(t, h.eng.View(true).Tokens, 1)
}

func TestSignals(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSignalsPerToken = 2
	h := newHarness(t, cfg)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, h.eng.AddSignal(ctx, Signal{TokenAddress: "A", Count: i}))
	}
	sigs := h.eng.Signals("A")
	require.Len(t, sigs, 2)
	assert.Equal(t, 3, sigs[0].Count)
	assert.True(t, sigs[0].SeenAt.Equal(t0))
	assert.Error(t, h.eng.AddSignal(ctx, Signal{}))
}

func TestRestore_RoundTrip(t *testing.T) {
	h := openPosition(t)
	ctx := context.Background()
	require.NoError(t, h.eng.AddSignal(ctx, Signal{TokenAddress: "Mint111", Count: 2}))
	require.NoError(t, h.eng.SetSolPrice(ctx, 150))

	restored := New(DefaultConfig(), Deps{Store: h.store, Clock: func() time.Time { return t0 }})
	require.NoError(t, restored.Restore(ctx))

	assert.Equal(t, 150.0, restored.SolPrice())
	assert.Len(t, restored.Book().List(), 1)
	assert.Len(t, restored.Book().Bots(), 1)
	assert.Equal(t, 1, restored.History().Len())
	assert.Len(t, restored.Signals("Mint111"), 1)

	tok, err := restored.Token("Mint111")
	require.NoError(t, err)
	assert.True(t, tok.Open())
	assert.Equal(t, 0.0001, tok.BuyPrice)
}

func TestRestore_EmptyStore(t *testing.T) {
	e := New(DefaultConfig(), Deps{Store: persist.NewMemoryStore("")})
	require.NoError(t, e.Restore(context.Background()))
	assert.Empty(t, e.Tokens())
	assert.Equal(t, filter.DefaultMainSpec().Platforms, e.Filters().Platforms)
}
