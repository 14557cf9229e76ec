package surge

import (
	"sort"
	"time"
)

// PositionFull is the position size held after an accepted entry, in percent
// of one notional unit.
const PositionFull = 100

// Snapshot is one observation of a token pushed by the surge feed.
type Snapshot struct {
	TokenAddress string    `json:"token_address"`
	TokenTicker  string    `json:"token_ticker"`
	TokenName    string    `json:"token_name,omitempty"`
	Protocol     string    `json:"protocol"`
	DetectedAt   time.Time `json:"detected_at"`

	Supply           float64 `json:"supply"`
	MarketCapSol     float64 `json:"market_cap_sol"`
	VolumeSol        float64 `json:"volume_sol"`
	LiquiditySol     float64 `json:"liquidity_sol"`
	TransactionCount int     `json:"transaction_count"`
	BuyCount         int     `json:"buy_count"`
	SellCount        int     `json:"sell_count"`
	NumHolders       int     `json:"num_holders,omitempty"`

	Top10HoldersPercent float64 `json:"top10_holders_percent"`
	DevHoldsPercent     float64 `json:"dev_holds_percent"`
	BundlersHoldPercent float64 `json:"bundlers_hold_percent"`

	Website  string `json:"website,omitempty"`
	Twitter  string `json:"twitter,omitempty"`
	Telegram string `json:"telegram,omitempty"`
	Discord  string `json:"discord,omitempty"`

	SurgedPrice     float64 `json:"surged_price"`
	CurrentPriceSol float64 `json:"current_price_sol"`
	MaxSurgedPrice  float64 `json:"max_surged_price"`
}

// Socials returns the populated social links.
func (s Snapshot) Socials() []string {
	out := make([]string, 0, 4)
	for _, v := range []string{s.Website, s.Twitter, s.Telegram, s.Discord} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// MarketCapUSD converts a SOL price into a USD market cap using the token supply.
func (s Snapshot) MarketCapUSD(priceSol, solPriceUSD float64) float64 {
	return priceSol * s.Supply * solPriceUSD
}

// Sighting is one surge detection of a token and everything observed about it
// since: the latest snapshot, its running max price and its checkpoint prices.
type Sighting struct {
	Snapshot
	MaxPrice    float64                `json:"max_price"`
	Checkpoints map[Checkpoint]float64 `json:"checkpoints,omitempty"`
}

// NewSighting starts a sighting from its first snapshot, observed at now.
func NewSighting(s Snapshot, now time.Time) Sighting {
	sg := Sighting{Snapshot: s, MaxPrice: s.CurrentPriceSol}
	sg.recordCheckpoint(s.CurrentPriceSol, now)
	return sg
}

// Refresh merges a later snapshot of the same sighting. Live metrics take the
// incoming values; MaxPrice and MaxSurgedPrice never decrease and checkpoints
// are written at most once.
func (sg *Sighting) Refresh(update Snapshot, now time.Time) {
	sg.recordCheckpoint(update.CurrentPriceSol, now)

	maxSurged := sg.MaxSurgedPrice
	sg.Snapshot = update
	if maxSurged > sg.MaxSurgedPrice {
		sg.MaxSurgedPrice = maxSurged
	}
	if update.CurrentPriceSol > sg.MaxPrice {
		sg.MaxPrice = update.CurrentPriceSol
	}
}

func (sg *Sighting) recordCheckpoint(price float64, now time.Time) {
	cp, ok := CheckpointFor(now.Sub(sg.DetectedAt))
	if !ok {
		return
	}
	if _, set := sg.Checkpoints[cp]; set {
		return
	}
	if sg.Checkpoints == nil {
		sg.Checkpoints = make(map[Checkpoint]float64, len(Checkpoints))
	}
	sg.Checkpoints[cp] = price
}

// PriceAt returns the price recorded for cp, if any.
func (sg Sighting) PriceAt(cp Checkpoint) (float64, bool) {
	p, ok := sg.Checkpoints[cp]
	return p, ok
}

func (sg Sighting) clone() Sighting {
	out := sg
	if sg.Checkpoints != nil {
		out.Checkpoints = make(map[Checkpoint]float64, len(sg.Checkpoints))
		for k, v := range sg.Checkpoints {
			out.Checkpoints[k] = v
		}
	}
	return out
}

// MergeKind tells how a snapshot was folded into a token.
type MergeKind string

const (
	MergeRefresh       MergeKind = "refresh"        // same sighting as Current
	MergeSurgeRefresh  MergeKind = "surge_refresh"  // matched an older sighting
	MergeSurgeAppended MergeKind = "surge_appended" // new sighting of a known token
)

// Token is the tracked, stateful record for one token address.
type Token struct {
	Current  Sighting   `json:"current"`
	Surges   []Sighting `json:"surges"`
	MaxPrice float64    `json:"max_price"`

	Position         int       `json:"position"`
	BuyPrice         float64   `json:"buy_price,omitempty"`
	BuyAt            time.Time `json:"buy_at,omitempty"`
	AfterBuyMaxPrice float64   `json:"after_buy_max_price,omitempty"`
	StrategyID       string    `json:"strategy_id,omitempty"`
	BotID            string    `json:"bot_id,omitempty"`
	ExitReason       string    `json:"exit_reason,omitempty"`
	SoldAt           time.Time `json:"sold_at,omitempty"`
}

// NewToken creates a tracked token whose only sighting is s.
func NewToken(s Snapshot, now time.Time) *Token {
	return &Token{
		Current:  NewSighting(s, now),
		Surges:   []Sighting{},
		MaxPrice: s.CurrentPriceSol,
	}
}

// Address returns the token's stable identity.
func (t *Token) Address() string { return t.Current.TokenAddress }

// DetectedAt returns the detection time of the primary sighting.
func (t *Token) DetectedAt() time.Time { return t.Current.DetectedAt }

// Age returns the time elapsed since the primary sighting was detected.
func (t *Token) Age(now time.Time) time.Duration { return now.Sub(t.Current.DetectedAt) }

// Merge folds s into the token: a refresh of the primary sighting, a refresh
// of an older sighting, or a new sighting prepended to Surges.
func (t *Token) Merge(s Snapshot, now time.Time) MergeKind {
	if s.CurrentPriceSol > t.MaxPrice {
		t.MaxPrice = s.CurrentPriceSol
	}

	if s.DetectedAt.Equal(t.Current.DetectedAt) {
		t.Current.Refresh(s, now)
		return MergeRefresh
	}

	for i := range t.Surges {
		if t.Surges[i].DetectedAt.Equal(s.DetectedAt) {
			t.Surges[i].Refresh(s, now)
			return MergeSurgeRefresh
		}
	}

	t.Surges = append([]Sighting{NewSighting(s, now)}, t.Surges...)
	return MergeSurgeAppended
}

// Bound reports whether a strategy and bot already own this token's lifecycle.
func (t *Token) Bound() bool { return t.BotID != "" }

// Open reports whether a simulated position is held.
func (t *Token) Open() bool { return t.Position > 0 }

// Bind assigns the responsible strategy and bot. A bound token is never rebound.
func (t *Token) Bind(strategyID, botID string) {
	if t.Bound() {
		return
	}
	t.StrategyID = strategyID
	t.BotID = botID
}

// OpenPosition records an accepted entry at the current price.
func (t *Token) OpenPosition(at time.Time) {
	t.Position = PositionFull
	t.BuyPrice = t.Current.CurrentPriceSol
	t.BuyAt = at
	t.AfterBuyMaxPrice = t.Current.CurrentPriceSol
}

// TrackAfterBuy raises AfterBuyMaxPrice with the current price.
func (t *Token) TrackAfterBuy() {
	if t.Current.CurrentPriceSol > t.AfterBuyMaxPrice {
		t.AfterBuyMaxPrice = t.Current.CurrentPriceSol
	}
}

// ClosePosition flattens the position. Closed is terminal: the binding stays.
func (t *Token) ClosePosition(reason string, at time.Time) {
	t.Position = 0
	t.ExitReason = reason
	t.SoldAt = at
}

// MarketCapUSD returns the USD market cap at priceSol.
func (t *Token) MarketCapUSD(priceSol, solPriceUSD float64) float64 {
	return t.Current.MarketCapUSD(priceSol, solPriceUSD)
}

// CurrentMarketCapUSD returns the market cap at the latest price.
func (t *Token) CurrentMarketCapUSD(solPriceUSD float64) float64 {
	return t.MarketCapUSD(t.Current.CurrentPriceSol, solPriceUSD)
}

// Clone returns a deep copy safe to hand to readers.
func (t *Token) Clone() *Token {
	out := *t
	out.Current = t.Current.clone()
	out.Surges = make([]Sighting, len(t.Surges))
	for i, s := range t.Surges {
		out.Surges[i] = s.clone()
	}
	return &out
}

// SortByDetection orders tokens newest detection first.
func SortByDetection(tokens []*Token) {
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].DetectedAt().After(tokens[j].DetectedAt())
	})
}
