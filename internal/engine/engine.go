// Package engine owns the tracked-token collection. It merges feed batches,
// matches unbound tokens against strategies, runs exits for open positions
// and hands the resulting decisions to the history, command and bus sinks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/0xmuggle/cc-ax-bot/internal/audit"
	"github.com/0xmuggle/cc-ax-bot/internal/bus"
	"github.com/0xmuggle/cc-ax-bot/internal/filter"
	"github.com/0xmuggle/cc-ax-bot/internal/notify"
	"github.com/0xmuggle/cc-ax-bot/internal/observability"
	"github.com/0xmuggle/cc-ax-bot/internal/persist"
	"github.com/0xmuggle/cc-ax-bot/internal/sniper"
	"github.com/0xmuggle/cc-ax-bot/internal/strategy"
	"github.com/0xmuggle/cc-ax-bot/internal/surge"
)

var (
	ErrTokenNotFound    = errors.New("engine: token not found")
	ErrNoPosition       = errors.New("engine: no open position")
	ErrPositionOpen     = errors.New("engine: position already open")
	ErrNoManualStrategy = errors.New("engine: no enabled manual strategy")
	ErrBotNotFound      = errors.New("engine: bot not found")
	ErrNoSolPrice       = errors.New("engine: sol price unknown")
	ErrInvalidPrice     = errors.New("engine: price must be positive")
)

// Config configures the engine.
type Config struct {
	MaxTokens          int     `yaml:"max_tokens"`
	TruncateRatio      float64 `yaml:"truncate_ratio"` // keep this share of MaxTokens on overflow
	MinAgeSeconds      int     `yaml:"min_age_seconds"`
	MaxAgeSeconds      int     `yaml:"max_age_seconds"`
	MaxSignalsPerToken int     `yaml:"max_signals_per_token"`
	SolPriceUSD        float64 `yaml:"sol_price_usd"` // initial value until the feed reports one
	PersistTokens      bool    `yaml:"persist_tokens"`
	InstanceID         string  `yaml:"-"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:          10_000,
		TruncateRatio:      0.8,
		MinAgeSeconds:      int(filter.DefaultMinAge / time.Second),
		MaxAgeSeconds:      int(filter.DefaultMaxAge / time.Second),
		MaxSignalsPerToken: 50,
		PersistTokens:      true,
		InstanceID:         "axbot",
	}
}

// CommandSink delivers bot commands. notify.Dispatcher implements it.
type CommandSink interface {
	Dispatch(cmd notify.Command, bot strategy.Bot) bool
}

// Deps are the engine's collaborators. Nil fields get in-memory defaults or
// are skipped.
type Deps struct {
	Book     *strategy.Book
	Entry    *sniper.EntryGuard
	Exits    *sniper.ExitEngine
	History  *audit.History
	Sink     CommandSink
	Producer bus.Producer
	Store    persist.Store
	Metrics  *observability.Metrics
	Clock    func() time.Time
}

// Engine is the single writer of the tracked-token collection.
type Engine struct {
	config   Config
	book     *strategy.Book
	entry    *sniper.EntryGuard
	exits    *sniper.ExitEngine
	history  *audit.History
	sink     CommandSink
	producer bus.Producer
	store    persist.Store
	metrics  *observability.Metrics
	now      func() time.Time

	mu       sync.Mutex
	tokens   map[string]*surge.Token
	order    []*surge.Token // newest detection first
	solPrice float64
	filters  filter.Spec
	signals  map[string][]Signal
}

// New creates an engine.
func New(config Config, deps Deps) *Engine {
	def := DefaultConfig()
	if config.MaxTokens <= 0 {
		config.MaxTokens = def.MaxTokens
	}
	if config.TruncateRatio <= 0 || config.TruncateRatio > 1 {
		config.TruncateRatio = def.TruncateRatio
	}
	if config.MaxSignalsPerToken <= 0 {
		config.MaxSignalsPerToken = def.MaxSignalsPerToken
	}
	if config.InstanceID == "" {
		config.InstanceID = def.InstanceID
	}

	if deps.Book == nil {
		deps.Book = strategy.NewBook()
	}
	if deps.Entry == nil {
		deps.Entry = sniper.NewEntryGuard(sniper.DefaultEntryConfig())
	}
	if deps.Exits == nil {
		deps.Exits = sniper.NewExitEngine(sniper.DefaultExitConfig())
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics("")
	}
	if deps.History == nil {
		deps.History = audit.NewHistory(deps.Producer, nil, deps.Metrics, 0)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	e := &Engine{
		config:   config,
		book:     deps.Book,
		entry:    deps.Entry,
		exits:    deps.Exits,
		history:  deps.History,
		sink:     deps.Sink,
		producer: deps.Producer,
		store:    deps.Store,
		metrics:  deps.Metrics,
		now:      deps.Clock,
		tokens:   make(map[string]*surge.Token),
		solPrice: config.SolPriceUSD,
		filters:  filter.DefaultMainSpec(),
		signals:  make(map[string][]Signal),
	}
	if e.solPrice > 0 {
		e.metrics.SolPriceUSD.Set(e.solPrice)
	}
	return e
}

// Book returns the strategy and bot book.
func (e *Engine) Book() *strategy.Book { return e.book }

// History returns the decision history.
func (e *Engine) History() *audit.History { return e.history }

// ---------------------------------------------------------------------------
// Feed batches
// ---------------------------------------------------------------------------

// ApplyUpdates merges a batch of snapshots in array order, runs strategy
// matching for unbound tokens and exits for open positions, then applies the
// side effects of every decision. The whole batch is applied under one lock.
func (e *Engine) ApplyUpdates(ctx context.Context, snapshots []surge.Snapshot) []Decision {
	if len(snapshots) == 0 {
		return nil
	}
	start := time.Now()

	e.mu.Lock()
	now := e.now()
	var decisions []Decision
	for _, s := range snapshots {
		if s.TokenAddress == "" {
			continue
		}
		tok, ok := e.tokens[s.TokenAddress]
		if !ok {
			tok = surge.NewToken(s, now)
			e.tokens[s.TokenAddress] = tok
			e.order = append(e.order, tok)
			e.metrics.SnapshotsApplied.WithLabelValues("new").Inc()
		} else {
			kind := tok.Merge(s, now)
			e.metrics.SnapshotsApplied.WithLabelValues(string(kind)).Inc()
		}

		switch {
		case !tok.Bound():
			if d, matched := e.matchLocked(tok, now); matched {
				decisions = append(decisions, d)
			}
		case tok.Open():
			if d, sold := e.exitLocked(tok, now, false); sold {
				decisions = append(decisions, d)
			}
		}
	}
	surge.SortByDetection(e.order)
	e.truncateLocked()
	e.updateGaugesLocked()
	var snapshot []*surge.Token
	if e.store != nil && e.config.PersistTokens {
		snapshot = e.cloneOrderLocked()
	}
	e.mu.Unlock()

	e.metrics.BatchDuration.Observe(time.Since(start).Seconds())

	e.emit(ctx, decisions)
	if snapshot != nil {
		e.save(ctx, persist.SliceTokens, snapshot)
	}
	if len(decisions) > 0 {
		e.save(ctx, persist.SliceHistory, e.history.List(0))
	}
	return decisions
}

// matchLocked tries the enabled strategies by descending priority. The first
// matching strategy decides; the token is bound whether or not the entry
// guards accept. When that strategy's bot is missing the token stays unbound.
func (e *Engine) matchLocked(tok *surge.Token, now time.Time) (Decision, bool) {
	if e.solPrice <= 0 {
		return Decision{}, false
	}
	minAge := time.Duration(e.config.MinAgeSeconds) * time.Second
	maxAge := time.Duration(e.config.MaxAgeSeconds) * time.Second

	for _, strat := range e.book.Active() {
		spec := strat.Filters.WithDefaultTiming(minAge, maxAge)
		if !filter.Match(tok, spec, e.solPrice, now, true) {
			continue
		}
		bot, ok := e.book.Bot(strat.BotID)
		if !ok {
			log.Warn().
				Str("strategy", strat.Name).
				Str("bot_id", strat.BotID).
				Str("token", tok.Address()).
				Msg("engine: strategy matched but bot is missing, token left unbound")
			return Decision{}, false
		}
		estimate := filter.Derive(tok, spec, e.solPrice).EstimatedEntryMarketCapUSD
		return e.enterLocked(tok, strat, bot, estimate, now, false), true
	}
	return Decision{}, false
}

// enterLocked runs the entry guards and applies the outcome to tok.
func (e *Engine) enterLocked(tok *surge.Token, strat strategy.Strategy, bot strategy.Bot, estimate float64, now time.Time, manual bool) Decision {
	ed := e.entry.Attempt(tok, strat, e.solPrice, estimate)

	if manual {
		tok.StrategyID, tok.BotID = strat.ID, bot.ID
	} else {
		tok.Bind(strat.ID, bot.ID)
	}

	d := Decision{
		Kind:        DecisionNo,
		At:          now,
		Token:       tok.Clone(),
		Strategy:    strat,
		Bot:         bot,
		Entry:       &ed,
		Manual:      manual,
		SolPriceUSD: e.solPrice,
	}
	if ed.Accepted {
		tok.OpenPosition(now)
		d.Kind = DecisionBuy
		d.Token = tok.Clone()
		cmd := notify.Buy(tok.Address(), ed.TargetPriceK, strat.CommandPrefix(), strat.Amount)
		d.Command = &cmd
	}
	return d
}

// exitLocked folds the latest price into the after-buy peak and evaluates
// the exit conditions. A sell closes the position.
func (e *Engine) exitLocked(tok *surge.Token, now time.Time, manual bool) (Decision, bool) {
	tok.TrackAfterBuy()
	xd := e.exits.Evaluate(tok, e.solPrice, now, manual)
	if !xd.ShouldSell {
		return Decision{}, false
	}
	tok.ClosePosition(string(xd.Reason), now)

	d := Decision{
		Kind:        DecisionSell,
		At:          now,
		Token:       tok.Clone(),
		Exit:        &xd,
		Manual:      manual,
		SolPriceUSD: e.solPrice,
	}
	if strat, err := e.book.Get(tok.StrategyID); err == nil {
		d.Strategy = strat
	}
	bot, ok := e.book.Bot(tok.BotID)
	if !ok {
		log.Warn().
			Str("token", tok.Address()).
			Str("bot_id", tok.BotID).
			Msg("engine: position closed but bot is missing, no command sent")
		return d, true
	}
	d.Bot = bot
	cmd := notify.Sell(tok.Address(), bot.CommandPrefix(), string(xd.Reason))
	d.Command = &cmd
	return d, true
}

// truncateLocked keeps the newest TruncateRatio share of MaxTokens. Tokens
// with an open position are never evicted.
func (e *Engine) truncateLocked() {
	if len(e.order) <= e.config.MaxTokens {
		return
	}
	keep := int(float64(e.config.MaxTokens) * e.config.TruncateRatio)
	kept := e.order[:keep:keep]
	dropped := 0
	for _, tok := range e.order[keep:] {
		if tok.Open() {
			kept = append(kept, tok)
			continue
		}
		delete(e.tokens, tok.Address())
		delete(e.signals, tok.Address())
		dropped++
	}
	e.order = kept
	log.Info().Int("dropped", dropped).Int("kept", len(kept)).Msg("engine: token cap reached, oldest dropped")
}

func (e *Engine) updateGaugesLocked() {
	open := 0
	for _, tok := range e.order {
		if tok.Open() {
			open++
		}
	}
	e.metrics.TrackedTokens.Set(float64(len(e.order)))
	e.metrics.OpenPositions.Set(float64(open))
}

func (e *Engine) cloneOrderLocked() []*surge.Token {
	out := make([]*surge.Token, len(e.order))
	for i, tok := range e.order {
		out[i] = tok.Clone()
	}
	return out
}

// ---------------------------------------------------------------------------
// Manual trades
// ---------------------------------------------------------------------------

// ManualBuy runs the entry guards for addr under the manual strategy. A
// rejection is returned as a DecisionNo, not as an error.
func (e *Engine) ManualBuy(ctx context.Context, addr string) (Decision, error) {
	e.mu.Lock()
	tok, ok := e.tokens[addr]
	if !ok {
		e.mu.Unlock()
		return Decision{}, fmt.Errorf("%w: %s", ErrTokenNotFound, addr)
	}
	if tok.Open() {
		e.mu.Unlock()
		return Decision{}, fmt.Errorf("%w: %s", ErrPositionOpen, addr)
	}
	if e.solPrice <= 0 {
		e.mu.Unlock()
		return Decision{}, ErrNoSolPrice
	}
	strat, ok := e.book.Manual()
	if !ok {
		e.mu.Unlock()
		return Decision{}, ErrNoManualStrategy
	}
	bot, ok := e.book.Bot(strat.BotID)
	if !ok {
		e.mu.Unlock()
		return Decision{}, fmt.Errorf("%w: %s", ErrBotNotFound, strat.BotID)
	}
	// Manual buys are measured against the current market cap.
	d := e.enterLocked(tok, strat, bot, 0, e.now(), true)
	e.updateGaugesLocked()
	e.mu.Unlock()

	e.emit(ctx, []Decision{d})
	e.save(ctx, persist.SliceHistory, e.history.List(0))
	return d, nil
}

// ManualSell closes the open position on addr regardless of exit conditions.
func (e *Engine) ManualSell(ctx context.Context, addr string) (Decision, error) {
	e.mu.Lock()
	tok, ok := e.tokens[addr]
	if !ok {
		e.mu.Unlock()
		return Decision{}, fmt.Errorf("%w: %s", ErrTokenNotFound, addr)
	}
	if !tok.Open() {
		e.mu.Unlock()
		return Decision{}, fmt.Errorf("%w: %s", ErrNoPosition, addr)
	}
	d, _ := e.exitLocked(tok, e.now(), true)
	e.updateGaugesLocked()
	e.mu.Unlock()

	e.emit(ctx, []Decision{d})
	e.save(ctx, persist.SliceHistory, e.history.List(0))
	return d, nil
}

// ---------------------------------------------------------------------------
// Token collection
// ---------------------------------------------------------------------------

// SetSolPrice updates the SOL/USD price used by every evaluation.
func (e *Engine) SetSolPrice(ctx context.Context, price float64) error {
	if price <= 0 {
		return ErrInvalidPrice
	}
	e.mu.Lock()
	e.solPrice = price
	e.mu.Unlock()

	e.metrics.SolPriceUSD.Set(price)
	e.save(ctx, persist.SliceSolPrice, price)
	return nil
}

// SolPrice returns the current SOL/USD price, zero when unknown.
func (e *Engine) SolPrice() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.solPrice
}

// Tokens returns copies of the tracked tokens, newest detection first.
func (e *Engine) Tokens() []*surge.Token {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cloneOrderLocked()
}

// Token returns a copy of one tracked token.
func (e *Engine) Token(addr string) (*surge.Token, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tok, ok := e.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, addr)
	}
	return tok.Clone(), nil
}

// RemoveToken stops tracking addr.
func (e *Engine) RemoveToken(ctx context.Context, addr string) error {
	e.mu.Lock()
	if _, ok := e.tokens[addr]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTokenNotFound, addr)
	}
	delete(e.tokens, addr)
	delete(e.signals, addr)
	for i, tok := range e.order {
		if tok.Address() == addr {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.updateGaugesLocked()
	snapshot := e.cloneOrderLocked()
	e.mu.Unlock()

	e.saveTokens(ctx, snapshot)
	return nil
}

// ClearTokens drops every tracked token.
func (e *Engine) ClearTokens(ctx context.Context) {
	e.mu.Lock()
	e.tokens = make(map[string]*surge.Token)
	e.order = nil
	e.signals = make(map[string][]Signal)
	e.updateGaugesLocked()
	e.mu.Unlock()

	e.saveTokens(ctx, []*surge.Token{})
	e.save(ctx, persist.SliceSignals, map[string][]Signal{})
}

func (e *Engine) saveTokens(ctx context.Context, tokens []*surge.Token) {
	if e.config.PersistTokens {
		e.save(ctx, persist.SliceTokens, tokens)
	}
}
