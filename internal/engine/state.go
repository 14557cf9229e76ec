package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/0xmuggle/cc-ax-bot/internal/audit"
	"github.com/0xmuggle/cc-ax-bot/internal/filter"
	"github.com/0xmuggle/cc-ax-bot/internal/persist"
	"github.com/0xmuggle/cc-ax-bot/internal/strategy"
	"github.com/0xmuggle/cc-ax-bot/internal/surge"
)

// Signal is a repeat-signal row pushed by the smart-money page.
type Signal struct {
	TokenAddress string    `json:"token_address"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	TokenName    string    `json:"token_name"`
	MarketCapK   float64   `json:"market_cap_k"`
	Count        int       `json:"count"`
	Amount       float64   `json:"amount"`
	SeenAt       time.Time `json:"seen_at"`
}

// Restore loads every persisted slice. Missing slices are skipped.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	var (
		sol        float64
		strategies []strategy.Strategy
		bots       []strategy.Bot
		history    []audit.Entry
		filters    filter.Spec
		tokens     []*surge.Token
		signals    map[string][]Signal
	)
	slices := []struct {
		name string
		dst  any
	}{
		{persist.SliceSolPrice, &sol},
		{persist.SliceStrategies, &strategies},
		{persist.SliceBots, &bots},
		{persist.SliceHistory, &history},
		{persist.SliceFilters, &filters},
		{persist.SliceTokens, &tokens},
		{persist.SliceSignals, &signals},
	}
	found := make(map[string]bool, len(slices))
	for _, s := range slices {
		ok, err := e.load(ctx, s.name, s.dst)
		if err != nil {
			return fmt.Errorf("restore %s: %w", s.name, err)
		}
		found[s.name] = ok
	}

	e.book.Load(strategies, bots)
	e.history.Load(history)

	e.mu.Lock()
	if sol > 0 {
		e.solPrice = sol
		e.metrics.SolPriceUSD.Set(sol)
	}
	if found[persist.SliceFilters] {
		e.filters = filters
	}
	e.tokens = make(map[string]*surge.Token, len(tokens))
	e.order = e.order[:0]
	for _, tok := range tokens {
		if tok == nil || tok.Address() == "" {
			continue
		}
		if _, dup := e.tokens[tok.Address()]; dup {
			continue
		}
		e.tokens[tok.Address()] = tok
		e.order = append(e.order, tok)
	}
	surge.SortByDetection(e.order)
	if signals != nil {
		e.signals = signals
	}
	e.updateGaugesLocked()
	e.mu.Unlock()

	log.Info().
		Int("strategies", len(strategies)).
		Int("bots", len(bots)).
		Int("history", len(history)).
		Int("tokens", len(e.order)).
		Float64("sol_price", sol).
		Msg("engine: state restored")
	return nil
}

// ---------------------------------------------------------------------------
// Strategy and bot configuration
// ---------------------------------------------------------------------------

// UpsertStrategy validates, stores and persists a strategy.
func (e *Engine) UpsertStrategy(ctx context.Context, s strategy.Strategy) (strategy.Strategy, error) {
	e.mu.Lock()
	stored, err := e.book.Upsert(s)
	e.mu.Unlock()
	if err != nil {
		return strategy.Strategy{}, err
	}
	e.save(ctx, persist.SliceStrategies, e.book.List())
	return stored, nil
}

// DeleteStrategy removes a strategy. Tokens bound to it keep their binding.
func (e *Engine) DeleteStrategy(ctx context.Context, id string) error {
	e.mu.Lock()
	err := e.book.Delete(id)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.save(ctx, persist.SliceStrategies, e.book.List())
	return nil
}

// UpsertBot validates, stores and persists a bot.
func (e *Engine) UpsertBot(ctx context.Context, b strategy.Bot) (strategy.Bot, error) {
	e.mu.Lock()
	stored, err := e.book.UpsertBot(b)
	e.mu.Unlock()
	if err != nil {
		return strategy.Bot{}, err
	}
	e.save(ctx, persist.SliceBots, e.book.Bots())
	return stored, nil
}

// DeleteBot removes a bot.
func (e *Engine) DeleteBot(ctx context.Context, id string) error {
	e.mu.Lock()
	err := e.book.DeleteBot(id)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.save(ctx, persist.SliceBots, e.book.Bots())
	return nil
}

// ---------------------------------------------------------------------------
// Main filter and read model
// ---------------------------------------------------------------------------

// Filters returns the dashboard's main filter.
func (e *Engine) Filters() filter.Spec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filters
}

// SetFilters replaces the main filter.
func (e *Engine) SetFilters(ctx context.Context, spec filter.Spec) {
	e.mu.Lock()
	e.filters = spec
	e.mu.Unlock()
	e.save(ctx, persist.SliceFilters, spec)
}

// ResetFilters restores the default main filter.
func (e *Engine) ResetFilters(ctx context.Context) filter.Spec {
	spec := filter.DefaultMainSpec()
	e.SetFilters(ctx, spec)
	return spec
}

// TokenView is one row of the read model.
type TokenView struct {
	Token        *surge.Token   `json:"token"`
	MarketCapUSD float64        `json:"market_cap_usd"`
	Metrics      filter.Metrics `json:"metrics"`
	HighMultiple bool           `json:"is_high_multiple"`
	Signals      int            `json:"signals"`
}

// View is the dashboard read model.
type View struct {
	Tokens            []TokenView `json:"tokens"`
	Total             int         `json:"total"`
	HighMultipleCount int         `json:"high_multiple_count"`
	SolPriceUSD       float64     `json:"sol_price_usd"`
}

// View returns the tracked tokens newest first. With useMainFilter only the
// tokens passing the main filter are listed; timing is not enforced.
func (e *Engine) View(useMainFilter bool) View {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	v := View{
		Tokens:      make([]TokenView, 0, len(e.order)),
		Total:       len(e.order),
		SolPriceUSD: e.solPrice,
	}
	for _, tok := range e.order {
		if useMainFilter && !filter.Match(tok, e.filters, e.solPrice, now, false) {
			continue
		}
		tv := TokenView{
			Token:        tok.Clone(),
			MarketCapUSD: tok.CurrentMarketCapUSD(e.solPrice),
			Metrics:      filter.Derive(tok, e.filters, e.solPrice),
			HighMultiple: filter.IsHighMultiple(tok, e.filters),
			Signals:      len(e.signals[tok.Address()]),
		}
		if tv.HighMultiple {
			v.HighMultipleCount++
		}
		v.Tokens = append(v.Tokens, tv)
	}
	return v
}

// ---------------------------------------------------------------------------
// Repeat signals
// ---------------------------------------------------------------------------

// AddSignal records a signal for its token, newest first, capped per token.
func (e *Engine) AddSignal(ctx context.Context, s Signal) error {
	if s.TokenAddress == "" {
		return fmt.Errorf("%w: signal without token address", ErrTokenNotFound)
	}
	if s.SeenAt.IsZero() {
		s.SeenAt = e.now()
	}

	e.mu.Lock()
	list := append([]Signal{s}, e.signals[s.TokenAddress]...)
	if len(list) > e.config.MaxSignalsPerToken {
		list = list[:e.config.MaxSignalsPerToken]
	}
	e.signals[s.TokenAddress] = list
	snapshot := make(map[string][]Signal, len(e.signals))
	for k, v := range e.signals {
		snapshot[k] = v
	}
	e.mu.Unlock()

	e.save(ctx, persist.SliceSignals, snapshot)
	return nil
}

// Signals returns the signals of one token, newest first.
func (e *Engine) Signals(addr string) []Signal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Signal(nil), e.signals[addr]...)
}
