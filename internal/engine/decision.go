package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/0xmuggle/cc-ax-bot/internal/audit"
	"github.com/0xmuggle/cc-ax-bot/internal/bus"
	"github.com/0xmuggle/cc-ax-bot/internal/notify"
	"github.com/0xmuggle/cc-ax-bot/internal/persist"
	"github.com/0xmuggle/cc-ax-bot/internal/sniper"
	"github.com/0xmuggle/cc-ax-bot/internal/strategy"
	"github.com/0xmuggle/cc-ax-bot/internal/surge"
)

// DecisionKind is the history status of a decision.
type DecisionKind string

const (
	DecisionBuy  DecisionKind = audit.StatusBuy
	DecisionNo   DecisionKind = audit.StatusNo
	DecisionSell DecisionKind = audit.StatusSell
)

// Decision is what the engine decided for one token. State has already been
// mutated when a Decision is returned; the side effects follow from it.
type Decision struct {
	Kind        DecisionKind          `json:"kind"`
	At          time.Time             `json:"at"`
	Token       *surge.Token          `json:"token"`
	Strategy    strategy.Strategy     `json:"strategy"`
	Bot         strategy.Bot          `json:"-"`
	Entry       *sniper.EntryDecision `json:"entry,omitempty"`
	Exit        *sniper.ExitDecision  `json:"exit,omitempty"`
	Command     *notify.Command       `json:"-"`
	Manual      bool                  `json:"manual,omitempty"`
	SolPriceUSD float64               `json:"sol_price_usd"`
}

// Description is the human-readable outcome.
func (d Decision) Description() string {
	switch {
	case d.Entry != nil:
		return d.Entry.Description
	case d.Exit != nil:
		return d.Exit.Description
	}
	return ""
}

// Reason is the guard or exit tag, empty for an accepted entry.
func (d Decision) Reason() string {
	switch {
	case d.Entry != nil:
		return string(d.Entry.Reason)
	case d.Exit != nil:
		return string(d.Exit.Reason)
	}
	return ""
}

// HistoryEntry renders the decision as a history line. Sell entries are
// labelled with the bot that received the command and carry the gain
// multiple as their amount.
func (d Decision) HistoryEntry() audit.Entry {
	e := audit.Entry{
		Timestamp:    d.At,
		TokenAddress: d.Token.Address(),
		TokenTicker:  d.Token.Current.TokenTicker,
		StrategyName: d.Strategy.Name,
		Description:  d.Description(),
		Status:       string(d.Kind),
		Reason:       d.Reason(),
	}
	switch {
	case d.Entry != nil:
		e.MarketCapAtTrigger = d.Entry.CurrentMarketCapUSD
		e.EstimateAtTrigger = d.Entry.EstimatedEntryMarketCapUSD
		e.Amount = d.Strategy.Amount
	case d.Exit != nil:
		if d.Bot.Name != "" {
			e.StrategyName = d.Bot.Name
		}
		e.MarketCapAtTrigger = d.Exit.ExitMarketCapUSD
		e.EstimateAtTrigger = d.Exit.EntryMarketCapUSD
		e.Amount = d.Exit.Gain
	}
	return e
}

func (d Decision) event(producer string) bus.DecisionEvent {
	ev := bus.DecisionEvent{
		BaseEvent:    bus.NewBaseEvent(producer, d.At),
		Kind:         string(d.Kind),
		TokenAddress: d.Token.Address(),
		TokenTicker:  d.Token.Current.TokenTicker,
		StrategyID:   d.Strategy.ID,
		StrategyName: d.Strategy.Name,
		BotID:        d.Bot.ID,
		Reason:       d.Reason(),
		SolPriceUSD:  d.SolPriceUSD,
		Manual:       d.Manual,
	}
	if d.Command != nil {
		ev.Command = d.Command.String()
	}
	switch {
	case d.Entry != nil:
		ev.MarketCapUSD = d.Entry.CurrentMarketCapUSD
		ev.EstimateUSD = d.Entry.EstimatedEntryMarketCapUSD
		ev.PeakUSD = d.Entry.PeakMarketCapUSD
	case d.Exit != nil:
		ev.MarketCapUSD = d.Exit.ExitMarketCapUSD
		ev.EstimateUSD = d.Exit.EntryMarketCapUSD
		ev.PeakUSD = d.Exit.PeakMarketCapUSD
		ev.Gain = d.Exit.Gain
		ev.HoldSeconds = d.Exit.HoldFor.Seconds()
	}
	return ev
}

// emit appends history, queues the bot command and publishes each decision.
// It runs without the engine lock held.
func (e *Engine) emit(ctx context.Context, decisions []Decision) {
	for _, d := range decisions {
		switch d.Kind {
		case DecisionBuy, DecisionNo:
			e.book.Record(d.Strategy.ID, d.Kind == DecisionBuy)
			e.metrics.Entries.WithLabelValues(string(d.Kind), d.Reason()).Inc()
		case DecisionSell:
			e.metrics.Exits.WithLabelValues(d.Reason()).Inc()
		}

		stored := e.history.Append(ctx, d.HistoryEntry())

		if d.Command != nil && e.sink != nil {
			e.sink.Dispatch(*d.Command, d.Bot)
		}

		if e.producer != nil {
			if err := e.producer.PublishJSON(ctx, bus.TopicDecisions, d.Token.Address(), d.event(e.config.InstanceID)); err != nil {
				e.metrics.PublishErrors.WithLabelValues(bus.TopicDecisions).Inc()
				log.Error().Err(err).Str("token", d.Token.Address()).Msg("engine: publish decision failed")
			}
		}

		log.Info().
			Str("kind", string(d.Kind)).
			Str("token", d.Token.Address()).
			Str("ticker", d.Token.Current.TokenTicker).
			Str("strategy", d.Strategy.Name).
			Str("reason", d.Reason()).
			Str("history_id", stored.ID).
			Str("description", stored.Description).
			Msg("engine: decision applied")
	}
}

// save writes one slice. Failures are logged and counted, never returned to
// the feed path.
func (e *Engine) save(ctx context.Context, slice string, v any) {
	if e.store == nil {
		return
	}
	if err := e.store.Save(ctx, slice, v); err != nil {
		e.metrics.PersistErrors.WithLabelValues(slice).Inc()
		log.Error().Err(err).Str("slice", slice).Msg("engine: persist failed")
	}
}

// load reads one slice, treating a missing slice as empty.
func (e *Engine) load(ctx context.Context, slice string, dst any) (bool, error) {
	err := e.store.Load(ctx, slice, dst)
	if errors.Is(err, persist.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
