package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Stats are per-strategy decision counters.
type Stats struct {
	StrategyID string `json:"strategy_id"`
	Name       string `json:"name"`
	Enabled    bool   `json:"enabled"`
	Accepted   int64  `json:"accepted"`
	Rejected   int64  `json:"rejected"`
}

// Book holds the configured strategies and bots.
type Book struct {
	mu         sync.RWMutex
	strategies []Strategy // insertion order
	bots       map[string]Bot
	botOrder   []string
	stats      map[string]*Stats
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{
		bots:  make(map[string]Bot),
		stats: make(map[string]*Stats),
	}
}

// Load replaces the book's content, typically from persisted slices.
func (b *Book) Load(strategies []Strategy, bots []Bot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.strategies = append([]Strategy(nil), strategies...)
	b.bots = make(map[string]Bot, len(bots))
	b.botOrder = b.botOrder[:0]
	for _, bot := range bots {
		if _, dup := b.bots[bot.ID]; !dup {
			b.botOrder = append(b.botOrder, bot.ID)
		}
		b.bots[bot.ID] = bot
	}
}

// Upsert adds a strategy or replaces the one with the same id. An empty id is
// assigned. The stored strategy is returned.
func (b *Book) Upsert(s Strategy) (Strategy, error) {
	if err := s.Validate(); err != nil {
		return Strategy{}, err
	}
	if s.ID == "" {
		s.ID = newID()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.strategies {
		if b.strategies[i].ID == s.ID {
			b.strategies[i] = s
			log.Info().Str("strategy_id", s.ID).Str("name", s.Name).Msg("strategy: updated")
			return s, nil
		}
	}
	b.strategies = append(b.strategies, s)
	log.Info().Str("strategy_id", s.ID).Str("name", s.Name).Int("priority", s.Priority).Msg("strategy: added")
	return s, nil
}

// Delete removes a strategy.
func (b *Book) Delete(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.strategies {
		if b.strategies[i].ID == id {
			b.strategies = append(b.strategies[:i], b.strategies[i+1:]...)
			delete(b.stats, id)
			return nil
		}
	}
	return fmt.Errorf("strategy %q: %w", id, ErrNotFound)
}

// Get returns a strategy by id.
func (b *Book) Get(id string) (Strategy, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.strategies {
		if s.ID == id {
			return s, nil
		}
	}
	return Strategy{}, fmt.Errorf("strategy %q: %w", id, ErrNotFound)
}

// List returns every strategy in insertion order.
func (b *Book) List() []Strategy {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Strategy(nil), b.strategies...)
}

// Active returns the enabled automatic strategies by descending priority.
// Equal priorities keep insertion order.
func (b *Book) Active() []Strategy {
	b.mu.RLock()
	out := make([]Strategy, 0, len(b.strategies))
	for _, s := range b.strategies {
		if s.Enabled && !s.IsManual() {
			out = append(out, s)
		}
	}
	b.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Manual returns the first enabled manual strategy.
func (b *Book) Manual() (Strategy, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.strategies {
		if s.Enabled && s.IsManual() {
			return s, true
		}
	}
	return Strategy{}, false
}

// UpsertBot adds or replaces a bot. An empty id is assigned.
func (b *Book) UpsertBot(bot Bot) (Bot, error) {
	if err := bot.Validate(); err != nil {
		return Bot{}, err
	}
	if bot.ID == "" {
		bot.ID = newID()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.bots[bot.ID]; !ok {
		b.botOrder = append(b.botOrder, bot.ID)
	}
	b.bots[bot.ID] = bot
	log.Info().Str("bot_id", bot.ID).Str("name", bot.Name).Msg("strategy: bot saved")
	return bot, nil
}

// DeleteBot removes a bot. Strategies referencing it are left as they are and
// skipped at match time.
func (b *Book) DeleteBot(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.bots[id]; !ok {
		return fmt.Errorf("bot %q: %w", id, ErrNotFound)
	}
	delete(b.bots, id)
	for i, bid := range b.botOrder {
		if bid == id {
			b.botOrder = append(b.botOrder[:i], b.botOrder[i+1:]...)
			break
		}
	}
	return nil
}

// Bot returns a bot by id.
func (b *Book) Bot(id string) (Bot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bot, ok := b.bots[id]
	return bot, ok
}

// Bots returns every bot in insertion order.
func (b *Book) Bots() []Bot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Bot, 0, len(b.botOrder))
	for _, id := range b.botOrder {
		out = append(out, b.bots[id])
	}
	return out
}

// Record counts an entry decision for a strategy.
func (b *Book) Record(id string, accepted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.stats[id]
	if !ok {
		st = &Stats{StrategyID: id}
		b.stats[id] = st
	}
	if accepted {
		st.Accepted++
	} else {
		st.Rejected++
	}
}

// Stats returns the counters of every strategy in insertion order.
func (b *Book) Stats() []Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Stats, 0, len(b.strategies))
	for _, s := range b.strategies {
		st := Stats{StrategyID: s.ID}
		if c, ok := b.stats[s.ID]; ok {
			st = *c
		}
		st.Name = s.Name
		st.Enabled = s.Enabled
		out = append(out, st)
	}
	return out
}
