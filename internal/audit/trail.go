package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/0xmuggle/cc-ax-bot/internal/bus"
	"github.com/0xmuggle/cc-ax-bot/internal/observability"
)

// DefaultMaxEntries caps the in-memory history.
const DefaultMaxEntries = 5000

// Status values of a history entry.
const (
	StatusBuy  = "buy"
	StatusSell = "sell"
	StatusNo   = "no"
)

// Entry is one line of the decision history. Amount is the SOL size for
// buy entries and the exit gain multiple for sell entries.
type Entry struct {
	ID                 string    `json:"id"`
	Timestamp          time.Time `json:"timestamp"`
	TokenAddress       string    `json:"token_address"`
	TokenTicker        string    `json:"token_ticker"`
	StrategyName       string    `json:"strategy_name"`
	MarketCapAtTrigger float64   `json:"market_cap_at_trigger"`
	EstimateAtTrigger  float64   `json:"estimate_at_trigger"`
	Description        string    `json:"description"`
	Amount             float64   `json:"amount"`
	Status             string    `json:"status"` // buy|sell|no
	Reason             string    `json:"reason,omitempty"`
}

// Sink receives every appended entry, e.g. the ClickHouse writer.
type Sink interface {
	WriteEntry(ctx context.Context, e Entry) error
}

// History is an append-only log, newest first. Once the cap is reached the
// oldest entries are discarded. Every entry is also published to the history
// topic and handed to the optional sink.
type History struct {
	mu       sync.RWMutex
	producer bus.Producer
	sink     Sink
	metrics  *observability.Metrics
	entries  []Entry
	maxBuf   int
}

// NewHistory creates a history capped at maxBuf entries (DefaultMaxEntries
// when maxBuf <= 0). producer, sink and metrics may be nil.
func NewHistory(producer bus.Producer, sink Sink, metrics *observability.Metrics, maxBuf int) *History {
	if maxBuf <= 0 {
		maxBuf = DefaultMaxEntries
	}
	return &History{
		producer: producer,
		sink:     sink,
		metrics:  metrics,
		entries:  make([]Entry, 0, 64),
		maxBuf:   maxBuf,
	}
}

// Append records e at the head of the log, filling ID and Timestamp when
// empty, and returns the stored entry.
func (h *History) Append(ctx context.Context, e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	h.mu.Lock()
	h.entries = append(h.entries, Entry{})
	copy(h.entries[1:], h.entries)
	h.entries[0] = e
	if len(h.entries) > h.maxBuf {
		h.entries = h.entries[:h.maxBuf]
	}
	n := len(h.entries)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.HistoryEntries.Set(float64(n))
	}

	if h.producer != nil {
		if err := h.producer.PublishJSON(ctx, bus.TopicHistory, e.TokenAddress, e); err != nil {
			log.Error().Err(err).Str("token", e.TokenAddress).Msg("history: publish failed")
			if h.metrics != nil {
				h.metrics.PublishErrors.WithLabelValues(bus.TopicHistory).Inc()
			}
		}
	}
	if h.sink != nil {
		if err := h.sink.WriteEntry(ctx, e); err != nil {
			log.Warn().Err(err).Str("id", e.ID).Msg("history: sink write failed")
		}
	}
	return e
}

// Load replaces the log with persisted entries, which are expected newest first.
func (h *History) Load(entries []Entry) {
	if len(entries) > h.maxBuf {
		entries = entries[:h.maxBuf]
	}
	h.mu.Lock()
	h.entries = append(make([]Entry, 0, len(entries)), entries...)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.HistoryEntries.Set(float64(len(entries)))
	}
}

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (h *History) List(limit int) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := len(h.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, n)
	copy(out, h.entries[:n])
	return out
}

// ForToken returns the entries for one token address, newest first.
func (h *History) ForToken(address string) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Entry
	for _, e := range h.entries {
		if e.TokenAddress == address {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
