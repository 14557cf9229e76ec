package bus

import (
	"time"

	"github.com/google/uuid"
)

// Topic names. Pattern: axbot.<entity>.
const (
	TopicFeed      = "axbot.feed"      // relayed extension room messages
	TopicDecisions = "axbot.decisions" // buy, no and sell decisions
	TopicHistory   = "axbot.history"   // history log entries
	TopicHeartbeat = "axbot.heartbeat"
)

// BaseEvent contains fields common to all events.
type BaseEvent struct {
	EventID       string    `json:"event_id"`
	Timestamp     time.Time `json:"ts"`
	SchemaVersion string    `json:"schema_version"`
	Producer      string    `json:"producer"`
}

// NewBaseEvent creates a new BaseEvent with a generated id.
func NewBaseEvent(producer string, ts time.Time) BaseEvent {
	return BaseEvent{
		EventID:       uuid.New().String(),
		Timestamp:     ts,
		SchemaVersion: "1.0.0",
		Producer:      producer,
	}
}

// DecisionEvent is published for every entry or exit decision.
type DecisionEvent struct {
	BaseEvent
	Kind         string  `json:"kind"` // buy|no|sell
	TokenAddress string  `json:"token_address"`
	TokenTicker  string  `json:"token_ticker"`
	StrategyID   string  `json:"strategy_id,omitempty"`
	StrategyName string  `json:"strategy_name,omitempty"`
	BotID        string  `json:"bot_id,omitempty"`
	Reason       string  `json:"reason,omitempty"`
	MarketCapUSD float64 `json:"market_cap_usd"`
	EstimateUSD  float64 `json:"estimate_usd,omitempty"`
	PeakUSD      float64 `json:"peak_usd,omitempty"`
	Gain         float64 `json:"gain,omitempty"`
	HoldSeconds  float64 `json:"hold_seconds,omitempty"`
	Command      string  `json:"command,omitempty"`
	SolPriceUSD  float64 `json:"sol_price_usd"`
	Manual       bool    `json:"manual,omitempty"`
}

// Heartbeat reports service liveness with a few headline counters.
type Heartbeat struct {
	BaseEvent
	Component string             `json:"component"`
	Status    string             `json:"status"` // healthy|degraded|unhealthy
	Uptime    float64            `json:"uptime_seconds"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}
