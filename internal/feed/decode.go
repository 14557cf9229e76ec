package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/0xmuggle/cc-ax-bot/internal/engine"
	"github.com/0xmuggle/cc-ax-bot/internal/surge"
)

// Rooms relayed by the browser extension.
const (
	RoomSurgeUpdates = "surge-updates"
	RoomSolPrice     = "sol_price"
	RoomSignal       = "fm_signal"
)

var (
	// ErrUnknownRoom is returned for rooms the service does not consume.
	ErrUnknownRoom = errors.New("feed: unknown room")
	// ErrMalformed is returned when a message cannot be decoded.
	ErrMalformed = errors.New("feed: malformed message")
)

// Message is one decoded room message. Exactly one payload field is set.
type Message struct {
	Room      string
	Snapshots []surge.Snapshot
	SolPrice  float64
	Signal    *engine.Signal
}

// envelope accepts {"room","content"}, the relay's {"data":{...}} wrapping
// and the extension's postMessage shape {"type","payload":{"room","content"}}.
type envelope struct {
	Type    string          `json:"type,omitempty"`
	Room    string          `json:"room"`
	Content json.RawMessage `json:"content"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

const (
	typeAxiom = "FROM_AXIOM_EXTENSION"
	typeFM    = "FROM_FM_EXTENSION"
)

type surgeUpdates struct {
	Updates []wireToken `json:"updates"`
}

type wireToken struct {
	SurgeData  wireSurgeData  `json:"surgeData"`
	SurgePrice wireSurgePrice `json:"surgePrice"`
}

type wireSurgeData struct {
	TokenAddress        string  `json:"tokenAddress"`
	TokenName           string  `json:"tokenName"`
	TokenTicker         string  `json:"tokenTicker"`
	Protocol            string  `json:"protocol"`
	Website             *string `json:"website"`
	Twitter             *string `json:"twitter"`
	Telegram            *string `json:"telegram"`
	Discord             *string `json:"discord"`
	Supply              float64 `json:"supply"`
	TransactionCount    int     `json:"transactionCount"`
	VolumeSol           float64 `json:"volumeSol"`
	MarketCapSol        float64 `json:"marketCapSol"`
	BuyCount            int     `json:"buyCount"`
	SellCount           int     `json:"sellCount"`
	LiquiditySol        float64 `json:"liquiditySol"`
	Top10HoldersPercent float64 `json:"top10HoldersPercent"`
	DevHoldsPercent     float64 `json:"devHoldsPercent"`
	BundlersHoldPercent float64 `json:"bundlersHoldPercent"`
	NumHolders          int     `json:"numHolders"`
	DetectedAt          string  `json:"detectedAt"`
	SurgedPrice         float64 `json:"surgedPrice"`
}

type wireSurgePrice struct {
	CurrentPriceSol float64 `json:"currentPriceSol"`
	MaxSurgedPrice  float64 `json:"maxSurgedPrice"`
}

type wireSignal struct {
	Name         string     `json:"name"`
	Type         string     `json:"type"`
	TokenName    string     `json:"tokenName"`
	TokenAddress string     `json:"tokenAddress"`
	MarketCap    flexNumber `json:"marketCap"` // thousands of USD
	Count        flexNumber `json:"count"`
	Amount       flexNumber `json:"amount"`
}

// flexNumber decodes a JSON number or a numeric string scraped from a page.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("number %q: %w", s, err)
	}
	*n = flexNumber(v)
	return nil
}

// Decode parses a raw room message. Detection times are converted to loc so
// that time-of-day filters read the local clock.
func Decode(data []byte, loc *time.Location, now time.Time) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Room == "" && env.Type == "" && len(env.Data) > 0 {
		var inner envelope
		if err := json.Unmarshal(env.Data, &inner); err != nil {
			return Message{}, fmt.Errorf("%w: data: %v", ErrMalformed, err)
		}
		env = inner
	}

	switch env.Type {
	case typeFM:
		return decodeSignal(env.Payload, now)
	case typeAxiom:
		var inner envelope
		if err := json.Unmarshal(env.Payload, &inner); err != nil {
			return Message{}, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
		}
		env = inner
	}

	switch env.Room {
	case RoomSurgeUpdates:
		return decodeSurge(env.Content, loc)
	case RoomSolPrice:
		var price float64
		if err := json.Unmarshal(env.Content, &price); err != nil {
			return Message{}, fmt.Errorf("%w: sol price: %v", ErrMalformed, err)
		}
		return Message{Room: RoomSolPrice, SolPrice: price}, nil
	case RoomSignal:
		return decodeSignal(env.Content, now)
	}
	return Message{}, fmt.Errorf("%w: %q", ErrUnknownRoom, env.Room)
}

func decodeSurge(raw json.RawMessage, loc *time.Location) (Message, error) {
	var content surgeUpdates
	if err := json.Unmarshal(raw, &content); err != nil {
		return Message{}, fmt.Errorf("%w: surge updates: %v", ErrMalformed, err)
	}

	msg := Message{Room: RoomSurgeUpdates, Snapshots: make([]surge.Snapshot, 0, len(content.Updates))}
	for _, u := range content.Updates {
		if u.SurgeData.TokenAddress == "" {
			continue
		}
		detected, err := time.Parse(time.RFC3339Nano, u.SurgeData.DetectedAt)
		if err != nil {
			return Message{}, fmt.Errorf("%w: detectedAt %q: %v", ErrMalformed, u.SurgeData.DetectedAt, err)
		}
		if loc != nil {
			detected = detected.In(loc)
		}
		msg.Snapshots = append(msg.Snapshots, u.snapshot(detected))
	}
	return msg, nil
}

func (u wireToken) snapshot(detected time.Time) surge.Snapshot {
	d := u.SurgeData
	return surge.Snapshot{
		TokenAddress:        d.TokenAddress,
		TokenTicker:         d.TokenTicker,
		TokenName:           d.TokenName,
		Protocol:            d.Protocol,
		DetectedAt:          detected,
		Supply:              d.Supply,
		MarketCapSol:        d.MarketCapSol,
		VolumeSol:           d.VolumeSol,
		LiquiditySol:        d.LiquiditySol,
		TransactionCount:    d.TransactionCount,
		BuyCount:            d.BuyCount,
		SellCount:           d.SellCount,
		NumHolders:          d.NumHolders,
		Top10HoldersPercent: d.Top10HoldersPercent,
		DevHoldsPercent:     d.DevHoldsPercent,
		BundlersHoldPercent: d.BundlersHoldPercent,
		Website:             deref(d.Website),
		Twitter:             deref(d.Twitter),
		Telegram:            deref(d.Telegram),
		Discord:             deref(d.Discord),
		SurgedPrice:         d.SurgedPrice,
		CurrentPriceSol:     u.SurgePrice.CurrentPriceSol,
		MaxSurgedPrice:      u.SurgePrice.MaxSurgedPrice,
	}
}

func decodeSignal(raw json.RawMessage, now time.Time) (Message, error) {
	var w wireSignal
	if err := json.Unmarshal(raw, &w); err != nil {
		return Message{}, fmt.Errorf("%w: signal: %v", ErrMalformed, err)
	}
	if w.TokenAddress == "" {
		return Message{}, fmt.Errorf("%w: signal without token address", ErrMalformed)
	}
	return Message{
		Room: RoomSignal,
		Signal: &engine.Signal{
			TokenAddress: w.TokenAddress,
			Name:         w.Name,
			Type:         w.Type,
			TokenName:    w.TokenName,
			MarketCapK:   float64(w.MarketCap),
			Count:        int(w.Count),
			Amount:       float64(w.Amount),
			SeenAt:       now,
		},
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
