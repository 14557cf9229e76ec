package strategy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/0xmuggle/cc-ax-bot/internal/filter"
)

// ManualName is the strategy name the dashboard reserves for manual trades.
const ManualName = "手动买卖"

var (
	// ErrNotFound is returned when a strategy or bot id is unknown.
	ErrNotFound = errors.New("strategy: not found")
	// ErrInvalid is returned when a strategy or bot fails validation.
	ErrInvalid = errors.New("strategy: invalid")
)

// Strategy binds a filter to a bot and a notional amount.
type Strategy struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Priority int         `json:"priority"` // 1-5, higher wins
	BotID    string      `json:"bot_id"`
	Amount   float64     `json:"amount"` // SOL
	Enabled  bool        `json:"enabled"`
	Manual   bool        `json:"manual,omitempty"`
	Prefix   string      `json:"command_prefix,omitempty"`
	Filters  filter.Spec `json:"filters"`
}

// IsManual reports whether the strategy drives manual buys instead of matching.
func (s Strategy) IsManual() bool {
	return s.Manual || s.Name == ManualName
}

// CommandPrefix returns the bot command prefix: the explicit prefix, or the
// part of the name after the first "-".
func (s Strategy) CommandPrefix() string {
	if s.Prefix != "" {
		return s.Prefix
	}
	return suffix(s.Name)
}

// Validate checks the fields the engine relies on.
func (s Strategy) Validate() error {
	switch {
	case strings.TrimSpace(s.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalid)
	case s.Priority < 1 || s.Priority > 5:
		return fmt.Errorf("%w: priority %d out of 1-5", ErrInvalid, s.Priority)
	case s.BotID == "":
		return fmt.Errorf("%w: bot is required", ErrInvalid)
	case s.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalid)
	}
	return nil
}

// Bot holds the credentials of a Telegram command channel.
type Bot struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	APIKey string `json:"api_key"`
	ChatID string `json:"chat_id"`
}

// CommandPrefix returns the part of the bot name after the first "-".
func (b Bot) CommandPrefix() string { return suffix(b.Name) }

// Validate checks that the bot can be delivered to.
func (b Bot) Validate() error {
	if strings.TrimSpace(b.Name) == "" || b.APIKey == "" || b.ChatID == "" {
		return fmt.Errorf("%w: bot needs name, api key and chat id", ErrInvalid)
	}
	return nil
}

func suffix(name string) string {
	parts := strings.Split(name, "-")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func newID() string {
	return uuid.New().String()[:12]
}
