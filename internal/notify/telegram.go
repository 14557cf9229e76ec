package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/0xmuggle/cc-ax-bot/internal/strategy"
)

// ErrRejected is returned when the Bot API answers with ok=false.
var ErrRejected = errors.New("notify: telegram rejected message")

// Sender delivers one text message to a bot's chat.
type Sender interface {
	Send(ctx context.Context, bot strategy.Bot, text string) error
}

// Config configures command delivery.
type Config struct {
	BaseURL     string `yaml:"base_url"`
	ProxyURL    string `yaml:"proxy_url"`
	TimeoutMs   int    `yaml:"timeout_ms"`
	MaxAttempts int    `yaml:"max_attempts"`
	BackoffMs   int    `yaml:"backoff_ms"`
	QueueSize   int    `yaml:"queue_size"`
	DryRun      bool   `yaml:"dry_run"` // log commands without sending
}

// DefaultConfig returns the delivery defaults: three attempts one second apart.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://api.telegram.org",
		TimeoutMs:   10_000,
		MaxAttempts: 3,
		BackoffMs:   1000,
		QueueSize:   256,
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// TelegramSender posts messages through the Telegram Bot API.
type TelegramSender struct {
	baseURL string
	client  *http.Client
}

// NewTelegramSender creates a sender, routing through ProxyURL when set.
func NewTelegramSender(cfg Config) (*TelegramSender, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultConfig().BaseURL
	}
	return &TelegramSender{
		baseURL: base,
		client:  &http.Client{Timeout: timeout, Transport: transport},
	}, nil
}

// Send posts text to the bot's chat.
func (s *TelegramSender) Send(ctx context.Context, bot strategy.Bot, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                bot.ChatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, bot.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var out sendMessageResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if !out.OK {
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, out.Description)
	}
	return nil
}
