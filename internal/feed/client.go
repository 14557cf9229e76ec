package feed

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/0xmuggle/cc-ax-bot/internal/observability"
)

const maxReconnectDelay = 30 * time.Second

// RelayClient dials a relay that forwards the extension's room messages and
// feeds them to an Ingestor. It reconnects with exponential backoff.
type RelayClient struct {
	config   Config
	ingestor *Ingestor
	metrics  *observability.Metrics

	mu   sync.Mutex
	conn *websocket.Conn

	connected  atomic.Bool
	reconnects atomic.Int64
}

// NewRelayClient creates a dial-mode client. metrics may be nil.
func NewRelayClient(config Config, ingestor *Ingestor, metrics *observability.Metrics) *RelayClient {
	if metrics == nil {
		metrics = ingestor.metrics
	}
	return &RelayClient{config: config, ingestor: ingestor, metrics: metrics}
}

// Run connects and reads until ctx is cancelled.
func (c *RelayClient) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("feed: relay loop panic recovered")
		}
		c.disconnect()
	}()

	baseDelay := time.Duration(c.config.ReconnectDelayMs) * time.Millisecond
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	delay := baseDelay
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.connect(ctx); err != nil {
			attempt++
			c.reconnects.Add(1)
			c.metrics.FeedReconnects.Inc()
			log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("feed: relay connection failed")

			select {
			case <-time.After(delay):
				delay *= 2
				if delay > maxReconnectDelay {
					delay = maxReconnectDelay
				}
			case <-ctx.Done():
				return
			}
			continue
		}

		attempt = 0
		delay = baseDelay
		c.readLoop(ctx)
		c.disconnect()
	}
}

// Connected reports whether the relay connection is up.
func (c *RelayClient) Connected() bool { return c.connected.Load() }

// Reconnects returns the number of failed connection attempts.
func (c *RelayClient) Reconnects() int64 { return c.reconnects.Load() }

func (c *RelayClient) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.config.RelayURL, http.Header{})
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", c.config.RelayURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)

	log.Info().Str("url", c.config.RelayURL).Msg("feed: relay connected")
	return nil
}

func (c *RelayClient) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)
}

func (c *RelayClient) readLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	pingInterval := time.Duration(c.config.PingIntervalS) * time.Second
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	readTimeout := time.Duration(c.config.ReadTimeoutS) * time.Second
	if readTimeout <= 0 {
		readTimeout = 60 * time.Second
	}

	// Pings go out from their own goroutine; ReadMessage blocks.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				c.mu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				c.mu.Unlock()
				if err != nil {
					log.Debug().Err(err).Msg("feed: relay ping failed")
					return
				}
			}
		}
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Info().Msg("feed: relay closed normally")
			} else {
				log.Warn().Err(err).Msg("feed: relay read error, reconnecting")
			}
			c.connected.Store(false)
			return
		}
		if err := c.ingestor.Submit(data); err != nil {
			log.Warn().Err(err).Msg("feed: relay message dropped")
		}
	}
}
