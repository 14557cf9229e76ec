package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/0xmuggle/cc-ax-bot/internal/observability"
	"github.com/0xmuggle/cc-ax-bot/internal/strategy"
)

// Stats counts dispatcher outcomes.
type Stats struct {
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Attempts  int64 `json:"attempts"`
}

type job struct {
	cmd Command
	bot strategy.Bot
}

// Dispatcher delivers commands on a background worker so callers never wait
// on the network. Commands are sent in enqueue order. Delivery is best
// effort: after MaxAttempts the command is logged and dropped.
type Dispatcher struct {
	sender  Sender
	config  Config
	metrics *observability.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	attempts  atomic.Int64
}

// NewDispatcher creates a dispatcher. Call Start before Dispatch.
func NewDispatcher(sender Sender, config Config, metrics *observability.Metrics) *Dispatcher {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	return &Dispatcher{
		sender:  sender,
		config:  config,
		metrics: metrics,
		queue:   make(chan job, config.QueueSize),
	}
}

// Start launches the delivery worker. It exits when Close drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for j := range d.queue {
			d.deliver(ctx, j)
		}
	}()
}

// Dispatch enqueues a command without blocking. It reports false when the
// queue is full or the dispatcher is closed.
func (d *Dispatcher) Dispatch(cmd Command, bot strategy.Bot) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(cmd, "closed")
		return false
	}
	select {
	case d.queue <- job{cmd: cmd, bot: bot}:
		return true
	default:
		d.drop(cmd, "queue_full")
		return false
	}
}

// Close stops accepting commands and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Stats returns the outcome counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
		Attempts:  d.attempts.Load(),
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	text := j.cmd.String()

	if d.config.DryRun {
		log.Info().Str("bot", j.bot.Name).Str("command", text).Msg("notify: DRY RUN command")
		d.delivered.Add(1)
		d.metrics.Notifications.WithLabelValues(string(j.cmd.Action), "dry_run").Inc()
		return
	}

	backoff := time.Duration(d.config.BackoffMs) * time.Millisecond
	var err error
	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		d.attempts.Add(1)
		d.metrics.NotifyAttempts.Inc()

		if err = d.sender.Send(ctx, j.bot, text); err == nil {
			d.delivered.Add(1)
			d.metrics.Notifications.WithLabelValues(string(j.cmd.Action), "delivered").Inc()
			log.Info().
				Str("bot", j.bot.Name).
				Str("command", text).
				Str("reason", j.cmd.Reason).
				Int("attempt", attempt).
				Msg("notify: command delivered")
			return
		}

		log.Warn().Err(err).
			Str("bot", j.bot.Name).
			Str("token", j.cmd.TokenAddress).
			Int("attempt", attempt).
			Msg("notify: delivery attempt failed")

		if attempt == d.config.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			attempt = d.config.MaxAttempts
		case <-time.After(backoff):
		}
	}

	d.failed.Add(1)
	d.metrics.Notifications.WithLabelValues(string(j.cmd.Action), "failed").Inc()
	log.Error().Err(err).
		Str("bot", j.bot.Name).
		Str("command", text).
		Msg("notify: command lost after retries")
}

func (d *Dispatcher) drop(cmd Command, why string) {
	d.dropped.Add(1)
	d.metrics.Notifications.WithLabelValues(string(cmd.Action), "dropped").Inc()
	log.Warn().Str("token", cmd.TokenAddress).Str("why", why).Msg("notify: command dropped")
}
