package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/0xmuggle/cc-ax-bot/internal/engine"
	"github.com/0xmuggle/cc-ax-bot/internal/observability"
	"github.com/0xmuggle/cc-ax-bot/internal/surge"
)

// Config configures feed ingestion.
type Config struct {
	ListenPath       string `yaml:"listen_path"`
	RelayURL         string `yaml:"relay_url"` // empty disables dial mode
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms"`
	PingIntervalS    int    `yaml:"ping_interval_s"`
	ReadTimeoutS     int    `yaml:"read_timeout_s"`
	QueueSize        int    `yaml:"queue_size"`
	Timezone         string `yaml:"timezone"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		ListenPath:       "/ws/feed",
		ReconnectDelayMs: 1000,
		PingIntervalS:    30,
		ReadTimeoutS:     60,
		QueueSize:        256,
		Timezone:         "Local",
	}
}

// Location resolves the configured timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Target is the engine surface fed by the ingestor.
type Target interface {
	ApplyUpdates(ctx context.Context, snapshots []surge.Snapshot) []engine.Decision
	SetSolPrice(ctx context.Context, price float64) error
	AddSignal(ctx context.Context, s engine.Signal) error
}

// ErrQueueFull is returned when the ingest queue cannot accept a message.
var ErrQueueFull = errors.New("feed: queue full")

// Ingestor decodes raw messages and applies them to the engine from a single
// goroutine, so batches are applied in arrival order.
type Ingestor struct {
	target  Target
	loc     *time.Location
	metrics *observability.Metrics
	now     func() time.Time

	queue chan []byte
	once  sync.Once
	done  chan struct{}

	received atomic.Int64
	applied  atomic.Int64
	dropped  atomic.Int64
}

// NewIngestor creates an ingestor. metrics may be nil.
func NewIngestor(target Target, loc *time.Location, queueSize int, metrics *observability.Metrics) *Ingestor {
	if queueSize <= 0 {
		queueSize = DefaultConfig().QueueSize
	}
	if loc == nil {
		loc = time.Local
	}
	if metrics == nil {
		metrics = observability.NewMetrics("axbot")
	}
	return &Ingestor{
		target:  target,
		loc:     loc,
		metrics: metrics,
		now:     time.Now,
		queue:   make(chan []byte, queueSize),
		done:    make(chan struct{}),
	}
}

// Submit queues a raw message without blocking.
func (in *Ingestor) Submit(data []byte) error {
	in.received.Add(1)
	select {
	case in.queue <- data:
		return nil
	default:
		in.dropped.Add(1)
		in.metrics.FeedErrors.WithLabelValues("queue_full").Inc()
		return ErrQueueFull
	}
}

// Enqueue queues a raw message, waiting for room until ctx is done.
func (in *Ingestor) Enqueue(ctx context.Context, data []byte) error {
	in.received.Add(1)
	select {
	case in.queue <- data:
		return nil
	case <-ctx.Done():
		in.dropped.Add(1)
		return ctx.Err()
	}
}

// Run drains the queue until ctx is cancelled.
func (in *Ingestor) Run(ctx context.Context) {
	defer in.once.Do(func() { close(in.done) })
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-in.queue:
			in.Handle(ctx, data)
		}
	}
}

// Done is closed when Run returns.
func (in *Ingestor) Done() <-chan struct{} { return in.done }

// Handle decodes and applies one message synchronously.
func (in *Ingestor) Handle(ctx context.Context, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			in.metrics.FeedErrors.WithLabelValues("panic").Inc()
			log.Error().Interface("panic", r).Msg("feed: handle panic recovered")
		}
	}()

	msg, err := Decode(data, in.loc, in.now())
	if err != nil {
		kind := "malformed"
		if errors.Is(err, ErrUnknownRoom) {
			kind = "unknown_room"
		}
		in.metrics.FeedErrors.WithLabelValues(kind).Inc()
		log.Debug().Err(err).Msg("feed: message dropped")
		return
	}
	in.metrics.FeedMessages.WithLabelValues(msg.Room).Inc()

	switch msg.Room {
	case RoomSurgeUpdates:
		decisions := in.target.ApplyUpdates(ctx, msg.Snapshots)
		if len(decisions) > 0 {
			log.Debug().Int("snapshots", len(msg.Snapshots)).Int("decisions", len(decisions)).Msg("feed: batch applied")
		}
	case RoomSolPrice:
		if err := in.target.SetSolPrice(ctx, msg.SolPrice); err != nil {
			in.metrics.FeedErrors.WithLabelValues("sol_price").Inc()
			log.Warn().Err(err).Float64("price", msg.SolPrice).Msg("feed: sol price rejected")
			return
		}
	case RoomSignal:
		if err := in.target.AddSignal(ctx, *msg.Signal); err != nil {
			in.metrics.FeedErrors.WithLabelValues("signal").Inc()
			log.Warn().Err(err).Msg("feed: signal rejected")
			return
		}
	}
	in.applied.Add(1)
}

// Stats returns received, applied and dropped message counts.
func (in *Ingestor) Stats() (received, applied, dropped int64) {
	return in.received.Load(), in.applied.Load(), in.dropped.Load()
}
