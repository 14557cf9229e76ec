package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/0xmuggle/cc-ax-bot/internal/audit"
	"github.com/0xmuggle/cc-ax-bot/internal/observability"
)

// TableHistory holds one row per history entry.
const TableHistory = "axbot_history"

// FlushHook replaces the ClickHouse insert, used in tests.
type FlushHook func(ctx context.Context, table string, rows [][]any) error

// BatchWriter batches history rows and flushes to ClickHouse periodically
// or when the batch is full.
type BatchWriter struct {
	client        *Client
	database      string
	batchSize     int
	flushInterval time.Duration
	metrics       *observability.Metrics
	hook          FlushHook

	mu         sync.Mutex
	buf        []audit.Entry
	closed     bool
	flushCount int64
	errorCount int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBatchWriter creates a batch writer that flushes on size or interval.
func NewBatchWriter(client *Client, database string, batchSize int, flushInterval time.Duration) *BatchWriter {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	return &BatchWriter{
		client:        client,
		database:      database,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		buf:           make([]audit.Entry, 0, batchSize),
	}
}

// SetFlushHook routes flushes to hook instead of ClickHouse.
func (w *BatchWriter) SetFlushHook(hook FlushHook) {
	w.hook = hook
}

// SetMetrics attaches row and error counters.
func (w *BatchWriter) SetMetrics(m *observability.Metrics) {
	w.metrics = m
}

// WriteEntry adds a history entry to the buffer, flushing when the batch is full.
func (w *BatchWriter) WriteEntry(ctx context.Context, e audit.Entry) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("writer is closed")
	}
	w.buf = append(w.buf, e)
	full := len(w.buf) >= w.batchSize
	w.mu.Unlock()

	if full {
		return w.Flush(ctx)
	}
	return nil
}

// Start launches the background flush loop. Close stops it.
func (w *BatchWriter) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	log.Info().
		Int("batch_size", w.batchSize).
		Dur("flush_interval", w.flushInterval).
		Msg("clickhouse: batch writer started")

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.Flush(ctx); err != nil {
					log.Error().Err(err).Msg("clickhouse: periodic flush failed")
				}
			}
		}
	}()
}

// Flush writes all buffered rows.
func (w *BatchWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	entries := w.buf
	w.buf = make([]audit.Entry, 0, w.batchSize)
	w.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, entryRow(e))
	}

	err := w.insert(ctx, qualify(w.database, TableHistory), rows)

	w.mu.Lock()
	w.flushCount++
	if err != nil {
		w.errorCount++
	}
	flushes := w.flushCount
	w.mu.Unlock()

	if err != nil {
		if w.metrics != nil {
			w.metrics.AnalyticsErrors.Inc()
		}
		log.Error().Err(err).Int("count", len(entries)).Msg("clickhouse: flush failed")
		return err
	}
	if w.metrics != nil {
		w.metrics.AnalyticsRows.Add(float64(len(entries)))
	}
	log.Debug().Int("rows", len(entries)).Int64("total_flushes", flushes).Msg("clickhouse: batch flushed")
	return nil
}

func (w *BatchWriter) insert(ctx context.Context, table string, rows [][]any) error {
	if w.hook != nil {
		return w.hook(ctx, table, rows)
	}
	if w.client == nil {
		return fmt.Errorf("no clickhouse client")
	}

	batch, err := w.client.Conn().PrepareBatch(ctx, "INSERT INTO "+table)
	if err != nil {
		return fmt.Errorf("prepare %s batch: %w", table, err)
	}
	for _, r := range rows {
		if err := batch.Append(r...); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}
	return batch.Send()
}

func entryRow(e audit.Entry) []any {
	return []any{
		e.ID,
		e.Timestamp,
		e.TokenAddress,
		e.TokenTicker,
		e.StrategyName,
		e.MarketCapAtTrigger,
		e.EstimateAtTrigger,
		e.Description,
		e.Amount,
		e.Status,
		e.Reason,
	}
}

func qualify(database, table string) string {
	if database == "" {
		return table
	}
	return database + "." + table
}

// Close stops the flush loop, flushes what is buffered and rejects further writes.
func (w *BatchWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	err := w.Flush(context.Background())

	flushes, errs, _ := w.Stats()
	log.Info().
		Int64("total_flushes", flushes).
		Int64("errors", errs).
		Msg("clickhouse: batch writer closed")
	return err
}

// Stats returns writer statistics.
func (w *BatchWriter) Stats() (flushCount, errorCount int64, pending int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushCount, w.errorCount, len(w.buf)
}
