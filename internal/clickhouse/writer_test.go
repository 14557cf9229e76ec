package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmuggle/cc-ax-bot/internal/audit"
	"github.com/0xmuggle/cc-ax-bot/internal/observability"
)

func makeEntry(i int) audit.Entry {
	return audit.Entry{
		ID:           fmt.Sprintf("id-%d", i),
		Timestamp:    time.Unix(1700000000+int64(i), 0),
		TokenAddress: "Mint111",
		TokenTicker:  "SURGE",
		StrategyName: "s-fast",
		Status:       audit.StatusNo,
		Reason:       "floor",
	}
}

func TestBatchSizeTrigger(t *testing.T) {
	const batchSize = 10

	var mu sync.Mutex
	var flushed [][]any

	w := NewBatchWriter(nil, "axbot", batchSize, time.Hour)
	w.SetFlushHook(func(_ context.Context, table string, rows [][]any) error {
		mu.Lock()
		flushed = append(flushed, rows...)
		mu.Unlock()
		assert.Equal(t, "axbot.axbot_history", table)
		return nil
	})

	ctx := context.Background()
	for i := 0; i < batchSize; i++ {
		require.NoError(t, w.WriteEntry(ctx, makeEntry(i)))
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushed, batchSize)
	assert.Equal(t, "id-0", flushed[0][0])
	assert.Equal(t, "floor", flushed[0][10])
}

func TestBatchNotFlushedBelowThreshold(t *testing.T) {
	hookCalled := false

	w := NewBatchWriter(nil, "", 100, time.Hour)
	w.SetFlushHook(func(_ context.Context, _ string, _ [][]any) error {
		hookCalled = true
		return nil
	})

	for i := 0; i < 50; i++ {
		require.NoError(t, w.WriteEntry(context.Background(), makeEntry(i)))
	}

	assert.False(t, hookCalled)
	_, _, pending := w.Stats()
	assert.Equal(t, 50, pending)
}

func TestFlushIntervalTrigger(t *testing.T) {
	var total atomic.Int64

	w := NewBatchWriter(nil, "axbot", 1000, 20*time.Millisecond)
	w.SetFlushHook(func(_ context.Context, _ string, rows [][]any) error {
		total.Add(int64(len(rows)))
		return nil
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, w.WriteEntry(ctx, makeEntry(i)))
	}
	w.Start(ctx)

	assert.Eventually(t, func() bool { return total.Load() == 5 }, time.Second, 10*time.Millisecond)
	require.NoError(t, w.Close())
}

func TestCloseFlushesAndRejects(t *testing.T) {
	var total atomic.Int64

	w := NewBatchWriter(nil, "", 100, time.Hour)
	w.SetFlushHook(func(_ context.Context, _ string, rows [][]any) error {
		total.Add(int64(len(rows)))
		return nil
	})
	w.Start(context.Background())

	require.NoError(t, w.WriteEntry(context.Background(), makeEntry(0)))
	require.NoError(t, w.Close())
	assert.EqualValues(t, 1, total.Load())

	assert.Error(t, w.WriteEntry(context.Background(), makeEntry(1)))
	require.NoError(t, w.Close())
}

func TestFlushEmpty(t *testing.T) {
	w := NewBatchWriter(nil, "", 100, time.Hour)
	w.SetFlushHook(func(_ context.Context, _ string, _ [][]any) error {
		t.Fatal("hook must not run for an empty buffer")
		return nil
	})
	require.NoError(t, w.Flush(context.Background()))
}

func TestFlushErrorCounted(t *testing.T) {
	m := observability.NewMetrics("")
	w := NewBatchWriter(nil, "", 1, time.Hour)
	w.SetMetrics(m)
	w.SetFlushHook(func(_ context.Context, _ string, _ [][]any) error {
		return errors.New("connection refused")
	})

	assert.Error(t, w.WriteEntry(context.Background(), makeEntry(0)))
	flushes, errs, pending := w.Stats()
	assert.EqualValues(t, 1, flushes)
	assert.EqualValues(t, 1, errs)
	assert.Zero(t, pending)
}

func TestConcurrentWrites(t *testing.T) {
	const (
		goroutines = 8
		perG       = 50
	)
	var total atomic.Int64

	w := NewBatchWriter(nil, "", 32, time.Hour)
	w.SetFlushHook(func(_ context.Context, _ string, rows [][]any) error {
		total.Add(int64(len(rows)))
		return nil
	})

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				_ = w.WriteEntry(context.Background(), makeEntry(i))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, w.Flush(context.Background()))

	assert.EqualValues(t, goroutines*perG, total.Load())
}

func TestWriterWithoutClientFails(t *testing.T) {
	w := NewBatchWriter(nil, "", 1, time.Hour)
	assert.Error(t, w.WriteEntry(context.Background(), makeEntry(0)))
}
