package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/0xmuggle/cc-ax-bot/internal/api"
	"github.com/0xmuggle/cc-ax-bot/internal/audit"
	"github.com/0xmuggle/cc-ax-bot/internal/bus"
	"github.com/0xmuggle/cc-ax-bot/internal/clickhouse"
	"github.com/0xmuggle/cc-ax-bot/internal/config"
	"github.com/0xmuggle/cc-ax-bot/internal/engine"
	"github.com/0xmuggle/cc-ax-bot/internal/feed"
	"github.com/0xmuggle/cc-ax-bot/internal/notify"
	"github.com/0xmuggle/cc-ax-bot/internal/observability"
	"github.com/0xmuggle/cc-ax-bot/internal/persist"
	"github.com/0xmuggle/cc-ax-bot/internal/sniper"
	"github.com/0xmuggle/cc-ax-bot/internal/strategy"
)

const serviceName = "axbot"

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/axbot.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Optional dotenv file loaded before the config")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("environment", cfg.General.Environment).
		Str("http", cfg.HTTP.Addr).
		Str("relay", cfg.Feed.RelayURL).
		Bool("redis", cfg.Redis.Enabled).
		Bool("kafka", cfg.Kafka.Enabled).
		Bool("clickhouse", cfg.ClickHouse.Enabled).
		Bool("telegram_dry_run", cfg.Telegram.DryRun).
		Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	metrics := observability.NewMetrics(cfg.Metrics.Namespace)
	health := observability.NewHealthMonitor(2 * time.Second)

	// 4. Persistence.
	var store persist.Store
	if cfg.Redis.Enabled {
		rs, err := persist.NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable")
		}
		store = rs
		health.Register("redis", observability.PingCheck(rs.Ping, false))
	} else {
		store = persist.NewMemoryStore(cfg.Redis.Namespace)
		log.Warn().Msg("Redis disabled: state is kept in memory only")
	}
	defer store.Close()

	// 5. Event bus.
	var producer bus.Producer
	var kafkaProducer *bus.KafkaProducer
	if cfg.Kafka.Enabled {
		kafkaProducer, err = bus.NewProducer(cfg.Kafka)
		if err != nil {
			log.Fatal().Err(err).Msg("Kafka producer failed")
		}
		producer = kafkaProducer
		health.Register("kafka", observability.PingCheck(kafkaProducer.Ping, true))
	}

	// 6. Analytics sink.
	var sink audit.Sink
	var writer *clickhouse.BatchWriter
	var chClient *clickhouse.Client
	if cfg.ClickHouse.Enabled {
		chClient, err = clickhouse.NewClient(cfg.ClickHouse.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("ClickHouse client failed")
		}
		schemaCtx, schemaCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := chClient.EnsureSchema(schemaCtx, cfg.ClickHouse.Database); err != nil {
			log.Warn().Err(err).Msg("ClickHouse schema check failed (continuing, rows may be rejected)")
		}
		schemaCancel()

		writer = clickhouse.NewBatchWriter(chClient, cfg.ClickHouse.Database, cfg.ClickHouse.BatchSize,
			time.Duration(cfg.ClickHouse.FlushIntervalMs)*time.Millisecond)
		writer.SetMetrics(metrics)
		writer.Start(ctx)
		sink = writer
		health.Register("clickhouse", observability.PingCheck(chClient.Ping, true))
	}

	// 7. Telegram delivery.
	sender, err := notify.NewTelegramSender(cfg.Telegram)
	if err != nil {
		log.Fatal().Err(err).Msg("Telegram sender failed")
	}
	dispatcher := notify.NewDispatcher(sender, cfg.Telegram, metrics)
	// Delivery outlives ctx so queued commands drain on shutdown.
	dispatcher.Start(context.Background())

	// 8. Engine.
	eng := engine.New(cfg.Engine, engine.Deps{
		Book:     strategy.NewBook(),
		Entry:    sniper.NewEntryGuard(cfg.Entry),
		Exits:    sniper.NewExitEngine(cfg.Exit),
		History:  audit.NewHistory(producer, sink, metrics, audit.DefaultMaxEntries),
		Sink:     dispatcher,
		Producer: producer,
		Store:    store,
		Metrics:  metrics,
	})
	restoreCtx, restoreCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := eng.Restore(restoreCtx); err != nil {
		log.Fatal().Err(err).Msg("State restore failed")
	}
	restoreCancel()

	// 9. Feed.
	loc, err := cfg.Feed.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("Feed timezone invalid")
	}
	ingestor := feed.NewIngestor(eng, loc, cfg.Feed.QueueSize, metrics)
	feedServer := feed.NewServer(ingestor, cfg.Feed)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ingestor.Run(ctx)
	}()

	if cfg.Feed.RelayURL != "" {
		relay := feed.NewRelayClient(cfg.Feed, ingestor, metrics)
		health.Register("relay", func(context.Context) observability.ComponentHealth {
			if relay.Connected() {
				return observability.ComponentHealth{Status: observability.StatusHealthy}
			}
			return observability.ComponentHealth{Status: observability.StatusDegraded, Message: "relay disconnected"}
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Run(ctx)
		}()
	}

	if cfg.Kafka.Enabled && cfg.Kafka.FeedGroup != "" {
		consumer, err := bus.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.FeedGroup, []string{bus.TopicFeed})
		if err != nil {
			log.Fatal().Err(err).Msg("Kafka feed consumer failed")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer consumer.Close()
			if err := feed.NewKafkaSource(consumer, ingestor).Run(ctx); err != nil {
				log.Error().Err(err).Msg("Kafka feed source stopped")
			}
		}()
	}

	// 10. HTTP API.
	apiDeps := api.Deps{
		Engine:     eng,
		Health:     health,
		Feed:       feedServer,
		FeedPath:   cfg.Feed.ListenPath,
		Dispatcher: dispatcher.Stats,
	}
	if cfg.Metrics.Enabled {
		apiDeps.Metrics = metrics
	}
	_, server := api.NewServer(cfg.HTTP, apiDeps)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", cfg.HTTP.Addr).Str("feed", cfg.Feed.ListenPath).Msg("HTTP server started")
		if srvErr := server.ListenAndServe(); srvErr != nil && !errors.Is(srvErr, http.ErrServerClosed) {
			log.Error().Err(srvErr).Msg("HTTP server error")
			cancel()
		}
	}()

	// Periodic stats logging and heartbeats.
	wg.Add(1)
	go func() {
		defer wg.Done()
		runStats(ctx, cfg.General, eng, ingestor, dispatcher, health, producer)
	}()

	log.Info().Msg("axbot running, waiting for surge updates")

	// 11. Block until shutdown.
	<-ctx.Done()

	// 12. Graceful shutdown.
	log.Info().Msg("Shutting down axbot...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.General.ShutdownS)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	wg.Wait()

	dispatcher.Close()
	if writer != nil {
		if err := writer.Close(); err != nil {
			log.Warn().Err(err).Msg("ClickHouse final flush failed")
		}
	}
	if chClient != nil {
		chClient.Close()
	}
	if kafkaProducer != nil {
		if err := kafkaProducer.Flush(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Kafka flush failed")
		}
		kafkaProducer.Close()
	}

	received, applied, dropped := ingestor.Stats()
	ds := dispatcher.Stats()
	log.Info().
		Int64("feed_received", received).
		Int64("feed_applied", applied).
		Int64("feed_dropped", dropped).
		Int64("commands_delivered", ds.Delivered).
		Int64("commands_failed", ds.Failed).
		Int("history", eng.History().Len()).
		Msg("axbot - Final Statistics")

	log.Info().Msg("axbot - Shutdown complete")
}

func runStats(ctx context.Context, general config.GeneralConfig, eng *engine.Engine, ingestor *feed.Ingestor,
	dispatcher *notify.Dispatcher, health *observability.HealthMonitor, producer bus.Producer) {
	statsTicker := time.NewTicker(60 * time.Second)
	defer statsTicker.Stop()

	var heartbeat <-chan time.Time
	if producer != nil && general.HeartbeatS > 0 {
		t := time.NewTicker(time.Duration(general.HeartbeatS) * time.Second)
		defer t.Stop()
		heartbeat = t.C
	}
	started := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-statsTicker.C:
			received, applied, dropped := ingestor.Stats()
			ds := dispatcher.Stats()
			log.Info().
				Int("tokens", len(eng.Tokens())).
				Float64("sol_price", eng.SolPrice()).
				Int64("feed_received", received).
				Int64("feed_applied", applied).
				Int64("feed_dropped", dropped).
				Int64("delivered", ds.Delivered).
				Int64("failed", ds.Failed).
				Int("history", eng.History().Len()).
				Msg("[STATS]")
		case <-heartbeat:
			h := health.Check(ctx)
			received, applied, _ := ingestor.Stats()
			hb := bus.Heartbeat{
				BaseEvent: bus.NewBaseEvent(general.InstanceID, time.Now()),
				Component: serviceName,
				Status:    string(h.Status),
				Uptime:    time.Since(started).Seconds(),
				Metrics: map[string]float64{
					"feed_received": float64(received),
					"feed_applied":  float64(applied),
					"sol_price_usd": eng.SolPrice(),
				},
			}
			if err := producer.PublishJSON(ctx, bus.TopicHeartbeat, general.InstanceID, hb); err != nil {
				log.Warn().Err(err).Msg("heartbeat publish failed")
			}
		}
	}
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", serviceName).
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", serviceName).
			Str("instance", general.InstanceID).Logger()
	}
}
