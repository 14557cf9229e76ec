package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/0xmuggle/cc-ax-bot/internal/api"
	"github.com/0xmuggle/cc-ax-bot/internal/bus"
	"github.com/0xmuggle/cc-ax-bot/internal/clickhouse"
	"github.com/0xmuggle/cc-ax-bot/internal/engine"
	"github.com/0xmuggle/cc-ax-bot/internal/feed"
	"github.com/0xmuggle/cc-ax-bot/internal/notify"
	"github.com/0xmuggle/cc-ax-bot/internal/persist"
	"github.com/0xmuggle/cc-ax-bot/internal/sniper"
)

// Config is the root configuration structure for axbot.
type Config struct {
	General    GeneralConfig       `yaml:"general"`
	HTTP       api.Config          `yaml:"http"`
	Feed       feed.Config         `yaml:"feed"`
	Engine     engine.Config       `yaml:"engine"`
	Entry      sniper.EntryConfig  `yaml:"entry"`
	Exit       sniper.ExitConfig   `yaml:"exit"`
	Telegram   notify.Config       `yaml:"telegram"`
	Redis      persist.RedisConfig `yaml:"redis"`
	Kafka      bus.Config          `yaml:"kafka"`
	ClickHouse clickhouse.Config   `yaml:"clickhouse"`
	Metrics    MetricsConfig       `yaml:"metrics"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
	ShutdownS   int    `yaml:"shutdown_timeout_s"`
	HeartbeatS  int    `yaml:"heartbeat_interval_s"` // 0 disables bus heartbeats
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Default returns a configuration with every section at its defaults.
func Default() *Config {
	return &Config{
		HTTP:     api.DefaultConfig(),
		Feed:     feed.DefaultConfig(),
		Engine:   engine.DefaultConfig(),
		Entry:    sniper.DefaultEntryConfig(),
		Exit:     sniper.DefaultExitConfig(),
		Telegram: notify.DefaultConfig(),
		Metrics:  MetricsConfig{Enabled: true},
	}
}

// Load reads a YAML configuration file on top of the defaults. Variables
// from envFiles (default ".env") are loaded first when the files exist and
// ${VAR} references in the YAML are expanded from the environment.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "axbot-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.General.ShutdownS == 0 {
		cfg.General.ShutdownS = 10
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Feed.ListenPath == "" {
		cfg.Feed.ListenPath = "/ws/feed"
	}
	if cfg.Engine.InstanceID == "" || cfg.Engine.InstanceID == engine.DefaultConfig().InstanceID {
		cfg.Engine.InstanceID = cfg.General.InstanceID
	}
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.InstanceID == "" {
		cfg.Kafka.InstanceID = cfg.General.InstanceID
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.Namespace == "" {
		cfg.Redis.Namespace = persist.DefaultNamespace
	}
	if cfg.ClickHouse.DSN == "" {
		cfg.ClickHouse.DSN = "clickhouse://localhost:9000/axbot"
	}
	if cfg.ClickHouse.Database == "" {
		cfg.ClickHouse.Database = "axbot"
	}
	if cfg.ClickHouse.BatchSize == 0 {
		cfg.ClickHouse.BatchSize = 100
	}
	if cfg.ClickHouse.FlushIntervalMs == 0 {
		cfg.ClickHouse.FlushIntervalMs = 2000
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "axbot"
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.General.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("general.log_format %q: want json or text", c.General.LogFormat))
	}
	if _, err := time.LoadLocation(c.Feed.Timezone); c.Feed.Timezone != "" && err != nil {
		errs = append(errs, fmt.Errorf("feed.timezone: %w", err))
	}
	if c.Feed.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("feed.queue_size must be positive"))
	}
	if c.Engine.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("engine.max_tokens must be positive"))
	}
	if c.Engine.TruncateRatio <= 0 || c.Engine.TruncateRatio > 1 {
		errs = append(errs, fmt.Errorf("engine.truncate_ratio %.2f out of (0,1]", c.Engine.TruncateRatio))
	}
	if c.Engine.MinAgeSeconds < 0 || c.Engine.MaxAgeSeconds < c.Engine.MinAgeSeconds {
		errs = append(errs, fmt.Errorf("engine: age window %ds-%ds", c.Engine.MinAgeSeconds, c.Engine.MaxAgeSeconds))
	}
	if c.Entry.MaxDeviation <= 0 || c.Entry.MaxPeakRatio <= 0 || c.Entry.TargetMargin <= 0 {
		errs = append(errs, fmt.Errorf("entry: ratios must be positive"))
	}
	if c.Exit.StopLossGain <= 0 || c.Exit.TakeProfitGain <= c.Exit.StopLossGain {
		errs = append(errs, fmt.Errorf("exit: stop loss %.2f must be positive and below take profit %.2f",
			c.Exit.StopLossGain, c.Exit.TakeProfitGain))
	}
	if c.Exit.DrawdownEnabled {
		if err := sniper.ValidateRetracement(c.Exit.Retracement); err != nil {
			errs = append(errs, fmt.Errorf("exit: %w", err))
		}
	}
	if c.Telegram.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("telegram.max_attempts must be positive"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, fmt.Errorf("kafka: enabled without brokers"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
