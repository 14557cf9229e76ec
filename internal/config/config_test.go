package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "axbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func noEnv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
general:
  instance_id: "test-node"
  environment: "development"
  log_level: "debug"
  log_format: "text"

http:
  addr: ":9000"

feed:
  relay_url: "ws://relay:8081/feed"
  timezone: "Asia/Shanghai"

engine:
  max_tokens: 500
  persist_tokens: false

entry:
  floor_usd: 15000

exit:
  take_profit_gain: 1.6
  retracement:
    - {up_to_k: 100, base: 0.3, slope: 0, anchor: 0}
    - {base: 0.3, slope: -0.001, anchor: 100}

telegram:
  dry_run: true

kafka:
  enabled: true
  brokers:
    - "localhost:19092"

redis:
  enabled: true
  addr: "redis:6379"
`)

	cfg, err := Load(path, noEnv(t))
	require.NoError(t, err)

	assert.Equal(t, "test-node", cfg.General.InstanceID)
	assert.Equal(t, "text", cfg.General.LogFormat)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, "ws://relay:8081/feed", cfg.Feed.RelayURL)
	assert.Equal(t, 500, cfg.Engine.MaxTokens)
	assert.False(t, cfg.Engine.PersistTokens)
	assert.Equal(t, "test-node", cfg.Engine.InstanceID)
	assert.Equal(t, 15000.0, cfg.Entry.FloorUSD)
	assert.Equal(t, 1.32, cfg.Entry.MaxDeviation, "unset fields keep their defaults")
	assert.Equal(t, 1.6, cfg.Exit.TakeProfitGain)
	assert.Len(t, cfg.Exit.Retracement, 2)
	assert.True(t, cfg.Telegram.DryRun)
	assert.Equal(t, 3, cfg.Telegram.MaxAttempts)
	assert.Equal(t, []string{"localhost:19092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "test-node", cfg.Kafka.InstanceID)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "axiom-trader-storage", cfg.Redis.Namespace)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
general:
  environment: staging
`)

	cfg, err := Load(path, noEnv(t))
	require.NoError(t, err)

	assert.Equal(t, "axbot-1", cfg.General.InstanceID)
	assert.Equal(t, "info", cfg.General.LogLevel)
	assert.Equal(t, "json", cfg.General.LogFormat)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "/ws/feed", cfg.Feed.ListenPath)
	assert.Equal(t, 10_000, cfg.Engine.MaxTokens)
	assert.True(t, cfg.Engine.PersistTokens)
	assert.Equal(t, 0.7, cfg.Exit.StopLossGain)
	assert.Len(t, cfg.Exit.Retracement, 3)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "axbot", cfg.ClickHouse.Database)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "axbot", cfg.Metrics.Namespace)
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	t.Setenv("TEST_AXBOT_INSTANCE", "env-node")

	path := writeConfig(t, `
general:
  instance_id: "${TEST_AXBOT_INSTANCE}"
`)

	cfg, err := Load(path, noEnv(t))
	require.NoError(t, err)
	assert.Equal(t, "env-node", cfg.General.InstanceID)
}

func TestLoadConfigDotEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("TEST_AXBOT_REDIS_PASSWORD=s3cret\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TEST_AXBOT_REDIS_PASSWORD") })

	path := writeConfig(t, `
redis:
  password: "${TEST_AXBOT_REDIS_PASSWORD}"
`)

	cfg, err := Load(path, envFile)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Redis.Password)
}

func TestLoadConfigInvalid(t *testing.T) {
	cases := map[string]string{
		"log format":  "general:\n  log_format: xml\n",
		"timezone":    "feed:\n  timezone: Mars/Olympus\n",
		"truncate":    "engine:\n  truncate_ratio: 1.5\n",
		"age window":  "engine:\n  min_age_seconds: 900\n  max_age_seconds: 120\n",
		"exit gains":  "exit:\n  stop_loss_gain: 1.5\n  take_profit_gain: 1.4\n",
		"retracement": "exit:\n  retracement:\n    - {up_to_k: 100, base: 0.3}\n    - {up_to_k: 50, base: 0.3}\n",
		"attempts":    "telegram:\n  max_attempts: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body), noEnv(t))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), noEnv(t))
	assert.Error(t, err)
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "axbot.yaml"), noEnv(t))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.General.InstanceID)
}
