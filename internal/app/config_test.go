package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":50051", cfg.GRPCAddr)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, BrokerMemory, cfg.Broker)
	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	assert.Equal(t, 5*time.Second, cfg.OutboxPollInterval)
	assert.Equal(t, 10, cfg.OutboxBatchSize)
	assert.Equal(t, 3, cfg.OutboxMaxRetries)
	assert.Equal(t, 3, cfg.RedeliveryAttempts)
	assert.Equal(t, 5*time.Second, cfg.RedeliveryInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.ConflictRetryBaseDelay)
	assert.Equal(t, int64(1000), cfg.OrderNoFloor)
	assert.Equal(t, 500, cfg.IdempotencyCleanupBatchSize)
	assert.Equal(t, 100, cfg.IdempotencyCleanupMaxBatches)
	assert.Equal(t, []string{"DK"}, cfg.ExpeditedCountries)
	assert.Equal(t, 1500*time.Millisecond, cfg.PackingDelayMin)
	assert.InDelta(t, 0.8, cfg.AvailabilityRate, 1e-9)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("BROKER", "kafka")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("EXPEDITED_COUNTRIES", "DK,SE")
	t.Setenv("OUTBOX_POLL_INTERVAL", "250ms")
	t.Setenv("STAGE_WORKERS", "4")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, BrokerKafka, cfg.Broker)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"DK", "SE"}, cfg.ExpeditedCountries)
	assert.Equal(t, 250*time.Millisecond, cfg.OutboxPollInterval)
	assert.Equal(t, 4, cfg.Workers)
}

func TestLoadConfigRejectsMalformedValue(t *testing.T) {
	t.Setenv("OUTBOX_BATCH_SIZE", "many")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "postgres without dsn",
			mutate: func(c *Config) { c.StorageDriver = StorageDriverPostgres },
			errMsg: "POSTGRES_DSN is required",
		},
		{
			name:   "unknown storage",
			mutate: func(c *Config) { c.StorageDriver = "sqlite" },
			errMsg: `unknown storage driver "sqlite"`,
		},
		{
			name:   "kafka without brokers",
			mutate: func(c *Config) { c.Broker = BrokerKafka },
			errMsg: "KAFKA_BROKERS is required",
		},
		{
			name:   "unknown broker",
			mutate: func(c *Config) { c.Broker = "nats" },
			errMsg: `unknown broker "nats"`,
		},
		{
			name:   "redis availability without address",
			mutate: func(c *Config) { c.AvailabilitySource = AvailabilityRedis },
			errMsg: "REDIS_ADDR is required",
		},
		{
			name:   "availability rate above one",
			mutate: func(c *Config) { c.AvailabilityRate = 1.5 },
			errMsg: "AVAILABILITY_RATE must be within [0,1]",
		},
		{
			name:   "zero batch size",
			mutate: func(c *Config) { c.OutboxBatchSize = 0 },
			errMsg: "outbox poll interval, batch size and max retries must be positive",
		},
		{
			name:   "inverted picking delay",
			mutate: func(c *Config) { c.PickingDelayMin, c.PickingDelayMax = 5*time.Second, time.Second },
			errMsg: "invalid stage delay range [5s, 1s]",
		},
		{
			name:   "zero workers",
			mutate: func(c *Config) { c.Workers = 0 },
			errMsg: "STAGE_WORKERS must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfigureLogging(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogFormat = "json"
	require.NoError(t, ConfigureLogging(cfg))

	cfg.LogLevel = "loud"
	require.Error(t, ConfigureLogging(cfg))

	cfg.LogLevel = "info"
	cfg.LogFormat = "xml"
	require.Error(t, ConfigureLogging(cfg))

	cfg.LogFormat = "text"
	require.NoError(t, ConfigureLogging(cfg))
}
