// Package config loads the service configuration from the environment so
// main stays lean.
package config

import (
	"os"
	"strconv"
	"time"

	"aegis/pkg/platform/retry"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr        string
	Environment string
}

// RedisConfig configures the replicated index backend. An empty URL keeps
// the index process-local.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig configures the durable journal. An empty URL keeps the
// journal in memory.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// KafkaConfig configures event publication. Empty brokers disable it.
type KafkaConfig struct {
	Brokers string
	Topic   string
}

// AggregateConfig tunes the per-realm actors. Shards is how many
// dispatcher shards a clustered deployment spreads labels over; the
// single-process runtime keeps one registry and serializes per label.
type AggregateConfig struct {
	AskTimeout                   time.Duration
	CommandEvaluationTimeout     time.Duration
	Shards                       int
	SnapshotEvery                int
	LapsedSinceLastInteraction   time.Duration
	LapsedSinceRecoveryCompleted time.Duration
	Retry                        retry.Strategy
}

// KeyValueStoreConfig tunes the replicated index. Retry is read from the
// environment but no index call is wrapped in it.
type KeyValueStoreConfig struct {
	AskTimeout         time.Duration
	ConsistencyTimeout time.Duration
	Retry              retry.Strategy
}

// IndexingConfig tunes the event projector.
type IndexingConfig struct {
	Batch                 int
	BatchTimeout          time.Duration
	Retry                 retry.Strategy
	PersistAfterProcessed int
	ProgressMaxTimeWindow time.Duration
}

// Config is the root configuration object threaded through main.
type Config struct {
	Server        Server
	Redis         RedisConfig
	Database      DatabaseConfig
	Kafka         KafkaConfig
	Aggregate     AggregateConfig
	KeyValueStore KeyValueStoreConfig
	Indexing      IndexingConfig
}

// FromEnv builds the configuration from environment variables, falling
// back to defaults suitable for a single-node deployment.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:        envString("AEGIS_ADDR", ":8080"),
			Environment: envString("AEGIS_ENVIRONMENT", "development"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("AEGIS_REDIS_URL"),
			PoolSize:     envInt("AEGIS_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("AEGIS_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("AEGIS_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("AEGIS_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("AEGIS_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("AEGIS_DATABASE_URL"),
			MaxOpenConns:    envInt("AEGIS_DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("AEGIS_DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("AEGIS_DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers: os.Getenv("AEGIS_KAFKA_BROKERS"),
			Topic:   envString("AEGIS_KAFKA_TOPIC", "aegis.realm.events"),
		},
		Aggregate: AggregateConfig{
			AskTimeout:                   envDuration("AEGIS_AGGREGATE_ASK_TIMEOUT", 5*time.Second),
			CommandEvaluationTimeout:     envDuration("AEGIS_AGGREGATE_COMMAND_EVALUATION_TIMEOUT", 15*time.Second),
			Shards:                       envInt("AEGIS_AGGREGATE_SHARDS", 32),
			SnapshotEvery:                envInt("AEGIS_AGGREGATE_SNAPSHOT_EVERY", 50),
			LapsedSinceLastInteraction:   envDuration("AEGIS_AGGREGATE_PASSIVATION_LAPSED_SINCE_LAST_INTERACTION", 10*time.Minute),
			LapsedSinceRecoveryCompleted: envDuration("AEGIS_AGGREGATE_PASSIVATION_LAPSED_SINCE_RECOVERY_COMPLETED", 2*time.Hour),
			Retry:                        envRetry("AEGIS_AGGREGATE_RETRY", retry.Exponential(100*time.Millisecond, 5*time.Second, 5)),
		},
		KeyValueStore: KeyValueStoreConfig{
			AskTimeout:         envDuration("AEGIS_KEY_VALUE_STORE_ASK_TIMEOUT", 5*time.Second),
			ConsistencyTimeout: envDuration("AEGIS_KEY_VALUE_STORE_CONSISTENCY_TIMEOUT", 10*time.Second),
			Retry:              envRetry("AEGIS_KEY_VALUE_STORE_RETRY", retry.Constant(200*time.Millisecond, 3)),
		},
		Indexing: IndexingConfig{
			Batch:                 envInt("AEGIS_INDEXING_BATCH", 64),
			BatchTimeout:          envDuration("AEGIS_INDEXING_BATCH_TIMEOUT", 500*time.Millisecond),
			Retry:                 envRetry("AEGIS_INDEXING_RETRY", retry.Exponential(200*time.Millisecond, 10*time.Second, 10)),
			PersistAfterProcessed: envInt("AEGIS_INDEXING_PROGRESS_PERSIST_AFTER_PROCESSED", 500),
			ProgressMaxTimeWindow: envDuration("AEGIS_INDEXING_PROGRESS_MAX_TIME_WINDOW", time.Minute),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envRetry reads a strategy from <key>_STRATEGY plus its parameters:
// never, once, constant or exponential.
func envRetry(key string, fallback retry.Strategy) retry.Strategy {
	switch os.Getenv(key + "_STRATEGY") {
	case "never":
		return retry.Never()
	case "once":
		return retry.Once(envDuration(key+"_DELAY", 200*time.Millisecond))
	case "constant":
		return retry.Constant(
			envDuration(key+"_DELAY", 200*time.Millisecond),
			envInt(key+"_MAX_RETRIES", 3),
		)
	case "exponential":
		return retry.Exponential(
			envDuration(key+"_INITIAL_DELAY", 100*time.Millisecond),
			envDuration(key+"_MAX_DELAY", 10*time.Second),
			envInt(key+"_MAX_RETRIES", 5),
		)
	default:
		return fallback
	}
}
