// Package config validates and loads the environment-variable driven
// configuration for a chatfabric node.
package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chatfabric/chatfabric/internal/logging"
	"go.uber.org/zap"
)

// Config holds validated, ready-to-use configuration for one node.
type Config struct {
	// Identity & partitioning
	NodeID   string
	NodeList []string // sorted on load; empty disables partitioning
	Rooms    int      // N, size of the fixed room set 1..N

	Port string

	// Queue naming
	QueuePrefix string
	FIFOEnabled bool

	// Consumer pool
	ConsumerThreads            int
	ConsumerMaxMessages        int32
	ConsumerWaitTime           time.Duration
	ConsumerVisibilityTimeout  time.Duration
	QueueURLRetryInterval      time.Duration

	// Producer
	ProducerBatchEnabled  bool
	ProducerBatchMaxSize  int
	ProducerBatchFlushInt time.Duration

	// Batch writer
	BatchWriterSize            int
	BatchWriterFlushInterval   time.Duration
	BatchWriterBufferCapacity  int

	// DLQ
	DLQEnabled   bool
	DLQQueueName string

	// Write serializer
	WriteSerializerWorkerThreads int
	SessionWriteQueueCapacity    int

	// Collaborators (DSNs / endpoints)
	DatabaseDSN    string
	SQSEndpoint    string // optional override, e.g. for localstack
	AWSRegion      string
	RedisAddr      string
	RedisEnabled   bool
	AllowedOrigins []string

	GoEnv    string
	LogLevel string

	RateLimitWSPerIP      string
	RateLimitWSPerSession string

	// Tracing is entirely optional; an empty collector address disables it.
	TracingCollectorAddr string
}

// Load reads and validates environment configuration. A non-nil error
// means a required variable is missing or a configuration invariant is
// violated; the caller must treat this as fatal at startup.
func Load(getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.NodeID = getenv("NODE_ID")
	if cfg.NodeID == "" {
		errs = append(errs, "NODE_ID is required")
	}

	cfg.Port = getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got %q)", cfg.Port))
	}

	cfg.NodeList = splitAndSort(getenv("NODE_LIST"))

	cfg.Rooms = intOrDefault(getenv("ROOMS"), 20)
	if cfg.Rooms < 1 {
		errs = append(errs, "ROOMS must be >= 1")
	}

	cfg.QueuePrefix = stringOrDefault(getenv("QUEUE_PREFIX"), "chat-room-")
	cfg.FIFOEnabled = boolOrDefault(getenv("FIFO_ENABLED"), true)

	cfg.ConsumerThreads = intOrDefault(getenv("CONSUMER_THREADS"), 40)
	cfg.ConsumerMaxMessages = int32(intOrDefault(getenv("CONSUMER_MAX_MESSAGES"), 10))
	cfg.ConsumerWaitTime = secondsOrDefault(getenv("CONSUMER_WAIT_TIME_SECS"), 20*time.Second)
	cfg.ConsumerVisibilityTimeout = secondsOrDefault(getenv("CONSUMER_VISIBILITY_TIMEOUT_SECS"), 30*time.Second)
	cfg.QueueURLRetryInterval = millisOrDefault(getenv("QUEUE_URL_RETRY_MS"), 60*time.Second)

	cfg.ProducerBatchEnabled = boolOrDefault(getenv("PRODUCER_BATCH_ENABLED"), false)
	cfg.ProducerBatchMaxSize = intOrDefault(getenv("PRODUCER_BATCH_MAX_SIZE"), 100)
	cfg.ProducerBatchFlushInt = millisOrDefault(getenv("PRODUCER_BATCH_FLUSH_MS"), 100*time.Millisecond)

	cfg.BatchWriterSize = intOrDefault(getenv("BATCH_WRITER_SIZE"), 1000)
	cfg.BatchWriterFlushInterval = millisOrDefault(getenv("BATCH_WRITER_FLUSH_MS"), 1000*time.Millisecond)
	cfg.BatchWriterBufferCapacity = intOrDefault(getenv("BATCH_WRITER_BUFFER_CAPACITY"), 10000)

	if cfg.BatchWriterSize > cfg.BatchWriterBufferCapacity {
		errs = append(errs, fmt.Sprintf(
			"BATCH_WRITER_SIZE (%d) must be <= BATCH_WRITER_BUFFER_CAPACITY (%d)",
			cfg.BatchWriterSize, cfg.BatchWriterBufferCapacity))
	}

	cfg.DLQEnabled = boolOrDefault(getenv("DLQ_ENABLED"), true)
	cfg.DLQQueueName = stringOrDefault(getenv("DLQ_QUEUE_NAME"), "chat-dead-letter")

	cfg.WriteSerializerWorkerThreads = intOrDefault(getenv("WRITE_SERIALIZER_WORKER_THREADS"), 50)
	cfg.SessionWriteQueueCapacity = intOrDefault(getenv("SESSION_WRITE_QUEUE_CAPACITY"), 1000)

	cfg.DatabaseDSN = getenv("DATABASE_DSN")
	if cfg.DatabaseDSN == "" {
		errs = append(errs, "DATABASE_DSN is required")
	}

	cfg.SQSEndpoint = getenv("SQS_ENDPOINT")
	cfg.AWSRegion = stringOrDefault(getenv("AWS_REGION"), "us-east-1")

	cfg.RedisEnabled = boolOrDefault(getenv("REDIS_ENABLED"), false)
	if cfg.RedisEnabled {
		cfg.RedisAddr = stringOrDefault(getenv("REDIS_ADDR"), "localhost:6379")
	}

	if origins := getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	} else {
		cfg.AllowedOrigins = []string{"http://localhost:3000"}
	}

	cfg.GoEnv = stringOrDefault(getenv("GO_ENV"), "production")
	cfg.LogLevel = stringOrDefault(getenv("LOG_LEVEL"), "info")

	cfg.RateLimitWSPerIP = stringOrDefault(getenv("RATE_LIMIT_WS_IP"), "100-M")
	cfg.RateLimitWSPerSession = stringOrDefault(getenv("RATE_LIMIT_WS_SESSION"), "20-M")

	cfg.TracingCollectorAddr = getenv("OTEL_COLLECTOR_ADDR")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logLoaded(cfg)
	return cfg, nil
}

func logLoaded(cfg *Config) {
	logging.Info(nil, "configuration validated",
		zap.String("node_id", cfg.NodeID),
		zap.String("database_dsn", logging.RedactSecret(cfg.DatabaseDSN)),
		zap.Int("rooms", cfg.Rooms),
		zap.Int("consumer_threads", cfg.ConsumerThreads),
		zap.Bool("producer_batch_enabled", cfg.ProducerBatchEnabled),
		zap.Bool("dlq_enabled", cfg.DLQEnabled),
	)
}

func splitAndSort(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	sort.Strings(parts)
	return parts
}

func stringOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func intOrDefault(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolOrDefault(v string, def bool) bool {
	if v == "" {
		return def
	}
	return v == "true"
}

func secondsOrDefault(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Second
}

func millisOrDefault(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Millisecond
}
