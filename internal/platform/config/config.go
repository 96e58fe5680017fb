// Package config builds runtime configuration from environment variables so
// main stays lean. Every knob has a development default; production deploys
// override via ARBITER_* variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	Environment     string
	LogLevel        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Webhook configures inbound event authentication.
type Webhook struct {
	// Secret is the shared HMAC-SHA256 key for inbound change events.
	Secret string
	// MaxBodyBytes caps the raw request body read at ingress.
	MaxBodyBytes int64
}

// Auth configures operator authentication for resolve and rule endpoints.
type Auth struct {
	// OperatorJWTSecret verifies HS256 bearer tokens minted by the
	// operator identity provider (or cmd/tokengen in development).
	OperatorJWTSecret string
}

// Database configures the PostgreSQL pool. Empty URL selects in-memory stores.
type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Redis configures the work queue backend. Empty URL selects the in-memory queue.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the audit stream publisher. Empty brokers selects the
// no-op producer.
type Kafka struct {
	Brokers         string
	Topic           string
	Acks            string
	Retries         int
	DeliveryTimeout time.Duration
}

// Reasoner configures the external reasoning capability.
type Reasoner struct {
	URL     string
	Timeout time.Duration
}

// ERP configures the external write capability.
type ERP struct {
	URL         string
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Pipeline configures event processing workers.
type Pipeline struct {
	Workers       int
	LeaseTTL      time.Duration
	PollInterval  time.Duration
	MaxDeliveries int
}

// Retention configures the cleanup worker.
type Retention struct {
	Interval    time.Duration
	EventWindow time.Duration
	// OutboxWindow bounds how long processed stream entries are kept.
	OutboxWindow time.Duration
}

// Config is the root configuration assembled by FromEnv.
type Config struct {
	Server    Server
	Webhook   Webhook
	Auth      Auth
	Database  Database
	Redis     Redis
	Kafka     Kafka
	Reasoner  Reasoner
	ERP       ERP
	Pipeline  Pipeline
	Retention Retention
	RulesFile string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            envString("ARBITER_ADDR", ":8080"),
			Environment:     envString("ARBITER_ENV", "development"),
			LogLevel:        envString("ARBITER_LOG_LEVEL", "info"),
			RequestTimeout:  envDuration("ARBITER_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: envDuration("ARBITER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Webhook: Webhook{
			Secret:       envString("ARBITER_WEBHOOK_SECRET", "dev-webhook-secret-change-in-production"),
			MaxBodyBytes: envInt64("ARBITER_WEBHOOK_MAX_BODY_BYTES", 1<<20),
		},
		Auth: Auth{
			OperatorJWTSecret: envString("ARBITER_OPERATOR_JWT_SECRET", "dev-operator-secret-change-in-production"),
		},
		Database: Database{
			URL:             os.Getenv("ARBITER_DATABASE_URL"),
			MaxOpenConns:    envInt("ARBITER_DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("ARBITER_DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("ARBITER_DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: Redis{
			URL:          os.Getenv("ARBITER_REDIS_URL"),
			PoolSize:     envInt("ARBITER_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("ARBITER_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("ARBITER_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("ARBITER_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("ARBITER_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:         os.Getenv("ARBITER_KAFKA_BROKERS"),
			Topic:           envString("ARBITER_KAFKA_TOPIC", "arbiter.audit.records"),
			Acks:            envString("ARBITER_KAFKA_ACKS", "all"),
			Retries:         envInt("ARBITER_KAFKA_RETRIES", 5),
			DeliveryTimeout: envDuration("ARBITER_KAFKA_DELIVERY_TIMEOUT", 10*time.Second),
		},
		Reasoner: Reasoner{
			URL:     envString("ARBITER_REASONER_URL", "http://localhost:9090"),
			Timeout: envDuration("ARBITER_REASONER_TIMEOUT", 30*time.Second),
		},
		ERP: ERP{
			URL:         envString("ARBITER_ERP_URL", "http://localhost:8069/api"),
			Timeout:     envDuration("ARBITER_ERP_TIMEOUT", 10*time.Second),
			MaxAttempts: envInt("ARBITER_ERP_MAX_ATTEMPTS", 3),
			BackoffBase: envDuration("ARBITER_ERP_BACKOFF_BASE", 250*time.Millisecond),
			BackoffCap:  envDuration("ARBITER_ERP_BACKOFF_CAP", 5*time.Second),
		},
		Pipeline: Pipeline{
			Workers:       envInt("ARBITER_WORKERS", 4),
			LeaseTTL:      envDuration("ARBITER_QUEUE_LEASE_TTL", 60*time.Second),
			PollInterval:  envDuration("ARBITER_QUEUE_POLL_INTERVAL", 100*time.Millisecond),
			MaxDeliveries: envInt("ARBITER_QUEUE_MAX_DELIVERIES", 5),
		},
		Retention: Retention{
			Interval:     envDuration("ARBITER_RETENTION_INTERVAL", time.Hour),
			EventWindow:  envDuration("ARBITER_RETENTION_EVENT_WINDOW", 30*24*time.Hour),
			OutboxWindow: envDuration("ARBITER_RETENTION_OUTBOX_WINDOW", 7*24*time.Hour),
		},
		RulesFile: os.Getenv("ARBITER_RULES_FILE"),
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

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
