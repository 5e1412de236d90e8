package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/lineage/pkg/compatibility"
	"github.com/platinummonkey/lineage/pkg/events"
	"github.com/platinummonkey/lineage/pkg/observability"
	"github.com/platinummonkey/lineage/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	Lock      LockConfig
	Lifecycle LifecycleConfig
	Scheduler SchedulerConfig
	Events    EventsConfig

	// Validation rule configuration
	Validation ValidationConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// LockConfig selects the version lock backend
type LockConfig struct {
	Backend       string // "memory" or "redis"
	Timeout       time.Duration
	TTL           time.Duration
	RetryInterval time.Duration
	KeyPrefix     string
}

// LifecycleConfig tunes the coordinator
type LifecycleConfig struct {
	DefaultMode         string
	SunsetRetryInterval time.Duration
	RollbackGracePeriod time.Duration
	EventTimeout        time.Duration
}

// SchedulerConfig controls the sunset sweep
type SchedulerConfig struct {
	Enabled  bool
	Schedule string
	Workers  int
}

// EventsConfig selects where lifecycle events are published
type EventsConfig struct {
	// Sinks lists the enabled sinks: log, webhook, kafka, amqp
	Sinks []string
	Async events.AsyncConfig

	Webhooks     []events.WebhookEndpoint
	WebhookRetry events.RetryConfig
	Kafka        events.KafkaConfig
	AMQP         events.AMQPConfig
}

// ValidationConfig locates the rule configuration file
type ValidationConfig struct {
	RulesFile string
	// Watch reloads RulesFile when it changes
	Watch bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Lock:          loadLockConfig(),
		Lifecycle:     loadLifecycleConfig(),
		Scheduler:     loadSchedulerConfig(),
		Events:        loadEventsConfig(),
		Validation:    loadValidationConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("LINEAGE_HOST", "0.0.0.0"),
		Port:            getEnv("LINEAGE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("LINEAGE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("LINEAGE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("LINEAGE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("LINEAGE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("LINEAGE_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.Type = getEnv("LINEAGE_STORAGE_TYPE", cfg.Type)
	cfg.FilesystemRoot = getEnv("LINEAGE_FILESYSTEM_ROOT", cfg.FilesystemRoot)

	// SQL config
	cfg.PostgresURL = getEnv("LINEAGE_POSTGRES_URL", cfg.PostgresURL)
	cfg.PostgresReplicaURLs = getEnv("LINEAGE_POSTGRES_REPLICA_URLS", cfg.PostgresReplicaURLs)
	if maxConns := getEnvInt("LINEAGE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("LINEAGE_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("LINEAGE_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}
	cfg.SQLitePath = getEnv("LINEAGE_SQLITE_PATH", cfg.SQLitePath)

	// S3 config
	cfg.S3Endpoint = getEnv("LINEAGE_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnv("LINEAGE_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("LINEAGE_S3_BUCKET", cfg.S3Bucket)
	cfg.S3AccessKey = getEnv("LINEAGE_S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("LINEAGE_S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3UsePathStyle = getEnvBool("LINEAGE_S3_USE_PATH_STYLE", cfg.S3UsePathStyle)

	// Redis config
	cfg.RedisURL = getEnv("LINEAGE_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("LINEAGE_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("LINEAGE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("LINEAGE_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("LINEAGE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Cache config
	cfg.CacheEnabled = getEnvBool("LINEAGE_CACHE_ENABLED", cfg.CacheEnabled)
	if l1CacheSize := getEnvInt("LINEAGE_L1_CACHE_SIZE", 0); l1CacheSize > 0 {
		cfg.L1CacheSize = l1CacheSize
	}
	for _, kind := range []string{"schema", "lifecycle", "versions"} {
		key := "LINEAGE_CACHE_TTL_" + strings.ToUpper(kind)
		if ttl := getEnvDuration(key, 0); ttl > 0 {
			cfg.CacheTTL[kind] = ttl
		}
	}

	return cfg
}

func loadLockConfig() LockConfig {
	return LockConfig{
		Backend:       strings.ToLower(getEnv("LINEAGE_LOCK_BACKEND", "memory")),
		Timeout:       getEnvDuration("LINEAGE_LOCK_TIMEOUT", 5*time.Second),
		TTL:           getEnvDuration("LINEAGE_LOCK_TTL", 30*time.Second),
		RetryInterval: getEnvDuration("LINEAGE_LOCK_RETRY_INTERVAL", 50*time.Millisecond),
		KeyPrefix:     getEnv("LINEAGE_LOCK_KEY_PREFIX", "lineage:lock:"),
	}
}

func loadLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		DefaultMode:         strings.ToUpper(getEnv("LINEAGE_DEFAULT_COMPATIBILITY_MODE", compatibility.DefaultMode.String())),
		SunsetRetryInterval: getEnvDuration("LINEAGE_SUNSET_RETRY_INTERVAL", time.Hour),
		RollbackGracePeriod: getEnvDuration("LINEAGE_ROLLBACK_GRACE_PERIOD", 7*24*time.Hour),
		EventTimeout:        getEnvDuration("LINEAGE_EVENT_TIMEOUT", 30*time.Second),
	}
}

func loadSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:  getEnvBool("LINEAGE_SCHEDULER_ENABLED", true),
		Schedule: getEnv("LINEAGE_SUNSET_SCHEDULE", "@every 5m"),
		Workers:  getEnvInt("LINEAGE_SUNSET_WORKERS", 4),
	}
}

func loadEventsConfig() EventsConfig {
	async := events.DefaultAsyncConfig()
	async.Workers = getEnvInt("LINEAGE_EVENT_WORKERS", async.Workers)
	async.QueueSize = getEnvInt("LINEAGE_EVENT_QUEUE_SIZE", async.QueueSize)

	retry := events.DefaultRetryConfig()
	retry.MaxAttempts = getEnvInt("LINEAGE_WEBHOOK_MAX_ATTEMPTS", retry.MaxAttempts)
	retry.InitialDelay = getEnvDuration("LINEAGE_WEBHOOK_INITIAL_DELAY", retry.InitialDelay)
	retry.MaxDelay = getEnvDuration("LINEAGE_WEBHOOK_MAX_DELAY", retry.MaxDelay)

	var webhooks []events.WebhookEndpoint
	secret := getEnv("LINEAGE_WEBHOOK_SECRET", "")
	for _, url := range splitList(getEnv("LINEAGE_WEBHOOK_URLS", "")) {
		webhooks = append(webhooks, events.WebhookEndpoint{URL: url, Secret: secret})
	}

	return EventsConfig{
		Sinks:        splitList(strings.ToLower(getEnv("LINEAGE_EVENT_SINKS", "log"))),
		Async:        async,
		Webhooks:     webhooks,
		WebhookRetry: retry,
		Kafka: events.KafkaConfig{
			Brokers:     splitList(getEnv("LINEAGE_KAFKA_BROKERS", "")),
			Topic:       getEnv("LINEAGE_KAFKA_TOPIC", "lineage.events"),
			Compression: getEnv("LINEAGE_KAFKA_COMPRESSION", ""),
		},
		AMQP: events.AMQPConfig{
			URL:              getEnv("LINEAGE_AMQP_URL", ""),
			Exchange:         getEnv("LINEAGE_AMQP_EXCHANGE", "lineage.events"),
			ExchangeType:     getEnv("LINEAGE_AMQP_EXCHANGE_TYPE", "topic"),
			RoutingKeyPrefix: getEnv("LINEAGE_AMQP_ROUTING_KEY_PREFIX", "lineage."),
		},
	}
}

func loadValidationConfig() ValidationConfig {
	return ValidationConfig{
		RulesFile: getEnv("LINEAGE_VALIDATION_RULES_FILE", ""),
		Watch:     getEnvBool("LINEAGE_VALIDATION_WATCH", false),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("LINEAGE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("LINEAGE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("LINEAGE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("LINEAGE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("LINEAGE_OTEL_SERVICE_NAME", "lineage"),
		OTelServiceVersion: getEnv("LINEAGE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("LINEAGE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("LINEAGE_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate storage config based on type
	switch c.Storage.Type {
	case "memory":
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem storage")
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory, filesystem, postgres, or sqlite)", c.Storage.Type)
	}
	if c.Storage.CacheEnabled && c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required when the cache is enabled")
	}

	switch c.Lock.Backend {
	case "memory":
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("invalid lock backend: %s (must be memory or redis)", c.Lock.Backend)
	}

	if c.Lifecycle.DefaultMode != "" {
		if _, err := compatibility.ParseMode(c.Lifecycle.DefaultMode); err != nil {
			return fmt.Errorf("invalid default compatibility mode: %w", err)
		}
	}

	if c.Scheduler.Enabled && c.Scheduler.Schedule == "" {
		return fmt.Errorf("sunset schedule is required when the scheduler is enabled")
	}

	for _, sink := range c.Events.Sinks {
		switch sink {
		case "log":
		case "webhook":
			if len(c.Events.Webhooks) == 0 {
				return fmt.Errorf("webhook URLs are required for the webhook sink")
			}
		case "kafka":
			if len(c.Events.Kafka.Brokers) == 0 || c.Events.Kafka.Topic == "" {
				return fmt.Errorf("kafka brokers and topic are required for the kafka sink")
			}
		case "amqp":
			if c.Events.AMQP.URL == "" {
				return fmt.Errorf("AMQP URL is required for the amqp sink")
			}
		default:
			return fmt.Errorf("invalid event sink: %s (must be log, webhook, kafka, or amqp)", sink)
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// HasSink reports whether the named event sink is enabled
func (c EventsConfig) HasSink(name string) bool {
	for _, s := range c.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// splitList splits a comma-separated value, dropping empty entries
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
