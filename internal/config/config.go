// Package config provides configuration management for the stream bridge.
// It loads every setting from environment variables with sensible defaults
// and validates the result so the process refuses to start with a config
// that would fail later at runtime.
//
// Environment Variables:
//
// Upstream:
//   - BEARER_TOKEN: Bearer token for the rules and stream endpoints (required)
//   - RULES_URL: Filtered-stream rules endpoint
//   - STREAM_URL: Filtered-stream endpoint
//   - USER_AGENT: User-Agent header sent upstream (default: v2FilteredStreamJS)
//   - STREAM_CONNECT_TIMEOUT: Dial and response-header timeout (default: 20s)
//   - STREAM_MAX_FRAME_SIZE: Largest accepted frame in bytes (default: 1048576)
//
// Rules:
//   - RULE_MAX_LENGTH: Maximum characters per rule value (default: 512)
//   - RULE_MAX_COUNT: Maximum active rules (default: 25)
//   - RULE_OVERFLOW_POLICY: "truncate" or "fail" (default: truncate)
//   - RULE_TAG_PREFIX: Tag prefix for generated rules (default: stream-bridge)
//   - RULE_REFRESH_SCHEDULE: Cron expression for periodic rule reload (optional)
//
// Lifecycle:
//   - BACKOFF_BASE: First reconnect delay (default: 100ms)
//   - BACKOFF_MULTIPLIER: Growth factor per attempt (default: 5)
//   - BACKOFF_MAX: Upper bound on a single delay (default: 2m)
//   - CONNECTION_LIMIT_BACKOFF: Minimum delay after a connection-limit signal (default: 30s)
//   - MAX_RECONNECT_ATTEMPTS: Reconnects allowed before giving up (default: 5)
//   - WATCHDOG_INTERVAL: Silence check period (default: 5m)
//   - SILENCE_THRESHOLD: Allowed time without frames (default: 5m)
//
// Dispatch:
//   - DISPATCH_WORKERS: Concurrent routing workers (default: 4)
//   - DISPATCH_QUEUE_SIZE: Buffered events awaiting dispatch (default: 256)
//   - WEBHOOK_TIMEOUT: Per-request webhook timeout (default: 10s)
//   - WEBHOOK_RATE_PER_SECOND: Per-destination request rate (default: 5)
//   - WEBHOOK_BURST: Per-destination burst (default: 5)
//
// Application:
//   - PORT: Status server port (default: 8888)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FORMAT: "console" or "json" (default: console)
//   - LOG_FILE: Optional log file, stdout when empty
//   - ADMIN_JWT_SECRET: Enables the channel admin API when set (minimum 32 characters)
//   - SEED_CHANNELS_FILE: JSON file of channels imported into an empty store
//
// Storage:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./stream_bridge.db)
//   - DATABASE_URL: PostgreSQL connection string (required if using PostgreSQL)
//
// Redis (optional, enables the single-stream lock and the Redis mirror):
//   - REDIS_ADDRESS: Redis server address
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//   - REDIS_LOCK_TTL: Stream lock expiry (default: 30s)
//
// Mirrors (optional):
//   - MIRROR_REDIS_STREAM: Redis stream key receiving every data event
//   - MIRROR_AMQP_URL: AMQP broker URL receiving every data event
//   - MIRROR_AMQP_EXCHANGE: AMQP exchange name (default: stream-bridge)
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// OverflowTruncate keeps the first RuleMaxCount rules and logs the rest
	OverflowTruncate = "truncate"
	// OverflowFail refuses to start when the accounts need too many rules
	OverflowFail = "fail"

	// DefaultRulesURL is the filtered-stream rules endpoint
	DefaultRulesURL = "https://api.twitter.com/2/tweets/search/stream/rules"
	// DefaultStreamURL is the filtered-stream endpoint with the expansions
	// needed to format notifications.
	DefaultStreamURL = "https://api.twitter.com/2/tweets/search/stream?expansions=author_id&user.fields=name,username,profile_image_url,id&tweet.fields=author_id,id"
)

// Config holds all configuration values for the stream bridge.
//
// The configuration is loaded using the Load() function and should be
// validated using the Validate() method before use.
type Config struct {
	// Upstream
	BearerToken          string
	RulesURL             string
	StreamURL            string
	UserAgent            string
	StreamConnectTimeout time.Duration
	StreamMaxFrameSize   int

	// Rules
	RuleMaxLength       int
	RuleMaxCount        int
	RuleOverflowPolicy  string
	RuleTagPrefix       string
	RuleRefreshSchedule string

	// Lifecycle
	BackoffBase            time.Duration
	BackoffMultiplier      float64
	BackoffMax             time.Duration
	ConnectionLimitBackoff time.Duration
	MaxReconnectAttempts   int
	WatchdogInterval       time.Duration
	SilenceThreshold       time.Duration

	// Dispatch
	DispatchWorkers      int
	DispatchQueueSize    int
	WebhookTimeout       time.Duration
	WebhookRatePerSecond float64
	WebhookBurst         int

	// Application settings
	Port             string
	LogLevel         string
	LogFormat        string
	LogFile          string
	AdminJWTSecret   string
	SeedChannelsFile string

	// Storage
	DatabaseType string
	DatabasePath string
	DatabaseURL  string

	// Redis configuration for the stream lock and mirror
	RedisAddress  string
	RedisPassword string
	RedisDB       string
	RedisPoolSize string
	RedisLockTTL  time.Duration

	// Mirrors
	MirrorRedisStream  string
	MirrorAMQPURL      string
	MirrorAMQPExchange string
}

// Load creates a new Config instance with values loaded from environment variables.
// If an environment variable is not set, or cannot be parsed, the corresponding
// default value is used.
//
// This function does not validate the configuration - call Validate() on the
// returned Config to ensure all required values are properly set and valid.
func Load() *Config {
	return &Config{
		BearerToken:          getEnv("BEARER_TOKEN", ""),
		RulesURL:             getEnv("RULES_URL", DefaultRulesURL),
		StreamURL:            getEnv("STREAM_URL", DefaultStreamURL),
		UserAgent:            getEnv("USER_AGENT", "v2FilteredStreamJS"),
		StreamConnectTimeout: getDurationEnv("STREAM_CONNECT_TIMEOUT", 20*time.Second),
		StreamMaxFrameSize:   getIntEnv("STREAM_MAX_FRAME_SIZE", 1<<20),

		RuleMaxLength:       getIntEnv("RULE_MAX_LENGTH", 512),
		RuleMaxCount:        getIntEnv("RULE_MAX_COUNT", 25),
		RuleOverflowPolicy:  strings.ToLower(getEnv("RULE_OVERFLOW_POLICY", OverflowTruncate)),
		RuleTagPrefix:       getEnv("RULE_TAG_PREFIX", "stream-bridge"),
		RuleRefreshSchedule: getEnv("RULE_REFRESH_SCHEDULE", ""),

		BackoffBase:            getDurationEnv("BACKOFF_BASE", 100*time.Millisecond),
		BackoffMultiplier:      getFloatEnv("BACKOFF_MULTIPLIER", 5),
		BackoffMax:             getDurationEnv("BACKOFF_MAX", 2*time.Minute),
		ConnectionLimitBackoff: getDurationEnv("CONNECTION_LIMIT_BACKOFF", 30*time.Second),
		MaxReconnectAttempts:   getIntEnv("MAX_RECONNECT_ATTEMPTS", 5),
		WatchdogInterval:       getDurationEnv("WATCHDOG_INTERVAL", 5*time.Minute),
		SilenceThreshold:       getDurationEnv("SILENCE_THRESHOLD", 5*time.Minute),

		DispatchWorkers:      getIntEnv("DISPATCH_WORKERS", 4),
		DispatchQueueSize:    getIntEnv("DISPATCH_QUEUE_SIZE", 256),
		WebhookTimeout:       getDurationEnv("WEBHOOK_TIMEOUT", 10*time.Second),
		WebhookRatePerSecond: getFloatEnv("WEBHOOK_RATE_PER_SECOND", 5),
		WebhookBurst:         getIntEnv("WEBHOOK_BURST", 5),

		Port:             getEnv("PORT", "8888"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", "console")),
		LogFile:          getEnv("LOG_FILE", ""),
		AdminJWTSecret:   getEnv("ADMIN_JWT_SECRET", ""),
		SeedChannelsFile: getEnv("SEED_CHANNELS_FILE", ""),

		DatabaseType: getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath: getEnv("DATABASE_PATH", "./stream_bridge.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),
		RedisLockTTL:  getDurationEnv("REDIS_LOCK_TTL", 30*time.Second),

		MirrorRedisStream:  getEnv("MIRROR_REDIS_STREAM", ""),
		MirrorAMQPURL:      getEnv("MIRROR_AMQP_URL", ""),
		MirrorAMQPExchange: getEnv("MIRROR_AMQP_EXCHANGE", "stream-bridge"),
	}
}

// RedisEnabled reports whether a Redis address was configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddress != ""
}

// AdminEnabled reports whether the channel admin API should be mounted.
func (c *Config) AdminEnabled() bool {
	return c.AdminJWTSecret != ""
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv retrieves an integer environment variable, falling back to
// defaultValue when it is unset or not an integer.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go duration strings ("250ms", "5m").
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate performs validation on the configuration to ensure all required
// fields are present and all values are usable.
//
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.BearerToken == "" {
		return fmt.Errorf("BEARER_TOKEN is required")
	}

	for name, raw := range map[string]string{"RULES_URL": c.RulesURL, "STREAM_URL": c.StreamURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}

	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port: %s (must be 1-65535)", c.Port)
	}

	if c.RuleMaxLength < 16 {
		return fmt.Errorf("RULE_MAX_LENGTH must be at least 16, got %d", c.RuleMaxLength)
	}
	if c.RuleMaxCount < 1 {
		return fmt.Errorf("RULE_MAX_COUNT must be positive, got %d", c.RuleMaxCount)
	}
	if c.RuleOverflowPolicy != OverflowTruncate && c.RuleOverflowPolicy != OverflowFail {
		return fmt.Errorf("RULE_OVERFLOW_POLICY must be %q or %q, got %q", OverflowTruncate, OverflowFail, c.RuleOverflowPolicy)
	}
	if strings.TrimSpace(c.RuleTagPrefix) == "" {
		return fmt.Errorf("RULE_TAG_PREFIX must not be blank")
	}
	if c.RuleRefreshSchedule != "" {
		if _, err := cron.ParseStandard(c.RuleRefreshSchedule); err != nil {
			return fmt.Errorf("invalid RULE_REFRESH_SCHEDULE %q: %w", c.RuleRefreshSchedule, err)
		}
	}

	if c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("BACKOFF_BASE must be positive and not exceed BACKOFF_MAX")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("BACKOFF_MULTIPLIER must be at least 1, got %v", c.BackoffMultiplier)
	}
	if c.ConnectionLimitBackoff < 0 {
		return fmt.Errorf("CONNECTION_LIMIT_BACKOFF must not be negative")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("MAX_RECONNECT_ATTEMPTS must not be negative, got %d", c.MaxReconnectAttempts)
	}
	if c.WatchdogInterval <= 0 || c.SilenceThreshold <= 0 {
		return fmt.Errorf("WATCHDOG_INTERVAL and SILENCE_THRESHOLD must be positive")
	}

	if c.DispatchWorkers < 1 {
		return fmt.Errorf("DISPATCH_WORKERS must be positive, got %d", c.DispatchWorkers)
	}
	if c.DispatchQueueSize < 1 {
		return fmt.Errorf("DISPATCH_QUEUE_SIZE must be positive, got %d", c.DispatchQueueSize)
	}
	if c.WebhookTimeout <= 0 {
		return fmt.Errorf("WEBHOOK_TIMEOUT must be positive")
	}
	if c.WebhookRatePerSecond <= 0 || c.WebhookBurst < 1 {
		return fmt.Errorf("WEBHOOK_RATE_PER_SECOND and WEBHOOK_BURST must be positive")
	}

	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be \"console\" or \"json\", got %q", c.LogFormat)
	}

	if c.AdminJWTSecret != "" && len(c.AdminJWTSecret) < 32 {
		return fmt.Errorf("ADMIN_JWT_SECRET must be at least 32 characters long")
	}

	switch c.DatabaseType {
	case "sqlite":
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required for sqlite")
		}
	case "postgres", "postgresql":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database type: %s (supported: sqlite, postgres)", c.DatabaseType)
	}

	if c.RedisEnabled() {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("invalid Redis DB: %s (must be 0-15)", c.RedisDB)
		}
		if pool, err := strconv.Atoi(c.RedisPoolSize); err != nil || pool < 1 {
			return fmt.Errorf("invalid Redis pool size: %s (must be positive)", c.RedisPoolSize)
		}
	}
	if c.MirrorRedisStream != "" && !c.RedisEnabled() {
		return fmt.Errorf("MIRROR_REDIS_STREAM requires REDIS_ADDRESS")
	}

	return nil
}
