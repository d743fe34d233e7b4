// Package config loads and validates service configuration.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Ledger   LedgerConfig
	Fetcher  FetcherConfig
	Oracle   OracleConfig
	Notify   NotifyConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	RateLimit    int

	// RequestTimeout bounds a synchronous POST /api/v1/requests run.
	RequestTimeout time.Duration
	IdempotencyTTL time.Duration
	AllowedOrigins []string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

// LedgerConfig selects the node and the signing account.
type LedgerConfig struct {
	// Network is custom, mainnet, testnet, devnet or local.
	Network         string
	NodeURL         string
	AccountAddress  string
	PrivateKey      string
	ModuleAddress   string
	PollInterval    time.Duration
	FinalityTimeout time.Duration
	ListenerTTL     time.Duration
	MaxGasAmount    uint64
	GasUnitPrice    uint64
}

type FetcherConfig struct {
	MaxRetries  int
	RetryDelay  time.Duration
	UseCache    bool
	HTTPTimeout time.Duration
	// CacheBackend is memory, redis or none.
	CacheBackend string
	CacheTTL     time.Duration
}

// OracleConfig holds the default source and request id. A positive
// FeedInterval submits the source on that schedule.
type OracleConfig struct {
	SourceURI     string
	RequestID     uint64
	FeedInterval  time.Duration
	SchedulerTick time.Duration
}

// NotifyConfig enables webhook delivery of completion events.
type NotifyConfig struct {
	WebhookURL    string
	WebhookSecret string
	MaxRetries    int
	RetryWait     time.Duration
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:   getDurationEnv("SERVER_WRITE_TIMEOUT", 3*time.Minute),
			IdleTimeout:    getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			RateLimit:      getIntEnv("SERVER_RATE_LIMIT", 100),
			RequestTimeout: getDurationEnv("SERVER_REQUEST_TIMEOUT", 150*time.Second),
			IdempotencyTTL: getDurationEnv("IDEMPOTENCY_TTL", 24*time.Hour),
			AllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			AutoMigrate:     getBoolEnv("DB_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			URL:      normalizeRedisURL(getEnv("REDIS_URL", "")),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Ledger: LedgerConfig{
			Network:         strings.ToLower(getEnv("LEDGER_NETWORK", "custom")),
			NodeURL:         getEnv("LEDGER_NODE_URL", "http://127.0.0.1:8090/v1"),
			AccountAddress:  getEnv("LEDGER_ACCOUNT_ADDRESS", ""),
			PrivateKey:      getEnv("LEDGER_PRIVATE_KEY", ""),
			ModuleAddress:   getEnv("LEDGER_MODULE_ADDRESS", ""),
			PollInterval:    getDurationEnv("LEDGER_POLL_INTERVAL", time.Second),
			FinalityTimeout: getDurationEnv("LEDGER_FINALITY_TIMEOUT", 2*time.Minute),
			ListenerTTL:     getDurationEnv("LEDGER_LISTENER_TTL", 0),
			MaxGasAmount:    uint64(getIntEnv("LEDGER_MAX_GAS_AMOUNT", 200000)),
			GasUnitPrice:    uint64(getIntEnv("LEDGER_GAS_UNIT_PRICE", 100)),
		},
		Fetcher: FetcherConfig{
			MaxRetries:   getIntEnv("FETCH_MAX_RETRIES", 3),
			RetryDelay:   getDurationEnv("FETCH_RETRY_DELAY", time.Second),
			UseCache:     getBoolEnv("FETCH_USE_CACHE", false),
			HTTPTimeout:  getDurationEnv("FETCH_HTTP_TIMEOUT", 30*time.Second),
			CacheBackend: strings.ToLower(getEnv("FETCH_CACHE_BACKEND", "memory")),
			CacheTTL:     getDurationEnv("FETCH_CACHE_TTL", 5*time.Minute),
		},
		Oracle: OracleConfig{
			SourceURI:     getEnv("ORACLE_SOURCE_URI", "https://api.example.com/data"),
			RequestID:     uint64(getIntEnv("ORACLE_REQUEST_ID", 1)),
			FeedInterval:  getDurationEnv("ORACLE_FEED_INTERVAL", 0),
			SchedulerTick: getDurationEnv("ORACLE_SCHEDULER_TICK", time.Second),
		},
		Notify: NotifyConfig{
			WebhookURL:    getEnv("NOTIFY_WEBHOOK_URL", ""),
			WebhookSecret: getEnv("NOTIFY_WEBHOOK_SECRET", ""),
			MaxRetries:    getIntEnv("NOTIFY_MAX_RETRIES", 5),
			RetryWait:     getDurationEnv("NOTIFY_RETRY_WAIT", time.Second),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

// getListEnv splits a comma separated value, dropping empty items.
func getListEnv(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}
