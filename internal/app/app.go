// Package app assembles the oracle services from configuration.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/arhansuba/zr-don-pay/internal/domain"
	"github.com/arhansuba/zr-don-pay/internal/events"
	"github.com/arhansuba/zr-don-pay/internal/fetcher"
	"github.com/arhansuba/zr-don-pay/internal/ledger"
	"github.com/arhansuba/zr-don-pay/internal/ledger/rest"
	"github.com/arhansuba/zr-don-pay/internal/metrics"
	"github.com/arhansuba/zr-don-pay/internal/notification"
	"github.com/arhansuba/zr-don-pay/internal/oracle"
	"github.com/arhansuba/zr-don-pay/internal/repository/memory"
	"github.com/arhansuba/zr-don-pay/internal/repository/postgres"
	"github.com/arhansuba/zr-don-pay/internal/scheduler"
	"github.com/arhansuba/zr-don-pay/internal/submitter"
	"github.com/arhansuba/zr-don-pay/migrations"
	"github.com/arhansuba/zr-don-pay/pkg/cache"
	"github.com/arhansuba/zr-don-pay/pkg/config"
	"github.com/arhansuba/zr-don-pay/pkg/logger"
	"github.com/arhansuba/zr-don-pay/pkg/validator"
)

// SubmissionStore is what the submitter and the HTTP API need from storage.
type SubmissionStore interface {
	submitter.Repository
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Submission, error)
	List(ctx context.Context, limit, offset int) ([]*domain.Submission, error)
}

// App holds the shared process-wide components.
type App struct {
	Config    *config.Config
	Logger    logger.Logger
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Validator *validator.Validator

	DB    *sqlx.DB
	Redis *redis.Client
	Cache cache.Cache

	Ledger      *rest.Client
	Submissions SubmissionStore
	Hub         *events.Hub
	Fetcher     *fetcher.Service
	Notifier    *notification.WebhookNotifier
	Submitter   *submitter.Service
	Oracle      *oracle.Service
	Scheduler   *scheduler.Scheduler
}

// New connects every backing service named by cfg. Postgres is used when
// DATABASE_URL is set, otherwise submissions live in memory.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	a := &App{
		Config:    cfg,
		Logger:    log,
		Registry:  prometheus.NewRegistry(),
		Validator: validator.New(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	if err := a.connectRedis(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openStore(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.selectCache(); err != nil {
		a.Close()
		return nil, err
	}

	client, err := NewLedgerClient(cfg.Ledger, log.With(map[string]interface{}{"component": "ledger"}))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Ledger = client

	moduleAddress := cfg.Ledger.ModuleAddress
	if moduleAddress == "" {
		moduleAddress = client.Address()
	}

	a.Hub = events.NewHub(0, log)
	publishers := events.Fanout{a.Hub}
	if cfg.Notify.WebhookURL != "" {
		a.Notifier = notification.NewWebhookNotifier(notification.WebhookConfig{
			URL:        cfg.Notify.WebhookURL,
			Secret:     cfg.Notify.WebhookSecret,
			MaxRetries: cfg.Notify.MaxRetries,
			RetryWait:  cfg.Notify.RetryWait,
		}, log.With(map[string]interface{}{"component": "notification"}))
		publishers = append(publishers, a.Notifier)
	}

	a.Fetcher = fetcher.NewService(
		&http.Client{Timeout: cfg.Fetcher.HTTPTimeout},
		a.Cache,
		cfg.Fetcher.CacheTTL,
		log.With(map[string]interface{}{"component": "fetcher"}),
		a.Metrics,
	)
	a.Submitter = submitter.NewService(
		client,
		a.Submissions,
		publishers,
		submitter.Config{
			ModuleAddress:   moduleAddress,
			FinalityTimeout: cfg.Ledger.FinalityTimeout,
			ListenerTTL:     cfg.Ledger.ListenerTTL,
		},
		log.With(map[string]interface{}{"component": "submitter"}),
		a.Metrics,
	)
	a.Oracle = oracle.NewService(a.Fetcher, a.Submitter, client, a.Validator, log)
	a.Scheduler = scheduler.NewScheduler(a.Oracle, cfg.Oracle.SchedulerTick, log.With(map[string]interface{}{"component": "scheduler"}))

	log.Info("Oracle components ready", map[string]interface{}{
		"account":        client.Address(),
		"module_address": moduleAddress,
		"function":       a.Submitter.FunctionName(),
		"store":          a.storeName(),
		"cache":          cfg.Fetcher.CacheBackend,
		"webhook":        a.Notifier != nil,
	})
	return a, nil
}

// NewLedgerClient resolves the node URL and signing key. A configured account
// address must match the key.
func NewLedgerClient(cfg config.LedgerConfig, log logger.Logger) (*rest.Client, error) {
	nodeURL, err := rest.NetworkURL(cfg.Network, cfg.NodeURL)
	if err != nil {
		return nil, err
	}
	key, err := rest.KeyFromSeed(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid LEDGER_PRIVATE_KEY: %w", err)
	}
	client, err := rest.NewClient(rest.Config{
		BaseURL:      nodeURL,
		PrivateKey:   key,
		PollInterval: cfg.PollInterval,
		MaxGasAmount: cfg.MaxGasAmount,
		GasUnitPrice: cfg.GasUnitPrice,
	}, log)
	if err != nil {
		return nil, err
	}
	if cfg.AccountAddress != "" && !sameAddress(cfg.AccountAddress, client.Address()) {
		return nil, fmt.Errorf("LEDGER_ACCOUNT_ADDRESS %s does not match the private key address %s", cfg.AccountAddress, client.Address())
	}
	return client, nil
}

// sameAddress compares addresses ignoring case and leading zeros.
func sameAddress(a, b string) bool {
	trim := func(s string) string {
		s = strings.TrimPrefix(ledger.NormalizeAddress(s), "0x")
		return strings.TrimLeft(s, "0")
	}
	return trim(a) == trim(b)
}

func (a *App) connectRedis(ctx context.Context) error {
	if strings.TrimSpace(a.Config.Redis.URL) == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.URL,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.Redis = client
	a.Logger.Info("Redis connected", nil)
	return nil
}

func (a *App) openStore() error {
	if a.Config.Database.URL == "" {
		a.Submissions = memory.NewSubmissionRepository()
		return nil
	}
	db, err := sqlx.Connect("postgres", a.Config.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(a.Config.Database.MaxOpenConns)
	db.SetMaxIdleConns(a.Config.Database.MaxIdleConns)
	db.SetConnMaxLifetime(a.Config.Database.ConnMaxLifetime)
	a.DB = db

	if a.Config.Database.AutoMigrate {
		if err := migrations.Up(db.DB); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		a.Logger.Info("Migrations applied", nil)
	}
	a.Submissions = postgres.NewSubmissionRepository(db)
	a.Logger.Info("Database connected", nil)
	return nil
}

func (a *App) selectCache() error {
	switch a.Config.Fetcher.CacheBackend {
	case "", "memory":
		a.Cache = cache.NewMemoryCache()
	case "none":
		a.Cache = cache.NewNopCache(a.Logger)
	case "redis":
		if a.Redis == nil {
			return fmt.Errorf("redis cache backend requires REDIS_URL")
		}
		a.Cache = cache.NewRedisCacheFromClient(a.Redis)
	default:
		return fmt.Errorf("unknown cache backend %q", a.Config.Fetcher.CacheBackend)
	}
	return nil
}

func (a *App) storeName() string {
	if a.DB != nil {
		return "postgres"
	}
	return "memory"
}

// ScheduleDefaultFeed registers the configured source as a recurring feed
// when ORACLE_FEED_INTERVAL is set.
func (a *App) ScheduleDefaultFeed() error {
	if a.Config.Oracle.FeedInterval <= 0 {
		return nil
	}
	_, err := a.Scheduler.Schedule(scheduler.Feed{
		ID:            "default",
		SourceURI:     a.Config.Oracle.SourceURI,
		Interval:      a.Config.Oracle.FeedInterval,
		Options:       a.FetchOptions(),
		NextRequestID: a.Config.Oracle.RequestID,
	})
	return err
}

// FetchOptions returns the configured defaults for one-shot runs.
func (a *App) FetchOptions() domain.FetchOptions {
	return domain.FetchOptions{
		MaxRetries: a.Config.Fetcher.MaxRetries,
		RetryDelay: a.Config.Fetcher.RetryDelay,
		UseCache:   a.Config.Fetcher.UseCache,
	}
}

// Close stops feeds and listeners, flushes webhooks and releases connections.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Submitter != nil {
		_ = a.Submitter.Close()
	}
	if a.Notifier != nil {
		a.Notifier.Close(5 * time.Second)
	}
	if a.Hub != nil {
		a.Hub.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}
