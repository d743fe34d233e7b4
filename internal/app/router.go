package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arhansuba/zr-don-pay/internal/handler"
	"github.com/arhansuba/zr-don-pay/internal/middleware"
)

// Router builds the HTTP API. Redis backed middleware is only installed
// when redis is configured.
func (a *App) Router() http.Handler {
	cfg := a.Config
	log := a.Logger

	oracleHandler := handler.NewOracleHandler(a.Oracle, a.Submissions, a.Submitter, a.Validator, cfg.Server.RequestTimeout, log)
	eventsHandler := handler.NewEventsHandler(a.Hub, log)
	healthHandler := handler.NewHealthHandler(a.readinessChecks(), log)
	feedsHandler := handler.NewFeedsHandler(a.Scheduler, a.Validator, log)

	r := mux.NewRouter()
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(log).Log)
	r.Use(middleware.BodyLimit(1 << 20))
	if a.Redis != nil {
		r.Use(middleware.NewRateLimiter(a.Redis, cfg.Server.RateLimit, time.Minute, log).Limit)
	}

	r.HandleFunc("/health", healthHandler.Health).Methods(http.MethodGet)
	r.HandleFunc("/ready", healthHandler.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/submissions", oracleHandler.ListSubmissions).Methods(http.MethodGet)
	api.HandleFunc("/submissions/{id}", oracleHandler.GetSubmission).Methods(http.MethodGet)
	api.HandleFunc("/data", oracleHandler.GetData).Methods(http.MethodGet)
	api.HandleFunc("/resources/{address}/{type}", oracleHandler.GetResource).Methods(http.MethodGet)
	api.HandleFunc("/listeners", oracleHandler.ListListeners).Methods(http.MethodGet)
	api.HandleFunc("/feeds", feedsHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/events", eventsHandler.Recent).Methods(http.MethodGet)
	api.HandleFunc("/events/ws", eventsHandler.WebSocketHandler).Methods(http.MethodGet)

	var blacklist middleware.TokenBlacklist
	if a.Redis != nil {
		blacklist = middleware.NewRedisTokenBlacklist(a.Redis)
	}
	authMW := middleware.NewAuthMiddleware(cfg.JWT.Secret, blacklist)

	protected := api.NewRoute().Subrouter()
	protected.Use(authMW.Authenticate)
	if a.Redis != nil {
		protected.Use(middleware.NewIdempotencyMiddleware(a.Redis, cfg.Server.IdempotencyTTL, false, log).Require)
	}
	protected.HandleFunc("/requests", oracleHandler.CreateRequest).Methods(http.MethodPost)
	protected.HandleFunc("/listeners/{id}", oracleHandler.StopListener).Methods(http.MethodDelete)
	protected.HandleFunc("/feeds", feedsHandler.Create).Methods(http.MethodPost)
	protected.HandleFunc("/feeds/{id}", feedsHandler.Cancel).Methods(http.MethodDelete)

	return r
}

func (a *App) readinessChecks() map[string]handler.Check {
	checks := map[string]handler.Check{
		"ledger": func(ctx context.Context) error {
			return a.Ledger.Ping(ctx)
		},
	}
	if a.DB != nil {
		checks["database"] = func(ctx context.Context) error {
			return a.DB.PingContext(ctx)
		}
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}
	}
	return checks
}
