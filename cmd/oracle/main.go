package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/arhansuba/zr-don-pay/internal/app"
	"github.com/arhansuba/zr-don-pay/pkg/config"
	"github.com/arhansuba/zr-don-pay/pkg/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New("oracle-service")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting Oracle Service", map[string]interface{}{
		"port":    cfg.Server.Port,
		"network": cfg.Ledger.Network,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(ctx, cfg, log)
	cancel()
	if err != nil {
		log.Fatal("Failed to initialise oracle", map[string]interface{}{"error": err.Error()})
	}
	defer a.Close()

	// Submissions emitted before a restart are awaited again.
	if err := a.Submitter.RecoverPending(context.Background()); err != nil {
		log.Error("Failed to recover pending submissions", map[string]interface{}{"error": err.Error()})
	}

	if err := a.ScheduleDefaultFeed(); err != nil {
		log.Fatal("Invalid default feed", map[string]interface{}{"error": err.Error()})
	}
	a.Scheduler.Start()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      a.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Oracle service started", map[string]interface{}{
			"address": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down oracle service...", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Oracle service forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("Oracle service stopped gracefully", nil)
}
