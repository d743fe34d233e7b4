// Command ledger-sim serves a simulated ledger node for local development.
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

	"github.com/arhansuba/zr-don-pay/internal/ledger/simnode"
	"github.com/arhansuba/zr-don-pay/pkg/logger"
)

func main() {
	_ = godotenv.Load()
	log := logger.New("ledger-sim")

	cfg := simnode.Config{
		ConfirmAfterPolls: getIntEnv("SIM_CONFIRM_AFTER_POLLS", 2),
		EventDelay:        getDurationEnv("SIM_EVENT_DELAY", 500*time.Millisecond),
	}
	node := simnode.New(cfg, log)
	addr := fmt.Sprintf("%s:%s", getEnv("SIM_HOST", "127.0.0.1"), getEnv("SIM_PORT", "8090"))

	srv := &http.Server{
		Addr:              addr,
		Handler:           node.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Ledger simulator started", map[string]interface{}{
			"address":             addr,
			"confirm_after_polls": cfg.ConfirmAfterPolls,
			"event_delay":         cfg.EventDelay.String(),
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{"error": err.Error()})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Ledger simulator forced to shutdown", map[string]interface{}{"error": err.Error()})
	}
	log.Info("Ledger simulator stopped", nil)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	var n int
	if _, err := fmt.Sscanf(os.Getenv(key), "%d", &n); err == nil {
		return n
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return def
}
