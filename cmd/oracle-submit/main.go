// Command oracle-submit runs one fetch and submit cycle and exits.
//
// The source defaults to https://api.example.com/data with request id 1;
// ORACLE_SOURCE_URI and ORACLE_REQUEST_ID override them.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/arhansuba/zr-don-pay/internal/app"
	"github.com/arhansuba/zr-don-pay/internal/oracle"
	"github.com/arhansuba/zr-don-pay/pkg/config"
	"github.com/arhansuba/zr-don-pay/pkg/errors"
	"github.com/arhansuba/zr-don-pay/pkg/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New("oracle-submit")

	if err := cfg.ValidateLedger(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}
	if err := cfg.ValidateFetcher(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialise oracle", map[string]interface{}{"error": err.Error()})
	}

	receipt, err := a.Oracle.Run(ctx, oracle.RunRequest{
		RequestID: cfg.Oracle.RequestID,
		SourceURI: cfg.Oracle.SourceURI,
		Options:   a.FetchOptions(),
	})
	if err != nil {
		a.Close()
		fields := map[string]interface{}{
			"request_id": cfg.Oracle.RequestID,
			"source_uri": cfg.Oracle.SourceURI,
			"error":      err.Error(),
		}
		if errors.Is(err, errors.ErrNoData) {
			log.Warn("Workflow finished without data", fields)
			os.Exit(2)
		}
		log.Error("Workflow failed", fields)
		os.Exit(1)
	}

	log.Info("Workflow complete", map[string]interface{}{
		"request_id":       receipt.RequestID,
		"submission_id":    receipt.SubmissionID,
		"operation_handle": receipt.OperationHandle,
		"finality_marker":  receipt.FinalityMarker,
		"fee":              receipt.Fee.String(),
		"listening":        receipt.Listening,
	})

	// The completion listener keeps running until interrupted.
	<-ctx.Done()
	log.Info("Stopping completion listener", nil)
	a.Close()
}
