// Command devtoken prints a short-lived operator token for local testing.
package main

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/arhansuba/zr-don-pay/internal/ledger"
	"github.com/arhansuba/zr-don-pay/internal/ledger/rest"
	"github.com/arhansuba/zr-don-pay/internal/middleware"
	"github.com/arhansuba/zr-don-pay/pkg/config"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	secret := cfg.JWT.Secret
	if secret == "" {
		secret = "dev-secret-123"
	}
	subject := os.Getenv("TOKEN_SUBJECT")
	if subject == "" {
		subject = "operator-" + uuid.NewString()[:8]
	}

	signed, err := middleware.IssueToken(secret, subject, "operator", time.Hour)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(signed)

	// Print the signing account so LEDGER_ACCOUNT_ADDRESS can be filled in.
	if cfg.Ledger.PrivateKey != "" {
		key, err := rest.KeyFromSeed(cfg.Ledger.PrivateKey)
		if err != nil {
			fmt.Fprintln(os.Stderr, "invalid LEDGER_PRIVATE_KEY:", err)
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "account:", ledger.AddressFromPublicKey(key.Public().(ed25519.PublicKey)))
	}
}
